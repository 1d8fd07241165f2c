package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	plants "irrigation-cloud/internal/plants/domain"
)

// Store is an in-memory implementation of the plant, reading and notification
// repositories. One mutex guards everything, so multi-row writes are atomic.
type Store struct {
	mu            sync.RWMutex
	now           func() time.Time
	plants        map[int64]*plants.Plant
	readings      []plants.MoistureReading
	notifications []plants.Notification
	lastRecorded  map[int64]time.Time
	nextPlant     int64
	nextReading   int64
	nextNotice    int64
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the clock used for recorded_at and created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:          func() time.Time { return time.Now().UTC() },
		plants:       make(map[int64]*plants.Plant),
		lastRecorded: make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads a plant by id.
func (s *Store) Get(_ context.Context, id int64) (*plants.Plant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plant, ok := s.plants[id]
	if !ok {
		return nil, nil
	}
	return clonePlant(plant), nil
}

// FindByHardwareID returns plants bound to a hardware id, oldest first.
func (s *Store) FindByHardwareID(_ context.Context, hardwareID string) ([]plants.Plant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []plants.Plant
	for _, plant := range s.sortedPlants() {
		if plant.HardwareID != "" && plant.HardwareID == hardwareID {
			result = append(result, *clonePlant(plant))
		}
	}
	return result, nil
}

// ListBound returns every plant paired with a device.
func (s *Store) ListBound(_ context.Context) ([]plants.Plant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []plants.Plant
	for _, plant := range s.sortedPlants() {
		if plant.Bound() {
			result = append(result, *clonePlant(plant))
		}
	}
	return result, nil
}

// Create inserts a plant and fills its id.
func (s *Store) Create(_ context.Context, plant *plants.Plant) error {
	if plant == nil {
		return errors.New("memory store: nil plant")
	}
	if err := plant.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPlant++
	plant.ID = s.nextPlant
	plant.HardwareID = strings.TrimSpace(plant.HardwareID)
	plant.CreatedAt = s.now()
	s.plants[plant.ID] = clonePlant(plant)
	return nil
}

// UpdateThreshold stores the threshold and notification together.
func (s *Store) UpdateThreshold(_ context.Context, plantID int64, threshold float64, notification plants.Notification) error {
	if err := plants.ValidateThreshold(threshold); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	plant, ok := s.plants[plantID]
	if !ok {
		return plants.ErrPlantNotFound
	}
	if err := s.appendNotification(&notification); err != nil {
		return err
	}
	plant.MoistureThreshold = threshold
	return nil
}

// BindHardware records the hardware id and notification together.
func (s *Store) BindHardware(_ context.Context, plantID int64, hardwareID string, notification plants.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plant, ok := s.plants[plantID]
	if !ok {
		return plants.ErrPlantNotFound
	}
	if err := s.appendNotification(&notification); err != nil {
		return err
	}
	plant.HardwareID = strings.TrimSpace(hardwareID)
	return nil
}

// Delete removes a plant with its readings and notifications.
func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plants[id]; !ok {
		return plants.ErrPlantNotFound
	}
	delete(s.plants, id)
	delete(s.lastRecorded, id)

	readings := s.readings[:0]
	for _, reading := range s.readings {
		if reading.PlantID != id {
			readings = append(readings, reading)
		}
	}
	s.readings = readings

	notifications := s.notifications[:0]
	for _, n := range s.notifications {
		if n.PlantID == nil || *n.PlantID != id {
			notifications = append(notifications, n)
		}
	}
	s.notifications = notifications
	return nil
}

// ReconcileLatest re-derives the cached latest moisture from the readings.
func (s *Store) ReconcileLatest(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[int64]plants.MoistureReading)
	for _, reading := range s.readings {
		if reading.MoistureLevel == nil {
			continue
		}
		latest[reading.PlantID] = reading
	}
	count := 0
	for plantID, reading := range latest {
		plant, ok := s.plants[plantID]
		if !ok {
			continue
		}
		if plant.LastMoisture != nil && *plant.LastMoisture == *reading.MoistureLevel && plant.LastUpdate.Equal(reading.RecordedAt) {
			continue
		}
		value := *reading.MoistureLevel
		plant.LastMoisture = &value
		plant.LastUpdate = reading.RecordedAt
		count++
	}
	return count, nil
}

// RecordTelemetry inserts a sensor reading and refreshes the plant cache.
func (s *Store) RecordTelemetry(_ context.Context, reading *plants.MoistureReading) error {
	if reading == nil || reading.MoistureLevel == nil {
		return errors.New("memory store: telemetry reading requires a moisture level")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	plant, ok := s.plants[reading.PlantID]
	if !ok {
		return plants.ErrPlantNotFound
	}
	s.appendReading(reading)
	value := *reading.MoistureLevel
	plant.LastMoisture = &value
	plant.LastUpdate = reading.RecordedAt
	return nil
}

// RecordPumpEvent inserts a pump audit row and, when given, its notification.
func (s *Store) RecordPumpEvent(_ context.Context, reading *plants.MoistureReading, notification *plants.Notification) error {
	if reading == nil {
		return errors.New("memory store: nil reading")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plants[reading.PlantID]; !ok {
		return plants.ErrPlantNotFound
	}
	if notification != nil {
		if err := s.appendNotification(notification); err != nil {
			return err
		}
	}
	s.appendReading(reading)
	return nil
}

// LatestPumpEvent returns the newest pump-state row for a plant.
func (s *Store) LatestPumpEvent(_ context.Context, plantID int64) (*plants.MoistureReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.readings) - 1; i >= 0; i-- {
		reading := s.readings[i]
		if reading.PlantID == plantID && reading.IsPumpEvent() {
			return &reading, nil
		}
	}
	return nil, nil
}

// ListByPlant returns readings for a plant in [from, to), oldest first.
func (s *Store) ListByPlant(_ context.Context, plantID int64, from, to time.Time) ([]plants.MoistureReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []plants.MoistureReading
	for _, reading := range s.readings {
		if reading.PlantID != plantID {
			continue
		}
		if reading.RecordedAt.Before(from) || !reading.RecordedAt.Before(to) {
			continue
		}
		result = append(result, reading)
	}
	return result, nil
}

// ListByUser returns the newest notifications for a user.
func (s *Store) ListByUser(_ context.Context, userID int64, limit int) ([]plants.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []plants.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID != userID {
			continue
		}
		result = append(result, s.notifications[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Readings returns a copy of every stored reading in insertion order.
func (s *Store) Readings() []plants.MoistureReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]plants.MoistureReading(nil), s.readings...)
}

// Notifications returns a copy of every stored notification in insertion order.
func (s *Store) Notifications() []plants.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]plants.Notification(nil), s.notifications...)
}

// OverwriteLatest replaces a plant's cached latest moisture without a reading.
// It exists to simulate a partially applied write.
func (s *Store) OverwriteLatest(plantID int64, moisture float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plant, ok := s.plants[plantID]; ok {
		plant.LastMoisture = &moisture
		plant.LastUpdate = at
	}
}

func (s *Store) appendReading(reading *plants.MoistureReading) {
	at := s.now()
	if last, ok := s.lastRecorded[reading.PlantID]; ok && !at.After(last) {
		at = last.Add(time.Microsecond)
	}
	s.lastRecorded[reading.PlantID] = at
	s.nextReading++
	reading.ID = s.nextReading
	reading.RecordedAt = at
	stored := *reading
	if reading.MoistureLevel != nil {
		value := *reading.MoistureLevel
		stored.MoistureLevel = &value
	}
	s.readings = append(s.readings, stored)
}

func (s *Store) appendNotification(n *plants.Notification) error {
	if n.UserID <= 0 {
		return errors.New("memory store: notification without user")
	}
	if n.Kind == "" {
		n.Kind = plants.EventSystem
	}
	s.nextNotice++
	n.ID = s.nextNotice
	n.CreatedAt = s.now()
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *Store) sortedPlants() []*plants.Plant {
	list := make([]*plants.Plant, 0, len(s.plants))
	for _, plant := range s.plants {
		list = append(list, plant)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func clonePlant(plant *plants.Plant) *plants.Plant {
	copy := *plant
	if plant.LastMoisture != nil {
		value := *plant.LastMoisture
		copy.LastMoisture = &value
	}
	return &copy
}
