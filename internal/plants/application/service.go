package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"irrigation-cloud/internal/auth"
	plants "irrigation-cloud/internal/plants/domain"
)

// Service applies operator changes to plants. Every change is ownership
// checked and writes its notification in the same transaction.
type Service struct {
	plants  plants.PlantRepository
	checker *auth.PlantOwnerChecker
	logger  *log.Logger
}

// NewService constructs a plant service.
func NewService(repo plants.PlantRepository, logger *log.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("plants: nil repo")
	}
	checker, err := auth.NewPlantOwnerChecker(repo)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{plants: repo, checker: checker, logger: logger}, nil
}

// Get returns a plant owned by actor.
func (s *Service) Get(ctx context.Context, actor, plantID int64) (*plants.Plant, error) {
	return s.checker.EnsurePlantOwner(ctx, actor, plantID)
}

// UpdateThreshold sets the moisture threshold that drives automatic watering.
func (s *Service) UpdateThreshold(ctx context.Context, actor, plantID int64, threshold float64) (*plants.Plant, error) {
	if err := plants.ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	plant, err := s.checker.EnsurePlantOwner(ctx, actor, plantID)
	if err != nil {
		return nil, err
	}
	notification := plants.ForPlant(*plant, plants.EventThresholdUpdate,
		"Threshold updated",
		fmt.Sprintf("Moisture threshold for %s changed from %.0f%% to %.0f%%", plant.Name, plant.MoistureThreshold, threshold))
	if err := s.plants.UpdateThreshold(ctx, plant.ID, threshold, notification); err != nil {
		return nil, err
	}
	plant.MoistureThreshold = threshold
	return plant, nil
}

// BindDevice records the hardware identifier of the node that serves the plant.
func (s *Service) BindDevice(ctx context.Context, actor, plantID int64, hardwareID string) (*plants.Plant, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	plant, err := s.checker.EnsurePlantOwner(ctx, actor, plantID)
	if err != nil {
		return nil, err
	}
	if hardwareID != "" {
		existing, err := s.plants.FindByHardwareID(ctx, hardwareID)
		if err != nil {
			return nil, err
		}
		for _, other := range existing {
			if other.ID != plant.ID {
				s.logger.Printf("plants: hardware id %q already bound to plant %d; binding plant %d as well", hardwareID, other.ID, plant.ID)
			}
		}
	}

	title := "Device connected"
	message := fmt.Sprintf("%s is now paired with device %s", plant.Name, hardwareID)
	if hardwareID == "" {
		title = "Device removed"
		message = fmt.Sprintf("%s no longer has a paired device", plant.Name)
	}
	notification := plants.ForPlant(*plant, plants.EventDeviceBinding, title, message)
	if err := s.plants.BindHardware(ctx, plant.ID, hardwareID, notification); err != nil {
		return nil, err
	}
	plant.HardwareID = hardwareID
	return plant, nil
}
