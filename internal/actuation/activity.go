package actuation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"irrigation-cloud/internal/wire"
)

// Entry is one line of the device activity log.
type Entry struct {
	CommandID  string
	PlantID    int64
	PlantName  string
	HardwareID string
	Action     wire.Action
	Reason     wire.Reason
	Before     PumpState
	After      PumpState
	Moisture   *float64
	Threshold  *float64
	At         time.Time
}

// Changed reports whether the command toggled the relay.
func (e Entry) Changed() bool {
	return e.Before != e.After
}

// ActivityLog stores activity entries.
type ActivityLog interface {
	Append(ctx context.Context, entry Entry) error
}

// FileLog writes one text line per entry.
type FileLog struct {
	logger *log.Logger
	closer io.Closer
}

// NewFileLog appends to the file at path, creating it when missing.
func NewFileLog(path string) (*FileLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("activity log: open %s: %w", path, err)
	}
	return &FileLog{logger: log.New(file, "", 0), closer: file}, nil
}

// NewWriterLog writes entries to w.
func NewWriterLog(w io.Writer) *FileLog {
	return &FileLog{logger: log.New(w, "", 0)}
}

// Append writes entry as a single line.
func (l *FileLog) Append(_ context.Context, entry Entry) error {
	l.logger.Println(formatEntry(entry))
	return nil
}

// Close closes the underlying file, if any.
func (l *FileLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func formatEntry(entry Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s plant=%d", entry.At.UTC().Format(time.RFC3339), entry.PlantID)
	if entry.PlantName != "" {
		fmt.Fprintf(&b, " name=%q", entry.PlantName)
	}
	fmt.Fprintf(&b, " command=%s reason=%s pump=%s->%s", entry.Action, entry.Reason, entry.Before, entry.After)
	if entry.Moisture != nil {
		fmt.Fprintf(&b, " moisture=%.1f", *entry.Moisture)
	}
	if entry.Threshold != nil {
		fmt.Fprintf(&b, " threshold=%.1f", *entry.Threshold)
	}
	if entry.CommandID != "" {
		fmt.Fprintf(&b, " id=%s", entry.CommandID)
	}
	return b.String()
}

// activityRecord is the sqlite row for an entry.
type activityRecord struct {
	ID         uint64 `gorm:"primaryKey"`
	CommandID  string
	PlantID    int64 `gorm:"index"`
	PlantName  string
	HardwareID string
	Action     string
	Reason     string
	Before     bool `gorm:"column:state_before"`
	After      bool `gorm:"column:state_after"`
	Moisture   *float64
	Threshold  *float64
	At         time.Time `gorm:"column:recorded_at;index"`
}

func (activityRecord) TableName() string {
	return "pump_activity"
}

// GormLog keeps the activity log in a local sqlite database.
type GormLog struct {
	db *gorm.DB
}

// OpenGormLog opens (or creates) the sqlite database at path.
func OpenGormLog(path string) (*GormLog, error) {
	if path == "" {
		return nil, errors.New("activity store: empty path")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("activity store: open %s: %w", path, err)
	}
	return NewGormLog(db)
}

// NewGormLog migrates the activity table on db.
func NewGormLog(db *gorm.DB) (*GormLog, error) {
	if db == nil {
		return nil, errors.New("activity store: nil db")
	}
	if err := db.AutoMigrate(&activityRecord{}); err != nil {
		return nil, fmt.Errorf("activity store: migrate: %w", err)
	}
	return &GormLog{db: db}, nil
}

// Append inserts entry.
func (l *GormLog) Append(ctx context.Context, entry Entry) error {
	record := activityRecord{
		CommandID:  entry.CommandID,
		PlantID:    entry.PlantID,
		PlantName:  entry.PlantName,
		HardwareID: entry.HardwareID,
		Action:     string(entry.Action),
		Reason:     string(entry.Reason),
		Before:     bool(entry.Before),
		After:      bool(entry.After),
		Moisture:   entry.Moisture,
		Threshold:  entry.Threshold,
		At:         entry.At.UTC(),
	}
	return l.db.WithContext(ctx).Create(&record).Error
}

// Recent returns the newest entries, newest first.
func (l *GormLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []activityRecord
	if err := l.db.WithContext(ctx).Order("recorded_at DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		out = append(out, Entry{
			CommandID:  r.CommandID,
			PlantID:    r.PlantID,
			PlantName:  r.PlantName,
			HardwareID: r.HardwareID,
			Action:     wire.Action(r.Action),
			Reason:     wire.Reason(r.Reason),
			Before:     PumpState(r.Before),
			After:      PumpState(r.After),
			Moisture:   r.Moisture,
			Threshold:  r.Threshold,
			At:         r.At.UTC(),
		})
	}
	return out, nil
}

// Close closes the database handle.
func (l *GormLog) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
