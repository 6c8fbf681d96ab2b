package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"stakeledger/core/events"
	"stakeledger/core/types"
	"stakeledger/observability"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// EventRecord is a persisted ledger event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index;not null"`
	Attributes string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

func (EventRecord) TableName() string { return "stakerewards_events" }

func (r *EventRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Event decodes the stored attribute blob back into its flat form.
func (r EventRecord) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(r.Attributes) != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("journal: decode attributes: %w", err)
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Open connects to the journal database using the named driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return db, nil
}

// Journal appends emitted ledger events to a relational store. It satisfies
// events.Emitter so it can be attached directly to the engine.
type Journal struct {
	mu     sync.Mutex
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
	seq    uint64
}

// New migrates the schema and resumes the sequence counter from the last
// stored record.
func New(db *gorm.DB, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last uint64
	if err := db.Model(&EventRecord{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	return &Journal{db: db, logger: logger, now: time.Now, seq: last}, nil
}

// Emit implements events.Emitter. Persistence failures are logged; the ledger
// mutation that produced the event has already committed.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("journal append failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Append stores a single event and returns the persisted record.
func (j *Journal) Append(ctx context.Context, evt events.Event) (*EventRecord, error) {
	flat := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if b, ok := evt.(events.Broadcastable); ok {
		if rendered := b.Event(); rendered != nil {
			flat = rendered
		}
	}
	raw, err := json.Marshal(flat.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	record := &EventRecord{
		Sequence:   j.seq + 1,
		Type:       flat.Type,
		Attributes: string(raw),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("journal: insert: %w", err)
	}
	j.seq = record.Sequence
	return record, nil
}

// List returns up to limit records, newest first. An empty eventType matches
// every type.
func (j *Journal) List(ctx context.Context, limit int, eventType string) ([]EventRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := j.db.WithContext(ctx).Order("sequence DESC").Limit(limit)
	if trimmed := strings.TrimSpace(eventType); trimmed != "" {
		query = query.Where("type = ?", trimmed)
	}
	var records []EventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return records, nil
}
