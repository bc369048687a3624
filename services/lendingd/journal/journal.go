// Package journal persists engine events to a SQL database through gorm so
// operators can audit every state change after the fact.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lendledger/core/events"
	"lendledger/core/types"
	"lendledger/observability"
)

// Entry is one persisted engine event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64    `gorm:"uniqueIndex;not null" json:"sequence"`
	Type       string    `gorm:"index;not null" json:"type"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name independent of gorm's pluralisation.
func (Entry) TableName() string { return "lending_events" }

// Decoded returns the attribute map of the entry.
func (e Entry) Decoded() (map[string]string, error) {
	attrs, err := types.UnmarshalAttributes([]byte(strings.TrimSpace(e.Attributes)))
	if err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return attrs, nil
}

// Open connects to the journal database. DSNs starting with postgres:// use
// the postgres driver; anything else is treated as a sqlite path.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("journal: dsn required")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates the journal schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

// Journal is an events.Emitter writing every event as a row.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// New migrates the schema and resumes the sequence from the last row.
func New(db *gorm.DB, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Entry
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	return &Journal{db: db, logger: logger, now: time.Now, seq: last.Sequence}, nil
}

// SetClock overrides the timestamp source.
func (j *Journal) SetClock(now func() time.Time) {
	j.mu.Lock()
	j.now = now
	j.mu.Unlock()
}

// Emit implements events.Emitter. Failures are logged and counted; the engine
// state change that produced the event has already committed.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if err := j.Append(context.Background(), evt); err != nil {
		observability.Events().RecordDropped(evt.EventType())
		j.logger.Error("journal append failed", "type", evt.EventType(), "error", err)
		return
	}
	observability.Events().RecordJournaled(evt.EventType())
}

// Append persists a single event.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	var rendered *types.Event
	if recordable, ok := evt.(events.Recordable); ok {
		rendered = recordable.Event()
	}
	encoded, err := rendered.MarshalAttributes()
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry := Entry{
		ID:         uuid.New(),
		Sequence:   j.seq + 1,
		Type:       evt.EventType(),
		Attributes: string(encoded),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return err
	}
	j.seq = entry.Sequence
	return nil
}

// Filter narrows List results.
type Filter struct {
	Type string
	// After returns entries with a sequence strictly greater than this value.
	After uint64
	Limit int
}

const maxListLimit = 500

// List returns entries in sequence order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	query := j.db.WithContext(ctx).Where("sequence > ?", filter.After)
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	var entries []Entry
	if err := query.Order("sequence asc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}
