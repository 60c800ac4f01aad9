// Package indexer archives market events into a relational database so that
// off-ledger observers can query trade history.
package indexer

import (
	"context"
	"encoding/json"
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

	"nftmarket/core/events"
	"nftmarket/core/types"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultLimit = 50
	maxLimit     = 500
)

// Open connects to the archive database using the named driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	return gorm.Open(dialector, &gorm.Config{})
}

// Indexer stores every emitted event in order of emission.
type Indexer struct {
	mu     sync.Mutex
	db     *gorm.DB
	logger *slog.Logger
	seq    uint64
	nowFn  func() time.Time
}

// New migrates the schema and resumes the sequence from the last archived
// event.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	var last EventRecord
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	return &Indexer{db: db, logger: logger, seq: last.Sequence, nowFn: time.Now}, nil
}

// SetNowFunc overrides the timestamp source, primarily in tests.
func (i *Indexer) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	i.nowFn = now
}

// Emit implements events.Emitter. Archive failures are logged and do not
// propagate to the emitting operation.
func (i *Indexer) Emit(evt events.Event) {
	if i == nil || evt == nil {
		return
	}
	if err := i.Record(context.Background(), evt.Event()); err != nil {
		i.logger.Error("archive market event", "type", evt.EventType(), "error", err)
	}
}

// Record archives a single event.
func (i *Indexer) Record(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("indexer: encode attributes: %w", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	record := EventRecord{
		ID:         uuid.New(),
		Sequence:   i.seq + 1,
		Type:       evt.Type,
		AssetID:    evt.Attr("assetId"),
		Attributes: string(attrs),
		CreatedAt:  i.nowFn().UTC(),
	}
	if err := i.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("indexer: store event: %w", err)
	}
	i.seq = record.Sequence
	return nil
}

// Recent returns the newest events first. An empty asset id matches every
// event.
func (i *Indexer) Recent(ctx context.Context, assetID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := i.db.WithContext(ctx).Order("sequence desc").Limit(limit)
	if id := strings.TrimSpace(assetID); id != "" {
		query = query.Where("asset_id = ?", id)
	}
	var records []EventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("indexer: query events: %w", err)
	}
	return records, nil
}

// Decode returns the event stored in the record.
func (r EventRecord) Decode() (*types.Event, error) {
	attrs := make(map[string]string)
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("indexer: decode attributes: %w", err)
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}
