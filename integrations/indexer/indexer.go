package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"daoledger/core/events"
	"daoledger/core/types"
)

// subjectKeys are tried in order to pick the identifier an event is about.
var subjectKeys = []string{"id", "campaign", "name", "beneficiary", "to"}

// Open connects to a sqlite database and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("indexer: dsn required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// Indexer persists committed events. It implements events.Emitter; storage
// failures are logged and counted rather than surfaced, since the ledger has
// already committed by the time events are flushed.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu       sync.Mutex
	sequence uint64
	failures uint64
}

var _ events.Emitter = (*Indexer)(nil)

// New creates an indexer resuming from the highest stored sequence.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: nil database")
	}
	if log == nil {
		log = slog.Default()
	}
	var last struct{ Max uint64 }
	if err := db.Model(&AuditEvent{}).Select("COALESCE(MAX(sequence), 0) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	return &Indexer{db: db, logger: log, nowFn: time.Now, sequence: last.Max}, nil
}

// Emit implements events.Emitter.
func (ix *Indexer) Emit(evt events.Event) {
	if ix == nil || evt == nil {
		return
	}
	if err := ix.Record(context.Background(), evt); err != nil {
		ix.mu.Lock()
		ix.failures++
		ix.mu.Unlock()
		ix.logger.Error("index event",
			slog.String("component", "indexer"),
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Failures returns the number of events that could not be stored.
func (ix *Indexer) Failures() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.failures
}

// Record stores evt and its attributes in one database transaction.
func (ix *Indexer) Record(ctx context.Context, evt events.Event) error {
	attrs := map[string]string{}
	if env, ok := evt.(types.Envelope); ok && env.Evt != nil {
		attrs = env.Evt.Attributes
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	seq := ix.sequence + 1
	row := AuditEvent{
		ID:         uuid.New(),
		Sequence:   seq,
		Type:       evt.EventType(),
		Module:     moduleOf(evt.EventType()),
		Subject:    subjectOf(attrs),
		Attributes: string(encoded),
		CreatedAt:  ix.nowFn().UTC(),
	}
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		row.Fields = append(row.Fields, AuditAttribute{ID: uuid.New(), EventID: row.ID, Key: key, Value: attrs[key]})
	}
	err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return err
	}
	ix.sequence = seq
	return nil
}

// Filter narrows Events. Zero fields match everything.
type Filter struct {
	Type    string
	Module  string
	Subject string
	// Key/Value match events carrying the attribute.
	Key   string
	Value string
	Limit int
}

// Events returns indexed events in commit order.
func (ix *Indexer) Events(ctx context.Context, f Filter) ([]AuditEvent, error) {
	q := ix.db.WithContext(ctx).Model(&AuditEvent{}).Preload("Fields")
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Module != "" {
		q = q.Where("module = ?", f.Module)
	}
	if f.Subject != "" {
		q = q.Where("subject = ?", f.Subject)
	}
	if f.Key != "" {
		sub := ix.db.Model(&AuditAttribute{}).Select("event_id").Where("`key` = ? AND `value` = ?", f.Key, f.Value)
		q = q.Where("id IN (?)", sub)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []AuditEvent
	if err := q.Order("sequence ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Decode returns the attribute map stored with the event.
func (e AuditEvent) Decode() (map[string]string, error) {
	attrs := map[string]string{}
	if e.Attributes == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func moduleOf(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		return eventType[:i]
	}
	return eventType
}

func subjectOf(attrs map[string]string) string {
	for _, key := range subjectKeys {
		if v := attrs[key]; v != "" {
			return v
		}
	}
	return ""
}
