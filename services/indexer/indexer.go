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
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"custodychain/core/events"
	"custodychain/core/types"
	"custodychain/crypto"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultQueryLimit = 100
	maxQueryLimit     = 1000
	backfillPage      = 500
)

var ErrUnsupportedDriver = errors.New("indexer: unsupported driver")

// EventRecord is the SQL row mirroring one journaled event.
type EventRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Sequence   uint64 `gorm:"not null;uniqueIndex:idx_event_position"`
	Position   uint32 `gorm:"not null;uniqueIndex:idx_event_position"`
	Type       string `gorm:"size:64;not null;index"`
	Contract   string `gorm:"size:96;index"`
	Timestamp  int64  `gorm:"not null"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (EventRecord) TableName() string { return "custody_events" }

// Filter narrows an event query. Empty fields match everything.
type Filter struct {
	Type         string
	Contract     string
	FromSequence uint64
	Limit        int
}

// EventSource pages through the authoritative event log.
type EventSource func(fromSequence uint64, limit int) ([]events.Published, error)

// Indexer mirrors published events into a SQL database so they can be
// filtered by type and contract. The journal stays authoritative; the mirror
// can be rebuilt from it with Backfill.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger

	mu       sync.Mutex
	lastSeq  uint64
	position uint32
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string, logger *slog.Logger) (*Indexer, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open indexer database: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing connection.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate indexer: %w", err)
	}
	return &Indexer{db: db, logger: logger.With(slog.String("component", "indexer"))}, nil
}

// Close releases the underlying connection pool.
func (i *Indexer) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Failures are logged; the mirror catches up
// on the next Backfill.
func (i *Indexer) Emit(evt events.Event) {
	published, ok := evt.(events.Published)
	if !ok {
		return
	}
	if err := i.Record(context.Background(), published); err != nil {
		i.logger.Warn("index event failed",
			slog.Uint64("sequence", published.Sequence),
			slog.String("type", published.Event.Type),
			slog.Any("error", err))
	}
}

// Record stores events in publication order. Re-recording an event that is
// already present is a no-op.
func (i *Indexer) Record(ctx context.Context, batch ...events.Published) error {
	if len(batch) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	rows := make([]EventRecord, 0, len(batch))
	for _, evt := range batch {
		if evt.Sequence != i.lastSeq {
			i.lastSeq = evt.Sequence
			i.position = 0
		}
		attrs, err := json.Marshal(evt.Event.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		rows = append(rows, EventRecord{
			Sequence:   evt.Sequence,
			Position:   i.position,
			Type:       evt.Event.Type,
			Contract:   contractString(evt.Contract),
			Timestamp:  evt.Timestamp,
			Attributes: string(attrs),
		})
		i.position++
	}
	return i.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// LastSequence returns the highest sequence mirrored so far.
func (i *Indexer) LastSequence(ctx context.Context) (uint64, error) {
	var last uint64
	err := i.db.WithContext(ctx).Model(&EventRecord{}).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	return last, err
}

// Backfill copies every event newer than the mirror's last sequence from src.
// The last mirrored call is re-read in full so a partially written call is
// completed. It must run before the indexer is attached to a live publisher.
func (i *Indexer) Backfill(ctx context.Context, src EventSource) (int, error) {
	from, err := i.LastSequence(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		page, err := src(from, backfillPage)
		if err != nil {
			return total, fmt.Errorf("read events from %d: %w", from, err)
		}
		full := len(page) == backfillPage
		if full {
			// The page may end inside one call; leave that call for the next page.
			tail := page[len(page)-1].Sequence
			cut := len(page)
			for cut > 0 && page[cut-1].Sequence == tail {
				cut--
			}
			if cut == 0 {
				return total, fmt.Errorf("indexer: call %d has more than %d events", tail, backfillPage)
			}
			page = page[:cut]
		}
		if len(page) == 0 {
			return total, nil
		}
		i.mu.Lock()
		i.lastSeq, i.position = 0, 0
		i.mu.Unlock()
		if err := i.Record(ctx, page...); err != nil {
			return total, err
		}
		total += len(page)
		if !full {
			return total, nil
		}
		from = page[len(page)-1].Sequence + 1
	}
}

// Query returns mirrored events matching filter, oldest first.
func (i *Indexer) Query(ctx context.Context, filter Filter) ([]events.Published, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	tx, err := i.filtered(ctx, filter)
	if err != nil {
		return nil, err
	}
	var rows []EventRecord
	if err := tx.Order("sequence ASC").Order("position ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]events.Published, 0, len(rows))
	for _, row := range rows {
		record, err := row.published()
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (i *Indexer) filtered(ctx context.Context, filter Filter) (*gorm.DB, error) {
	tx := i.db.WithContext(ctx).Model(&EventRecord{}).Where("sequence >= ?", filter.FromSequence)
	if t := strings.TrimSpace(filter.Type); t != "" {
		tx = tx.Where("type = ?", t)
	}
	if c := strings.TrimSpace(filter.Contract); c != "" {
		addr, err := crypto.ParseAddress(c)
		if err != nil {
			return nil, fmt.Errorf("contract: %w", err)
		}
		tx = tx.Where("contract = ?", contractString(addr))
	}
	return tx, nil
}

func (r EventRecord) published() (events.Published, error) {
	out := events.Published{
		Sequence:  r.Sequence,
		Timestamp: r.Timestamp,
		Event:     types.Event{Type: r.Type, Attributes: map[string]string{}},
	}
	if r.Contract != "" {
		addr, err := crypto.ParseAddress(r.Contract)
		if err != nil {
			return out, fmt.Errorf("decode contract %q: %w", r.Contract, err)
		}
		out.Contract = addr
	}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &out.Event.Attributes); err != nil {
			return out, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return out, nil
}

func contractString(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.FromArray(addr).String()
}
