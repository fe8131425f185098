// Package fallback persists metric batches that could not be delivered
// to the API, so they survive process restarts and drain on later runs.
package fallback

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite" // SQLite driver
)

var (
	// fallbackStoredTotal tracks batches written to the store.
	fallbackStoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitai_fallback_stored_total",
		Help: "Total number of batches persisted to the fallback store",
	})

	// fallbackDeletedTotal tracks batches removed after successful replay.
	fallbackDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitai_fallback_deleted_total",
		Help: "Total number of batches removed from the fallback store after delivery",
	})

	// fallbackPurgedTotal tracks batches dropped by age or attempt caps.
	fallbackPurgedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitai_fallback_purged_total",
		Help: "Total number of batches purged from the fallback store by reason",
	}, []string{"reason"})

	// fallbackPendingBatches tracks the current store depth.
	fallbackPendingBatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gitai_fallback_pending_batches",
		Help: "Number of batches currently waiting in the fallback store",
	})
)

func init() {
	prometheus.MustRegister(fallbackStoredTotal)
	prometheus.MustRegister(fallbackDeletedTotal)
	prometheus.MustRegister(fallbackPurgedTotal)
	prometheus.MustRegister(fallbackPendingBatches)
}

// Record is one persisted batch.
type Record struct {
	// ID is the batch ID assigned at upload time; replays reuse it so the
	// server can deduplicate.
	ID string
	// CreatedAt is when the batch first failed to upload.
	CreatedAt time.Time
	// LastAttemptAt is the most recent replay attempt, zero if none.
	LastAttemptAt time.Time
	// Attempts counts replay attempts since the batch was stored.
	Attempts int
	// Payload is the encoded batch body.
	Payload []byte
}

// Config holds fallback store settings.
type Config struct {
	// Path is the database file path. Parent directories are created.
	Path string
	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// Store is a SQLite-backed queue of undelivered batches. SQLite only
// supports a single writer, so the pool is pinned to one connection.
type Store struct {
	db        *sql.DB
	path      string
	mu        sync.Mutex
	closeOnce sync.Once
}

// Open opens or creates the store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("fallback path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create fallback directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open fallback database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: cfg.Path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize fallback schema: %w", err)
	}

	if n, err := s.Count(context.Background()); err == nil {
		fallbackPendingBatches.Set(float64(n))
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fallback_batches (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_attempt_at INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		payload BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fallback_created_at ON fallback_batches(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save persists one batch. Saving the same ID twice is a no-op so a
// replay crash between upload and delete cannot duplicate rows.
func (s *Store) Save(ctx context.Context, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fallback_batches (id, created_at, payload) VALUES (?, ?, ?)`,
		id, time.Now().Unix(), payload)
	if err != nil {
		return fmt.Errorf("save batch %s: %w", id, err)
	}

	fallbackStoredTotal.Inc()
	s.refreshPending(ctx)
	return nil
}

// Oldest returns up to limit records ordered oldest first.
func (s *Store) Oldest(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, last_attempt_at, attempts, payload
		 FROM fallback_batches ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query oldest batches: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var createdAt, lastAttemptAt int64
		if err := rows.Scan(&r.ID, &createdAt, &lastAttemptAt, &r.Attempts, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		if lastAttemptAt > 0 {
			r.LastAttemptAt = time.Unix(lastAttemptAt, 0)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkAttempt bumps the attempt counter after a failed replay.
func (s *Store) MarkAttempt(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE fallback_batches SET attempts = attempts + 1, last_attempt_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark attempt for batch %s: %w", id, err)
	}
	return nil
}

// Delete removes a batch after successful delivery.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM fallback_batches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", id, err)
	}

	fallbackDeletedTotal.Inc()
	s.refreshPending(ctx)
	return nil
}

// Purge drops batches older than maxAge or with attempts >= maxAttempts
// and returns how many were removed. Zero caps disable the respective
// check.
func (s *Store) Purge(ctx context.Context, maxAge time.Duration, maxAttempts int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64

	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).Unix()
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM fallback_batches WHERE created_at < ?`, cutoff)
		if err != nil {
			return purged, fmt.Errorf("purge expired batches: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			fallbackPurgedTotal.WithLabelValues("expired").Add(float64(n))
			purged += n
		}
	}

	if maxAttempts > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM fallback_batches WHERE attempts >= ?`, maxAttempts)
		if err != nil {
			return purged, fmt.Errorf("purge exhausted batches: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			fallbackPurgedTotal.WithLabelValues("exhausted").Add(float64(n))
			purged += n
		}
	}

	if purged > 0 {
		s.refreshPending(ctx)
	}
	return purged, nil
}

// Count returns the number of pending batches.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fallback_batches`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return n, nil
}

func (s *Store) refreshPending(ctx context.Context) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fallback_batches`).Scan(&n); err == nil {
		fallbackPendingBatches.Set(float64(n))
	}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}
