// Package audit keeps a local SQLite record of pipeline runs. Only run
// metadata is stored; message and reply text never are.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"rebeca/internal/bus"
	"rebeca/internal/domain"

	_ "modernc.org/sqlite"
)

// Run is one audited pipeline run.
type Run struct {
	RunID     string
	Channel   string
	MessageTS string
	Author    string
	Outcome   domain.Outcome
	Category  domain.Category
	Latency   time.Duration // inference only
	Duration  time.Duration // whole run
	CreatedAt time.Time
}

// Store is the SQLite-backed audit log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record inserts r. A repeated run ID is ignored.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs
		 (run_id, channel, message_ts, author, outcome, category, latency_ms, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Channel, r.MessageTS, r.Author, string(r.Outcome), string(r.Category),
		r.Latency.Milliseconds(), r.Duration.Milliseconds(), r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, channel, message_ts, author, outcome, category, latency_ms, duration_ms, created_at
		 FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                     Run
			outcome, category     string
			latencyMS, durationMS int64
			createdMS             int64
		)
		if err := rows.Scan(&r.RunID, &r.Channel, &r.MessageTS, &r.Author, &outcome, &category,
			&latencyMS, &durationMS, &createdMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Outcome = domain.Outcome(outcome)
		r.Category = domain.Category(category)
		r.Latency = time.Duration(latencyMS) * time.Millisecond
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.CreatedAt = time.UnixMilli(createdMS)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Summary counts runs by outcome.
func (s *Store) Summary(ctx context.Context) (map[domain.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM runs GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("summarize runs: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out[domain.Outcome(outcome)] = n
	}
	return out, rows.Err()
}

// Observe records every completed run emitted on eb. Write failures are
// logged and never reach the pipeline.
func (s *Store) Observe(eb *bus.EventBus) {
	eb.On(bus.EventRunCompleted, func(e bus.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.Record(ctx, Run{
			RunID:     e.RunID,
			Channel:   e.Channel,
			MessageTS: e.MessageTS,
			Author:    e.Author,
			Outcome:   e.Outcome,
			Category:  e.Category,
			Latency:   e.InferenceLatency,
			Duration:  e.Duration,
			CreatedAt: e.Timestamp,
		})
		if err != nil {
			s.logger.Warn("audit write failed", "run_id", e.RunID, "err", err)
		}
	})
}
