// Package history persists a journal of agent loop iterations to SQLite.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petal-labs/scribe/agent"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// Statuses recorded per iteration.
const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Record is one journaled iteration.
type Record struct {
	RunID     string
	Iteration int
	StartedAt time.Time
	Status    string
	Reply     string
	Error     string
}

// SQLiteStoreConfig configures the iteration journal.
type SQLiteStoreConfig struct {
	// DSN is the database connection string (a file path works).
	DSN string

	// RetentionAge deletes iterations older than this duration (0 = keep all).
	RetentionAge time.Duration

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration

	Logger *slog.Logger
}

// SQLiteStore journals iterations to a SQLite database. It also satisfies
// agent.Handler, recording terminal iteration events as they are emitted.
type SQLiteStore struct {
	db     *sql.DB
	cfg    SQLiteStoreConfig
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// NewSQLiteStore opens (or creates) an iteration journal.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	// WAL keeps readers unblocked while the loop appends.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		cfg:    cfg,
		logger: cfg.Logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if cfg.RetentionAge > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Append journals one iteration record.
func (s *SQLiteStore) Append(ctx context.Context, record Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO iterations (run_id, iteration, started_at, status, reply, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.RunID,
		record.Iteration,
		record.StartedAt.UTC().Format(time.RFC3339Nano),
		record.Status,
		record.Reply,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("history: append iteration: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent iterations for a run, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, runID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, iteration, started_at, status, reply, error
		 FROM iterations WHERE run_id = ?
		 ORDER BY iteration DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query iterations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		var startedAt string
		if err := rows.Scan(&record.RunID, &record.Iteration, &startedAt,
			&record.Status, &record.Reply, &record.Error); err != nil {
			return nil, fmt.Errorf("history: scan iteration: %w", err)
		}
		record.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate rows: %w", err)
	}
	return records, nil
}

// Handle records terminal iteration events. It implements agent.Handler.
func (s *SQLiteStore) Handle(e agent.Event) {
	var status string
	switch e.Kind {
	case agent.EventIterationFinished:
		status = StatusFinished
	case agent.EventIterationFailed:
		status = StatusFailed
	default:
		return
	}

	record := Record{
		RunID:     e.RunID,
		Iteration: e.Iteration,
		StartedAt: e.Time.Add(-e.Elapsed),
		Status:    status,
	}
	if reply, ok := e.Payload["reply"].(string); ok {
		record.Reply = reply
	}
	if errText, ok := e.Payload["error"].(string); ok {
		record.Error = errText
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Append(ctx, record); err != nil {
		s.logger.Warn("failed to journal iteration",
			"run_id", e.RunID,
			"iteration", e.Iteration,
			"error", err)
	}
}

// Close stops the pruner and closes the database.
func (s *SQLiteStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

func (s *SQLiteStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pruneOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *SQLiteStore) pruneOnce() {
	cutoff := time.Now().UTC().Add(-s.cfg.RetentionAge).Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`DELETE FROM iterations WHERE started_at < ?`, cutoff); err != nil {
		s.logger.Warn("history prune failed", "error", err)
	}
}
