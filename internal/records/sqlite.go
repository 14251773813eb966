// Package records persists the tool-call ledger in SQLite. The
// orchestrator streams record transitions through a sink; this package
// writes them down so a turn's tool activity can be audited after the
// fact, across restarts.
package records

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/logscout/logscout/internal/orchestrator"
	"github.com/logscout/logscout/internal/tools"
)

// Store is a SQLite-backed ledger of tool-call records.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the ledger database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode keeps concurrent turn writers from blocking readers.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS tool_call_records (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		input TEXT NOT NULL,
		status TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		cause TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_records_turn ON tool_call_records(turn_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes a record, replacing any earlier state for the same ID.
func (s *Store) Upsert(ctx context.Context, rec *orchestrator.ToolCallRecord) error {
	query := `
		INSERT INTO tool_call_records
			(id, turn_id, seq, kind, input, status, summary, cause, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			summary = excluded.summary,
			cause = excluded.cause,
			ended_at = excluded.ended_at`

	var endedAt any
	if !rec.EndedAt.IsZero() {
		endedAt = rec.EndedAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TurnID, rec.Seq, string(rec.Kind), rec.Input,
		string(rec.Status), rec.Summary, rec.Cause, rec.StartedAt.Unix(), endedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// ListByTurn returns the turn's records ordered by sequence number.
func (s *Store) ListByTurn(ctx context.Context, turnID string) ([]*orchestrator.ToolCallRecord, error) {
	query := `
		SELECT id, turn_id, seq, kind, input, status, summary, cause, started_at, ended_at
		FROM tool_call_records WHERE turn_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, turnID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.ToolCallRecord
	for rows.Next() {
		var rec orchestrator.ToolCallRecord
		var kind, status string
		var startedAt int64
		var endedAt sql.NullInt64

		err := rows.Scan(
			&rec.ID, &rec.TurnID, &rec.Seq, &kind, &rec.Input,
			&status, &rec.Summary, &rec.Cause, &startedAt, &endedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		rec.Kind = tools.Kind(kind)
		rec.Status = orchestrator.RecordStatus(status)
		rec.StartedAt = time.Unix(startedAt, 0)
		if endedAt.Valid {
			rec.EndedAt = time.Unix(endedAt.Int64, 0)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PurgeBefore removes records from turns that started before cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_call_records WHERE started_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	return res.RowsAffected()
}

// Sink adapts the store to the orchestrator's event sink. Writes are
// best-effort: a ledger failure is logged, never surfaced into the turn.
type Sink struct {
	store  *Store
	logger *slog.Logger
}

// NewSink wraps the store as an orchestrator sink.
func NewSink(store *Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: store, logger: logger}
}

// Emit persists record transitions and ignores other event types.
func (s *Sink) Emit(e orchestrator.Event) {
	if e.Type != orchestrator.EventRecordUpdate || e.Record == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Upsert(ctx, e.Record); err != nil {
		s.logger.Warn("failed to persist tool call record",
			"record_id", e.Record.ID, "turn_id", e.Record.TurnID, "error", err)
	}
}
