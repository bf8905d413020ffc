// Package runlog persists outcome events so completed steps survive
// the process and can be inspected per trace.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/stepcore/internal/observability"
	"github.com/harun/stepcore/pkg/outcome"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Event is one persisted outcome record.
type Event struct {
	ID         string                 `json:"id"`
	TraceID    string                 `json:"trace_id"`
	State      outcome.State          `json:"state"`
	Value      string                 `json:"value,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ErrorType  string                 `json:"error_type,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  int64                  `json:"created_at"`
}

// Config holds run log configuration.
type Config struct {
	// Path is the sqlite database file. The directory is created if
	// missing.
	Path   string
	Logger zerolog.Logger
}

// Store is a sqlite-backed append-only log of outcome events.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the run log database.
func NewStore(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, fmt.Errorf("run log path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create run log directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcome_events (
		id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		state TEXT NOT NULL,
		value TEXT,
		error TEXT,
		error_type TEXT,
		duration_ms INTEGER NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcome_events_trace ON outcome_events(trace_id);
	CREATE INDEX IF NOT EXISTS idx_outcome_events_created ON outcome_events(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize run log schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists one execution under the given trace id and returns
// the event id.
func (s *Store) Append(ctx context.Context, traceID string, exec outcome.Execution) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate event id: %w", err)
	}

	payload := exec.EventPayload()

	var valueJSON string
	if v, ok := payload["value"]; ok {
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal event value: %w", err)
		}
		valueJSON = string(data)
	}

	var errMsg, errType string
	if v, ok := payload["error"].(string); ok {
		errMsg = v
	}
	if v, ok := payload["error_type"].(string); ok {
		errType = v
	}

	var metadataJSON string
	if md := exec.Metadata(); len(md) > 0 {
		data, err := json.Marshal(md)
		if err != nil {
			return "", fmt.Errorf("failed to marshal event metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outcome_events (id, trace_id, state, value, error, error_type, duration_ms, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		traceID,
		string(exec.State()),
		valueJSON,
		errMsg,
		errType,
		exec.Duration().Milliseconds(),
		metadataJSON,
		time.Now().UnixMilli(),
	)
	observability.RecordRunlogAppend(err)
	if err != nil {
		return "", fmt.Errorf("failed to append outcome event: %w", err)
	}

	s.logger.Debug().
		Str("event_id", id).
		Str("trace_id", traceID).
		Str("state", string(exec.State())).
		Msg("Outcome event appended")

	return id, nil
}

// ByTrace returns all events for a trace, oldest first.
func (s *Store) ByTrace(ctx context.Context, traceID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trace_id, state, value, error, error_type, duration_ms, metadata, created_at
		FROM outcome_events
		WHERE trace_id = ?
		ORDER BY created_at ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by trace: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Recent returns the newest events across all traces.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trace_id, state, value, error, error_type, duration_ms, metadata, created_at
		FROM outcome_events
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Prune removes events older than the retention window and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	cutoff := time.Now().Add(-retention).UnixMilli()

	res, err := s.db.ExecContext(ctx, `DELETE FROM outcome_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outcome events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}

	observability.RecordRunlogPruned(int(affected))

	s.logger.Info().Int64("removed", affected).Msg("Run log pruned")

	return int(affected), nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	events := []Event{}

	for rows.Next() {
		var (
			e            Event
			state        string
			metadataJSON string
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &state, &e.Value, &e.Error, &e.ErrorType, &e.DurationMs, &metadataJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome event: %w", err)
		}

		e.State = outcome.State(state)

		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode event metadata: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}
