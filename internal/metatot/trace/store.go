// Package trace persists completed planning sessions. The primary store is
// SQLite; when it is unavailable, a bounded in-process ring buffer keeps the
// most recent traces so a planning run never fails on trace loss.
package trace

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schemaSQL string

// ErrTraceNotFound indicates a trace ID absent from both the store and the
// fallback buffer.
var ErrTraceNotFound = errors.New("trace not found")

// Trace is one durable record of a completed session.
type Trace struct {
	ID        string          `json:"trace_id"`
	SessionID string          `json:"session_id"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Store is the interface for durable trace persistence.
type Store interface {
	// Persist writes a trace. Writing the same trace ID twice is idempotent.
	Persist(ctx context.Context, t Trace) error

	// Retrieve returns a trace by ID, or ErrTraceNotFound.
	Retrieve(ctx context.Context, traceID string) (*Trace, error)

	// Close releases store resources.
	Close() error
}

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	ownsDB bool
}

// SQLiteConfig configures the SQLite trace store.
type SQLiteConfig struct {
	// Path is the database file path. Empty uses an in-memory database.
	Path string

	// DB is an existing connection to use instead of opening Path.
	DB *sql.DB
}

// NewSQLiteStore opens (or adopts) a database and ensures the schema.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	var (
		db     *sql.DB
		ownsDB bool
	)

	if cfg.DB != nil {
		db = cfg.DB
	} else {
		dsn := cfg.Path
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		var err error
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open trace database: %w", err)
		}
		ownsDB = true
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		if ownsDB {
			db.Close()
		}
		return nil, fmt.Errorf("init trace schema: %w", err)
	}

	return &SQLiteStore{db: db, ownsDB: ownsDB}, nil
}

// Persist implements Store. Re-persisting an existing trace ID overwrites the
// stored payload, making retries safe.
func (s *SQLiteStore) Persist(ctx context.Context, t Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (trace_id, session_id, created_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			session_id = excluded.session_id,
			created_at = excluded.created_at,
			payload = excluded.payload
	`,
		t.ID,
		t.SessionID,
		t.CreatedAt.UnixMilli(),
		string(t.Payload),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// Retrieve implements Store.
func (s *SQLiteStore) Retrieve(ctx context.Context, traceID string) (*Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT trace_id, session_id, created_at, payload
		FROM traces
		WHERE trace_id = ?
	`, traceID)

	var (
		id        string
		sessionID string
		createdAt int64
		payload   string
	)
	if err := row.Scan(&id, &sessionID, &createdAt, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTraceNotFound
		}
		return nil, fmt.Errorf("scan trace: %w", err)
	}

	return &Trace{
		ID:        id,
		SessionID: sessionID,
		CreatedAt: time.UnixMilli(createdAt),
		Payload:   json.RawMessage(payload),
	}, nil
}

// BySession returns all traces for a session, oldest first.
func (s *SQLiteStore) BySession(ctx context.Context, sessionID string) ([]Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, session_id, created_at, payload
		FROM traces
		WHERE session_id = ?
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var (
			id      string
			sid     string
			created int64
			payload string
		)
		if err := rows.Scan(&id, &sid, &created, &payload); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		traces = append(traces, Trace{
			ID:        id,
			SessionID: sid,
			CreatedAt: time.UnixMilli(created),
			Payload:   json.RawMessage(payload),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return traces, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}
