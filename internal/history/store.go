// Package history records finished requests in SQLite and feeds earlier
// turns of a session back to the planner.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/cache"
	"github.com/ZanzyTHEbar/mcpdesk/internal/eventbus"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id  TEXT NOT NULL UNIQUE,
		session_id  TEXT NOT NULL DEFAULT '',
		query       TEXT NOT NULL,
		status      TEXT NOT NULL,
		answer      TEXT NOT NULL,
		caveats     TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_session ON requests (session_id, id)`,
}

// Entry is one recorded request.
type Entry struct {
	RequestID string                 `json:"request_id"`
	SessionID string                 `json:"session_id,omitempty"`
	Query     string                 `json:"query"`
	Status    mcpdesk.ResponseStatus `json:"status"`
	Answer    string                 `json:"answer"`
	Caveats   []string               `json:"caveats,omitempty"`
	Duration  time.Duration          `json:"duration"`
	CreatedAt time.Time              `json:"created_at"`
}

// Store persists responses.
type Store struct {
	db     *sql.DB
	logger cache.Logger
}

// Open opens (or creates) the history database at path.
func Open(path string, logger cache.Logger) (*Store, error) {
	if logger == nil {
		logger = &cache.StdLogger{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One writer keeps SQLite from reporting busy under concurrent requests.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("history migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores one response. A response recorded twice is stored once.
func (s *Store) Record(ctx context.Context, resp mcpdesk.Response) error {
	if resp.RequestID == "" {
		return fmt.Errorf("response has no request id")
	}
	var caveats *string
	if len(resp.Caveats) > 0 {
		data, err := json.Marshal(resp.Caveats)
		if err != nil {
			return err
		}
		c := string(data)
		caveats = &c
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO requests (request_id, session_id, query, status, answer, caveats, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.RequestID, resp.SessionID, resp.Query, string(resp.Status), resp.Text, caveats,
		resp.Duration.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record request %s: %w", resp.RequestID, err)
	}
	return nil
}

// List returns up to limit entries, newest first. An empty session lists
// every session.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT request_id, session_id, query, status, answer, caveats, duration_ms, created_at
		FROM requests`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			status   string
			caveats  sql.NullString
			duration int64
		)
		if err := rows.Scan(&e.RequestID, &e.SessionID, &e.Query, &status, &e.Answer, &caveats, &duration, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = mcpdesk.ResponseStatus(status)
		e.Duration = time.Duration(duration) * time.Millisecond
		if caveats.Valid {
			_ = json.Unmarshal([]byte(caveats.String), &e.Caveats)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Recent returns the last n answered turns of a session, oldest first.
// Rejected and failed requests are left out.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]mcpdesk.Turn, error) {
	if sessionID == "" || n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT query, answer FROM (
			SELECT id, query, answer FROM requests
			WHERE session_id = ? AND status IN (?, ?)
			ORDER BY id DESC LIMIT ?
		) sub ORDER BY id ASC`,
		sessionID, string(mcpdesk.ResponseOK), string(mcpdesk.ResponsePartial), n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []mcpdesk.Turn
	for rows.Next() {
		var t mcpdesk.Turn
		if err := rows.Scan(&t.Query, &t.Answer); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// WithHistory fills req.History from the store when the caller sent none.
func (s *Store) WithHistory(ctx context.Context, req mcpdesk.Request, n int) mcpdesk.Request {
	if len(req.History) > 0 || req.SessionID == "" {
		return req
	}
	turns, err := s.Recent(ctx, req.SessionID, n)
	if err != nil {
		s.logger.Error("History lookup failed", map[string]interface{}{"session_id": req.SessionID, "error": err.Error()})
		return req
	}
	req.History = turns
	return req
}

// Subscribe records every response published on the bus.
func (s *Store) Subscribe(bus eventbus.EventBus) (string, error) {
	return bus.Subscribe([]eventbus.EventType{eventbus.EventResponseReady}, func(ctx context.Context, evt eventbus.Event) error {
		resp, ok := evt.Payload().(mcpdesk.Response)
		if !ok {
			return fmt.Errorf("unexpected payload %T", evt.Payload())
		}
		if err := s.Record(ctx, resp); err != nil {
			s.logger.Error("History write failed", map[string]interface{}{"request_id": resp.RequestID, "error": err.Error()})
			return err
		}
		return nil
	})
}
