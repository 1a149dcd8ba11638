// Package state journals simulation sessions and their hive events to SQLite.
// The journal is write-only from the simulation's point of view: nothing in it
// is ever loaded back into a running hive.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HexSleeves/apiary/internal/hive"
)

// Session statuses.
const (
	StatusRunning     = "running"
	StatusDone        = "done"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// timeFormat keeps fractional seconds fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// DB is the SQLite-backed event journal
type DB struct {
	db   *sql.DB
	path string
}

// OpenDB opens (or creates) the hive SQLite database
func OpenDB(hiveDir string) (*DB, error) {
	if err := os.MkdirAll(hiveDir, 0755); err != nil {
		return nil, fmt.Errorf("create hive dir: %w", err)
	}

	dbPath := filepath.Join(hiveDir, "hive.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Single connection for writes, WAL allows concurrent reads
	db.SetMaxOpenConns(2)

	s := &DB{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the database file location.
func (s *DB) Path() string { return s.path }

func (s *DB) migrate() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		frames          INTEGER NOT NULL,
		max_frames      INTEGER NOT NULL,
		lay_interval_ns INTEGER NOT NULL,
		eggs            INTEGER NOT NULL,
		visits          INTEGER NOT NULL,
		seed            INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL DEFAULT 'running',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		bee_id      INTEGER NOT NULL,
		entrance    INTEGER NOT NULL,
		frames      INTEGER NOT NULL,
		admissible  INTEGER NOT NULL,
		inside      INTEGER NOT NULL,
		alive       INTEGER NOT NULL,
		waiting0    INTEGER NOT NULL DEFAULT 0,
		waiting1    INTEGER NOT NULL DEFAULT 0,
		detail      TEXT,
		created_at  TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(session_id, kind);
	`
	_, err := s.db.Exec(ddl)
	return err
}

// --- Session operations ---

// SessionInfo describes one simulation run.
type SessionInfo struct {
	ID          string        `json:"id"`
	Frames      int           `json:"frames"`
	MaxFrames   int           `json:"max_frames"`
	LayInterval time.Duration `json:"lay_interval"`
	Eggs        int           `json:"eggs"`
	Visits      int           `json:"visits"`
	Seed        int64         `json:"seed"`
	Status      string        `json:"status"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

// Created parses CreatedAt, returning the zero time if it is malformed.
func (si *SessionInfo) Created() time.Time {
	t, _ := time.Parse(time.RFC3339Nano, si.CreatedAt)
	return t
}

const sessionColumns = `id, frames, max_frames, lay_interval_ns, eggs, visits, seed, status, created_at, updated_at`

func (s *DB) CreateSession(ctx context.Context, si SessionInfo) error {
	now := time.Now().UTC().Format(timeFormat)
	if si.Status == "" {
		si.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		si.ID, si.Frames, si.MaxFrames, int64(si.LayInterval), si.Eggs, si.Visits, si.Seed, si.Status, now, now,
	)
	return err
}

func (s *DB) UpdateSessionStatus(ctx context.Context, id, status string) error {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (s *DB) GetSession(ctx context.Context, id string) (*SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *DB) LatestSession(ctx context.Context) (*SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	return scanSession(row)
}

// ListSessions returns the newest sessions first. limit <= 0 means no limit.
func (s *DB) ListSessions(ctx context.Context, limit int, onlyRunning bool) ([]SessionInfo, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if onlyRunning {
		query += ` WHERE status = ?`
		args = append(args, StatusRunning)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		si, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *si)
	}
	return sessions, rows.Err()
}

// RemoveSession deletes a session and its events.
func (s *DB) RemoveSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Event log (append-only) ---

// EventRow is a journaled hive event.
type EventRow struct {
	ID         int64  `json:"id"`
	SessionID  string `json:"session_id"`
	Seq        uint64 `json:"seq"`
	Kind       string `json:"kind"`
	BeeID      int    `json:"bee_id"`
	Entrance   int    `json:"entrance"`
	Frames     int    `json:"frames"`
	Admissible int    `json:"admissible"`
	Inside     int    `json:"inside"`
	Alive      int    `json:"alive"`
	Waiting    [2]int `json:"waiting"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Event converts the row back into a hive event.
func (r EventRow) Event() hive.Event {
	t, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	return hive.Event{
		Seq:        r.Seq,
		Kind:       hive.Kind(r.Kind),
		BeeID:      r.BeeID,
		Entrance:   r.Entrance,
		Frames:     r.Frames,
		Admissible: r.Admissible,
		Inside:     r.Inside,
		Alive:      r.Alive,
		Waiting:    r.Waiting,
		Detail:     r.Detail,
		Time:       t,
	}
}

const insertEvent = `INSERT INTO events
	(session_id, seq, kind, bee_id, entrance, frames, admissible, inside, alive, waiting0, waiting1, detail, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func eventArgs(sessionID string, e hive.Event) []any {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return []any{
		sessionID, int64(e.Seq), string(e.Kind), e.BeeID, e.Entrance,
		e.Frames, e.Admissible, e.Inside, e.Alive, e.Waiting[0], e.Waiting[1],
		e.Detail, ts.UTC().Format(timeFormat),
	}
}

func (s *DB) AppendEvent(ctx context.Context, sessionID string, e hive.Event) (int64, error) {
	result, err := s.db.ExecContext(ctx, insertEvent, eventArgs(sessionID, e)...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// AppendEvents writes a batch of events in one transaction.
func (s *DB) AppendEvents(ctx context.Context, sessionID string, events []hive.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, eventArgs(sessionID, e)...); err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}
	return tx.Commit()
}

const eventColumns = `id, session_id, seq, kind, bee_id, entrance, frames, admissible, inside, alive, waiting0, waiting1, COALESCE(detail, ''), created_at`

// ListEvents returns up to limit events with id greater than afterID, oldest
// first. limit <= 0 means no limit.
func (s *DB) ListEvents(ctx context.Context, sessionID string, limit int, afterID int64) ([]EventRow, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE session_id = ? AND id > ? ORDER BY seq, id`
	args := []any{sessionID, afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		r, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *r)
	}
	return events, rows.Err()
}

// TailEvents returns the last n events of a session, oldest first.
func (s *DB) TailEvents(ctx context.Context, sessionID string, n int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM (SELECT `+eventColumns+` FROM events WHERE session_id = ? ORDER BY seq DESC, id DESC LIMIT ?) ORDER BY 3, 1`,
		sessionID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		r, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *r)
	}
	return events, rows.Err()
}

func (s *DB) EventCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}

// CountEventsByKind returns event counts per kind for a session.
func (s *DB) CountEventsByKind(ctx context.Context, sessionID string) (map[hive.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM events WHERE session_id = ? GROUP BY kind`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[hive.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[hive.Kind(kind)] = n
	}
	return counts, rows.Err()
}

// LastEvent returns the highest-sequence event of a session.
func (s *DB) LastEvent(ctx context.Context, sessionID string) (*EventRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE session_id = ? ORDER BY seq DESC, id DESC LIMIT 1`,
		sessionID,
	)
	r, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s has no events: %w", sessionID, ErrNotFound)
	}
	return r, err
}

// --- Lifecycle ---

func (s *DB) Close() error {
	return s.db.Close()
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*SessionInfo, error) {
	var si SessionInfo
	var layNs int64
	err := row.Scan(
		&si.ID, &si.Frames, &si.MaxFrames, &layNs, &si.Eggs, &si.Visits,
		&si.Seed, &si.Status, &si.CreatedAt, &si.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	si.LayInterval = time.Duration(layNs)
	return &si, nil
}

func scanEvent(row scannable) (*EventRow, error) {
	var r EventRow
	var seq int64
	err := row.Scan(
		&r.ID, &r.SessionID, &seq, &r.Kind, &r.BeeID, &r.Entrance,
		&r.Frames, &r.Admissible, &r.Inside, &r.Alive,
		&r.Waiting[0], &r.Waiting[1], &r.Detail, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Seq = uint64(seq)
	return &r, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}
