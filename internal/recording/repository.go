package recording

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/directout-bridge/internal/directout"
)

// ErrNotStarted is returned when the repository is used before Start or
// after Stop.
var ErrNotStarted = errors.New("recording repository not started")

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Entry is a stored recorded action.
type Entry struct {
	directout.RecordedAction
	SessionID  string `json:"session_id"`
	DeviceType string `json:"device_type"`
}

// Summary describes one recording session.
type Summary struct {
	SessionID string    `json:"session_id"`
	Actions   int       `json:"actions"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	SessionID string
	Since     time.Time
	// Limit caps the result; 0 means DefaultLimit.
	Limit int
}

// DefaultLimit bounds List when Filter.Limit is zero.
const DefaultLimit = 1000

// timeLayout is fixed width so recorded_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository stores recorded actions in the recorded_actions table.
//
// Thread Safety: All methods are safe for concurrent use.
type Repository struct {
	db     *sql.DB
	logger Logger

	insertStmt *sql.Stmt
	stmtMu     sync.Mutex
}

// NewRepository returns a repository over db. The recorded_actions table
// must exist (see the migrations package).
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SetLogger sets the logger for the repository.
func (r *Repository) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the insert statement. Calling it twice is harmless.
func (r *Repository) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.insertStmt != nil {
		return nil
	}
	stmt, err := r.db.Prepare(`
		INSERT INTO recorded_actions (id, session_id, action_id, options, device_type, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing recorded action insert: %w", err)
	}
	r.insertStmt = stmt
	r.log("recording repository started")
	return nil
}

// Stop releases the prepared statement.
func (r *Repository) Stop() {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.insertStmt != nil {
		r.insertStmt.Close()
		r.insertStmt = nil
		r.log("recording repository stopped")
	}
}

// Save stores e.
func (r *Repository) Save(ctx context.Context, e Entry) error {
	r.stmtMu.Lock()
	stmt := r.insertStmt
	r.stmtMu.Unlock()
	if stmt == nil {
		return ErrNotStarted
	}

	opts, err := json.Marshal(e.Options)
	if err != nil {
		return fmt.Errorf("encoding options of %s: %w", e.ActionID, err)
	}
	if _, err := stmt.ExecContext(ctx, e.ID, e.SessionID, e.ActionID, string(opts),
		e.DeviceType, e.RecordedAt.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("inserting recorded action %s: %w", e.ID, err)
	}
	return nil
}

// List returns stored actions in recording order.
func (r *Repository) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	since := ""
	if !f.Since.IsZero() {
		since = f.Since.UTC().Format(timeLayout)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, action_id, options, device_type, recorded_at
		FROM recorded_actions
		WHERE (? = '' OR session_id = ?) AND (? = '' OR recorded_at >= ?)
		ORDER BY recorded_at ASC, rowid ASC
		LIMIT ?
	`, f.SessionID, f.SessionID, since, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recorded actions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var opts, at string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ActionID, &opts, &e.DeviceType, &at); err != nil {
			return nil, fmt.Errorf("scanning recorded action: %w", err)
		}
		if err := json.Unmarshal([]byte(opts), &e.Options); err != nil {
			return nil, fmt.Errorf("decoding options of %s: %w", e.ID, err)
		}
		if e.RecordedAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parsing time of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions summarises every recording session, newest first.
func (r *Repository) Sessions(ctx context.Context) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MIN(recorded_at), MAX(recorded_at)
		FROM recorded_actions
		GROUP BY session_id
		ORDER BY MAX(recorded_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying recording sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var first, last string
		if err := rows.Scan(&s.SessionID, &s.Actions, &first, &last); err != nil {
			return nil, fmt.Errorf("scanning recording session: %w", err)
		}
		s.First, _ = time.Parse(timeLayout, first) //nolint:errcheck // written by Save
		s.Last, _ = time.Parse(timeLayout, last)   //nolint:errcheck // written by Save
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes every action of sessionID and returns how many
// were removed.
func (r *Repository) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recorded_actions WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("deleting recording session %s: %w", sessionID, err)
	}
	return res.RowsAffected()
}

func (r *Repository) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}
