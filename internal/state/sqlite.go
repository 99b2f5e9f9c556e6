package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

const driverName = "sqlite"

// SQLite stores state in a single-file SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newSQLite(db)
}

// OpenSQLiteInMemory opens a private in-memory database.
func OpenSQLiteInMemory() (*SQLite, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return newSQLite(db)
}

func newSQLite(db *sql.DB) (*SQLite, error) {
	// One connection: writes are sequential and :memory: is per connection.
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			goal_id TEXT NOT NULL,
			ticket_key TEXT NOT NULL,
			last_status TEXT NOT NULL,
			last_comment_at TEXT,
			last_comment_id TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (goal_id, ticket_key)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Get implements syncer.StateStore.
func (s *SQLite) Get(ctx context.Context, goalID, ticketKey string) (syncer.SyncState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_status, last_comment_at, last_comment_id, updated_at
		FROM sync_state WHERE goal_id = ? AND ticket_key = ?`, goalID, ticketKey)

	var (
		status, commentID, updated string
		commentAt                  sql.NullString
	)
	if err := row.Scan(&status, &commentAt, &commentID, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return syncer.SyncState{}, false, nil
		}
		return syncer.SyncState{}, false, fmt.Errorf("read sync state: %w", err)
	}

	st := syncer.SyncState{GoalID: goalID, TicketKey: ticketKey, LastStatus: status}
	var err error
	if st.UpdatedAt, err = parseTS(updated); err != nil {
		return syncer.SyncState{}, false, fmt.Errorf("decode updated_at: %w", err)
	}
	if commentAt.Valid {
		at, err := parseTS(commentAt.String)
		if err != nil {
			return syncer.SyncState{}, false, fmt.Errorf("decode last_comment_at: %w", err)
		}
		st.LastComment = &syncer.CommentMarker{At: at, ID: commentID}
	}
	return st, true, nil
}

// Put implements syncer.StateStore.
func (s *SQLite) Put(ctx context.Context, st syncer.SyncState) error {
	if err := validateKey(st.GoalID, st.TicketKey); err != nil {
		return err
	}

	var commentAt sql.NullString
	var commentID string
	if st.LastComment != nil {
		commentAt = sql.NullString{String: formatTS(st.LastComment.At), Valid: true}
		commentID = st.LastComment.ID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (goal_id, ticket_key, last_status, last_comment_at, last_comment_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(goal_id, ticket_key) DO UPDATE SET
			last_status = excluded.last_status,
			last_comment_at = excluded.last_comment_at,
			last_comment_id = excluded.last_comment_id,
			updated_at = excluded.updated_at`,
		st.GoalID, st.TicketKey, st.LastStatus, commentAt, commentID, formatTS(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
