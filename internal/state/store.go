// Package state persists the last synchronized view of each (goal, ticket)
// pair between runs.
package state

import (
	"fmt"
	"io"
	"time"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

// Drivers accepted by New.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Store is a syncer.StateStore that holds resources until closed.
type Store interface {
	syncer.StateStore
	io.Closer
}

// New opens the store for driver. path is ignored by the memory driver.
func New(driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite:
		return OpenSQLite(path)
	case DriverFile:
		return OpenFile(path)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown state driver %q", driver)
	}
}

// record is the serialized form shared by the file store and tests.
type record struct {
	GoalID        string     `yaml:"goal_id"`
	TicketKey     string     `yaml:"ticket_key"`
	LastStatus    string     `yaml:"last_status"`
	LastCommentAt *time.Time `yaml:"last_comment_at,omitempty"`
	LastCommentID string     `yaml:"last_comment_id,omitempty"`
	UpdatedAt     time.Time  `yaml:"updated_at"`
}

func toRecord(s syncer.SyncState) record {
	r := record{
		GoalID:     s.GoalID,
		TicketKey:  s.TicketKey,
		LastStatus: s.LastStatus,
		UpdatedAt:  s.UpdatedAt.UTC(),
	}
	if s.LastComment != nil {
		at := s.LastComment.At.UTC()
		r.LastCommentAt = &at
		r.LastCommentID = s.LastComment.ID
	}
	return r
}

func (r record) toState() syncer.SyncState {
	s := syncer.SyncState{
		GoalID:     r.GoalID,
		TicketKey:  r.TicketKey,
		LastStatus: r.LastStatus,
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.LastCommentAt != nil {
		s.LastComment = &syncer.CommentMarker{At: r.LastCommentAt.UTC(), ID: r.LastCommentID}
	}
	return s
}

type key struct {
	goalID    string
	ticketKey string
}

func validateKey(goalID, ticketKey string) error {
	if goalID == "" || ticketKey == "" {
		return fmt.Errorf("state key requires goal ID and ticket key, got (%q, %q)", goalID, ticketKey)
	}
	return nil
}
