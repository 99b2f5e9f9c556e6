package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/goalsync/internal/statusmap"
)

// Sentinel errors adapters wrap so the core can classify failures.
var (
	// ErrNotFound means the remote resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means credentials were rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means credentials are valid but lack access.
	ErrForbidden = errors.New("forbidden")
)

// TicketFetcher reads tickets from the issue tracker.
type TicketFetcher interface {
	GetTicket(ctx context.Context, key string) (TicketSnapshot, error)

	// GetComments returns comments oldest first. since is advisory; the
	// caller filters again.
	GetComments(ctx context.Context, key string, since *CommentMarker) ([]Comment, error)
}

// GoalLookup reads goals from the work-management service.
type GoalLookup interface {
	GetGoal(ctx context.Context, id string) (Goal, error)
	ListGoals(ctx context.Context, sel Selector) ([]Goal, error)
}

// TaskLookup reads the tasks supporting a goal and their attachments.
type TaskLookup interface {
	ListLinkedTasks(ctx context.Context, goalID string) ([]LinkedTask, error)
	ListAttachments(ctx context.Context, taskID string) ([]Attachment, error)
}

// StatusUpdate is the payload posted to a goal's feed.
type StatusUpdate struct {
	GoalID   string
	Title    string
	Text     string
	Category statusmap.Category
}

// PostAck confirms a created status update.
type PostAck struct {
	ID        string
	CreatedAt time.Time
}

// StatusPoster publishes status updates.
type StatusPoster interface {
	CreateStatusUpdate(ctx context.Context, u StatusUpdate) (PostAck, error)
}

// StateStore persists SyncState keyed by (goal ID, ticket key).
// Get returns found=false with a nil error when no state exists.
type StateStore interface {
	Get(ctx context.Context, goalID, ticketKey string) (SyncState, bool, error)
	Put(ctx context.Context, s SyncState) error
}

// Redactor scrubs text before it leaves the process.
type Redactor interface {
	Redact(text string) string
}

// RedactorFunc adapts a function to Redactor.
type RedactorFunc func(string) string

// Redact calls f.
func (f RedactorFunc) Redact(text string) string { return f(text) }

// NoRedaction returns text unchanged.
var NoRedaction Redactor = RedactorFunc(func(s string) string { return s })
