package syncer

import (
	"strconv"
	"time"

	"github.com/fyrsmithlabs/goalsync/internal/statusmap"
)

// ScopeConfig selects the goals a run processes. Sets are additive.
type ScopeConfig struct {
	GoalIDs      []string
	ProjectIDs   []string
	TeamIDs      []string
	WorkspaceIDs []string
}

// Empty reports whether no selector is configured.
func (s ScopeConfig) Empty() bool {
	return len(s.GoalIDs) == 0 && len(s.ProjectIDs) == 0 &&
		len(s.TeamIDs) == 0 && len(s.WorkspaceIDs) == 0
}

// SelectorKind names a container that goals can be listed from.
type SelectorKind string

const (
	SelectProject   SelectorKind = "project"
	SelectTeam      SelectorKind = "team"
	SelectWorkspace SelectorKind = "workspace"
)

// Selector identifies one container to expand into goals.
type Selector struct {
	Kind SelectorKind
	ID   string
}

// Goal is a work-management objective. Status is empty when unset.
type Goal struct {
	ID          string
	Name        string
	Status      statusmap.Category
	WorkspaceID string
	TeamID      string
	ProjectID   string
}

// Attachment is a file or link attached to a task.
type Attachment struct {
	Name string
	URL  string
}

// LinkedTask is a task supporting a goal.
type LinkedTask struct {
	ID          string
	GoalID      string
	Name        string
	Attachments []Attachment
}

// TicketReference is a tracker key found on a task.
type TicketReference struct {
	Key string
}

// Reference pairs a ticket reference with the task it was found on.
type Reference struct {
	Task   LinkedTask
	Ticket TicketReference
}

// Comment is one entry of a ticket's comment thread.
type Comment struct {
	ID      string
	Author  string
	Created time.Time
	Body    string
}

// TicketSnapshot is the live state of a tracker ticket.
type TicketSnapshot struct {
	Key      string
	Status   string
	URL      string
	Comments []Comment
}

// CommentMarker is the newest comment already transferred.
type CommentMarker struct {
	At time.Time
	ID string
}

// MarkerOf returns the marker for c.
func MarkerOf(c Comment) CommentMarker {
	return CommentMarker{At: c.Created, ID: c.ID}
}

// Covers reports whether c is at or before m, meaning it was already
// transferred. Ties on timestamp fall back to the comment ID.
func (m CommentMarker) Covers(c Comment) bool {
	if c.Created.Before(m.At) {
		return true
	}
	if c.Created.After(m.At) {
		return false
	}
	return compareIDs(c.ID, m.ID) <= 0
}

// compareIDs orders comment IDs numerically when both parse as integers.
func compareIDs(a, b string) int {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SyncState is the last synchronized view of a (goal, ticket) pair.
type SyncState struct {
	GoalID      string
	TicketKey   string
	LastStatus  string
	LastComment *CommentMarker
	UpdatedAt   time.Time
}

// StatusUpdateRecord is the outbound update composed for a goal.
type StatusUpdateRecord struct {
	GoalID       string
	TicketKey    string
	TaskName     string
	Title        string
	Status       string
	Category     statusmap.Category
	CommentBlock string
	Text         string
	Comments     []Comment
	DryRun       bool
}

// Outcome is the terminal result of one item.
type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomePosted  Outcome = "posted"
	OutcomeDryRun  Outcome = "dry_run"
	OutcomeFailed  Outcome = "failed"
)

// Stage is the furthest point an item reached.
type Stage string

const (
	StagePending   Stage = "pending"
	StageFetched   Stage = "fetched"
	StageUnchanged Stage = "unchanged"
	StageChanged   Stage = "changed"
)

// ItemResult records what happened to one (goal, task, ticket) item.
type ItemResult struct {
	GoalID    string
	GoalName  string
	TaskID    string
	TicketKey string
	Stage     Stage
	Outcome   Outcome
	Reason    string
	Err       error
	Record    *StatusUpdateRecord // set only for posted and dry-run outcomes
}

// GoalFailure records a goal that could not be processed at all.
type GoalFailure struct {
	GoalID string
	Err    error
}

// RunSummary is returned by a completed run.
type RunSummary struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	DryRun        bool
	GoalsResolved int
	GoalFailures  []GoalFailure
	SelectorFails []SelectorFailure
	Items         []ItemResult
	StateErrors   int
}

// Count returns the number of items with outcome o.
func (s *RunSummary) Count(o Outcome) int {
	n := 0
	for _, it := range s.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// Records returns the updates posted or previewed during the run, in order.
func (s *RunSummary) Records() []StatusUpdateRecord {
	var out []StatusUpdateRecord
	for _, it := range s.Items {
		if it.Record != nil && (it.Outcome == OutcomePosted || it.Outcome == OutcomeDryRun) {
			out = append(out, *it.Record)
		}
	}
	return out
}
