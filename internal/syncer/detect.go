package syncer

import (
	"context"
	"errors"
	"sort"
)

// Decision is the Change Detector verdict for one (goal, ticket) pair.
type Decision struct {
	Changed     bool
	Snapshot    TicketSnapshot
	Prior       *SyncState
	NewComments []Comment
}

// NextMarker returns the marker to persist after this decision is applied.
// It keeps the prior marker when there are no new comments.
func (d Decision) NextMarker() *CommentMarker {
	if n := len(d.NewComments); n > 0 {
		m := MarkerOf(d.NewComments[n-1])
		return &m
	}
	if d.Prior != nil {
		return d.Prior.LastComment
	}
	return nil
}

// Detector decides whether a ticket changed since it was last synced.
type Detector struct {
	tickets TicketFetcher
	store   StateStore

	// commentsTrigger makes new comments alone count as a change.
	commentsTrigger bool
}

// NewDetector creates a Detector.
func NewDetector(tickets TicketFetcher, store StateStore, commentsTrigger bool) *Detector {
	return &Detector{tickets: tickets, store: store, commentsTrigger: commentsTrigger}
}

// Detect fetches the ticket and compares its status, exactly, with the
// stored one. Missing state counts as a change. Comments are fetched only
// when the decision can depend on them.
func (d *Detector) Detect(ctx context.Context, goalID string, ref TicketReference) (Decision, error) {
	snap, err := d.tickets.GetTicket(ctx, ref.Key)
	if err != nil {
		return Decision{}, ticketError(ref.Key, err)
	}
	if snap.Key == "" {
		snap.Key = ref.Key
	}

	prior, found, err := d.store.Get(ctx, goalID, ref.Key)
	if err != nil {
		return Decision{Snapshot: snap}, &StateError{Op: "read", GoalID: goalID, TicketKey: ref.Key, Err: err}
	}

	dec := Decision{Snapshot: snap}
	if found {
		dec.Prior = &prior
	}

	statusChanged := !found || prior.LastStatus != snap.Status
	if !statusChanged && !d.commentsTrigger {
		return dec, nil
	}

	var since *CommentMarker
	if dec.Prior != nil {
		since = dec.Prior.LastComment
	}
	comments, err := d.tickets.GetComments(ctx, ref.Key, since)
	if err != nil {
		return dec, ticketError(ref.Key, err)
	}
	dec.NewComments = newerThan(comments, since)
	dec.Snapshot.Comments = comments

	dec.Changed = statusChanged || len(dec.NewComments) > 0
	return dec, nil
}

// newerThan returns comments strictly after since, oldest first.
func newerThan(comments []Comment, since *CommentMarker) []Comment {
	out := make([]Comment, 0, len(comments))
	for _, c := range comments {
		if since != nil && since.Covers(c) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return compareIDs(out[i].ID, out[j].ID) < 0
	})
	return out
}

func ticketError(key string, err error) error {
	if errors.Is(err, ErrUnauthorized) {
		return asAuthError(serviceJira, err)
	}
	return &TicketFetchError{Key: key, Err: err}
}
