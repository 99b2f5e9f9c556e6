package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	serviceJira  = "jira"
	serviceAsana = "asana"
)

// ScopeError means the configured scope is empty or resolved to no goals.
// It is fatal for a run.
type ScopeError struct {
	Reason    string
	Selectors []Selector
	Failures  []SelectorFailure
}

func (e *ScopeError) Error() string {
	var b strings.Builder
	b.WriteString("scope error: ")
	b.WriteString(e.Reason)
	if len(e.Selectors) > 0 {
		parts := make([]string, len(e.Selectors))
		for i, s := range e.Selectors {
			parts[i] = string(s.Kind) + "=" + s.ID
		}
		fmt.Fprintf(&b, " (tried %s)", strings.Join(parts, ", "))
	}
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, "; %d selector lookup(s) failed", len(e.Failures))
	}
	return b.String()
}

// AuthError means a remote service rejected the configured credentials.
// It is fatal for a run.
type AuthError struct {
	Service string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Service, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TicketFetchError means a ticket could not be read.
type TicketFetchError struct {
	Key string
	Err error
}

func (e *TicketFetchError) Error() string {
	return fmt.Sprintf("fetch ticket %s: %v", e.Key, e.Err)
}

func (e *TicketFetchError) Unwrap() error { return e.Err }

// PostError means a status update could not be created.
type PostError struct {
	GoalID    string
	TicketKey string
	Err       error
}

func (e *PostError) Error() string {
	return fmt.Sprintf("post status update to goal %s for %s: %v", e.GoalID, e.TicketKey, e.Err)
}

func (e *PostError) Unwrap() error { return e.Err }

// StateError means the state store failed for one (goal, ticket) pair.
type StateError struct {
	Op        string
	GoalID    string
	TicketKey string
	Err       error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s for goal %s ticket %s: %v", e.Op, e.GoalID, e.TicketKey, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// SelectorFailure is a selector whose expansion failed.
type SelectorFailure struct {
	Selector Selector
	Err      error
}

// IsFatal reports whether err should abort the whole run.
func IsFatal(err error) bool {
	var authErr *AuthError
	var scopeErr *ScopeError
	return errors.As(err, &authErr) || errors.As(err, &scopeErr)
}

// ErrInterrupted marks a run stopped because its context was cancelled or
// timed out. It is never recorded as a per-item failure.
var ErrInterrupted = errors.New("sync run interrupted")

// interrupted returns an ErrInterrupted wrapping ctx.Err once ctx is done.
func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return nil
}

// abortErr returns the error that must stop the run: err itself when it is
// fatal, the interruption when ctx is done, nil otherwise.
func abortErr(ctx context.Context, err error) error {
	if IsFatal(err) {
		return err
	}
	return interrupted(ctx)
}

// asAuthError converts an unauthorized failure from service into an
// AuthError and returns other errors unchanged.
func asAuthError(service string, err error) error {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return err
	}
	if errors.Is(err, ErrUnauthorized) {
		return &AuthError{Service: service, Err: err}
	}
	return err
}
