package syncer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/goalsync/internal/logging"
)

// ValidateScope checks that at least one selector set is non-empty.
// It performs no I/O.
func ValidateScope(scope ScopeConfig) error {
	if scope.Empty() {
		return &ScopeError{Reason: "no goal, project, team or workspace IDs configured"}
	}
	return nil
}

// Resolution is the ordered, duplicate-free set of goals for a run.
type Resolution struct {
	IDs      []string
	Failures []SelectorFailure

	known map[string]Goal
}

// Goal returns goal data learned during expansion, if any.
func (r *Resolution) Goal(id string) (Goal, bool) {
	g, ok := r.known[id]
	return g, ok
}

// Resolver expands a ScopeConfig into goal IDs.
type Resolver struct {
	lookup GoalLookup
	logger *logging.Logger
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(lookup GoalLookup, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// Resolve unions every configured selector. Explicit goal IDs come first,
// then project, team and workspace expansions, each in configured order.
//
// A selector whose lookup fails is recorded and skipped. Rejected
// credentials abort resolution with an AuthError, a cancelled ctx with
// ErrInterrupted, and an empty result is a ScopeError.
func (r *Resolver) Resolve(ctx context.Context, scope ScopeConfig) (*Resolution, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}

	res := &Resolution{known: make(map[string]Goal)}
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		res.IDs = append(res.IDs, id)
	}

	for _, id := range scope.GoalIDs {
		add(id)
	}

	selectors := scopeSelectors(scope)
	for _, sel := range selectors {
		goals, err := r.lookup.ListGoals(ctx, sel)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return nil, asAuthError(serviceAsana, err)
			}
			if stop := interrupted(ctx); stop != nil {
				return nil, stop
			}
			r.logger.Warn(ctx, "scope selector expansion failed",
				zap.String("selector.kind", string(sel.Kind)),
				zap.String("selector.id", sel.ID),
				zap.Error(err),
			)
			res.Failures = append(res.Failures, SelectorFailure{Selector: sel, Err: err})
			continue
		}
		r.logger.Debug(ctx, "scope selector expanded",
			zap.String("selector.kind", string(sel.Kind)),
			zap.String("selector.id", sel.ID),
			zap.Int("goals", len(goals)),
		)
		for _, g := range goals {
			if _, ok := res.known[g.ID]; !ok {
				res.known[g.ID] = g
			}
			add(g.ID)
		}
	}

	if len(res.IDs) == 0 {
		return nil, &ScopeError{
			Reason:    "scope resolved to no goals",
			Selectors: selectors,
			Failures:  res.Failures,
		}
	}
	return res, nil
}

func scopeSelectors(scope ScopeConfig) []Selector {
	sels := make([]Selector, 0, len(scope.ProjectIDs)+len(scope.TeamIDs)+len(scope.WorkspaceIDs))
	for _, id := range scope.ProjectIDs {
		sels = append(sels, Selector{Kind: SelectProject, ID: id})
	}
	for _, id := range scope.TeamIDs {
		sels = append(sels, Selector{Kind: SelectTeam, ID: id})
	}
	for _, id := range scope.WorkspaceIDs {
		sels = append(sels, Selector{Kind: SelectWorkspace, ID: id})
	}
	return sels
}
