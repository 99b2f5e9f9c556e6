package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/goalsync/internal/logging"
	"github.com/fyrsmithlabs/goalsync/internal/statusmap"
)

const instrumentationName = "github.com/fyrsmithlabs/goalsync/internal/syncer"

// Deps are the capabilities a run consumes.
type Deps struct {
	Goals   GoalLookup
	Tasks   TaskLookup
	Tickets TicketFetcher
	Poster  StatusPoster
	Store   StateStore
}

// Options configure an Orchestrator.
type Options struct {
	DryRun           bool
	CommentsTrigger  bool
	MaxComments      int
	MaxCommentLength int
	StatusTable      statusmap.Table
	Redactor         Redactor
	Logger           *logging.Logger

	// Tracer and Meter default to the global providers.
	Tracer trace.Tracer
	Meter  metric.Meter

	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator drives one synchronization run. Goals, tasks and tickets
// are processed strictly one at a time.
type Orchestrator struct {
	goals     GoalLookup
	store     StateStore
	resolver  *Resolver
	extractor *Extractor
	detector  *Detector
	composer  *Composer
	dryRun    bool
	logger    *logging.Logger
	now       func() time.Time

	tracer       trace.Tracer
	meter        metric.Meter
	itemsCounter metric.Int64Counter
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Goals == nil:
		return nil, errors.New("goal lookup is required")
	case deps.Tasks == nil:
		return nil, errors.New("task lookup is required")
	case deps.Tickets == nil:
		return nil, errors.New("ticket fetcher is required")
	case deps.Poster == nil:
		return nil, errors.New("status poster is required")
	case deps.Store == nil:
		return nil, errors.New("state store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(instrumentationName)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	o := &Orchestrator{
		goals:     deps.Goals,
		store:     deps.Store,
		resolver:  NewResolver(deps.Goals, opts.Logger),
		extractor: NewExtractor(deps.Tasks, opts.Logger),
		detector:  NewDetector(deps.Tickets, deps.Store, opts.CommentsTrigger),
		composer: NewComposer(deps.Poster, opts.StatusTable, ComposerOptions{
			DryRun:           opts.DryRun,
			MaxComments:      opts.MaxComments,
			MaxCommentLength: opts.MaxCommentLength,
			Redactor:         opts.Redactor,
		}),
		dryRun: opts.DryRun,
		logger: opts.Logger,
		now:    opts.Now,
		tracer: opts.Tracer,
		meter:  opts.Meter,
	}
	o.initMetrics()
	return o, nil
}

func (o *Orchestrator) initMetrics() {
	var err error
	o.itemsCounter, err = o.meter.Int64Counter(
		"goalsync.items_total",
		metric.WithDescription("Items processed by outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		o.logger.Warn(context.Background(), "failed to create items counter", zap.Error(err))
	}
}

// Run resolves the scope and processes every goal in it.
//
// Per-item failures are recorded in the summary and never stop the run.
// A ScopeError or AuthError aborts it, and so does cancelling ctx
// (ErrInterrupted); the partial summary is still returned alongside the
// error.
func (o *Orchestrator) Run(ctx context.Context, scope ScopeConfig) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
		DryRun:    o.dryRun,
	}
	ctx = logging.WithRunID(ctx, summary.RunID)

	ctx, span := o.tracer.Start(ctx, "goalsync.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", summary.RunID),
		attribute.Bool("dry_run", o.dryRun),
	)

	finish := func(err error) (*RunSummary, error) {
		summary.FinishedAt = o.now()
		span.SetAttributes(
			attribute.Int("goals", summary.GoalsResolved),
			attribute.Int("posted", summary.Count(OutcomePosted)),
			attribute.Int("failed", summary.Count(OutcomeFailed)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return summary, err
	}

	o.logger.Info(ctx, "sync run starting", zap.Bool("dry_run", o.dryRun))

	res, err := o.resolver.Resolve(ctx, scope)
	if err != nil {
		return finish(err)
	}
	summary.GoalsResolved = len(res.IDs)
	summary.SelectorFails = res.Failures

	seen := make(map[pairKey]bool)
	for _, id := range res.IDs {
		if err := o.runGoal(ctx, id, res, summary, seen); err != nil {
			o.logger.Error(ctx, "sync run aborted", zap.String("goal.id", id), zap.Error(err))
			return finish(err)
		}
	}

	o.logger.Info(ctx, "sync run finished",
		zap.Int("goals", summary.GoalsResolved),
		zap.Int("posted", summary.Count(OutcomePosted)),
		zap.Int("dry_run", summary.Count(OutcomeDryRun)),
		zap.Int("skipped", summary.Count(OutcomeSkipped)),
		zap.Int("failed", summary.Count(OutcomeFailed)),
		zap.Int("state_errors", summary.StateErrors),
	)
	return finish(nil)
}

type pairKey struct {
	goalID    string
	ticketKey string
}

// runGoal processes one goal. It returns an error only when the run must
// stop.
func (o *Orchestrator) runGoal(ctx context.Context, id string, res *Resolution, summary *RunSummary, seen map[pairKey]bool) error {
	ctx, span := o.tracer.Start(ctx, "goalsync.goal", trace.WithAttributes(attribute.String("goal.id", id)))
	defer span.End()

	if err := interrupted(ctx); err != nil {
		return err
	}

	goal, ok := res.Goal(id)
	if !ok {
		var err error
		goal, err = o.goals.GetGoal(ctx, id)
		if err != nil {
			return o.goalFailed(ctx, span, summary, id, err)
		}
	}

	refs, err := o.extractor.Extract(ctx, goal)
	if err != nil {
		return o.goalFailed(ctx, span, summary, id, err)
	}

	for ref, err := range refs {
		if stop := interrupted(ctx); stop != nil {
			return stop
		}
		if err != nil {
			if stop := abortErr(ctx, err); stop != nil {
				return stop
			}
			o.logger.Error(ctx, "task reference lookup failed",
				zap.String("goal.id", goal.ID),
				zap.String("task.id", ref.Task.ID),
				zap.Error(err),
			)
			o.record(ctx, summary, ItemResult{
				GoalID:   goal.ID,
				GoalName: goal.Name,
				TaskID:   ref.Task.ID,
				Stage:    StagePending,
				Outcome:  OutcomeFailed,
				Err:      err,
			})
			continue
		}

		pk := pairKey{goalID: goal.ID, ticketKey: ref.Ticket.Key}
		if seen[pk] {
			o.logger.Debug(ctx, "ticket already processed for goal in this run",
				zap.String("goal.id", goal.ID),
				zap.String("task.id", ref.Task.ID),
				zap.String("ticket.key", ref.Ticket.Key),
			)
			o.record(ctx, summary, ItemResult{
				GoalID:    goal.ID,
				GoalName:  goal.Name,
				TaskID:    ref.Task.ID,
				TicketKey: ref.Ticket.Key,
				Stage:     StagePending,
				Outcome:   OutcomeSkipped,
				Reason:    "duplicate reference",
			})
			continue
		}
		seen[pk] = true

		item, err := o.processItem(ctx, goal, ref, summary)
		if err != nil {
			return err
		}
		o.record(ctx, summary, item)
	}
	return nil
}

func (o *Orchestrator) goalFailed(ctx context.Context, span trace.Span, summary *RunSummary, id string, err error) error {
	err = asAuthError(serviceAsana, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if stop := abortErr(ctx, err); stop != nil {
		return stop
	}
	o.logger.Error(ctx, "goal could not be processed", zap.String("goal.id", id), zap.Error(err))
	summary.GoalFailures = append(summary.GoalFailures, GoalFailure{GoalID: id, Err: err})
	return nil
}

// processItem runs detection, composition and state persistence for one
// reference. Only fatal errors are returned; everything else is folded
// into the ItemResult.
func (o *Orchestrator) processItem(ctx context.Context, goal Goal, ref Reference, summary *RunSummary) (ItemResult, error) {
	ctx, span := o.tracer.Start(ctx, "goalsync.item", trace.WithAttributes(
		attribute.String("goal.id", goal.ID),
		attribute.String("task.id", ref.Task.ID),
		attribute.String("ticket.key", ref.Ticket.Key),
	))
	defer span.End()

	item := ItemResult{
		GoalID:    goal.ID,
		GoalName:  goal.Name,
		TaskID:    ref.Task.ID,
		TicketKey: ref.Ticket.Key,
		Stage:     StagePending,
	}
	fields := []zap.Field{
		zap.String("goal.id", goal.ID),
		zap.String("task.id", ref.Task.ID),
		zap.String("ticket.key", ref.Ticket.Key),
	}

	fail := func(err error) (ItemResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if stop := abortErr(ctx, err); stop != nil {
			return item, stop
		}
		o.logger.Error(ctx, "sync item failed", append(fields, zap.Error(err))...)
		item.Outcome = OutcomeFailed
		item.Err = err
		return item, nil
	}

	dec, err := o.detector.Detect(ctx, goal.ID, ref.Ticket)
	if err != nil {
		var stateErr *StateError
		if errors.As(err, &stateErr) {
			item.Stage = StageFetched
		}
		return fail(err)
	}
	item.Stage = StageUnchanged
	if dec.Changed {
		item.Stage = StageChanged
	}
	span.SetAttributes(attribute.String("ticket.status", dec.Snapshot.Status))

	outcome, rec, err := o.composer.Compose(ctx, goal, ref, dec)
	if err != nil {
		return fail(err)
	}
	item.Record = rec
	item.Outcome = outcome
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	switch outcome {
	case OutcomeSkipped:
		o.logger.Debug(ctx, "ticket unchanged", append(fields, zap.String("status", dec.Snapshot.Status))...)
	case OutcomeDryRun:
		o.logger.Info(ctx, "dry run: status update not posted", append(fields,
			zap.String("status", rec.Status),
			zap.String("category", string(rec.Category)),
			zap.Int("comments", len(dec.NewComments)),
		)...)
	case OutcomePosted:
		o.logger.Info(ctx, "status update posted", append(fields,
			zap.String("status", rec.Status),
			zap.String("category", string(rec.Category)),
			zap.Int("comments", len(dec.NewComments)),
		)...)
		st := SyncState{
			GoalID:      goal.ID,
			TicketKey:   ref.Ticket.Key,
			LastStatus:  dec.Snapshot.Status,
			LastComment: dec.NextMarker(),
			UpdatedAt:   o.now().UTC(),
		}
		if err := o.store.Put(ctx, st); err != nil {
			summary.StateErrors++
			err = &StateError{Op: "write", GoalID: goal.ID, TicketKey: ref.Ticket.Key, Err: err}
			span.RecordError(err)
			o.logger.Error(ctx, "status posted but state not saved; next run may post again",
				append(fields, zap.Error(err))...)
		}
	}
	return item, nil
}

func (o *Orchestrator) record(ctx context.Context, summary *RunSummary, item ItemResult) {
	summary.Items = append(summary.Items, item)
	if o.itemsCounter != nil {
		o.itemsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(item.Outcome)),
			attribute.Bool("dry_run", o.dryRun),
		))
	}
}
