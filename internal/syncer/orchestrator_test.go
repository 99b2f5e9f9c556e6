package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/goalsync/internal/logging"
	"github.com/fyrsmithlabs/goalsync/internal/statusmap"
	"github.com/fyrsmithlabs/goalsync/internal/telemetry"
)

type harness struct {
	goals   *fakeGoals
	tasks   *fakeTasks
	tickets *fakeTickets
	poster  *mockPoster
	store   *memStore
	logs    *logging.TestLogger
	tel     *telemetry.TestTelemetry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tel := telemetry.NewTestTelemetry()
	return &harness{
		goals:   newFakeGoals(Goal{ID: "G1", Name: "Launch"}),
		tasks:   newFakeTasks(),
		tickets: newFakeTickets(),
		poster:  &mockPoster{},
		store:   newMemStore(),
		logs:    logging.NewTestLogger(),
		tel:     tel,
	}
}

func (h *harness) orchestrator(t *testing.T, dryRun bool) *Orchestrator {
	t.Helper()
	o, err := New(Deps{
		Goals:   h.goals,
		Tasks:   h.tasks,
		Tickets: h.tickets,
		Poster:  h.poster,
		Store:   h.store,
	}, Options{
		DryRun:      dryRun,
		StatusTable: statusmap.Default(),
		Logger:      h.logs.Logger,
		Tracer:      h.tel.Tracer("test"),
		Meter:       h.tel.Meter("test"),
		Now:         func() time.Time { return t0 },
	})
	require.NoError(t, err)
	return o
}

// scenarioA links G1 to one task whose attachment names ABC-123, which is
// Done in the tracker.
func (h *harness) scenarioA() {
	h.tasks.link("G1", "t1", "Fix login", "Fix bug ABC-123 done")
	h.tickets.set("ABC-123", "Done")
}

var scopeG1 = ScopeConfig{GoalIDs: []string{"G1"}}

func TestRun_ScenarioA_FirstSyncPosts(t *testing.T) {
	h := newHarness(t)
	h.scenarioA()
	h.poster.On("CreateStatusUpdate", mock.Anything, mock.MatchedBy(func(u StatusUpdate) bool {
		return u.GoalID == "G1" && u.Category == statusmap.Complete && u.Title == "ABC-123: Complete"
	})).Return(PostAck{ID: "su-1"}, nil).Once()

	summary, err := h.orchestrator(t, false).Run(context.Background(), scopeG1)
	require.NoError(t, err)

	require.Len(t, summary.Items, 1)
	item := summary.Items[0]
	assert.Equal(t, StageChanged, item.Stage)
	assert.Equal(t, OutcomePosted, item.Outcome)
	assert.Equal(t, "Complete", item.Record.Status)
	assert.Equal(t, statusmap.Complete, item.Record.Category)
	h.poster.AssertNumberOfCalls(t, "CreateStatusUpdate", 1)

	status, ok := h.store.status("G1", "ABC-123")
	require.True(t, ok)
	assert.Equal(t, "Done", status)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.GoalsResolved)
}

func TestRun_ScenarioB_UnchangedSkips(t *testing.T) {
	h := newHarness(t)
	h.scenarioA()
	h.store.seed("G1", "ABC-123", "Done")

	summary, err := h.orchestrator(t, false).Run(context.Background(), scopeG1)
	require.NoError(t, err)

	require.Len(t, summary.Items, 1)
	assert.Equal(t, StageUnchanged, summary.Items[0].Stage)
	assert.Equal(t, OutcomeSkipped, summary.Items[0].Outcome)
	h.poster.AssertNotCalled(t, "CreateStatusUpdate", mock.Anything, mock.Anything)
	assert.Zero(t, h.store.puts)
}

func TestRun_ScenarioC_DryRunLeavesStateAlone(t *testing.T) {
	h := newHarness(t)
	h.scenarioA()

	summary, err := h.orchestrator(t, true).Run(context.Background(), scopeG1)
	require.NoError(t, err)

	require.Len(t, summary.Items, 1)
	assert.Equal(t, OutcomeDryRun, summary.Items[0].Outcome)
	recs := summary.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Complete", recs[0].Status)
	assert.Contains(t, recs[0].Text, "Tracker status: Done")
	assert.True(t, summary.DryRun)

	h.poster.AssertNotCalled(t, "CreateStatusUpdate", mock.Anything, mock.Anything)
	_, ok := h.store.status("G1", "ABC-123")
	assert.False(t, ok)
	h.logs.AssertLogged(t, zapcore.InfoLevel, "dry run: status update not posted")
}

func TestRun_ScenarioD_TaskWithoutKeyHasNoOutcome(t *testing.T) {
	h := newHarness(t)
	h.tasks.link("G1", "t1", "Design", "design-notes.pdf")

	summary, err := h.orchestrator(t, false).Run(context.Background(), scopeG1)
	require.NoError(t, err)
	assert.Empty(t, summary.Items)
	assert.Empty(t, h.tickets.ticketCalls)
}

func TestRun_DuplicateReferenceProcessedOnce(t *testing.T) {
	h := newHarness(t)
	h.scenarioA()
	h.tasks.link("G1", "t2", "Follow-up", "ABC-123")
	h.poster.On("CreateStatusUpdate", mock.Anything, mock.Anything).Return(PostAck{}, nil).Once()

	summary, err := h.orchestrator(t, false).Run(context.Background(), scopeG1)
	require.NoError(t, err)

	require.Len(t, summary.Items, 2)
	assert.Equal(t, OutcomePosted, summary.Items[0].Outcome)
	assert.Equal(t, OutcomeSkipped, summary.Items[1].Outcome)
	assert.Equal(t, "duplicate reference", summary.Items[1].Reason)
	assert.Equal(t, 1, h.tickets.ticketCalls["ABC-123"])
}

func TestRun_SameTicketOnTwoGoalsPostsToBoth(t *testing.T) {
	h := newHarness(t)
	h.goals.goals["G2"] = Goal{ID: "G2", Name: "Beta"}
	h.scenarioA()
	h.tasks.link("G2", "t9", "Mirror", "ABC-123")
	h.poster.On("CreateStatusUpdate", mock.Anything, mock.Anything).Return(PostAck{}, nil).Twice()

	summary, err := h.orchestrator(t, false).Run(context.Background(), ScopeConfig{GoalIDs: []string{"G1", "G2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count(OutcomePosted))
	_, ok := h.store.status("G2", "ABC-123")
	assert.True(t, ok)
}

func TestRun_PerItemFailuresDoNotStopTheRun(t *testing.T) {
	h := newHarness(t)
	h.goals.goals["G2"] = Goal{ID: "G2"}
	h.goals.getErrs["G3"] = errors.New("goal 500")
	h.tasks.link("G1", "t1", "Missing ticket", "GONE-1")
	h.tasks.link("G1", "t2", "Broken attachments")
	h.tasks.attachErrs["t2"] = errors.New("attachments 500")
	h.tasks.link("G2", "t3", "Good", "ABC-123")
	h.tickets.set("ABC-123", "In Progress")
	h.poster.On("CreateStatusUpdate", mock.Anything, mock.Anything).Return(PostAck{}, nil).Once()

	summary, err := h.orchestrator(t, false).Run(context.Background(), ScopeConfig{GoalIDs: []string{"G1", "G3", "G2"}})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Count(OutcomeFailed))
	assert.Equal(t, 1, summary.Count(OutcomePosted))
	require.Len(t, summary.GoalFailures, 1)
	assert.Equal(t, "G3", summary.GoalFailures[0].GoalID)

	var fetchErr *TicketFetchError
	assert.ErrorAs(t, summary.Items[0].Err, &fetchErr)
	h.logs.AssertLogged(t, zapcore.ErrorLevel, "sync item failed")
	h.logs.AssertField(t, "sync item failed", "ticket.key", "GONE-1")
}

func TestRun_PostFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.scenarioA()
	h.poster.On("CreateStatusUpdate", mock.Anything, mock.Anything).Return(PostAck{}, errors.New("asana 500"))

	summary, err := h.orchestrator(t, false).Run(context.Background(), scopeG1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, summary.Items[0].Outcome)
	assert.Nil(t, summary.Items[0].Record, "unposted update is not reported as a record")
	assert.Empty(t, summary.Records())
	assert.Zero(t, h.store.puts)
}

func TestRecords_OnlyPostedAndDryRun(t *testing.T) {
	rec := &StatusUpdateRecord{Title: "ABC-1: Complete"}
	s := &RunSummary{Items: []ItemResult{
		{Outcome: OutcomePosted, Record: rec},
		{Outcome: OutcomeFailed, Record: &StatusUpdateRecord{Title: "XYZ-1: New"}},
		{Outcome: OutcomeDryRun, Record: rec},
		{Outcome: OutcomeSkipped},
	}}
	recs := s.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "ABC-1: Complete", recs[0].Title)
	assert.Equal(t, "ABC-1: Complete", recs[1].Title)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.scenarioA()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.orchestrator(t, false).Run(ctx, scopeG1)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsFatal(err))
	require.NotNil(t, summary)
	assert.Empty(t, summary.Items)
	assert.Empty(t, summary.GoalFailures)
	assert.Empty(t, h.tickets.ticketCalls)
	h.logs.AssertNotLogged(t, zapcore.InfoLevel, "sync run finished")
	h.poster.AssertNotCalled(t, "CreateStatusUpdate", mock.Anything, mock.Anything)
}

// cancellingTickets cancels the run on its first fetch and fails the way a
// rate-limited client does once its context is done.
type cancellingTickets struct {
	*fakeTickets
	cancel context.CancelFunc
}

func (c cancellingTickets) GetTicket(ctx context.Context, key string) (TicketSnapshot, error) {
	c.ticketCalls[key]++
	c.cancel()
	return TicketSnapshot{}, fmt.Errorf("jira: rate limiter: %w", ctx.Err())
}

func TestRun_CancelledMidRunIsNotAnItemFailure(t *testing.T) {
	h := newHarness(t)
	h.goals.goals["G2"] = Goal{ID: "G2"}
	h.scenarioA()
	h.tasks.link("G2", "t2", "Other", "XYZ-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, err := New(Deps{
		Goals:   h.goals,
		Tasks:   h.tasks,
		Tickets: cancellingTickets{fakeTickets: h.tickets, cancel: cancel},
		Poster:  h.poster,
		Store:   h.store,
	}, Options{StatusTable: statusmap.Default(), Logger: h.logs.Logger})
	require.NoError(t, err)

	summary, err := o.Run(ctx, ScopeConfig{GoalIDs: []string{"G1", "G2"}})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Zero(t, summary.Count(OutcomeFailed), "cancellation is not recorded per item")
	assert.Empty(t, summary.GoalFailures)
	assert.Equal(t, 1, h.tickets.ticketCalls["ABC-123"])
	assert.Zero(t, h.tickets.ticketCalls["XYZ-1"], "no goal runs after cancellation")
	h.logs.AssertNotLogged(t, zapcore.ErrorLevel, "sync item failed")
}

func TestRun_StateWriteFailureStillCountsAsPosted(t *testing.T) {
	h := newHarness(t)
	h.scenarioA()
	h.store.putErr = errors.New("read-only filesystem")
	h.poster.On("CreateStatusUpdate", mock.Anything, mock.Anything).Return(PostAck{}, nil).Once()

	summary, err := h.orchestrator(t, false).Run(context.Background(), scopeG1)
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, summary.Items[0].Outcome)
	assert.Equal(t, 1, summary.StateErrors)
	h.logs.AssertLogged(t, zapcore.ErrorLevel, "state not saved")
}

func TestRun_StateReadFailureFailsItem(t *testing.T) {
	h := newHarness(t)
	h.scenarioA()
	h.store.getErr = errors.New("corrupt")

	summary, err := h.orchestrator(t, false).Run(context.Background(), scopeG1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, summary.Items[0].Outcome)
	assert.Equal(t, StageFetched, summary.Items[0].Stage)
	h.poster.AssertNotCalled(t, "CreateStatusUpdate", mock.Anything, mock.Anything)
}

func TestRun_AuthFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.goals.goals["G2"] = Goal{ID: "G2"}
	h.scenarioA()
	h.tasks.link("G2", "t2", "Other", "XYZ-1")
	h.tickets.ticketErrs["ABC-123"] = ErrUnauthorized

	summary, err := h.orchestrator(t, false).Run(context.Background(), ScopeConfig{GoalIDs: []string{"G1", "G2"}})
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "jira", authErr.Service)
	require.NotNil(t, summary)
	assert.Zero(t, h.tickets.ticketCalls["XYZ-1"], "nothing after the fatal error is processed")
	assert.False(t, summary.FinishedAt.IsZero())
}

func TestRun_EmptyScope(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator(t, false).Run(context.Background(), ScopeConfig{})
	var scopeErr *ScopeError
	assert.ErrorAs(t, err, &scopeErr)
}

func TestRun_Telemetry(t *testing.T) {
	h := newHarness(t)
	h.scenarioA()
	h.poster.On("CreateStatusUpdate", mock.Anything, mock.Anything).Return(PostAck{}, nil).Once()

	_, err := h.orchestrator(t, false).Run(context.Background(), scopeG1)
	require.NoError(t, err)

	h.tel.AssertSpanExists(t, "goalsync.run")
	h.tel.AssertSpanExists(t, "goalsync.goal")
	h.tel.AssertSpanAttribute(t, "goalsync.item", "ticket.key", "ABC-123")
	h.tel.AssertSpanAttribute(t, "goalsync.item", "outcome", "posted")

	n, err := h.tel.CounterValue(context.Background(), "goalsync.items_total", attribute.String("outcome", "posted"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}
