package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"
)

// fakeGoals serves goals by ID and selector.
type fakeGoals struct {
	goals    map[string]Goal
	lists    map[Selector][]Goal
	listErrs map[Selector]error
	getErrs  map[string]error
	listed   []Selector
}

func newFakeGoals(goals ...Goal) *fakeGoals {
	f := &fakeGoals{
		goals:    map[string]Goal{},
		lists:    map[Selector][]Goal{},
		listErrs: map[Selector]error{},
		getErrs:  map[string]error{},
	}
	for _, g := range goals {
		f.goals[g.ID] = g
	}
	return f
}

func (f *fakeGoals) GetGoal(_ context.Context, id string) (Goal, error) {
	if err := f.getErrs[id]; err != nil {
		return Goal{}, err
	}
	g, ok := f.goals[id]
	if !ok {
		return Goal{}, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return g, nil
}

func (f *fakeGoals) ListGoals(_ context.Context, sel Selector) ([]Goal, error) {
	f.listed = append(f.listed, sel)
	if err := f.listErrs[sel]; err != nil {
		return nil, err
	}
	return f.lists[sel], nil
}

// fakeTasks serves linked tasks per goal and attachments per task.
type fakeTasks struct {
	tasks       map[string][]LinkedTask
	attachments map[string][]Attachment
	taskErrs    map[string]error
	attachErrs  map[string]error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{
		tasks:       map[string][]LinkedTask{},
		attachments: map[string][]Attachment{},
		taskErrs:    map[string]error{},
		attachErrs:  map[string]error{},
	}
}

// link attaches a task carrying the given attachment names to goalID.
func (f *fakeTasks) link(goalID, taskID, taskName string, attachmentNames ...string) {
	f.tasks[goalID] = append(f.tasks[goalID], LinkedTask{ID: taskID, GoalID: goalID, Name: taskName})
	for _, n := range attachmentNames {
		f.attachments[taskID] = append(f.attachments[taskID], Attachment{Name: n})
	}
}

func (f *fakeTasks) ListLinkedTasks(_ context.Context, goalID string) ([]LinkedTask, error) {
	if err := f.taskErrs[goalID]; err != nil {
		return nil, err
	}
	return f.tasks[goalID], nil
}

func (f *fakeTasks) ListAttachments(_ context.Context, taskID string) ([]Attachment, error) {
	if err := f.attachErrs[taskID]; err != nil {
		return nil, err
	}
	return f.attachments[taskID], nil
}

// fakeTickets serves ticket snapshots and comments and counts calls.
type fakeTickets struct {
	tickets      map[string]TicketSnapshot
	comments     map[string][]Comment
	ticketErrs   map[string]error
	commentErrs  map[string]error
	ticketCalls  map[string]int
	commentCalls map[string]int
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{
		tickets:      map[string]TicketSnapshot{},
		comments:     map[string][]Comment{},
		ticketErrs:   map[string]error{},
		commentErrs:  map[string]error{},
		ticketCalls:  map[string]int{},
		commentCalls: map[string]int{},
	}
}

func (f *fakeTickets) set(key, status string, comments ...Comment) {
	f.tickets[key] = TicketSnapshot{Key: key, Status: status, URL: "https://acme.atlassian.net/browse/" + key}
	f.comments[key] = comments
}

func (f *fakeTickets) GetTicket(_ context.Context, key string) (TicketSnapshot, error) {
	f.ticketCalls[key]++
	if err := f.ticketErrs[key]; err != nil {
		return TicketSnapshot{}, err
	}
	snap, ok := f.tickets[key]
	if !ok {
		return TicketSnapshot{}, fmt.Errorf("issue %s: %w", key, ErrNotFound)
	}
	return snap, nil
}

func (f *fakeTickets) GetComments(_ context.Context, key string, _ *CommentMarker) ([]Comment, error) {
	f.commentCalls[key]++
	if err := f.commentErrs[key]; err != nil {
		return nil, err
	}
	return f.comments[key], nil
}

// memStore is an in-memory StateStore with injectable failures.
type memStore struct {
	mu      sync.Mutex
	entries map[[2]string]SyncState
	getErr  error
	putErr  error
	puts    int
}

func newMemStore() *memStore {
	return &memStore{entries: map[[2]string]SyncState{}}
}

func (m *memStore) Get(_ context.Context, goalID, ticketKey string) (SyncState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return SyncState{}, false, m.getErr
	}
	s, ok := m.entries[[2]string{goalID, ticketKey}]
	return s, ok, nil
}

func (m *memStore) Put(_ context.Context, s SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.entries[[2]string{s.GoalID, s.TicketKey}] = s
	return nil
}

func (m *memStore) seed(goalID, ticketKey, status string) {
	m.entries[[2]string{goalID, ticketKey}] = SyncState{GoalID: goalID, TicketKey: ticketKey, LastStatus: status}
}

func (m *memStore) status(goalID, ticketKey string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[[2]string{goalID, ticketKey}]
	return s.LastStatus, ok
}

// mockPoster records status updates.
type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) CreateStatusUpdate(ctx context.Context, u StatusUpdate) (PostAck, error) {
	args := m.Called(ctx, u)
	return args.Get(0).(PostAck), args.Error(1)
}
