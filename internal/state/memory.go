package state

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

// Memory keeps state in process memory. Nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[key]syncer.SyncState
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[key]syncer.SyncState)}
}

// Get implements syncer.StateStore.
func (m *Memory) Get(_ context.Context, goalID, ticketKey string) (syncer.SyncState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.entries[key{goalID, ticketKey}]
	if ok && s.LastComment != nil {
		marker := *s.LastComment
		s.LastComment = &marker
	}
	return s, ok, nil
}

// Put implements syncer.StateStore.
func (m *Memory) Put(_ context.Context, s syncer.SyncState) error {
	if err := validateKey(s.GoalID, s.TicketKey); err != nil {
		return err
	}
	if s.LastComment != nil {
		marker := *s.LastComment
		s.LastComment = &marker
	}
	m.mu.Lock()
	m.entries[key{s.GoalID, s.TicketKey}] = s
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored pairs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
