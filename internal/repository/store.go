package repository

import (
	"context"
	"errors"
	"sync"

	"media-relay/internal/domain"
)

// ErrStoreClosed is returned by MemoryStore after Close.
var ErrStoreClosed = errors.New("repository: store closed")

// ConversationStore holds at most one in-progress conversation per sender.
type ConversationStore interface {
	Get(ctx context.Context, sender string) (domain.ConversationState, bool, error)
	Put(ctx context.Context, state domain.ConversationState) error
	Delete(ctx context.Context, sender string) error
}

var (
	_ ConversationStore = (*MemoryStore)(nil)
	_ ConversationStore = (*DynamoStore)(nil)
)

// MemoryStore keeps conversation state in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]domain.ConversationState
	closed bool
}

// NewMemoryStore creates an empty store. Call Close at shutdown.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]domain.ConversationState)}
}

func (s *MemoryStore) Get(_ context.Context, sender string) (domain.ConversationState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.ConversationState{}, false, ErrStoreClosed
	}
	st, ok := s.states[sender]
	return st, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, state domain.ConversationState) error {
	if state.Sender == "" {
		return errors.New("repository: Put: sender is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.states[state.Sender] = state
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.states, sender)
	return nil
}

// Len returns the number of senders with an in-progress conversation.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Close drops all state; later calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.states = nil
	return nil
}
