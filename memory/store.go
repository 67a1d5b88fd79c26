package memory

import (
	"context"
	"sync"

	"github.com/medcortex/medcortex/schema"
)

// InMemoryStore keeps working memory in process. Suitable for single
// instance deployments and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]schema.Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string][]schema.Turn)}
}

func (s *InMemoryStore) Append(ctx context.Context, conversationID string, turn schema.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = append(s.conversations[conversationID], turn)
	return nil
}

func (s *InMemoryStore) Turns(ctx context.Context, conversationID string) ([]schema.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.conversations[conversationID]
	if len(turns) == 0 {
		return nil, nil
	}
	out := make([]schema.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *InMemoryStore) Drop(ctx context.Context, conversationID string, n int) error {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.conversations[conversationID]
	if n >= len(turns) {
		delete(s.conversations, conversationID)
		return nil
	}
	kept := make([]schema.Turn, len(turns)-n)
	copy(kept, turns[n:])
	s.conversations[conversationID] = kept
	return nil
}

func (s *InMemoryStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}
