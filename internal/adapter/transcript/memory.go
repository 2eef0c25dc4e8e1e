// Package transcript stores per-customer conversation logs used for
// bounded-lookback context reconstruction.
package transcript

import (
	"context"
	"sync"

	"supportmesh/internal/domain"
)

// DefaultMaxTurns caps a log when no limit is configured.
const DefaultMaxTurns = 200

// MemoryStore keeps logs in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	logs     map[string][]domain.ConversationTurn
	maxTurns int
}

// NewMemoryStore creates an in-memory store keeping at most maxTurns per customer.
func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &MemoryStore{
		logs:     make(map[string][]domain.ConversationTurn),
		maxTurns: maxTurns,
	}
}

// Append implements domain.TranscriptStore.
func (s *MemoryStore) Append(_ context.Context, customerID string, turn domain.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.logs[customerID], turn)
	if over := len(log) - s.maxTurns; over > 0 {
		log = append([]domain.ConversationTurn(nil), log[over:]...)
	}
	s.logs[customerID] = log
	return nil
}

// Recent implements domain.TranscriptStore.
func (s *MemoryStore) Recent(_ context.Context, customerID string, n int) ([]domain.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[customerID]
	if n > 0 && len(log) > n {
		log = log[len(log)-n:]
	}
	out := make([]domain.ConversationTurn, len(log))
	copy(out, log)
	return out, nil
}

// Delete implements domain.TranscriptStore.
func (s *MemoryStore) Delete(_ context.Context, customerID string) error {
	s.mu.Lock()
	delete(s.logs, customerID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of customers with a log.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
