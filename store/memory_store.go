package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	conversations map[string]memoryEntry
	mu            sync.Mutex
	now           func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]memoryEntry),
		now:           time.Now,
	}
}

// Save stores a conversation until ttl elapses
func (s *MemoryStore) Save(ctx context.Context, conv *Conversation, ttl time.Duration) error {
	data, ttl, err := prepare(conv, ttl)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	s.conversations[conv.ID] = memoryEntry{data: data, expires: s.now().Add(ttl)}
	return nil
}

// Take removes and returns a conversation
func (s *MemoryStore) Take(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	entry, exists := s.conversations[id]
	delete(s.conversations, id)
	s.mu.Unlock()

	if !exists || s.now().After(entry.expires) {
		return nil, ErrNotFound
	}
	return decode(entry.data)
}

// Len returns the number of live conversations
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.conversations)
}

// sweep drops expired entries. Caller holds the lock.
func (s *MemoryStore) sweep() {
	now := s.now()
	for id, entry := range s.conversations {
		if now.After(entry.expires) {
			delete(s.conversations, id)
		}
	}
}
