package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps encoded flows in a map. Values are copied in and out
// so callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	flows map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Flow, error) {
	defer observe("memory", "load", time.Now())
	if err := checkID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.flows[id]
	s.mu.RUnlock()
	if !ok {
		return New(id), nil
	}
	return decode(id, data)
}

func (s *MemoryStore) Save(_ context.Context, f *Flow) error {
	defer observe("memory", "save", time.Now())
	if err := checkID(f.ID); err != nil {
		return err
	}

	data, err := encode(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.flows[f.ID] = data
	s.mu.Unlock()
	return nil
}

// FindByQuoteHash scans every flow for a current quote with hash,
// preferring the most recently updated one
func (s *MemoryStore) FindByQuoteHash(_ context.Context, hash string) (string, error) {
	defer observe("memory", "find", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found   string
		updated time.Time
	)
	for id, data := range s.flows {
		f, err := decode(id, data)
		if err != nil {
			return "", err
		}
		if f.Quote == nil || f.Quote.Hash != hash {
			continue
		}
		if found == "" || f.UpdatedAt.After(updated) {
			found, updated = id, f.UpdatedAt
		}
	}
	return found, nil
}

// Len returns the number of stored flows
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}
