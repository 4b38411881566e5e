package store

import (
	"context"
	"sync"
	"time"
)

// Writer serializes read-modify-write cycles per flow. Different flows
// proceed in parallel.
type Writer struct {
	store FlowStore
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewWriter(s FlowStore) *Writer {
	return &Writer{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*keyLock),
	}
}

// Store returns the underlying flow store
func (w *Writer) Store() FlowStore {
	return w.store
}

// Load reads a flow without taking the write lock
func (w *Writer) Load(ctx context.Context, id string) (*Flow, error) {
	return w.store.Load(ctx, id)
}

// Update loads the flow, applies fn and saves the result. Nothing is
// saved when fn fails.
func (w *Writer) Update(ctx context.Context, id string, fn func(*Flow) error) (*Flow, error) {
	unlock := w.lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := w.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(f); err != nil {
		return nil, err
	}

	now := w.now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if err := w.store.Save(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (w *Writer) lock(id string) func() {
	w.mu.Lock()
	l, ok := w.locks[id]
	if !ok {
		l = &keyLock{}
		w.locks[id] = l
	}
	l.refs++
	w.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		w.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(w.locks, id)
		}
		w.mu.Unlock()
	}
}

func (w *Writer) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.locks)
}
