package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

// MemoryStore is an in-memory Store intended for tests and local iteration.
// Not durable; not suitable for production.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Put(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	m.entries[e.SessionID] = e.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, sessionID string, fn func(*Entry) error) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := e.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	m.entries[sessionID] = cp
	return cp.Clone(), nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]*Entry, error) {
	m.mu.RLock()
	var pending []*Entry
	for _, e := range m.entries {
		if e.Status == model.SubmissionQueued {
			pending = append(pending, e.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].EnqueuedAtUnix != pending[j].EnqueuedAtUnix {
			return pending[i].EnqueuedAtUnix < pending[j].EnqueuedAtUnix
		}
		return pending[i].SessionID < pending[j].SessionID
	})
	return pending, nil
}

func (m *MemoryStore) Scan(ctx context.Context, fn func(*Entry) error) error {
	m.mu.RLock()
	snapshot := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e.Clone())
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()
	return nil
}
