package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryEntry struct {
	ready   chan struct{}
	session *Session
	err     error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, id string, create CreateFunc) (*Session, bool, error) {
	if create == nil {
		return nil, false, errors.New("create function must not be nil")
	}

	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		m.mu.Unlock()
		return m.wait(ctx, id, e)
	}

	// Park a pending entry so concurrent callers wait for this create instead
	// of starting their own.
	e := &memoryEntry{ready: make(chan struct{})}
	m.entries[id] = e
	m.mu.Unlock()

	s, err := create(ctx)
	if err == nil && s == nil {
		err = errors.New("create returned no session")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(e.ready)

	if err != nil {
		e.err = err
		delete(m.entries, id)
		return nil, false, err
	}

	e.session = stamp(s, id)
	return e.session.Clone(), true, nil
}

func (m *MemoryStore) wait(ctx context.Context, id string, e *memoryEntry) (*Session, bool, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e.err != nil {
		return nil, false, e.err
	}
	if m.entries[id] != e {
		return nil, false, ErrSessionNotFound
	}
	return e.session.Clone(), false, nil
}

// lookup returns the settled session for id. Caller must hold m.mu.
func (m *MemoryStore) lookup(id string) (*memoryEntry, bool) {
	e, ok := m.entries[id]
	if !ok || e.session == nil {
		return nil, false
	}
	return e, true
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session.Clone(), nil
}

func (m *MemoryStore) AppendPart(ctx context.Context, id string, part Part) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(id)
	if !ok {
		return false, ErrSessionNotFound
	}
	if _, dup := e.session.Parts[part.Number]; dup {
		return false, nil
	}

	e.session.Parts[part.Number] = part
	e.session.UpdatedAt = now()
	return true, nil
}

func (m *MemoryStore) Remove(ctx context.Context, id string) (*Session, error) {
	return m.remove(id, func(*Session) bool { return true })
}

func (m *MemoryStore) RemoveUpload(ctx context.Context, id string, uploadID string) (*Session, error) {
	return m.remove(id, func(s *Session) bool { return s.UploadID == uploadID })
}

func (m *MemoryStore) remove(id string, match func(*Session) bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(id)
	if !ok || !match(e.session) {
		return nil, ErrSessionNotFound
	}
	delete(m.entries, id)
	return e.session.Clone(), nil
}

func (m *MemoryStore) Expired(ctx context.Context, olderThan time.Time) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Session
	for _, e := range m.entries {
		if e.session != nil && e.session.UpdatedAt.Before(olderThan) {
			expired = append(expired, e.session.Clone())
		}
	}
	return expired, nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.session != nil {
			n++
		}
	}
	return n
}

func (m *MemoryStore) Close() error {
	return nil
}
