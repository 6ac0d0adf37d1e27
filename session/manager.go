package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Manager holds the live sessions of a process. Every session it creates
// gets the manager's options.
type Manager struct {
	opts   []Option
	store  DraftStore
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a manager. store may be nil; it is also passed to every
// session as its DraftStore.
func NewManager(store DraftStore, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := append([]Option{WithLogger(logger)}, opts...)
	if store != nil {
		base = append(base, WithDraftStore(store))
	}
	return &Manager{
		opts:     base,
		store:    store,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session. A non-empty id resumes that session's stored
// draft when one exists; an id already live is returned as is.
func (m *Manager) Create(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		if s, err := m.Get(id); err == nil {
			return s, nil
		}
	}

	s := New(append(append([]Option(nil), m.opts...), WithID(id))...)
	restored, err := s.LoadDraft(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[s.ID()]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", s.ID()), zap.Bool("restored", restored))
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// Delete drops a session and its draft.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err := s.ClearDraft(ctx); err != nil {
		return err
	}
	m.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// IDs lists live session IDs in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
