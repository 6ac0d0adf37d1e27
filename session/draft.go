package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
)

// Draft is the persisted editing state of one session.
type Draft struct {
	SessionID string                     `json:"sessionId"`
	Config    engine.VisualizationConfig `json:"config"`
	Blocks    predicate.Blocks           `json:"blocks"`
	SavedAt   time.Time                  `json:"savedAt"`
}

// DraftStore persists drafts. Load returns ErrNotFound (possibly wrapped)
// when no draft exists.
type DraftStore interface {
	Load(ctx context.Context, sessionID string) (*Draft, error)
	Save(ctx context.Context, d *Draft) error
	Clear(ctx context.Context, sessionID string) error
}

func encodeDraft(d *Draft) ([]byte, error) {
	if d == nil || d.SessionID == "" {
		return nil, fmt.Errorf("draft needs a session ID")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode draft %s: %w", d.SessionID, err)
	}
	return data, nil
}

func decodeDraft(id string, data []byte) (*Draft, error) {
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return &d, nil
}

// MemoryStore keeps drafts in process memory. Drafts are stored encoded so
// callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string][]byte)}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.drafts[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", sessionID, ErrNotFound)
	}
	return decodeDraft(sessionID, data)
}

func (m *MemoryStore) Save(ctx context.Context, d *Draft) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeDraft(d)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.drafts[d.SessionID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.drafts, sessionID)
	m.mu.Unlock()
	return nil
}

// Len is the number of stored drafts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.drafts)
}
