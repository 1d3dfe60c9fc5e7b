package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vocalnews/assistant/internal/store"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]store.Session
	messages map[string][]store.Message
	usage    map[string]int
}

func New() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]store.Session{},
		messages: map[string][]store.Message{},
		usage:    map[string]int{},
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, session store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; ok {
		return nil
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copy := session
	return &copy, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, userID string) ([]store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := []store.Session{}
	for _, session := range m.sessions {
		if session.UserID == userID {
			results = append(results, session)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		left := store.ParseTime(results[i].LastUpdated)
		right := store.ParseTime(results[j].LastUpdated)
		if left.Equal(right) {
			return results[i].ID < results[j].ID
		}
		return left.After(right)
	})
	return results, nil
}

func (m *MemoryStore) TouchSession(ctx context.Context, sessionID string, at string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	session.LastUpdated = at
	m.sessions[sessionID] = session
	return nil
}

func (m *MemoryStore) UpdateSessionAgent(ctx context.Context, sessionID string, agent string, at string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	session.Agent = agent
	session.LastUpdated = at
	m.sessions[sessionID] = session
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return false, nil
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return true, nil
}

func (m *MemoryStore) DeleteUserSessions(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := []string{}
	for id, session := range m.sessions {
		if session.UserID != userID {
			continue
		}
		delete(m.sessions, id)
		delete(m.messages, id)
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed, nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.messages[msg.SessionID] {
		if existing.Sequence == msg.Sequence {
			return fmt.Errorf("session %s sequence %d: %w", msg.SessionID, msg.Sequence, store.ErrDuplicateSequence)
		}
	}
	msg.Metadata = cloneMap(msg.Metadata)
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.messages[sessionID]
	results := make([]store.Message, len(stored))
	for i, msg := range stored {
		msg.Metadata = cloneMap(msg.Metadata)
		results[i] = msg
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Sequence < results[j].Sequence
	})
	return results, nil
}

func (m *MemoryStore) GetQueryUsage(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[userID], nil
}

func (m *MemoryStore) IncrementQueryUsage(ctx context.Context, userID string, at string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[userID]++
	return m.usage[userID], nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func cloneMap(value map[string]any) map[string]any {
	cloned := make(map[string]any, len(value))
	for key, item := range value {
		cloned[key] = item
	}
	return cloned
}
