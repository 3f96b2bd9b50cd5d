package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/m3rciful/privybot/core/conversation"
)

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]conversation.Session
	now      func() time.Time
}

// NewMemoryStore returns an in-process Store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[string]conversation.Session),
		now:      time.Now,
	}
}

func (m *memoryStore) Get(_ context.Context, userID string) (conversation.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return conversation.Session{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *memoryStore) Create(_ context.Context, s *conversation.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.UserID]; ok {
		return ErrExists
	}
	now := m.now().UTC()
	s.Version = 1
	s.CreatedAt = now
	s.UpdatedAt = now
	m.sessions[s.UserID] = clone(*s)
	return nil
}

func (m *memoryStore) Save(_ context.Context, s *conversation.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[s.UserID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != s.Version {
		return ErrConflict
	}
	s.Version++
	s.CreatedAt = stored.CreatedAt
	s.UpdatedAt = m.now().UTC()
	m.sessions[s.UserID] = clone(*s)
	return nil
}

func (m *memoryStore) Census(context.Context) (Census, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := Census{Users: len(m.sessions)}
	for _, s := range m.sessions {
		if s.PrivacyLevel != "" && !slices.Contains(c.PrivacyLevels, s.PrivacyLevel) {
			c.PrivacyLevels = append(c.PrivacyLevels, s.PrivacyLevel)
		}
	}
	slices.Sort(c.PrivacyLevels)
	return c, nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) Close() error { return nil }

func clone(s conversation.Session) conversation.Session {
	if s.Age != nil {
		age := *s.Age
		s.Age = &age
	}
	return s
}
