package transcript

import (
	"context"
	"sort"
	"sync"
	"time"
)

// maxMemoryEntries bounds what the memory store keeps per user.
const maxMemoryEntries = 500

type memoryStore struct {
	mu    sync.RWMutex
	users map[string][]Entry
}

// NewMemoryStore returns an in-process Store for tests and the memory driver.
func NewMemoryStore() Store {
	return &memoryStore{users: make(map[string][]Entry)}
}

func (m *memoryStore) Append(_ context.Context, entries ...Entry) error {
	if err := validate(entries); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.Options = append(e.Options[:0:0], e.Options...)
		list := append(m.users[e.UserID], e)
		if len(list) > maxMemoryEntries {
			list = append(list[:0:0], list[len(list)-maxMemoryEntries:]...)
		}
		m.users[e.UserID] = list
	}
	return nil
}

func (m *memoryStore) History(_ context.Context, userID string, limit int) ([]Entry, error) {
	limit = historyLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.users[userID]
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]Entry(nil), list...), nil
}

func (m *memoryStore) Topics(_ context.Context, since time.Time, limit int) ([]TopicCount, error) {
	m.mu.RLock()
	users := make(map[string]map[string]bool)
	for userID, list := range m.users {
		for _, e := range list {
			if e.Topic == "" || e.Timestamp.Before(since) {
				continue
			}
			if users[e.Topic] == nil {
				users[e.Topic] = make(map[string]bool)
			}
			users[e.Topic][userID] = true
		}
	}
	m.mu.RUnlock()

	out := make([]TopicCount, 0, len(users))
	for topic, set := range users {
		out = append(out, TopicCount{Topic: topic, Users: len(set)})
	}
	sortTopics(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) Activity(_ context.Context, since time.Time) (Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var a Activity
	for _, list := range m.users {
		n := 0
		for _, e := range list {
			if !e.Timestamp.Before(since) {
				n++
			}
		}
		if n > 0 {
			a.Messages += n
			a.Users++
		}
	}
	return a, nil
}

// sortTopics orders by user count, then topic name, matching the SQL store.
func sortTopics(list []TopicCount) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Users != list[j].Users {
			return list[i].Users > list[j].Users
		}
		return list[i].Topic < list[j].Topic
	})
}
