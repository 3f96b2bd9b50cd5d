// Package session persists conversation sessions keyed by user id.
package session

import (
	"context"
	"errors"

	"github.com/m3rciful/privybot/core/conversation"
)

var (
	// ErrNotFound is returned when no session exists for a user.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned by Create when the user already has a session.
	ErrExists = errors.New("session already exists")
	// ErrConflict is returned by Save when the stored version moved on.
	ErrConflict = errors.New("session version conflict")
)

// Store loads and saves sessions. Save is a conditional update: it succeeds
// only when the stored version equals s.Version and bumps s.Version on success.
type Store interface {
	Get(ctx context.Context, userID string) (conversation.Session, error)
	Create(ctx context.Context, s *conversation.Session) error
	Save(ctx context.Context, s *conversation.Session) error
	Ping(ctx context.Context) error
	Close() error
}

// Census summarizes stored sessions.
type Census struct {
	Users int
	// PrivacyLevels lists the distinct levels users picked, sorted.
	PrivacyLevels []conversation.PrivacyLevel
}

// Counter is implemented by stores that can summarize their sessions.
type Counter interface {
	Census(ctx context.Context) (Census, error)
}
