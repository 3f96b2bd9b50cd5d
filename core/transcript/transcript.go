// Package transcript records the messages exchanged with each user and
// aggregates them into engagement reports.
package transcript

import (
	"context"
	"errors"
	"time"

	"github.com/m3rciful/privybot/core/conversation"
)

// DefaultHistoryLimit caps History when the caller passes no limit.
const DefaultHistoryLimit = 100

// ErrInvalidEntry is returned by Append for entries without a user or content.
var ErrInvalidEntry = errors.New("transcript: entry needs user and content")

// Entry is one message of a conversation, from the user or from the bot.
type Entry struct {
	UserID    string                `json:"-"`
	Content   string                `json:"content"`
	IsBot     bool                  `json:"isBot"`
	Options   []conversation.Option `json:"options,omitempty"`
	Topic     string                `json:"topic,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// TopicCount is how many distinct users discussed a topic.
type TopicCount struct {
	Topic string
	Users int
}

// Activity counts messages and distinct users over a period.
type Activity struct {
	Messages int
	Users    int
}

// Store appends transcript entries and answers history and aggregate queries.
type Store interface {
	Append(ctx context.Context, entries ...Entry) error
	// History returns the latest limit entries of userID, oldest first.
	History(ctx context.Context, userID string, limit int) ([]Entry, error)
	// Topics returns the most discussed topics since a point in time.
	Topics(ctx context.Context, since time.Time, limit int) ([]TopicCount, error)
	Activity(ctx context.Context, since time.Time) (Activity, error)
}

func validate(entries []Entry) error {
	for _, e := range entries {
		if e.UserID == "" || e.Content == "" {
			return ErrInvalidEntry
		}
	}
	return nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
