package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/privybot/core/conversation"
)

const maxTopicRows = 1000

// SQLStore keeps transcripts in the messages table of a PostgreSQL or SQLite database.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

type messageRow struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	Content   string    `db:"content"`
	IsBot     bool      `db:"is_bot"`
	Options   *string   `db:"options"`
	Topic     *string   `db:"topic"`
	CreatedAt time.Time `db:"created_at"`
}

const insertMessage = `INSERT INTO messages (user_id, content, is_bot, options, topic, created_at)
	VALUES (:user_id, :content, :is_bot, :options, :topic, :created_at)`

const selectHistory = `SELECT id, user_id, content, is_bot, options, topic, created_at
	FROM messages WHERE user_id = ? ORDER BY id DESC LIMIT ?`

const selectTopics = `SELECT topic, COUNT(DISTINCT user_id) AS users
	FROM messages WHERE topic IS NOT NULL AND topic <> '' AND created_at >= ?
	GROUP BY topic ORDER BY users DESC, topic ASC LIMIT ?`

const selectActivity = `SELECT COUNT(*) AS messages, COUNT(DISTINCT user_id) AS users
	FROM messages WHERE created_at >= ?`

// Append inserts entries in one transaction.
func (s *SQLStore) Append(ctx context.Context, entries ...Entry) error {
	if err := validate(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transcript.SQLStore.Append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		r, err := toRow(e)
		if err != nil {
			return fmt.Errorf("transcript.SQLStore.Append: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx, insertMessage, r); err != nil {
			return fmt.Errorf("transcript.SQLStore.Append: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transcript.SQLStore.Append: %w", err)
	}
	return nil
}

// History returns the latest limit entries of userID, oldest first.
func (s *SQLStore) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(selectHistory), userID, historyLimit(limit)); err != nil {
		return nil, fmt.Errorf("transcript.SQLStore.History: %w", err)
	}
	slices.Reverse(rows)
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := fromRow(r)
		if err != nil {
			return nil, fmt.Errorf("transcript.SQLStore.History: message %d: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Topics counts distinct users per topic since the given time.
func (s *SQLStore) Topics(ctx context.Context, since time.Time, limit int) ([]TopicCount, error) {
	if limit <= 0 || limit > maxTopicRows {
		limit = maxTopicRows
	}
	var rows []struct {
		Topic string `db:"topic"`
		Users int    `db:"users"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(selectTopics), since.UTC(), limit); err != nil {
		return nil, fmt.Errorf("transcript.SQLStore.Topics: %w", err)
	}
	out := make([]TopicCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, TopicCount{Topic: r.Topic, Users: r.Users})
	}
	return out, nil
}

// Activity counts messages and distinct users since the given time.
func (s *SQLStore) Activity(ctx context.Context, since time.Time) (Activity, error) {
	var row struct {
		Messages int `db:"messages"`
		Users    int `db:"users"`
	}
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(selectActivity), since.UTC()); err != nil {
		return Activity{}, fmt.Errorf("transcript.SQLStore.Activity: %w", err)
	}
	return Activity{Messages: row.Messages, Users: row.Users}, nil
}

func toRow(e Entry) (messageRow, error) {
	r := messageRow{
		UserID:    e.UserID,
		Content:   e.Content,
		IsBot:     e.IsBot,
		Topic:     pointer.ToStringOrNil(e.Topic),
		CreatedAt: e.Timestamp.UTC(),
	}
	if len(e.Options) > 0 {
		raw, err := json.Marshal(e.Options)
		if err != nil {
			return messageRow{}, err
		}
		r.Options = pointer.ToString(string(raw))
	}
	return r, nil
}

func fromRow(r messageRow) (Entry, error) {
	e := Entry{
		UserID:    r.UserID,
		Content:   r.Content,
		IsBot:     r.IsBot,
		Topic:     pointer.GetString(r.Topic),
		Timestamp: r.CreatedAt,
	}
	if raw := pointer.GetString(r.Options); raw != "" {
		var opts []conversation.Option
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return Entry{}, fmt.Errorf("decode options: %w", err)
		}
		e.Options = opts
	}
	return e, nil
}
