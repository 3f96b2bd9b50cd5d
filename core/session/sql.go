package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/privybot/core/conversation"
)

// SQLStore keeps sessions in the sessions table of a PostgreSQL or SQLite database.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

type sessionRow struct {
	UserID            string    `db:"user_id"`
	RawIdentifier     string    `db:"raw_identifier"`
	Transport         string    `db:"transport"`
	Name              *string   `db:"name"`
	Age               *int      `db:"age"`
	AgeCategory       *string   `db:"age_category"`
	EducationLevel    *string   `db:"education_level"`
	PrivacyLevel      *string   `db:"privacy_level"`
	CurrentStep       string    `db:"current_step"`
	CurrentTopic      *string   `db:"current_topic"`
	CurrentTopicLabel *string   `db:"current_topic_label"`
	LastMessageID     *string   `db:"last_message_id"`
	Version           int64     `db:"version"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

const selectSession = `SELECT user_id, raw_identifier, transport, name, age, age_category, education_level,
	privacy_level, current_step, current_topic, current_topic_label, last_message_id, version, created_at, updated_at
	FROM sessions WHERE user_id = ?`

const insertSession = `INSERT INTO sessions (user_id, raw_identifier, transport, name, age, age_category,
	education_level, privacy_level, current_step, current_topic, current_topic_label, last_message_id,
	version, created_at, updated_at)
	VALUES (:user_id, :raw_identifier, :transport, :name, :age, :age_category, :education_level,
	:privacy_level, :current_step, :current_topic, :current_topic_label, :last_message_id,
	:version, :created_at, :updated_at)
	ON CONFLICT (user_id) DO NOTHING`

const updateSession = `UPDATE sessions SET raw_identifier = :raw_identifier, transport = :transport, name = :name,
	age = :age, age_category = :age_category, education_level = :education_level, privacy_level = :privacy_level,
	current_step = :current_step, current_topic = :current_topic, current_topic_label = :current_topic_label,
	last_message_id = :last_message_id, version = version + 1, updated_at = :updated_at
	WHERE user_id = :user_id AND version = :version`

// Get loads the session of userID.
func (s *SQLStore) Get(ctx context.Context, userID string) (conversation.Session, error) {
	var r sessionRow
	if err := s.db.GetContext(ctx, &r, s.db.Rebind(selectSession), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Session{}, ErrNotFound
		}
		return conversation.Session{}, fmt.Errorf("SQLStore.Get: %w", err)
	}
	return fromRow(r), nil
}

// Create inserts a new session with version 1.
func (s *SQLStore) Create(ctx context.Context, sess *conversation.Session) error {
	now := s.now().UTC()
	r := toRow(*sess)
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now

	res, err := s.db.NamedExecContext(ctx, insertSession, r)
	if err != nil {
		return fmt.Errorf("SQLStore.Create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SQLStore.Create: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	sess.Version = r.Version
	sess.CreatedAt = now
	sess.UpdatedAt = now
	return nil
}

// Save writes sess if its version still matches the stored one.
func (s *SQLStore) Save(ctx context.Context, sess *conversation.Session) error {
	r := toRow(*sess)
	r.UpdatedAt = s.now().UTC()

	res, err := s.db.NamedExecContext(ctx, updateSession, r)
	if err != nil {
		return fmt.Errorf("SQLStore.Save: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SQLStore.Save: %w", err)
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, sess.UserID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	sess.Version++
	sess.UpdatedAt = r.UpdatedAt
	return nil
}

const (
	countSessions = `SELECT COUNT(*) FROM sessions`
	selectPrivacy = `SELECT DISTINCT privacy_level FROM sessions
	WHERE privacy_level IS NOT NULL AND privacy_level <> '' ORDER BY privacy_level`
)

// Census counts sessions and lists the privacy levels in use.
func (s *SQLStore) Census(ctx context.Context) (Census, error) {
	var c Census
	if err := s.db.GetContext(ctx, &c.Users, countSessions); err != nil {
		return Census{}, fmt.Errorf("SQLStore.Census: %w", err)
	}
	if err := s.db.SelectContext(ctx, &c.PrivacyLevels, selectPrivacy); err != nil {
		return Census{}, fmt.Errorf("SQLStore.Census: %w", err)
	}
	return c, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func toRow(s conversation.Session) sessionRow {
	return sessionRow{
		UserID:            s.UserID,
		RawIdentifier:     s.RawIdentifier,
		Transport:         s.Transport,
		Name:              pointer.ToStringOrNil(s.Name),
		Age:               s.Age,
		AgeCategory:       pointer.ToStringOrNil(string(s.AgeCategory)),
		EducationLevel:    pointer.ToStringOrNil(string(s.EducationLevel)),
		PrivacyLevel:      pointer.ToStringOrNil(string(s.PrivacyLevel)),
		CurrentStep:       string(s.CurrentStep),
		CurrentTopic:      pointer.ToStringOrNil(s.CurrentTopic),
		CurrentTopicLabel: pointer.ToStringOrNil(s.CurrentTopicLabel),
		LastMessageID:     pointer.ToStringOrNil(s.LastMessageID),
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func fromRow(r sessionRow) conversation.Session {
	return conversation.Session{
		UserID:            r.UserID,
		RawIdentifier:     r.RawIdentifier,
		Transport:         r.Transport,
		Name:              pointer.GetString(r.Name),
		Age:               r.Age,
		AgeCategory:       conversation.AgeCategory(pointer.GetString(r.AgeCategory)),
		EducationLevel:    conversation.EducationLevel(pointer.GetString(r.EducationLevel)),
		PrivacyLevel:      conversation.PrivacyLevel(pointer.GetString(r.PrivacyLevel)),
		CurrentStep:       conversation.Step(r.CurrentStep),
		CurrentTopic:      pointer.GetString(r.CurrentTopic),
		CurrentTopicLabel: pointer.GetString(r.CurrentTopicLabel),
		LastMessageID:     pointer.GetString(r.LastMessageID),
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}
