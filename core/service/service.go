// Package service runs inbound messages through the conversation machine
// and hands the replies to the dispatcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/privybot/core/conversation"
	"github.com/m3rciful/privybot/core/dispatch"
	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/queue"
	"github.com/m3rciful/privybot/core/session"
	"github.com/m3rciful/privybot/core/transcript"
	"github.com/m3rciful/privybot/core/transport"
)

var (
	// ErrEmptyMessage is returned for inbound messages without text.
	ErrEmptyMessage = errors.New("empty message")
	// ErrUnknownTransport is returned when a reply has no registered transport.
	ErrUnknownTransport = errors.New("unknown transport")
	// ErrNoTranscripts is returned by History when recording is disabled.
	ErrNoTranscripts = errors.New("transcripts disabled")
)

const (
	defaultSaveAttempts = 3
	defaultDedupeTTL    = 10 * time.Minute
)

// Inbound is one message received from a user.
type Inbound struct {
	Transport string
	// From identifies the sender: a phone number, possibly with a channel
	// prefix, or a transport-native id.
	From      string
	Body      string
	MessageID string
	// Address overrides where the reply goes; empty means the session key.
	Address string
}

// Outcome is the result of handling one message.
type Outcome struct {
	Session   conversation.Session
	Reply     conversation.Reply
	Created   bool
	Duplicate bool
}

// SessionKeyer is implemented by transports whose senders are not phone numbers.
type SessionKeyer interface {
	SessionKey(from string) (string, error)
}

// Options configures a Service.
type Options struct {
	Machine    *conversation.Machine
	Store      session.Store
	Locker     *session.Locker
	Dispatcher *dispatch.Dispatcher
	// Outbox delivers replies asynchronously with retries; nil delivers inline.
	Outbox             *queue.Queue
	Transports         []transport.Transport
	DefaultCountryCode string
	// Transcripts records both sides of every handled message; nil disables it.
	Transcripts  transcript.Store
	SaveAttempts int
	DedupeTTL    time.Duration
	Now          func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	machine            *conversation.Machine
	store              session.Store
	locker             *session.Locker
	dispatcher         *dispatch.Dispatcher
	outbox             *queue.Queue
	transcripts        transcript.Store
	defaultCountryCode string
	saveAttempts       int
	now                func() time.Time

	mu         sync.RWMutex
	transports map[string]transport.Transport

	recent *recentSet
}

// New returns a Service.
func New(opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = session.NewLocker()
	}
	if opts.SaveAttempts <= 0 {
		opts.SaveAttempts = defaultSaveAttempts
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = defaultDedupeTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		machine:            opts.Machine,
		store:              opts.Store,
		locker:             opts.Locker,
		dispatcher:         opts.Dispatcher,
		outbox:             opts.Outbox,
		transcripts:        opts.Transcripts,
		defaultCountryCode: opts.DefaultCountryCode,
		saveAttempts:       opts.SaveAttempts,
		now:                opts.Now,
		transports:         make(map[string]transport.Transport),
		recent:             newRecentSet(opts.DedupeTTL, opts.Now),
	}
	for _, t := range opts.Transports {
		s.Register(t)
	}
	return s
}

// Register adds or replaces a transport by name.
func (s *Service) Register(t transport.Transport) {
	if t == nil {
		return
	}
	s.mu.Lock()
	s.transports[t.Name()] = t
	s.mu.Unlock()
}

// Transport returns the registered transport called name.
func (s *Service) Transport(name string) (transport.Transport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transports[name]
	return t, ok
}

// Receive handles in and delivers the reply through its transport.
func (s *Service) Receive(ctx context.Context, in Inbound) error {
	out, err := s.Handle(ctx, in)
	if err != nil || out.Duplicate {
		return err
	}
	ctx = logger.WithInbound(ctx, in.Transport, out.Session.UserID, in.MessageID)
	return s.Deliver(ctx, in, out)
}

// Handle applies in to the sender's session and returns the reply without
// delivering it. Steps of one user never run concurrently; a message id
// seen before is reported as a duplicate and not applied again.
func (s *Service) Handle(ctx context.Context, in Inbound) (Outcome, error) {
	if strings.TrimSpace(in.Body) == "" {
		return Outcome{}, ErrEmptyMessage
	}
	userID, err := s.sessionKey(in)
	if err != nil {
		return Outcome{}, err
	}
	ctx = logger.WithInbound(ctx, in.Transport, userID, in.MessageID)
	start := time.Now()

	// Message ids are only unique per chat on some transports.
	dedupeKey := in.Transport + ":" + userID + ":" + in.MessageID
	if in.MessageID != "" && s.recent.has(dedupeKey) {
		logDuplicate(ctx)
		return Outcome{Duplicate: true}, nil
	}

	unlock := s.locker.Lock(userID)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= s.saveAttempts; attempt++ {
		out, err := s.step(ctx, userID, in)
		if err == nil {
			if in.MessageID != "" {
				s.recent.add(dedupeKey)
			}
			if out.Duplicate {
				logDuplicate(ctx)
				return out, nil
			}
			s.record(ctx, in, out)
			logger.LogEvent(ctx, logger.CONV, slog.LevelInfo, "step",
				slog.String("status", "ok"),
				slog.String("state", string(out.Session.CurrentStep)),
				slog.Int("options", len(out.Reply.Options)),
				slog.Duration("took", logger.Took(start)),
			)
			return out, nil
		}
		lastErr = err
		if !errors.Is(err, session.ErrConflict) && !errors.Is(err, session.ErrExists) {
			break
		}
		logger.LogEvent(ctx, logger.CONV, slog.LevelWarn, "step.conflict", slog.Int("attempt", attempt))
	}
	logger.LogEvent(ctx, logger.CONV, slog.LevelError, "step.fail",
		slog.String("status", "error"),
		slog.String("err", lastErr.Error()),
	)
	return Outcome{}, lastErr
}

func (s *Service) step(ctx context.Context, userID string, in Inbound) (Outcome, error) {
	sess, created, err := s.loadOrCreate(ctx, userID, in)
	if err != nil {
		return Outcome{}, err
	}
	if in.MessageID != "" && sess.LastMessageID == in.MessageID {
		return Outcome{Session: sess, Duplicate: true}, nil
	}

	committed := false
	commit := func(ctx context.Context, next *conversation.Session) error {
		next.LastMessageID = in.MessageID
		if err := s.store.Save(ctx, next); err != nil {
			return err
		}
		committed = true
		return nil
	}
	next, reply, err := s.machine.Step(ctx, sess, in.Body, commit)
	if err != nil {
		return Outcome{}, err
	}
	next.LastMessageID = in.MessageID
	if err := s.store.Save(ctx, &next); err != nil {
		// The step is already durable; a rerun would see its own message
		// id and answer nothing.
		if committed && errors.Is(err, session.ErrConflict) {
			logger.LogEvent(ctx, logger.CONV, slog.LevelWarn, "step.save",
				slog.String("status", "fail"),
				slog.String("outcome", "ok"),
				slog.String("cause", "saved at commit"),
				slog.String("err", err.Error()),
			)
			return Outcome{Session: next, Reply: reply, Created: created}, nil
		}
		return Outcome{}, fmt.Errorf("save session: %w", err)
	}
	return Outcome{Session: next, Reply: reply, Created: created}, nil
}

// record appends the user's message and the reply to the transcript. A
// failure is logged; the step itself already succeeded.
func (s *Service) record(ctx context.Context, in Inbound, out Outcome) {
	if s.transcripts == nil {
		return
	}
	now := s.now().UTC()
	userID := out.Session.UserID
	topic := out.Session.CurrentTopic
	entries := []transcript.Entry{{UserID: userID, Content: strings.TrimSpace(in.Body), Topic: topic, Timestamp: now}}
	if out.Reply.Message != "" {
		entries = append(entries, transcript.Entry{
			UserID:    userID,
			Content:   out.Reply.Message,
			IsBot:     true,
			Options:   out.Reply.Options,
			Topic:     topic,
			Timestamp: now,
		})
	}
	if err := s.transcripts.Append(ctx, entries...); err != nil {
		logger.LogEvent(ctx, logger.CONV, slog.LevelWarn, "transcript.append",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

// History returns the latest transcript entries of a user.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]transcript.Entry, error) {
	if s.transcripts == nil {
		return nil, ErrNoTranscripts
	}
	return s.transcripts.History(ctx, userID, limit)
}

func (s *Service) loadOrCreate(ctx context.Context, userID string, in Inbound) (conversation.Session, bool, error) {
	sess, err := s.store.Get(ctx, userID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return conversation.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	sess = conversation.NewSession(userID, in.From, in.Transport)
	if err := s.store.Create(ctx, &sess); err != nil {
		return conversation.Session{}, false, fmt.Errorf("create session: %w", err)
	}
	logger.LogEvent(ctx, logger.CONV, slog.LevelInfo, "session.created")
	return sess, true, nil
}

// Session returns the stored session of a sender.
func (s *Service) Session(ctx context.Context, transportName, from string) (conversation.Session, error) {
	userID, err := s.sessionKey(Inbound{Transport: transportName, From: from})
	if err != nil {
		return conversation.Session{}, err
	}
	return s.store.Get(ctx, userID)
}

// SessionKey resolves a sender to the user id sessions and transcripts are keyed by.
func (s *Service) SessionKey(transportName, from string) (string, error) {
	return s.sessionKey(Inbound{Transport: transportName, From: from})
}

func (s *Service) sessionKey(in Inbound) (string, error) {
	if t, ok := s.Transport(in.Transport); ok {
		if keyer, ok := t.(SessionKeyer); ok {
			return keyer.SessionKey(in.From)
		}
	}
	return conversation.NormalizePhone(in.From, s.defaultCountryCode)
}

// Deliver sends the reply in out to the sender of in through its transport.
func (s *Service) Deliver(ctx context.Context, in Inbound, out Outcome) error {
	t, ok := s.Transport(in.Transport)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransport, in.Transport)
	}
	msg := transport.Message{
		To:      in.Address,
		Text:    out.Reply.Message,
		Options: out.Reply.Options,
		ReplyTo: in.MessageID,
	}
	if msg.To == "" {
		msg.To = out.Session.UserID
	}

	send := func(ctx context.Context) error {
		_, err := s.dispatcher.Deliver(ctx, t, msg)
		return err
	}
	if s.outbox == nil {
		return send(ctx)
	}
	return s.outbox.Enqueue(ctx, "deliver", out.Session.UserID, send)
}

func logDuplicate(ctx context.Context) {
	logger.LogEvent(ctx, logger.CONV, slog.LevelDebug, "step.skip", slog.String("status", "duplicate"))
}

// recentSet remembers handled message ids for a while so provider
// redeliveries are dropped before they reach the store. Expired entries are
// swept at most once per ttl.
type recentSet struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	entries   map[string]time.Time
	lastSweep time.Time
}

func newRecentSet(ttl time.Duration, now func() time.Time) *recentSet {
	return &recentSet{ttl: ttl, now: now, entries: make(map[string]time.Time), lastSweep: now()}
}

func (r *recentSet) has(key string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastSweep) > r.ttl {
		for k, ts := range r.entries {
			if now.Sub(ts) > r.ttl {
				delete(r.entries, k)
			}
		}
		r.lastSweep = now
	}
	ts, ok := r.entries[key]
	return ok && now.Sub(ts) <= r.ttl
}

func (r *recentSet) add(key string) {
	r.mu.Lock()
	r.entries[key] = r.now()
	r.mu.Unlock()
}

func (r *recentSet) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
