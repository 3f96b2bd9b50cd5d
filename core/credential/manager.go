package credential

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/m3rciful/privybot/core/logger"
)

const (
	// DefaultRefreshBuffer is how long before expiry a token counts as expiring soon.
	DefaultRefreshBuffer = time.Hour
	// DefaultMonitorInterval is the period of background validation.
	DefaultMonitorInterval = 30 * time.Minute
	defaultCallTimeout     = 10 * time.Second
)

// Options configures a Manager.
type Options struct {
	Authority       Authority
	InitialToken    string
	RefreshBuffer   time.Duration
	MonitorInterval time.Duration
	// CallTimeout bounds each authority call.
	CallTimeout time.Duration
	Now         func() time.Time
}

// Manager owns a Token. Network operations are single-writer: concurrent
// callers of the same operation share one in-flight authority call.
type Manager struct {
	authority       Authority
	refreshBuffer   time.Duration
	monitorInterval time.Duration
	callTimeout     time.Duration
	now             func() time.Time

	mu    sync.RWMutex
	token Token
	valid bool

	writeMu sync.Mutex
	flight  singleflight.Group

	monitorMu   sync.Mutex
	stopMonitor context.CancelFunc
	monitorDone chan struct{}
}

// NewManager seeds a Manager with opts.InitialToken.
func NewManager(opts Options) *Manager {
	m := &Manager{
		authority:       opts.Authority,
		refreshBuffer:   opts.RefreshBuffer,
		monitorInterval: opts.MonitorInterval,
		callTimeout:     opts.CallTimeout,
		now:             opts.Now,
		token:           Token{Value: opts.InitialToken},
	}
	if m.refreshBuffer <= 0 {
		m.refreshBuffer = DefaultRefreshBuffer
	}
	if m.monitorInterval <= 0 {
		m.monitorInterval = DefaultMonitorInterval
	}
	if m.callTimeout <= 0 {
		m.callTimeout = defaultCallTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// EnsureValidToken refreshes the token when it is missing or already expired
// and returns the current value.
func (m *Manager) EnsureValidToken(ctx context.Context) (string, error) {
	if err := m.refreshIf(ctx, m.missingOrExpired); err != nil {
		return "", err
	}
	return m.currentValue()
}

// GetValidToken validates the token on first use and refreshes it when it is
// about to expire. It fails with ErrInitialValidation only when the first
// validation fails.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	if m.lastValidated() == nil {
		if !m.ValidateAndUpdateToken(ctx) {
			return "", fmt.Errorf("%w: %s", ErrInitialValidation, m.lastError())
		}
	}
	if m.WillExpireSoon() {
		if err := m.refreshIf(ctx, m.WillExpireSoon); err != nil {
			return "", err
		}
	}
	return m.currentValue()
}

// ValidateAndUpdateToken asks the authority whether the token is valid and
// records its expiry. Failures are recorded in LastError, never returned.
func (m *Manager) ValidateAndUpdateToken(ctx context.Context) bool {
	v, _, _ := m.flight.Do("validate", func() (any, error) {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		return m.validate(ctx), nil
	})
	ok, _ := v.(bool)
	return ok
}

// RefreshToken exchanges the token for a new one. When the exchange fails but
// the current token has not expired yet, the current token stays in use and
// RefreshToken succeeds; otherwise it returns ErrRefreshExpired.
func (m *Manager) RefreshToken(ctx context.Context) error {
	return m.refreshIf(ctx, func() bool { return true })
}

// WillExpireSoon reports whether the token expires within the refresh buffer.
func (m *Manager) WillExpireSoon() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiringLocked()
}

func (m *Manager) expiringLocked() bool {
	if m.token.ExpiresAt == nil {
		return false
	}
	return m.token.ExpiresAt.Add(-m.refreshBuffer).Before(m.now())
}

// State reports where the token is in its lifecycle.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case m.token.LastValidated == nil && m.token.LastError == "":
		return StateUnvalidated
	case !m.valid || (m.token.ExpiresAt != nil && !m.token.ExpiresAt.After(m.now())):
		return StateInvalid
	case m.expiringLocked():
		return StateExpiringSoon
	default:
		return StateValid
	}
}

// Healthy reports whether the token is valid and not about to expire.
func (m *Manager) Healthy() bool {
	return m.State() == StateValid
}

// Info returns the masked token view.
func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Info{
		Value:          logger.Mask(m.token.Value),
		ExpiresAt:      copyTime(m.token.ExpiresAt),
		LastValidated:  copyTime(m.token.LastValidated),
		LastError:      m.token.LastError,
		State:          m.stateLocked(),
		WillExpireSoon: m.expiringLocked(),
	}
}

// StartMonitoring validates the token every monitor interval until ctx is
// done or StopMonitoring is called. A second call while running is a no-op.
func (m *Manager) StartMonitoring(ctx context.Context) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.stopMonitor != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.stopMonitor = cancel
	m.monitorDone = done
	go m.monitor(ctx, done)
	logger.Info(ctx, "credential", "monitor.started", slog.Duration("interval", m.monitorInterval))
}

// StopMonitoring stops the monitor and waits for it to exit.
func (m *Manager) StopMonitoring() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.stopMonitor == nil {
		return
	}
	m.stopMonitor()
	<-m.monitorDone
	m.stopMonitor = nil
	m.monitorDone = nil
}

func (m *Manager) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "credential", "monitor.stopped")
			return
		case <-ticker.C:
			m.monitorTick(ctx)
		}
	}
}

func (m *Manager) monitorTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.recordError(logger.Scrub(fmt.Sprintf("monitor panic: %v", r)))
			logger.Error(ctx, "credential", "monitor.panic", slog.Any("panic", r))
		}
	}()
	if !m.ValidateAndUpdateToken(ctx) {
		logger.Warn(ctx, "credential", "monitor.invalid", slog.String("err", m.lastError()))
		return
	}
	if m.WillExpireSoon() {
		if err := m.refreshIf(ctx, m.WillExpireSoon); err != nil {
			logger.Error(ctx, "credential", "monitor.refresh_failed", slog.String("err", err.Error()))
		}
	}
}

func (m *Manager) refreshIf(ctx context.Context, needed func() bool) error {
	if !needed() {
		return nil
	}
	_, err, _ := m.flight.Do("refresh", func() (any, error) {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		if !needed() {
			return nil, nil
		}
		return nil, m.refresh(ctx)
	})
	return err
}

func (m *Manager) validate(ctx context.Context) bool {
	value, err := m.currentValue()
	if err != nil {
		m.markInvalid(ErrNoToken.Error())
		return false
	}
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := m.authority.Debug(callCtx, value)
	if err != nil {
		m.markInvalid(errorText(err))
		logger.Error(ctx, "credential", "token.validate",
			slog.String("status", "fail"),
			slog.Duration("duration", time.Since(start)),
			slog.String("err", err.Error()),
		)
		return false
	}
	if !res.Valid {
		m.markInvalid(ErrInvalidToken.Error())
		logger.Warn(ctx, "credential", "token.validate",
			slog.String("status", "fail"),
			slog.String("err", ErrInvalidToken.Error()),
		)
		return false
	}

	now := m.now()
	m.mu.Lock()
	m.token.ExpiresAt = optionalTime(res.ExpiresAt)
	m.token.LastValidated = &now
	m.token.LastError = ""
	m.valid = true
	expiresAt := copyTime(m.token.ExpiresAt)
	m.mu.Unlock()

	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.Duration("duration", time.Since(start)),
	}
	if expiresAt != nil {
		attrs = append(attrs, slog.Time("expires_at", *expiresAt))
	}
	logger.Info(ctx, "credential", "token.validate", attrs...)
	return true
}

func (m *Manager) refresh(ctx context.Context) error {
	value, _ := m.currentValue()
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := m.authority.Exchange(callCtx, value)
	if err == nil && res.AccessToken == "" {
		err = fmt.Errorf("exchange returned no access token")
	}
	now := m.now()
	if err != nil {
		m.mu.Lock()
		m.token.LastError = errorText(err)
		stillValid := m.token.ExpiresAt != nil && m.token.ExpiresAt.After(now)
		m.mu.Unlock()

		if stillValid {
			logger.Warn(ctx, "credential", "token.refresh",
				slog.String("status", "fail"),
				slog.String("outcome", "ok"),
				slog.String("cause", "using existing token"),
				slog.String("err", err.Error()),
			)
			return nil
		}
		m.mu.Lock()
		m.valid = false
		m.mu.Unlock()
		logger.Error(ctx, "credential", "token.refresh",
			slog.String("status", "fail"),
			slog.Duration("duration", time.Since(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrRefreshExpired, err)
	}

	m.mu.Lock()
	m.token.Value = res.AccessToken
	m.token.ExpiresAt = nil
	if res.ExpiresIn > 0 {
		expiresAt := now.Add(res.ExpiresIn)
		m.token.ExpiresAt = &expiresAt
	}
	m.token.LastValidated = &now
	m.token.LastError = ""
	m.valid = true
	m.mu.Unlock()

	logger.Info(ctx, "credential", "token.refresh",
		slog.String("status", "ok"),
		slog.Duration("duration", time.Since(start)),
		tokenAttr(res.AccessToken),
	)
	return nil
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// Shared flights must not die with the caller that happened to start them.
	return context.WithTimeout(context.WithoutCancel(ctx), m.callTimeout)
}

func (m *Manager) missingOrExpired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token.Value == "" {
		return true
	}
	return m.token.ExpiresAt != nil && !m.token.ExpiresAt.After(m.now())
}

func (m *Manager) currentValue() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token.Value == "" {
		return "", ErrNoToken
	}
	return m.token.Value, nil
}

func (m *Manager) lastValidated() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTime(m.token.LastValidated)
}

func (m *Manager) lastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token.LastError
}

func (m *Manager) markInvalid(msg string) {
	m.mu.Lock()
	m.token.LastError = msg
	m.valid = false
	m.mu.Unlock()
}

func (m *Manager) recordError(msg string) {
	m.mu.Lock()
	m.token.LastError = msg
	m.mu.Unlock()
}

// errorText is the form of err kept in LastError, which is served by the
// status endpoints.
func errorText(err error) string {
	return logger.Scrub(err.Error())
}

func tokenAttr(value string) slog.Attr {
	return slog.String("token", logger.Mask(value))
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
