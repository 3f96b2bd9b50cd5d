package transport

import (
	"sync"
	"time"
)

// ConnState is the state of a long-lived client connection.
type ConnState string

const (
	StateDisconnected   ConnState = "disconnected"
	StateAuthenticating ConnState = "authenticating"
	StateConnected      ConnState = "connected"
	StateFailed         ConnState = "failed"
)

var connEdges = map[ConnState][]ConnState{
	StateDisconnected:   {StateAuthenticating},
	StateAuthenticating: {StateConnected, StateFailed, StateDisconnected},
	StateConnected:      {StateDisconnected, StateFailed},
	StateFailed:         {StateAuthenticating, StateDisconnected},
}

// ConnEvent is published on every state change.
type ConnEvent struct {
	Name     string
	From     ConnState
	To       ConnState
	Err      string
	Attempts int
	At       time.Time
}

// ConnSnapshot is a read-only view of a Connection.
type ConnSnapshot struct {
	Name      string    `json:"name"`
	State     ConnState `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	Attempts  int       `json:"reconnect_attempts"`
	Since     time.Time `json:"since"`
}

// Connection owns the state of one client connection. Transitions outside
// the allowed edges are rejected.
type Connection struct {
	name string
	now  func() time.Time

	mu       sync.RWMutex
	state    ConnState
	lastErr  string
	attempts int
	since    time.Time
	subs     []chan ConnEvent
}

// NewConnection returns a disconnected connection.
func NewConnection(name string) *Connection {
	c := &Connection{name: name, now: time.Now, state: StateDisconnected}
	c.since = c.now()
	return c
}

// Subscribe returns a channel receiving state changes. Slow subscribers
// miss events rather than block the owner.
func (c *Connection) Subscribe(buffer int) <-chan ConnEvent {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan ConnEvent, buffer)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Authenticating marks the start of a (re)connect attempt.
func (c *Connection) Authenticating() bool {
	return c.transition(StateAuthenticating, "", true)
}

// Connected marks a successful connect and resets the attempt counter.
func (c *Connection) Connected() bool {
	return c.transition(StateConnected, "", false)
}

// Disconnected marks a clean or transient disconnect.
func (c *Connection) Disconnected(err error) bool {
	return c.transition(StateDisconnected, errString(err), false)
}

// Failed marks a connection that will not recover on its own.
func (c *Connection) Failed(err error) bool {
	return c.transition(StateFailed, errString(err), false)
}

// State returns the current state.
func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Attempts returns the number of connect attempts since the last success.
func (c *Connection) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// Snapshot returns the current view.
func (c *Connection) Snapshot() ConnSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnSnapshot{Name: c.name, State: c.state, LastError: c.lastErr, Attempts: c.attempts, Since: c.since}
}

// Close closes all subscriber channels.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

func (c *Connection) transition(to ConnState, errMsg string, countAttempt bool) bool {
	c.mu.Lock()
	from := c.state
	if !allowed(from, to) {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.since = c.now()
	switch {
	case to == StateConnected:
		c.attempts = 0
		c.lastErr = ""
	case countAttempt:
		c.attempts++
	}
	if errMsg != "" {
		c.lastErr = errMsg
	}
	ev := ConnEvent{Name: c.name, From: from, To: to, Err: errMsg, Attempts: c.attempts, At: c.since}
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	c.mu.Unlock()
	return true
}

func allowed(from, to ConnState) bool {
	for _, s := range connEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
