// Package credential keeps a long-lived Graph API access token usable: it
// validates the token against the issuing authority, exchanges it before it
// expires and monitors it in the background.
package credential

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInitialValidation is returned when the first validation of the token fails.
	ErrInitialValidation = errors.New("initial token validation failed")
	// ErrRefreshExpired is returned when a refresh fails and the current token has expired.
	ErrRefreshExpired = errors.New("token refresh failed and token is expired")
	// ErrInvalidToken is recorded when the authority reports the token as invalid.
	ErrInvalidToken = errors.New("token is invalid")
	// ErrNoToken is recorded when no token value is configured.
	ErrNoToken = errors.New("no access token configured")
)

// Validation is the authority's view of a token.
type Validation struct {
	Valid bool
	// ExpiresAt is zero for tokens that never expire.
	ExpiresAt time.Time
}

// Exchange is a freshly issued token.
type Exchange struct {
	AccessToken string
	// ExpiresIn is zero when the authority reports no lifetime.
	ExpiresIn time.Duration
}

// Authority validates and exchanges tokens.
type Authority interface {
	Debug(ctx context.Context, token string) (Validation, error)
	Exchange(ctx context.Context, token string) (Exchange, error)
}

// Token is the current credential. Value must never leave the package unmasked
// except through Manager.GetValidToken and Manager.EnsureValidToken.
type Token struct {
	Value         string
	ExpiresAt     *time.Time
	LastValidated *time.Time
	LastError     string
}

// State summarizes the token lifecycle.
type State string

const (
	StateUnvalidated  State = "unvalidated"
	StateValid        State = "valid"
	StateExpiringSoon State = "expiring_soon"
	StateInvalid      State = "invalid"
)

// Info is the masked, externally safe view of the token.
type Info struct {
	Value          string     `json:"value"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	LastValidated  *time.Time `json:"lastValidated,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	State          State      `json:"state"`
	WillExpireSoon bool       `json:"willExpireSoon"`
}
