package conversation

import (
	"errors"
	"strings"
)

// ErrInvalidIdentifier is returned for phone numbers that cannot be normalized.
var ErrInvalidIdentifier = errors.New("invalid phone number")

// NormalizePhone returns the canonical digits-only form of a phone number.
// Transport prefixes such as "whatsapp:" are dropped, an international "+"
// or "00" prefix is removed, and a leading trunk "0" is replaced by
// defaultCountryCode.
func NormalizePhone(raw, defaultCountryCode string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0") && !strings.HasPrefix(strings.TrimSpace(s), "+"):
		digits = strings.TrimPrefix(defaultCountryCode, "+") + digits[1:]
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidIdentifier
	}
	return digits, nil
}
