package conversation

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"08012345678":             "2348012345678",
		"+234 801 234 5678":       "2348012345678",
		"whatsapp:+2348012345678": "2348012345678",
		"002348012345678":         "2348012345678",
		"(415) 523-8886":          "4155238886",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in, "234")
		if err != nil {
			t.Errorf("NormalizePhone(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizePhoneRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "123", "1234567890123456"} {
		if _, err := NormalizePhone(in, "234"); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("NormalizePhone(%q) err = %v", in, err)
		}
	}
}
