package logger

import (
	"strings"
	"testing"
)

func TestIsRedactKey(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"authorization", true},
		{"x_api_key", true},
		{"apikey", true},
		{"db_password", true},
		{"client_secret", true},
		{"content", false},
		{"chat_id", false},
	}
	for _, tc := range cases {
		if got := isRedactKey(tc.key); got != tc.want {
			t.Errorf("isRedactKey(%q)=%v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestSanitizeValueTruncatesContent(t *testing.T) {
	long := strings.Repeat("x", maxLoggedContent+50)

	got := sanitizeValue("prompt", long)
	s, ok := got.(string)
	if !ok {
		t.Fatalf("sanitized value is %T, want string", got)
	}
	if len(s) != maxLoggedContent+len("...") {
		t.Fatalf("len=%d, want %d", len(s), maxLoggedContent+3)
	}
	if !strings.HasSuffix(s, "...") {
		t.Fatalf("truncated value missing ellipsis: %q", s[len(s)-10:])
	}

	short := "keep me whole"
	if got := sanitizeValue("content", short); got != short {
		t.Fatalf("short content altered: %v", got)
	}
	if got := sanitizeValue("api_key", "sk-123"); got != "[REDACTED]" {
		t.Fatalf("secret not redacted: %v", got)
	}
	if got := sanitizeValue("count", 42); got != 42 {
		t.Fatalf("non-content value altered: %v", got)
	}
}

func TestNewLoggerModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", ""} {
		log, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		if log.SugaredLogger == nil {
			t.Fatalf("New(%q) returned nil sugar", mode)
		}
		with := log.With("service", "test")
		if with == nil || with.SugaredLogger == nil {
			t.Fatalf("With returned nil for mode %q", mode)
		}
	}
}
