package model

import (
	"regexp"
	"strings"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestNewConnID(t *testing.T) {
	id := NewConnID()
	if !strings.HasPrefix(id, "c") || !crockfordBase32.MatchString(id[1:]) {
		t.Errorf("NewConnID() = %q, want c-prefixed ULID", id)
	}
	if strings.Contains(id, "-") {
		// Engine ids are <conn>-<seq>; a dash would make them ambiguous.
		t.Errorf("NewConnID() = %q contains a dash", id)
	}
}

func TestExitReasonConstants(t *testing.T) {
	reasons := []struct {
		constant string
		expected string
	}{
		{ExitEndOfQueue, "end_of_queue"},
		{ExitAborted, "aborted"},
		{ExitCancelled, "cancelled"},
	}
	for _, r := range reasons {
		if r.constant != r.expected {
			t.Errorf("exit reason constant = %q, want %q", r.constant, r.expected)
		}
	}
}
