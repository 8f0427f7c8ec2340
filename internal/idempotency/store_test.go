package idempotency

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeTTL(t *testing.T) {
	cases := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero floors", 0, 30 * time.Second},
		{"negative floors", -time.Minute, 30 * time.Second},
		{"below floor", 5 * time.Second, 30 * time.Second},
		{"at floor", 30 * time.Second, 30 * time.Second},
		{"above floor untouched", 7 * 24 * time.Hour, 7 * 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizeTTL(tc.in); got != tc.want {
				t.Fatalf("normalizeTTL(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	short := "message.received:corr-1"
	if got := normalizeKey(short); got != short {
		t.Fatalf("short key must pass through, got %q", got)
	}

	exact := strings.Repeat("k", 512)
	if got := normalizeKey(exact); got != exact {
		t.Fatalf("512-byte key must pass through, got %d bytes", len(got))
	}

	long := strings.Repeat("k", 513)
	got := normalizeKey(long)
	if len(got) != 512 {
		t.Fatalf("oversized key not truncated: %d bytes", len(got))
	}
	if got != long[:512] {
		t.Fatal("truncation must keep the key prefix")
	}

	// Two keys that only differ past the cap collide on the stored prefix, so
	// Claim and Release resolve the same row.
	other := strings.Repeat("k", 512) + "different-tail"
	if normalizeKey(long) != normalizeKey(other) {
		t.Fatal("keys sharing a 512-byte prefix must normalize identically")
	}
}
