package ratelimit

import (
	"testing"
	"time"
)

func TestAllowConsumesBurst(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !l.Allow("BTCUSDT", 3, 1) {
			t.Fatalf("request %d within capacity must pass", i)
		}
	}
	if l.Allow("BTCUSDT", 3, 1) {
		t.Fatalf("request over capacity must be throttled")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		l.Allow("sym", 2, 1)
	}
	if l.Allow("sym", 2, 1) {
		t.Fatalf("bucket must be empty")
	}

	now = now.Add(1500 * time.Millisecond)
	if !l.Allow("sym", 2, 1) {
		t.Fatalf("1.5s at 1 token/s must refill one token")
	}
	if l.Allow("sym", 2, 1) {
		t.Fatalf("only one token refilled")
	}
}

func TestAllowCapsAtCapacity(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })

	l.Allow("sym", 2, 10)
	now = now.Add(time.Minute)

	// A long idle period must not accumulate beyond capacity.
	granted := 0
	for i := 0; i < 5; i++ {
		if l.Allow("sym", 2, 10) {
			granted++
		}
	}
	if granted != 2 {
		t.Fatalf("granted %d after idle, want capacity 2", granted)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })

	if !l.Allow("a", 1, 1) {
		t.Fatalf("first token for a")
	}
	if l.Allow("a", 1, 1) {
		t.Fatalf("a exhausted")
	}
	if !l.Allow("b", 1, 1) {
		t.Fatalf("b must have its own bucket")
	}
}
