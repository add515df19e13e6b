package dhcp

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(global, perMAC int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(global, perMAC)
	rl.now = clock.Now
	rl.lastRefill = clock.Now()
	return rl, clock
}

func TestRateLimiterNil(t *testing.T) {
	var rl *RateLimiter
	for i := 0; i < 100; i++ {
		if !rl.Allow("00:11:22:33:44:55") {
			t.Fatalf("nil rate limiter rejected request %d", i)
		}
	}
}

func TestRateLimiterGlobalLimit(t *testing.T) {
	rl, _ := newTestLimiter(5, 100)

	for i := 0; i < 5; i++ {
		if !rl.Allow("00:11:22:33:44:55") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("aa:bb:cc:dd:ee:ff") {
		t.Error("6th request should be rejected by the global limit")
	}
}

func TestRateLimiterPerMACLimit(t *testing.T) {
	rl, _ := newTestLimiter(100, 3)
	mac := "00:11:22:33:44:55"

	for i := 0; i < 3; i++ {
		if !rl.Allow(mac) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow(mac) {
		t.Error("4th request from same MAC should be rejected")
	}
	if !rl.Allow("aa:bb:cc:dd:ee:ff") {
		t.Error("different MAC should still be allowed")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl, clock := newTestLimiter(3, 3)
	mac := "00:11:22:33:44:55"

	for i := 0; i < 3; i++ {
		rl.Allow(mac)
	}
	if rl.Allow(mac) {
		t.Error("should be rate-limited after exhausting tokens")
	}

	clock.Advance(500 * time.Millisecond)
	if rl.Allow(mac) {
		t.Error("half an interval must not refill")
	}

	clock.Advance(600 * time.Millisecond)
	if !rl.Allow(mac) {
		t.Error("should be allowed after refill")
	}
}

func TestRateLimiterForgetsIdleMACs(t *testing.T) {
	rl, clock := newTestLimiter(10, 5)
	rl.Allow("00:11:22:33:44:55")

	clock.Advance(staleAfter + 2*time.Second)
	rl.Allow("aa:bb:cc:dd:ee:ff")

	if _, macs := rl.Stats(); macs != 1 {
		t.Errorf("trackedMACs = %d, want 1", macs)
	}
}

func TestRateLimiterStats(t *testing.T) {
	rl, _ := newTestLimiter(10, 5)

	rl.Allow("00:11:22:33:44:55")
	rl.Allow("aa:bb:cc:dd:ee:ff")

	tokens, macs := rl.Stats()
	if tokens != 8 {
		t.Errorf("globalTokens = %d, want 8", tokens)
	}
	if macs != 2 {
		t.Errorf("trackedMACs = %d, want 2", macs)
	}
}
