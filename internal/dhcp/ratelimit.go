package dhcp

import (
	"sync"
	"time"
)

// staleAfter is how long an idle MAC bucket is kept.
const staleAfter = 30 * time.Second

// RateLimiter is a token bucket over DISCOVERs: a global budget per second
// and a smaller budget per client MAC. A flood of DISCOVERs with random
// MACs would otherwise walk the allocator through the whole subnet.
type RateLimiter struct {
	globalLimit int
	perMACLimit int
	interval    time.Duration
	now         func() time.Time

	mu           sync.Mutex
	globalTokens int
	perMAC       map[string]*macBucket
	lastRefill   time.Time
}

type macBucket struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a limiter. Non-positive limits fall back to 100
// per second globally and 10 per MAC. A nil *RateLimiter allows everything.
func NewRateLimiter(globalLimit, perMACLimit int) *RateLimiter {
	if globalLimit <= 0 {
		globalLimit = 100
	}
	if perMACLimit <= 0 {
		perMACLimit = 10
	}
	r := &RateLimiter{
		globalLimit:  globalLimit,
		perMACLimit:  perMACLimit,
		interval:     time.Second,
		now:          time.Now,
		globalTokens: globalLimit,
		perMAC:       make(map[string]*macBucket),
	}
	r.lastRefill = r.now()
	return r
}

// Allow consumes one token for mac and reports whether the request may
// proceed.
func (r *RateLimiter) Allow(mac string) bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.refill(now)

	if r.globalTokens <= 0 {
		return false
	}

	bucket, ok := r.perMAC[mac]
	if !ok {
		bucket = &macBucket{tokens: r.perMACLimit}
		r.perMAC[mac] = bucket
	}
	bucket.lastSeen = now
	if bucket.tokens <= 0 {
		return false
	}

	r.globalTokens--
	bucket.tokens--
	return true
}

// refill tops buckets up once per whole interval elapsed and forgets MACs
// idle for longer than staleAfter.
func (r *RateLimiter) refill(now time.Time) {
	intervals := int(now.Sub(r.lastRefill) / r.interval)
	if intervals <= 0 {
		return
	}
	r.lastRefill = r.lastRefill.Add(time.Duration(intervals) * r.interval)

	r.globalTokens = min(r.globalTokens+r.globalLimit*intervals, r.globalLimit)

	for mac, bucket := range r.perMAC {
		if now.Sub(bucket.lastSeen) > staleAfter {
			delete(r.perMAC, mac)
			continue
		}
		bucket.tokens = min(bucket.tokens+r.perMACLimit*intervals, r.perMACLimit)
	}
}

// Stats returns the remaining global tokens and the number of tracked MACs.
func (r *RateLimiter) Stats() (globalTokens int, trackedMACs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.globalTokens, len(r.perMAC)
}
