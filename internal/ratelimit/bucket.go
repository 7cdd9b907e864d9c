// Package ratelimit implements the hybrid per-tenant token bucket: a
// local in-memory bucket for hot-path decisions, periodically reconciled
// against a shared Redis bucket so limits survive across replicas.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures a single tenant's token bucket.
type Config struct {
	// Rate is tokens refilled per second.
	Rate float64
	// Burst is the bucket's capacity.
	Burst int
}

// DefaultConfig matches the dev-friendly default used when no
// per-tenant override is configured.
func DefaultConfig() Config {
	return Config{Rate: 10.0, Burst: 20}
}

// bucket is a local token bucket. Unlike a blocking rate limiter, Allow
// never sleeps: callers that are denied get a retry-after duration and
// decide for themselves whether to 429 or negative-ack with delay.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(cfg Config) *bucket {
	if cfg.Rate <= 0 {
		cfg.Rate = 10.0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.Rate * 2)
	}
	return &bucket{
		tokens:     float64(cfg.Burst),
		maxTokens:  float64(cfg.Burst),
		refillRate: cfg.Rate,
		lastRefill: time.Now(),
	}
}

// allow consumes one token if available.
func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill must be called with the lock held.
func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// tokensRemaining reports the current token count after refilling.
func (b *bucket) tokensRemaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// retryAfter computes how long until one token is available, without
// blocking.
func (b *bucket) retryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	needed := 1 - b.tokens
	seconds := needed / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// setTokens overwrites the bucket's token count, used when reconciling
// against the shared remote bucket.
func (b *bucket) setTokens(tokens float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = tokens
	b.lastRefill = time.Now()
}
