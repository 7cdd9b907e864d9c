package ratelimit

import (
	"sync"
	"time"
)

// Permit is the result of TryAcquire: either granted, or denied with a
// RetryAfter hint.
type Permit struct {
	Granted    bool
	RetryAfter time.Duration
}

// Local is the per-process, per-tenant limiter: a map of token buckets
// guarded by fine-grained per-key locking (one bucket, one internal
// mutex, per tenant), bounded to maxKeys with an eviction pass on
// overflow to keep idle tenants from leaking memory.
type Local struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	cfg     Config
	maxKeys int
}

// NewLocal builds a local limiter using cfg for every tenant that has no
// override (per-tenant overrides are layered on top by Hybrid).
func NewLocal(cfg Config) *Local {
	return &Local{buckets: make(map[string]*bucket), cfg: cfg, maxKeys: 10000}
}

// TryAcquire attempts to consume one token for key, never blocking.
func (l *Local) TryAcquire(key string) Permit {
	b := l.getBucket(key, l.cfg)
	if b.allow() {
		return Permit{Granted: true}
	}
	return Permit{Granted: false, RetryAfter: b.retryAfter()}
}

// getBucket returns key's bucket, creating it with cfg if it does not
// exist yet. cfg is ignored for a bucket that already exists.
func (l *Local) getBucket(key string, cfg Config) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= l.maxKeys {
		l.prune()
	}
	b = newBucket(cfg)
	l.buckets[key] = b
	return b
}

// prune removes near-full buckets, a proxy for "recently inactive" since
// an idle bucket refills to capacity.
func (l *Local) prune() {
	for key, b := range l.buckets {
		if b.tokensRemaining() >= b.maxTokens*0.9 {
			delete(l.buckets, key)
		}
	}
}

// tokens exposes the current token count for reconciliation/metrics.
func (l *Local) tokens(key string) float64 {
	return l.getBucket(key, l.cfg).tokensRemaining()
}

// reconcile overwrites key's local token count, e.g. from a shared bucket.
func (l *Local) reconcile(key string, cfg Config, tokens float64) {
	l.getBucket(key, cfg).setTokens(tokens)
}
