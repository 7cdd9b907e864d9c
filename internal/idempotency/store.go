// Package idempotency implements the create-if-absent key/value primitive
// the ingress gateway uses to dedupe inbound events by platform-native
// message id. Claims are point-in-time: the store offers no
// transactions, only put-if-absent.
package idempotency

import (
	"context"
	"fmt"
	"time"
)

// Key is the composite "tenant:platform:msg_id" the idempotency record is
// keyed on.
type Key struct {
	Tenant   string
	Platform string
	MsgID    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Tenant, k.Platform, k.MsgID)
}

// Store is a durable key/value bucket offering create-if-absent claims
// with a TTL. Implementations: InMemoryStore (dev/test) and RedisStore
// (production, backed by SET NX EX).
type Store interface {
	// Claim returns fresh=true the first time key is seen within ttl,
	// and fresh=false on every subsequent call until the TTL expires.
	Claim(ctx context.Context, key Key, ttl time.Duration) (fresh bool, err error)
}

// Guard is the façade the gateway calls: should_process(key). It wraps a
// primary durable Store with an in-process fallback so a momentary store
// outage degrades to "proceed as fresh" rather than blocking ingress,
// per the best-effort cancellation policy: a claim that times out lets
// the gateway proceed as if fresh, risking one duplicate, since the
// runner and egress worker are themselves idempotency-aware downstream.
type Guard struct {
	primary  Store
	fallback *InMemoryStore
	timeout  time.Duration
}

// NewGuard builds a Guard around a primary store. fallbackCapacity is the
// capacity of the in-process InMemoryStore used when the primary store
// call fails or exceeds timeout; that store expires keys by TTL only and
// does no least-recently-used eviction.
func NewGuard(primary Store, fallbackCapacity int, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Guard{
		primary:  primary,
		fallback: NewInMemoryStore(fallbackCapacity),
		timeout:  timeout,
	}
}

// ShouldProcess reports whether key has not been seen within ttl. On
// primary store timeout or error, it falls back to the in-process store
// rather than rejecting or blocking the request.
func (g *Guard) ShouldProcess(ctx context.Context, key Key, ttl time.Duration) (fresh bool, degraded bool, err error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	fresh, err = g.primary.Claim(cctx, key, ttl)
	if err == nil {
		return fresh, false, nil
	}

	fresh, ferr := g.fallback.Claim(ctx, key, ttl)
	if ferr != nil {
		return false, true, ferr
	}
	return fresh, true, nil
}
