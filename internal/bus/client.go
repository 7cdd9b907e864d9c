// Package bus defines the Client interface every ingress/egress
// component publishes and subscribes through, plus two implementations:
// an in-memory client for tests and single-process deployments, and a
// Kafka-backed durable client whose consumer groups stand in for the
// JetStream work-queue semantics the original design assumes.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrSubjectRequired is returned by implementations when Publish or
// Subscribe is called with an empty subject — producing a message with
// no routing string is a bug, not an operational failure.
var ErrSubjectRequired = errors.New("bus: subject must not be empty")

// Delivery is a single message handed to a subscriber. The handler must
// call exactly one of Ack or Nak before returning.
type Delivery interface {
	Subject() string
	Data() []byte
	Ack() error
	// Nak negatively acknowledges the delivery, requesting redelivery
	// after delay (bounded exponential back-off is the caller's
	// responsibility — Nak only carries the requested delay).
	Nak(delay time.Duration) error
}

// Handler processes one Delivery. Returning an error is equivalent to
// calling Nak(0); callers that need a specific back-off must call Nak
// themselves and return nil.
type Handler func(ctx context.Context, d Delivery) error

// Subscription represents an active durable consumer. Closing it stops
// delivery but does not nak in-flight messages.
type Subscription interface {
	Close() error
}

// Client is the bus abstraction: publish (subject, bytes) and subscribe
// (durable, queue-group, delivery-ack). Shared bus client handles are
// read-only after construction and safe to use concurrently from many
// goroutines.
type Client interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe starts a durable, queue-group consumer on subject (which
	// may be a wildcard pattern). Only one member of queueGroup receives
	// any given message — this is the work-queue-style delivery the
	// egress worker requires.
	Subscribe(ctx context.Context, subject, queueGroup string, handler Handler) (Subscription, error)
	Close() error
}
