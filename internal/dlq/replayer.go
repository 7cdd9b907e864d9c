package dlq

import (
	"context"
	"log/slog"

	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/observability"
)

// Replayer subscribes to replay.{tenant}.{stage} and re-publishes each
// DLQ entry's original bytes to its original stage's input subject
// (entry.Subject). The entry's AttemptCount is logged and reported in
// the replay event but is not carried into the republished message, so
// the egress worker counts the replayed message's attempts afresh.
type Replayer struct {
	client bus.Client
	logger *slog.Logger
	events *observability.EventLogger
}

// NewReplayer builds a Replayer over a bus Client. events is optional.
func NewReplayer(client bus.Client, logger *slog.Logger, events *observability.EventLogger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{client: client, logger: logger, events: events}
}

// Start subscribes the replayer on replaySubject.
func (r *Replayer) Start(ctx context.Context, replaySubject, queueGroup string) (bus.Subscription, error) {
	return r.client.Subscribe(ctx, replaySubject, queueGroup, r.handle)
}

func (r *Replayer) handle(ctx context.Context, d bus.Delivery) error {
	var entry envelope.DLQEntry
	if err := envelope.UnmarshalBus(d.Data(), &entry); err != nil {
		r.logger.Error("dlq: replayer failed to decode entry", "error", err)
		return d.Ack()
	}

	if err := r.client.Publish(ctx, entry.Subject, entry.OriginalBytes); err != nil {
		r.logger.Error("dlq: replay publish failed", "subject", entry.Subject, "error", err)
		return d.Nak(0)
	}

	r.logger.Info("dlq: replayed entry", "tenant", entry.Tenant, "stage", entry.Stage, "subject", entry.Subject, "attempt_count", entry.AttemptCount)
	if r.events != nil {
		r.events.Emit(observability.Event{
			Type:    observability.EventDLQReplay,
			Level:   observability.LevelInfo,
			Tenant:  entry.Tenant,
			Stage:   string(entry.Stage),
			Action:  "dlq_replay",
			Details: map[string]any{"attempt_count": entry.AttemptCount, "subject": entry.Subject},
		})
	}
	return d.Ack()
}

// List decodes up to limit DLQ entries from already-published bus
// messages (for example InMemory.Published() in tests), skipping any
// that do not decode; a non-positive limit returns every entry. The
// dlq-replay CLI's list command reads from PostgresStore instead.
func List(msgs []bus.PublishedMessage, limit int) []envelope.DLQEntry {
	var out []envelope.DLQEntry
	for _, m := range msgs {
		var entry envelope.DLQEntry
		if err := envelope.UnmarshalBus(m.Data, &entry); err != nil {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
