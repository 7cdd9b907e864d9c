// Package dlq implements the dead-letter queue: publish_dlq writes an
// append-only record describing a failed delivery, and a Replayer
// re-publishes DLQ entries' original bytes back to their original
// stage's input subject; the entry's attempt_count is logged on replay
// but not carried into the republished message.
package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/observability"
	"github.com/greentic/gsm-gateway/internal/subject"
)

// Publisher writes DLQEntry records to dlq.{tenant}.{stage}. Failures in
// the DLQ write itself are logged but must never block the primary
// path's ack — every call site treats a Publish error as best-effort.
type Publisher struct {
	client  bus.Client
	logger  *slog.Logger
	events  *observability.EventLogger
	pgStore *PostgresStore
}

// NewPublisher builds a Publisher over a bus Client. events and pgStore
// are both optional: events is nil unless audit logging is enabled, and
// pgStore is nil unless DLQ_POSTGRES_DSN is configured, in which case
// every written entry is also persisted there for the dlq-replay CLI's
// list command to read back after the bus's own retention expires.
func NewPublisher(client bus.Client, logger *slog.Logger, events *observability.EventLogger, pgStore *PostgresStore) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger, events: events, pgStore: pgStore}
}

// Publish writes entry to its stage's DLQ subject. A write failure is
// logged and swallowed: the caller must still ack the original delivery
// so a DLQ outage can never wedge the primary path.
func (p *Publisher) Publish(ctx context.Context, entry envelope.DLQEntry) {
	subj, err := subject.DLQSubject(entry.Tenant, string(entry.Stage))
	if err != nil {
		p.logger.Error("dlq: failed to build subject", "tenant", entry.Tenant, "stage", entry.Stage, "error", err)
		return
	}
	replaySubj, err := subject.ReplaySubject(entry.Tenant, string(entry.Stage))
	if err == nil {
		entry.ReplaySubject = replaySubj
	}

	data, err := envelope.MarshalBus(entry)
	if err != nil {
		p.logger.Error("dlq: failed to marshal entry", "tenant", entry.Tenant, "stage", entry.Stage, "error", err)
		return
	}

	if err := p.client.Publish(ctx, subj, data); err != nil {
		p.logger.Error("dlq: publish failed", "tenant", entry.Tenant, "stage", entry.Stage, "subject", subj, "error", err)
	}

	if p.pgStore != nil {
		if err := p.pgStore.Record(ctx, entry); err != nil {
			p.logger.Error("dlq: postgres record failed", "tenant", entry.Tenant, "stage", entry.Stage, "error", err)
		}
	}

	if p.events != nil {
		p.events.Emit(observability.Event{
			Type:    observability.EventDLQWrite,
			Level:   observability.LevelWarn,
			Tenant:  entry.Tenant,
			Stage:   string(entry.Stage),
			Action:  "dlq_write",
			Details: map[string]any{"error_kind": entry.ErrorKind, "attempt_count": entry.AttemptCount},
			Error:   entry.ErrorDetail,
		})
	}
}

// BuildEntry is a small constructor helper so every call site shapes
// DLQEntry the same way.
func BuildEntry(tenant string, stage envelope.DLQStage, subj string, raw []byte, errorKind, errorDetail string, attemptCount int) envelope.DLQEntry {
	return envelope.DLQEntry{
		Tenant:        tenant,
		Stage:         stage,
		Subject:       subj,
		OriginalBytes: raw,
		ErrorKind:     errorKind,
		ErrorDetail:   errorDetail,
		FirstSeen:     time.Now().UTC(),
		AttemptCount:  attemptCount,
	}
}
