package dlq

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/envelope"
)

func TestPublisherWritesToStageSubject(t *testing.T) {
	b := bus.NewInMemory()
	p := NewPublisher(b, slog.Default(), nil, nil)

	entry := BuildEntry("acme", envelope.StageEgress, "greentic.messaging.egress.dev.acme.slack", []byte(`{"chatId":"c1"}`), "permanent", "runner returned 400", 1)
	p.Publish(context.Background(), entry)

	msgs := b.Published()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}
	if msgs[0].Subject != "dlq.acme.egress" {
		t.Errorf("unexpected subject: %q", msgs[0].Subject)
	}
}

func TestReplayerRepublishesToOriginalSubject(t *testing.T) {
	b := bus.NewInMemory()
	replayer := NewReplayer(b, slog.Default(), nil)

	received := make(chan bus.Delivery, 1)
	_, err := b.Subscribe(context.Background(), "greentic.messaging.egress.dev.acme.slack", "egress-workers", func(ctx context.Context, d bus.Delivery) error {
		received <- d
		d.Ack()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := replayer.Start(context.Background(), "replay.acme.egress", "replayer"); err != nil {
		t.Fatalf("start replayer: %v", err)
	}

	entry := BuildEntry("acme", envelope.StageEgress, "greentic.messaging.egress.dev.acme.slack", []byte(`{"chatId":"c1"}`), "transient", "timeout", 3)
	data, _ := envelope.MarshalBus(entry)
	if err := b.Publish(context.Background(), "replay.acme.egress", data); err != nil {
		t.Fatalf("publish replay request: %v", err)
	}

	select {
	case d := <-received:
		if string(d.Data()) != `{"chatId":"c1"}` {
			t.Errorf("unexpected replayed payload: %s", d.Data())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed message")
	}
}
