package egress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/adapters/local"
	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/dlq"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/errs"
	"github.com/greentic/gsm-gateway/internal/ratelimit"
	"github.com/greentic/gsm-gateway/internal/subject"
	"github.com/greentic/gsm-gateway/internal/tenant"
)

type stubRunner struct {
	invocations int
	err         error
	transform   func(envelope.OutMessage) envelope.OutMessage
}

func (s *stubRunner) Invoke(ctx context.Context, out envelope.OutMessage, adapterName string) (envelope.OutMessage, error) {
	s.invocations++
	if s.err != nil {
		return envelope.OutMessage{}, s.err
	}
	if s.transform != nil {
		return s.transform(out), nil
	}
	return out, nil
}

func testWorker(t *testing.T, runner RunnerClient, localAdapter *local.Adapter) (*Worker, *bus.InMemory) {
	t.Helper()
	b := bus.NewInMemory()
	limiter := ratelimit.NewHybrid(ratelimit.Config{Rate: 1000, Burst: 1000}, nil, "rate/", time.Second)
	namer := subject.NewNamer("", "", "")
	w := New(
		Config{Env: "dev", Namer: namer, MaxAttempts: 3},
		b,
		limiter,
		runner,
		nil,
		map[string]adapters.Adapter{"local": localAdapter},
		nil,
		nil,
		nil,
		nil,
	)
	return w, b
}

func outMessage(t *testing.T, tenantID string) envelope.OutMessage {
	t.Helper()
	ctx, err := tenant.New("dev", tenantID, "", "", "")
	if err != nil {
		t.Fatalf("tenant.New: %v", err)
	}
	return envelope.OutMessage{
		Ctx:      ctx,
		Platform: envelope.PlatformLocal,
		ChatID:   "chat-1",
		Kind:     envelope.OutKindText,
		Text:     "hello there",
		Metadata: map[string]string{},
	}
}

func TestWorkerDeliversAndPublishesOutRecord(t *testing.T) {
	localAdapter := local.New()
	w, b := testWorker(t, &stubRunner{}, localAdapter)

	data, err := json.Marshal(outMessage(t, "acme"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	d := &fakeDelivery{subject: "greentic.messaging.egress.dev.acme.local", data: data}
	if err := w.handleDelivery(context.Background(), d); err != nil {
		t.Fatalf("handleDelivery: %v", err)
	}
	if !d.ackCalled {
		t.Fatal("expected delivery to be acked")
	}

	delivered := localAdapter.Delivered()
	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(delivered))
	}
	if delivered[0].ChatID != "chat-1" {
		t.Errorf("unexpected chat id: %+v", delivered[0])
	}

	published := b.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 out-subject publish, got %d", len(published))
	}
	if published[0].Subject != "greentic.messaging.egress.out.acme.local" {
		t.Errorf("unexpected out subject: %s", published[0].Subject)
	}
}

func TestWorkerDecodeFailureDeadLettersWithoutPanicking(t *testing.T) {
	localAdapter := local.New()
	w, _ := testWorker(t, &stubRunner{}, localAdapter)

	d := &fakeDelivery{subject: "greentic.messaging.egress.dev.acme.local", data: []byte("not json")}
	w.handleDelivery(context.Background(), d)

	if !d.ackCalled {
		t.Fatal("expected decode failure to ack immediately")
	}
}

func TestWorkerRetriesTransientRunnerFailureThenDLQs(t *testing.T) {
	localAdapter := local.New()
	runner := &stubRunner{err: errTransientStub}
	w, _ := testWorker(t, runner, localAdapter)
	w.cfg.MaxAttempts = 2

	msg := outMessage(t, "acme")
	msg.OriginatedMsgID = "orig-1"
	data, _ := json.Marshal(msg)

	for i := 0; i < 2; i++ {
		d := &fakeDelivery{subject: "greentic.messaging.egress.dev.acme.local", data: data}
		w.handleDelivery(context.Background(), d)
		if i == 0 && !d.nakked {
			t.Fatalf("expected first failure to nak, got ack=%v nak=%v", d.ackCalled, d.nakked)
		}
		if i == 1 && !d.ackCalled {
			t.Fatalf("expected the failure at MaxAttempts to be dead-lettered and acked, got ack=%v nak=%v", d.ackCalled, d.nakked)
		}
	}

	if len(localAdapter.Delivered()) != 0 {
		t.Fatalf("expected no successful deliveries, got %d", len(localAdapter.Delivered()))
	}
}

func TestWorkerPermanentRunnerFailureDeadLettersImmediately(t *testing.T) {
	localAdapter := local.New()
	b := bus.NewInMemory()
	limiter := ratelimit.NewHybrid(ratelimit.Config{Rate: 1000, Burst: 1000}, nil, "rate/", time.Second)
	namer := subject.NewNamer("", "", "")
	dlqPub := dlq.NewPublisher(b, nil, nil, nil)

	runner := &stubRunner{err: errs.Permanent("runner: rejected", errPermanentStub)}
	w := New(
		Config{Env: "dev", Namer: namer, MaxAttempts: 3},
		b,
		limiter,
		runner,
		dlqPub,
		map[string]adapters.Adapter{"local": localAdapter},
		nil,
		nil,
		nil,
		nil,
	)

	data, err := json.Marshal(outMessage(t, "acme"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d := &fakeDelivery{subject: "greentic.messaging.egress.dev.acme.local", data: data}

	if err := w.handleDelivery(context.Background(), d); err != nil {
		t.Fatalf("handleDelivery: %v", err)
	}

	if !d.ackCalled {
		t.Fatal("expected a permanent failure to be acked, not left pending")
	}
	if d.nakked {
		t.Fatal("expected a permanent failure to never be retried")
	}
	if runner.invocations != 1 {
		t.Fatalf("expected exactly 1 runner invocation, got %d", runner.invocations)
	}
	if len(localAdapter.Delivered()) != 0 {
		t.Fatalf("expected no delivery attempts, got %d", len(localAdapter.Delivered()))
	}

	published := b.Published()
	var dlqMsgs []bus.PublishedMessage
	for _, m := range published {
		if m.Subject == "dlq.acme.egress" {
			dlqMsgs = append(dlqMsgs, m)
		}
	}
	if len(dlqMsgs) != 1 {
		t.Fatalf("expected exactly 1 DLQ record, got %d", len(dlqMsgs))
	}
	entries := dlq.List(dlqMsgs, 1)
	if len(entries) != 1 || entries[0].ErrorKind != "permanent" {
		t.Fatalf("expected one permanent DLQ entry, got %+v", entries)
	}
}

type permanentStubError string

func (e permanentStubError) Error() string { return string(e) }

const errPermanentStub = permanentStubError("stub: permanent runner rejection")

type fakeDelivery struct {
	subject   string
	data      []byte
	ackCalled bool
	nakked    bool
}

func (d *fakeDelivery) Subject() string { return d.subject }
func (d *fakeDelivery) Data() []byte    { return d.data }
func (d *fakeDelivery) Ack() error {
	d.ackCalled = true
	return nil
}
func (d *fakeDelivery) Nak(delay time.Duration) error {
	d.nakked = true
	return nil
}

type transientStubError string

func (e transientStubError) Error() string { return string(e) }

const errTransientStub = transientStubError("stub: transient runner failure")
