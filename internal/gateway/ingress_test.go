package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/adapters/local"
	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/idempotency"
	"github.com/greentic/gsm-gateway/internal/ratelimit"
	"github.com/greentic/gsm-gateway/internal/subject"
)

func testServer(t *testing.T) (*Server, *bus.InMemory) {
	t.Helper()
	b := bus.NewInMemory()
	idemp := idempotency.NewGuard(idempotency.NewInMemoryStore(100), 100, time.Second)
	limiter := ratelimit.NewHybrid(ratelimit.Config{Rate: 100, Burst: 100}, nil, "rate/", time.Second)
	namer := subject.NewNamer("", "", "")

	cfg := Config{
		Addr:  ":0",
		Env:   "dev",
		Namer: namer,
	}
	srv := New(cfg, b, idemp, limiter, nil, nil, map[string]adapters.Adapter{
		"local": local.New(),
	}, nil, nil, nil, nil)
	return srv, b
}

func TestHandleIngressPublishesAndAcks(t *testing.T) {
	srv, b := testServer(t)

	received := make(chan bus.Delivery, 1)
	_, err := b.Subscribe(context.Background(), "greentic.messaging.ingress.dev.acme.default.local", "workers", func(ctx context.Context, d bus.Delivery) error {
		received <- d
		d.Ack()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	body := `{"chatId":"c1","userId":"u1","msgId":"m1","text":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/acme/local", strings.NewReader(body))
	w := httptest.NewRecorder()

	srv.handleIngress(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestHandleIngressUnknownPlatformReturns400(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/acme/nonexistent", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	srv.handleIngress(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleIngressGuardRailRejectsMissingBearer(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.Guards.Bearer = "expected-token"

	req := httptest.NewRequest(http.MethodPost, "/api/acme/local", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	srv.handleIngress(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestHandleIngressDuplicateMsgIDReturns202WithoutRepublish(t *testing.T) {
	srv, b := testServer(t)

	body := `{"chatId":"c1","userId":"u1","msgId":"dup-1","text":"hello"}`

	req1 := httptest.NewRequest(http.MethodPost, "/api/acme/local", strings.NewReader(body))
	srv.handleIngress(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodPost, "/api/acme/local", strings.NewReader(body))
	w2 := httptest.NewRecorder()
	srv.handleIngress(w2, req2)

	if w2.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on duplicate, got %d", w2.Code)
	}
	if len(b.Published()) != 1 {
		t.Errorf("expected exactly 1 publish despite duplicate request, got %d", len(b.Published()))
	}
}
