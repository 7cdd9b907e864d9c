package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/subject"
)

func testServer(t *testing.T) (*Server, *bus.InMemory) {
	t.Helper()
	b := bus.NewInMemory()
	namer := subject.NewNamer("", "", "")
	srv := New(Config{
		Addr:          ":0",
		JWTSigningKey: "test-signing-key",
		TokenTTL:      30 * time.Minute,
		BacklogCap:    10,
	}, NewMemoryStore(), b, namer, nil, nil, nil, nil)
	return srv, b
}

func mintToken(t *testing.T, srv *Server, tenantID string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v3/directline/tokens/generate?env=dev&tenant="+tenantID, strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	srv.handleGenerateToken(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 minting token, got %d: %s", w.Code, w.Body.String())
	}
	var resp generateTokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp.Token
}

func createConversation(t *testing.T, srv *Server, userToken string) createConversationResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v3/directline/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	w := httptest.NewRecorder()
	srv.handleCreateConversation(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 creating conversation, got %d: %s", w.Code, w.Body.String())
	}
	var resp createConversationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode conversation response: %v", err)
	}
	return resp
}

func TestTokenGenerateRequiresEnvAndTenant(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v3/directline/tokens/generate", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	srv.handleGenerateToken(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTokenGenerateRateLimited(t *testing.T) {
	srv, _ := testServer(t)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v3/directline/tokens/generate?env=dev&tenant=acme", strings.NewReader(`{}`))
		req.RemoteAddr = "203.0.113.9:1234"
		w := httptest.NewRecorder()
		srv.handleGenerateToken(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/v3/directline/tokens/generate?env=dev&tenant=acme", strings.NewReader(`{}`))
	req.RemoteAddr = "203.0.113.9:1234"
	w := httptest.NewRecorder()
	srv.handleGenerateToken(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 6th request from same IP, got %d", w.Code)
	}
}

func TestConversationLifecycleHappyPath(t *testing.T) {
	srv, b := testServer(t)

	received := make(chan bus.Delivery, 1)
	_, err := b.Subscribe(context.Background(), "greentic.messaging.ingress.dev.acme.default.webchat", "workers", func(ctx context.Context, d bus.Delivery) error {
		received <- d
		return d.Ack()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	userToken := mintToken(t, srv, "acme")
	conv := createConversation(t, srv, userToken)
	if conv.ConversationID == "" || conv.Token == "" {
		t.Fatalf("expected conversation id and token, got %+v", conv)
	}

	body := `{"type":"message","text":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v3/directline/conversations/"+conv.ConversationID+"/activities", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+conv.Token)
	w := httptest.NewRecorder()
	srv.handleConversationSubroute(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 posting activity, got %d: %s", w.Code, w.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v3/directline/conversations/"+conv.ConversationID+"/activities?watermark=0", nil)
	getReq.Header.Set("Authorization", "Bearer "+conv.Token)
	getW := httptest.NewRecorder()
	srv.handleConversationSubroute(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200 listing activities, got %d: %s", getW.Code, getW.Body.String())
	}
	var envelope ActivitiesEnvelope
	if err := json.Unmarshal(getW.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode activities envelope: %v", err)
	}
	if envelope.Watermark != "1" || len(envelope.Activities) != 1 || envelope.Activities[0].Text != "hello" {
		t.Fatalf("unexpected activities envelope: %+v", envelope)
	}

	select {
	case d := <-received:
		if !strings.Contains(string(d.Data()), `"hello"`) {
			t.Errorf("expected ingress envelope to carry the text, got %s", d.Data())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ingress bus publish")
	}
}

func TestCrossTenantTokenRejected(t *testing.T) {
	srv, _ := testServer(t)

	acmeToken := mintToken(t, srv, "acme")
	acmeConv := createConversation(t, srv, acmeToken)

	globexToken := mintToken(t, srv, "globex")

	req := httptest.NewRequest(http.MethodGet, "/v3/directline/conversations/"+acmeConv.ConversationID+"/activities", nil)
	req.Header.Set("Authorization", "Bearer "+globexToken)
	w := httptest.NewRecorder()
	srv.handleConversationSubroute(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-tenant access, got %d", w.Code)
	}
}

func TestConversationTokenClaimMustMatchURL(t *testing.T) {
	srv, _ := testServer(t)

	acmeToken := mintToken(t, srv, "acme")
	convA := createConversation(t, srv, acmeToken)
	convB := createConversation(t, srv, mintToken(t, srv, "acme"))

	req := httptest.NewRequest(http.MethodGet, "/v3/directline/conversations/"+convB.ConversationID+"/activities", nil)
	req.Header.Set("Authorization", "Bearer "+convA.Token)
	w := httptest.NewRecorder()
	srv.handleConversationSubroute(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when conv-scoped token is used against a different conversation, got %d", w.Code)
	}
}

func TestBacklogCapReturns429(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.BacklogCap = 1
	userToken := mintToken(t, srv, "acme")
	conv := createConversation(t, srv, userToken)
	// srv.cfg.BacklogCap was lowered before the conversation was created,
	// so Create already received a cap of 1; the cap is also set directly
	// on the stored conversation (the in-memory store hands back the live
	// pointer) so the 429 path does not depend on that ordering.
	stored, err := srv.store.Get(context.Background(), conv.ConversationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stored.BacklogCap = 1

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v3/directline/conversations/"+conv.ConversationID+"/activities", strings.NewReader(`{"type":"message","text":"x"}`))
		req.Header.Set("Authorization", "Bearer "+conv.Token)
		w := httptest.NewRecorder()
		srv.handleConversationSubroute(w, req)
		return w.Code
	}
	if code := post(); code != http.StatusCreated {
		t.Fatalf("expected first post to succeed, got %d", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second post to hit the backlog cap with 429, got %d", code)
	}
}
