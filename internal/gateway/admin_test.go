package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminRegisterDeregisterStatus(t *testing.T) {
	srv, _ := testServer(t)

	statusReq := httptest.NewRequest(http.MethodGet, "/admin/local/acme/status", nil)
	w := httptest.NewRecorder()
	srv.handleAdmin(w, statusReq)
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body["known"] != false {
		t.Errorf("expected unknown tenant before registration, got %+v", body)
	}

	regReq := httptest.NewRequest(http.MethodPost, "/admin/local/acme/register", nil)
	wReg := httptest.NewRecorder()
	srv.handleAdmin(wReg, regReq)
	if wReg.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on register, got %d", wReg.Code)
	}

	statusReq2 := httptest.NewRequest(http.MethodGet, "/admin/local/acme/status", nil)
	w2 := httptest.NewRecorder()
	srv.handleAdmin(w2, statusReq2)
	var body2 map[string]any
	_ = json.Unmarshal(w2.Body.Bytes(), &body2)
	if body2["enabled"] != true {
		t.Errorf("expected enabled=true after register, got %+v", body2)
	}

	deregReq := httptest.NewRequest(http.MethodPost, "/admin/local/acme/deregister", nil)
	wDereg := httptest.NewRecorder()
	srv.handleAdmin(wDereg, deregReq)
	if wDereg.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on deregister, got %d", wDereg.Code)
	}

	statusReq3 := httptest.NewRequest(http.MethodGet, "/admin/local/acme/status", nil)
	w3 := httptest.NewRecorder()
	srv.handleAdmin(w3, statusReq3)
	var body3 map[string]any
	_ = json.Unmarshal(w3.Body.Bytes(), &body3)
	if body3["enabled"] != false || body3["known"] != true {
		t.Errorf("expected enabled=false known=true after deregister, got %+v", body3)
	}
}

func TestAdminUnknownPlatformReturns400(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/nonexistent/acme/status", nil)
	w := httptest.NewRecorder()
	srv.handleAdmin(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAdminGuardRailRejectsMissingBearer(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.Guards.Bearer = "expected-token"

	regReq := httptest.NewRequest(http.MethodPost, "/admin/local/acme/register", nil)
	w := httptest.NewRecorder()
	srv.handleAdmin(w, regReq)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	if _, known := srv.registrations.get("local", "acme"); known {
		t.Fatal("expected registration to be untouched by an unauthenticated request")
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/admin/local/acme/status", nil)
	statusReq.Header.Set("Authorization", "Bearer expected-token")
	w2 := httptest.NewRecorder()
	srv.handleAdmin(w2, statusReq)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid bearer token, got %d", w2.Code)
	}
}
