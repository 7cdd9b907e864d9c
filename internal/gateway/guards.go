package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/greentic/gsm-gateway/internal/observability"
)

// verifyBearer checks Authorization: Bearer {token} with a
// constant-time compare. An empty expected token disables the check.
func verifyBearer(headers http.Header, expected string) bool {
	if expected == "" {
		return true
	}
	got := headers.Get("Authorization")
	want := "Bearer " + expected
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// verifyHMAC checks base64(hmac_sha256(secret, body)) against the
// configured header. An empty secret disables the check.
func verifyHMAC(headers http.Header, body []byte, secret, headerName string) bool {
	if secret == "" {
		return true
	}
	if headerName == "" {
		headerName = "X-Signature"
	}
	sig := headers.Get(headerName)
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// runGuardRails applies the shared-secret guard rails ahead of any
// platform-specific adapter.VerifyWebhook check. It fails closed: both
// checks must pass when configured. The returned reason ("bearer" or
// "hmac") names the failing check and is only meaningful when ok is
// false; it feeds the guardrail-denial metric and audit event.
func (s *Server) runGuardRails(headers http.Header, body []byte) (ok bool, reason string) {
	if !verifyBearer(headers, s.cfg.Guards.Bearer) {
		return false, "bearer"
	}
	if !verifyHMAC(headers, body, s.cfg.Guards.HMACSecret, s.cfg.Guards.HMACHeader) {
		return false, "hmac"
	}
	return true, ""
}

// denyGuardRail records the guardrail-denial metric and audit event and
// writes the 401 response. Shared by every route the guard rails cover
// (ingress webhooks and admin endpoints) so denials are observable the
// same way regardless of which route rejected the request.
func (s *Server) denyGuardRail(w http.ResponseWriter, tenantID, platform, reason string) {
	if s.metrics != nil {
		s.metrics.RecordGuardRailDenial(tenantID, platform, reason)
	}
	if s.events != nil {
		s.events.Emit(observability.Event{
			Type:     observability.EventGuardDenied,
			Level:    observability.LevelWarn,
			Tenant:   tenantID,
			Platform: platform,
			Action:   "guard_denied",
			Details:  map[string]any{"reason": reason},
		})
	}
	w.WriteHeader(http.StatusUnauthorized)
}
