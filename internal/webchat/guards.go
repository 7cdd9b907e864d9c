package webchat

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
)

// verifyBearer and verifyHMAC mirror internal/gateway's guard rail
// primitives for the one non-token endpoint WebChat exposes outside the
// Direct Line JWT scheme itself: the admin proactive-post surface. They
// are duplicated rather than imported because each package's guard
// rails gate a different HTTP boundary and importing internal/gateway
// from internal/webchat (or vice versa) would introduce a coupling
// neither package's routing otherwise needs.
func verifyBearer(headers http.Header, expected string) bool {
	if expected == "" {
		return true
	}
	got := headers.Get("Authorization")
	want := "Bearer " + expected
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

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
