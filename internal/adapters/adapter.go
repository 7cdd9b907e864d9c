// Package adapters defines the platform adapter interface shared by
// slack, teams, telegram, webex, whatsapp and local, and the generic
// bearer/HMAC guard rails every webhook-based adapter runs through
// before reaching its platform-specific verification.
package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"

	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/tenant"
)

// VerifyResult is the outcome of a webhook verification pass.
type VerifyResult struct {
	Accepted bool
	Reason   string
}

// Accept and Reject build VerifyResult values for adapter code.
func Accept() VerifyResult                { return VerifyResult{Accepted: true} }
func Reject(reason string) VerifyResult   { return VerifyResult{Accepted: false, Reason: reason} }

// Credentials carries the platform-specific secrets an adapter needs to
// verify a webhook and to send outbound activity. Fields an adapter
// does not use are left empty.
type Credentials struct {
	BotToken      string
	SigningSecret string
	AppSecret     string
	VerifyToken   string
	AccountSID    string
	AuthToken     string
}

// NormaliseResult is the outcome of translating a platform payload into
// the canonical envelope, or a documented drop.
type NormaliseResult struct {
	Envelope *envelope.MessageEnvelope
	Dropped  bool
	Reason   string
}

// Adapter is the capability set every platform package implements. It
// deliberately mirrors the channel Adapter contract's Send/receive
// split, narrowed to the two operations the ingress gateway and egress
// worker actually drive: webhook verification and payload translation
// both ways.
type Adapter interface {
	// Platform returns this adapter's platform identifier.
	Platform() envelope.Platform

	// VerifyWebhook checks an inbound HTTP request's authenticity
	// before its body is parsed into an envelope.
	VerifyWebhook(headers http.Header, body []byte, creds Credentials) VerifyResult

	// Normalise turns a verified webhook body into a MessageEnvelope,
	// or reports a documented drop (e.g. a platform status callback
	// with no user text).
	Normalise(body []byte, ctx tenant.Context) NormaliseResult

	// Deliver sends an outbound message to the platform. Called by the
	// egress worker after the runner has produced a response.
	Deliver(ctx context.Context, out envelope.OutMessage, creds Credentials) error
}

// VerifyBearer implements the shared-secret bearer check every adapter
// can opt into ahead of its own platform signature check. An empty
// expected token means the check is disabled.
func VerifyBearer(headers http.Header, expected string) bool {
	if expected == "" {
		return true
	}
	got := headers.Get("Authorization")
	return got == "Bearer "+expected
}

// VerifyHMACSHA256Hex checks an HMAC-SHA256 hex-encoded signature
// against body, the pattern most platforms (Slack, WhatsApp) use for
// webhook signing.
func VerifyHMACSHA256Hex(secret string, body []byte, signatureHex string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(got, expected)
}

// VerifyHMACSHA256Base64 checks a base64-encoded HMAC-SHA256 signature,
// the encoding several custom webhooks use.
func VerifyHMACSHA256Base64(secret string, body []byte, signatureB64 string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	got, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return hmac.Equal(got, expected)
}
