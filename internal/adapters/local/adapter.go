// Package local implements the loopback platform used for development
// and integration tests: its webhook body is already the canonical
// JSON the gateway would otherwise derive from a real platform, and
// Deliver writes to an in-process sink instead of a network call.
package local

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/tenant"
)

type Adapter struct {
	mu        sync.Mutex
	delivered []envelope.OutMessage
}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Platform() envelope.Platform { return envelope.PlatformLocal }

// VerifyWebhook always accepts: the loopback platform has no transport
// to secure, guard rails are still enforced upstream by the gateway's
// bearer/HMAC checks if configured.
func (a *Adapter) VerifyWebhook(headers http.Header, body []byte, creds adapters.Credentials) adapters.VerifyResult {
	return adapters.Accept()
}

// Normalise unmarshals directly into envelope.IngressRequest: the
// local platform's payload shape is the same lower-camel JSON the HTTP
// boundary already accepts from every real platform, so it needs no
// adapter-specific struct of its own.
func (a *Adapter) Normalise(body []byte, ctx tenant.Context) adapters.NormaliseResult {
	var req envelope.IngressRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return adapters.NormaliseResult{Dropped: true, Reason: "invalid local payload json: " + err.Error()}
	}
	if req.ChatID == "" || req.MsgID == "" {
		return adapters.NormaliseResult{Dropped: true, Reason: "missing chatId or msgId"}
	}
	env := req.ToEnvelope(ctx, req.MsgID, envelope.PlatformLocal)
	return adapters.NormaliseResult{Envelope: &env}
}

func (a *Adapter) Deliver(ctx context.Context, out envelope.OutMessage, creds adapters.Credentials) error {
	if err := out.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delivered = append(a.delivered, out)
	return nil
}

// Delivered returns a snapshot of every message handed to Deliver, for
// test assertions and the local dev console.
func (a *Adapter) Delivered() []envelope.OutMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]envelope.OutMessage, len(a.delivered))
	copy(out, a.delivered)
	return out
}
