package envelope

import (
	"time"

	"github.com/greentic/gsm-gateway/internal/tenant"
)

// IngressRequest is the lower-camel JSON body the HTTP boundary accepts:
// POST /api/{tenant}/{channel} and /api/{tenant}/{team}/{channel}. MsgID
// is optional at this layer — most platforms derive it from their own
// webhook payload shape and never populate this field — but the local
// loopback platform's body already carries one, since it is meant to
// stand in for a real platform's webhook.
type IngressRequest struct {
	ChatID      string            `json:"chatId"`
	UserID      string            `json:"userId,omitempty"`
	Text        string            `json:"text,omitempty"`
	ThreadID    string            `json:"threadId,omitempty"`
	MsgID       string            `json:"msgId,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ToEnvelope converts an HTTP-boundary request into the canonical,
// snake_case MessageEnvelope, given a context and platform already
// resolved by the caller (the gateway's normalisation step). msgID
// overrides r.MsgID when non-empty, so callers that derive the id
// elsewhere (a real platform's webhook envelope) still take precedence
// over whatever the request body happened to carry.
func (r IngressRequest) ToEnvelope(ctx tenant.Context, msgID string, platform Platform) MessageEnvelope {
	meta := r.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	if msgID == "" {
		msgID = r.MsgID
	}
	return MessageEnvelope{
		Ctx:         ctx,
		Platform:    platform,
		ChatID:      r.ChatID,
		UserID:      r.UserID,
		ThreadID:    r.ThreadID,
		MsgID:       msgID,
		Text:        r.Text,
		Attachments: r.Attachments,
		Metadata:    meta,
		Timestamp:   time.Now().UTC(),
	}
}
