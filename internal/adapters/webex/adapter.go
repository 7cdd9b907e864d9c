// Package webex adapts Cisco Webex Teams webhook events to the
// canonical message envelope. Webex signs the raw body with
// HMAC-SHA1 hex in X-Spark-Signature; this adapter computes that
// HMAC-SHA1 inline with crypto/sha1, since the shared helpers in the
// adapters package are SHA256-only.
package webex

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/tenant"
)

type Adapter struct {
	// fetchMessage resolves a webhook's message.id into its text body
	// via the Webex REST API. Injectable for tests.
	fetchMessage func(ctx context.Context, messageID, botToken string) (text string, roomID string, personID string, err error)
}

func New() *Adapter {
	return &Adapter{fetchMessage: fetchMessageFromAPI}
}

func (a *Adapter) Platform() envelope.Platform { return envelope.PlatformWebex }

func (a *Adapter) VerifyWebhook(headers http.Header, body []byte, creds adapters.Credentials) adapters.VerifyResult {
	if creds.SigningSecret == "" {
		return adapters.Accept()
	}
	sig := headers.Get("X-Spark-Signature")
	if sig == "" {
		return adapters.Reject("missing webex signature header")
	}
	mac := hmac.New(sha1.New, []byte(creds.SigningSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return adapters.Reject("webex signature mismatch")
	}
	return adapters.Accept()
}

type webhookEvent struct {
	Resource string `json:"resource"`
	Event    string `json:"event"`
	Data     struct {
		ID        string `json:"id"`
		RoomID    string `json:"roomId"`
		PersonID  string `json:"personId"`
		ParentID  string `json:"parentId"`
		Created   time.Time `json:"created"`
	} `json:"data"`
}

// Normalise builds the envelope from the webhook's identifying fields
// alone. Webex webhooks never carry message text, only its id; the
// text itself is filled in by ResolveText, which the gateway calls
// after Normalise succeeds and before the envelope is published.
func (a *Adapter) Normalise(body []byte, ctx tenant.Context) adapters.NormaliseResult {
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return adapters.NormaliseResult{Dropped: true, Reason: "invalid webex webhook json: " + err.Error()}
	}
	if ev.Resource != "messages" || ev.Event != "created" {
		return adapters.NormaliseResult{Dropped: true, Reason: "non-message-created event: " + ev.Resource + "/" + ev.Event}
	}

	return adapters.NormaliseResult{
		Envelope: &envelope.MessageEnvelope{
			Ctx:       ctx,
			Platform:  envelope.PlatformWebex,
			ChatID:    ev.Data.RoomID,
			UserID:    ev.Data.PersonID,
			ThreadID:  ev.Data.ParentID,
			MsgID:     ev.Data.ID,
			Timestamp: ev.Data.Created.UTC(),
		},
	}
}

// ResolveText fetches an envelope's text body from the Webex REST API,
// since webhooks only ever carry the message id. The gateway calls
// this between Normalise and idempotency claim, so a fetch failure
// surfaces as a transient ingress error rather than a silently empty
// message reaching the bus.
func (a *Adapter) ResolveText(ctx context.Context, env *envelope.MessageEnvelope, creds adapters.Credentials) error {
	text, roomID, personID, err := a.fetchMessage(ctx, env.MsgID, creds.BotToken)
	if err != nil {
		return fmt.Errorf("webex: resolve text for message %s: %w", env.MsgID, err)
	}
	env.Text = text
	if roomID != "" {
		env.ChatID = roomID
	}
	if personID != "" {
		env.UserID = personID
	}
	return nil
}

func fetchMessageFromAPI(ctx context.Context, messageID, botToken string) (string, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://webexapis.com/v1/messages/"+messageID, nil)
	if err != nil {
		return "", "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+botToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", "", "", fmt.Errorf("webex: get message failed with status %d", resp.StatusCode)
	}
	var out struct {
		Text     string `json:"text"`
		RoomID   string `json:"roomId"`
		PersonID string `json:"personId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", "", err
	}
	return out.Text, out.RoomID, out.PersonID, nil
}

func (a *Adapter) Deliver(ctx context.Context, out envelope.OutMessage, creds adapters.Credentials) error {
	if err := out.Validate(); err != nil {
		return err
	}
	payload := map[string]any{"roomId": out.ChatID, "text": out.Text}
	if out.ThreadID != "" {
		payload["parentId"] = out.ThreadID
	}
	if out.Kind == envelope.OutKindCard {
		payload["attachments"] = []any{json.RawMessage(out.Payload)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webex: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://webexapis.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webex: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.BotToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("webex: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webex: deliver failed with status %d", resp.StatusCode)
	}
	return nil
}
