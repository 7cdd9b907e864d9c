// Package whatsapp adapts Meta's WhatsApp Business Cloud API webhook
// format to the canonical message envelope. Meta signs the body with
// HMAC-SHA256 hex prefixed "sha256=" in X-Hub-Signature-256, the same
// scheme Facebook/Instagram webhooks use.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/tenant"
)

type Adapter struct {
	graphVersion string
}

func New() *Adapter { return &Adapter{graphVersion: "v20.0"} }

func (a *Adapter) Platform() envelope.Platform { return envelope.PlatformWhatsApp }

func (a *Adapter) VerifyWebhook(headers http.Header, body []byte, creds adapters.Credentials) adapters.VerifyResult {
	if creds.AppSecret == "" {
		return adapters.Accept()
	}
	header := headers.Get("X-Hub-Signature-256")
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return adapters.Reject("missing whatsapp signature prefix")
	}
	mac := hmac.New(sha256.New, []byte(creds.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(header, prefix))) {
		return adapters.Reject("whatsapp signature mismatch")
	}
	return adapters.Accept()
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Context *struct {
						ID string `json:"id"`
					} `json:"context"`
					Image *struct {
						ID       string `json:"id"`
						MimeType string `json:"mime_type"`
					} `json:"image"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (a *Adapter) Normalise(body []byte, ctx tenant.Context) adapters.NormaliseResult {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return adapters.NormaliseResult{Dropped: true, Reason: "invalid whatsapp payload json: " + err.Error()}
	}
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				var attachments []envelope.Attachment
				if m.Image != nil {
					raw, _ := json.Marshal(map[string]string{"media_id": m.Image.ID})
					attachments = append(attachments, envelope.Attachment{ContentType: m.Image.MimeType, Content: raw})
				}
				var threadID string
				if m.Context != nil {
					threadID = m.Context.ID
				}
				var ts time.Time
				if secs, err := parseUnix(m.Timestamp); err == nil {
					ts = time.Unix(secs, 0).UTC()
				} else {
					ts = time.Now().UTC()
				}

				return adapters.NormaliseResult{
					Envelope: &envelope.MessageEnvelope{
						Ctx:         ctx,
						Platform:    envelope.PlatformWhatsApp,
						ChatID:      m.From,
						UserID:      m.From,
						ThreadID:    threadID,
						MsgID:       m.ID,
						Text:        m.Text.Body,
						Attachments: attachments,
						Metadata:    map[string]string{"phone_number_id": change.Value.Metadata.PhoneNumberID},
						Timestamp:   ts,
					},
				}
			}
		}
	}
	return adapters.NormaliseResult{Dropped: true, Reason: "no messages in webhook payload (likely a status callback)"}
}

func parseUnix(s string) (int64, error) {
	var secs int64
	_, err := fmt.Sscanf(s, "%d", &secs)
	return secs, err
}

func (a *Adapter) Deliver(ctx context.Context, out envelope.OutMessage, creds adapters.Credentials) error {
	if err := out.Validate(); err != nil {
		return err
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	phoneNumberID := out.Metadata["phone_number_id"]
	if phoneNumberID == "" {
		return fmt.Errorf("whatsapp: missing phone_number_id metadata for chat %s", out.ChatID)
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                out.ChatID,
	}
	switch out.Kind {
	case envelope.OutKindText:
		payload["type"] = "text"
		payload["text"] = map[string]string{"body": out.Text}
	default:
		payload["type"] = "text"
		payload["text"] = map[string]string{"body": out.Text}
	}
	if out.ThreadID != "" {
		payload["context"] = map[string]string{"message_id": out.ThreadID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal payload: %w", err)
	}
	url := fmt.Sprintf("https://graph.facebook.com/%s/%s/messages", a.graphVersion, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AuthToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("whatsapp: deliver failed with status %d", resp.StatusCode)
	}
	return nil
}
