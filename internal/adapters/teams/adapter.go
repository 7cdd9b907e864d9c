// Package teams adapts Microsoft Teams/Bot Framework activities to the
// canonical message envelope. Teams signs webhooks with a JWT bearer
// token issued by the Bot Framework rather than a body HMAC, so
// VerifyWebhook checks the shared app secret carried as a bearer token
// by the gateway's reverse proxy instead of reimplementing Azure AD
// token validation.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/tenant"
)

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Platform() envelope.Platform { return envelope.PlatformTeams }

func (a *Adapter) VerifyWebhook(headers http.Header, body []byte, creds adapters.Credentials) adapters.VerifyResult {
	if !adapters.VerifyBearer(headers, creds.AppSecret) {
		return adapters.Reject("teams bearer mismatch")
	}
	return adapters.Accept()
}

// activity is the subset of a Bot Framework Activity this adapter reads.
type activity struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	ID             string `json:"id"`
	Conversation   struct {
		ID string `json:"id"`
	} `json:"conversation"`
	From struct {
		ID string `json:"id"`
	} `json:"from"`
	ReplyToID   string `json:"replyToId"`
	Attachments []struct {
		ContentType string          `json:"contentType"`
		ContentURL  string          `json:"contentUrl"`
		Name        string          `json:"name"`
		Content     json.RawMessage `json:"content"`
	} `json:"attachments"`
}

func (a *Adapter) Normalise(body []byte, ctx tenant.Context) adapters.NormaliseResult {
	var act activity
	if err := json.Unmarshal(body, &act); err != nil {
		return adapters.NormaliseResult{Dropped: true, Reason: "invalid teams activity json: " + err.Error()}
	}
	if act.Type != "message" {
		return adapters.NormaliseResult{Dropped: true, Reason: "non-message activity: " + act.Type}
	}
	if act.Conversation.ID == "" || act.From.ID == "" {
		return adapters.NormaliseResult{Dropped: true, Reason: "missing conversation or sender id"}
	}

	var attachments []envelope.Attachment
	for _, at := range act.Attachments {
		content := at.Content
		if content == nil {
			content, _ = json.Marshal(map[string]string{"url": at.ContentURL})
		}
		attachments = append(attachments, envelope.Attachment{
			ContentType: at.ContentType,
			Content:     content,
			Name:        at.Name,
		})
	}

	env := &envelope.MessageEnvelope{
		Ctx:         ctx,
		Platform:    envelope.PlatformTeams,
		ChatID:      act.Conversation.ID,
		UserID:      act.From.ID,
		ThreadID:    act.ReplyToID,
		MsgID:       act.ID,
		Text:        act.Text,
		Attachments: attachments,
		Timestamp:   time.Now().UTC(),
	}
	return adapters.NormaliseResult{Envelope: env}
}

func (a *Adapter) Deliver(ctx context.Context, out envelope.OutMessage, creds adapters.Credentials) error {
	if err := out.Validate(); err != nil {
		return err
	}
	reply := map[string]any{
		"type":         "message",
		"conversation": map[string]string{"id": out.ChatID},
	}
	switch out.Kind {
	case envelope.OutKindText:
		reply["text"] = out.Text
	case envelope.OutKindAdaptiveCard:
		reply["attachments"] = []any{map[string]any{
			"contentType": "application/vnd.microsoft.card.adaptive",
			"content":     json.RawMessage(out.Payload),
		}}
	case envelope.OutKindCard:
		reply["attachments"] = []any{json.RawMessage(out.Payload)}
	default:
		reply["text"] = out.Text
	}

	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("teams: marshal reply: %w", err)
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	serviceURL := out.Metadata["serviceUrl"]
	if serviceURL == "" {
		return fmt.Errorf("teams: missing serviceUrl metadata for conversation %s", out.ChatID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL+"/v3/conversations/"+out.ChatID+"/activities", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("teams: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.BotToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("teams: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("teams: deliver failed with status %d", resp.StatusCode)
	}
	return nil
}
