// Package slack adapts Slack's Events API webhook format to the
// canonical message envelope. Signature verification follows Slack's
// v0 HMAC-SHA256 scheme: sign "v0:{timestamp}:{body}" and compare
// against the X-Slack-Signature header.
package slack

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
	"github.com/google/uuid"
)

const postMessageURL = "https://slack.com/api/chat.postMessage"

// MaxSignatureAge rejects signatures older than this to guard against
// replay of a captured request.
const MaxSignatureAge = 5 * time.Minute

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Platform() envelope.Platform { return envelope.PlatformSlack }

func (a *Adapter) VerifyWebhook(headers http.Header, body []byte, creds adapters.Credentials) adapters.VerifyResult {
	if creds.SigningSecret == "" {
		return adapters.Accept()
	}
	ts := headers.Get("X-Slack-Request-Timestamp")
	sig := headers.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return adapters.Reject("missing slack signature headers")
	}
	if age, err := signatureAge(ts); err != nil || age > MaxSignatureAge {
		return adapters.Reject("slack signature timestamp too old")
	}

	mac := hmac.New(sha256.New, []byte(creds.SigningSecret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return adapters.Reject("slack signature mismatch")
	}
	return adapters.Accept()
}

func signatureAge(ts string) (time.Duration, error) {
	var secs int64
	if _, err := fmt.Sscanf(ts, "%d", &secs); err != nil {
		return 0, err
	}
	sent := time.Unix(secs, 0)
	age := time.Since(sent)
	if age < 0 {
		age = -age
	}
	return age, nil
}

// event is the subset of Slack's Events API envelope this adapter reads.
type event struct {
	Type  string `json:"type"`
	Event struct {
		Type        string `json:"type"`
		User        string `json:"user"`
		Channel     string `json:"channel"`
		Text        string `json:"text"`
		ThreadTS    string `json:"thread_ts"`
		TS          string `json:"ts"`
		BotID       string `json:"bot_id"`
		Files       []struct {
			Mimetype string `json:"mimetype"`
			Name     string `json:"name"`
			URLPrivate string `json:"url_private"`
		} `json:"files"`
	} `json:"event"`
	Challenge string `json:"challenge"`
}

func (a *Adapter) Normalise(body []byte, ctx tenant.Context) adapters.NormaliseResult {
	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		return adapters.NormaliseResult{Dropped: true, Reason: "invalid slack json: " + err.Error()}
	}
	if ev.Type == "url_verification" {
		return adapters.NormaliseResult{Dropped: true, Reason: "url_verification challenge"}
	}
	if ev.Event.Type != "message" {
		return adapters.NormaliseResult{Dropped: true, Reason: "non-message event: " + ev.Event.Type}
	}
	if ev.Event.BotID != "" {
		return adapters.NormaliseResult{Dropped: true, Reason: "bot-originated message"}
	}
	if ev.Event.Channel == "" || ev.Event.User == "" {
		return adapters.NormaliseResult{Dropped: true, Reason: "missing channel or user"}
	}

	var attachments []envelope.Attachment
	for _, f := range ev.Event.Files {
		raw, _ := json.Marshal(map[string]string{"url": f.URLPrivate})
		attachments = append(attachments, envelope.Attachment{
			ContentType: f.Mimetype,
			Content:     raw,
			Name:        f.Name,
		})
	}

	env := &envelope.MessageEnvelope{
		Ctx:         ctx,
		Platform:    envelope.PlatformSlack,
		ChatID:      ev.Event.Channel,
		UserID:      ev.Event.User,
		ThreadID:    ev.Event.ThreadTS,
		MsgID:       msgID(ev.Event.Channel, ev.Event.TS),
		Text:        ev.Event.Text,
		Attachments: attachments,
		Timestamp:   time.Now().UTC(),
	}
	return adapters.NormaliseResult{Envelope: env}
}

func msgID(channel, ts string) string {
	if ts == "" {
		return uuid.NewString()
	}
	return strings.Join([]string{channel, ts}, ":")
}

func (a *Adapter) Deliver(ctx context.Context, out envelope.OutMessage, creds adapters.Credentials) error {
	if err := out.Validate(); err != nil {
		return err
	}
	payload := map[string]any{"channel": out.ChatID}
	switch out.Kind {
	case envelope.OutKindText:
		payload["text"] = out.Text
	case envelope.OutKindCard, envelope.OutKindAdaptiveCard:
		var blocks json.RawMessage = out.Payload
		payload["blocks"] = blocks
	default:
		payload["text"] = out.Text
	}
	if out.ThreadID != "" {
		payload["thread_ts"] = out.ThreadID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("slack: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postMessageURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+creds.BotToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack: deliver failed with status %d", resp.StatusCode)
	}
	return nil
}
