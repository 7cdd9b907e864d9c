// Package envelope defines the canonical MessageEnvelope, OutMessage, and
// DLQEntry types that flow across the bus, plus the HTTP-boundary DTOs
// used to convert between the lower-camel JSON ingress expects and the
// snake_case JSON the bus carries.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/greentic/gsm-gateway/internal/tenant"
)

// Platform enumerates the supported messaging platforms. New platforms
// are additive; this is a closed set selected by value, not by
// inheritance.
type Platform string

const (
	PlatformSlack    Platform = "slack"
	PlatformTeams    Platform = "teams"
	PlatformTelegram Platform = "telegram"
	PlatformWebchat  Platform = "webchat"
	PlatformWebex    Platform = "webex"
	PlatformWhatsApp Platform = "whatsapp"
	PlatformLocal    Platform = "local"
)

// ValidPlatform reports whether p is one of the known platform values.
func ValidPlatform(p string) bool {
	switch Platform(p) {
	case PlatformSlack, PlatformTeams, PlatformTelegram, PlatformWebchat,
		PlatformWebex, PlatformWhatsApp, PlatformLocal:
		return true
	default:
		return false
	}
}

// Attachment is a structured inbound or outbound attachment. Content is
// left as raw JSON so each platform adapter can shape it without the
// transport spine needing to understand every platform's attachment
// encoding.
type Attachment struct {
	ContentType  string          `json:"content_type"`
	Content      json.RawMessage `json:"content,omitempty"`
	Name         string          `json:"name,omitempty"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty"`
}

// MessageEnvelope is the canonical, platform-neutral inbound message
// record. msg_id is unique per (tenant, platform) for the TTL window of
// the idempotency store.
type MessageEnvelope struct {
	Ctx         tenant.Context    `json:"ctx"`
	Platform    Platform          `json:"platform"`
	ChatID      string            `json:"chat_id"`
	UserID      string            `json:"user_id,omitempty"`
	ThreadID    string            `json:"thread_id,omitempty"`
	MsgID       string            `json:"msg_id"`
	Text        string            `json:"text,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata"`
	Timestamp   time.Time         `json:"timestamp"`
}

// OutKind enumerates the shape of an OutMessage's payload.
type OutKind string

const (
	OutKindText          OutKind = "text"
	OutKindCard          OutKind = "card"
	OutKindAdaptiveCard  OutKind = "adaptive_card"
	OutKindOAuth         OutKind = "oauth"
)

// OutMessage is produced by the external flow runner and consumed by the
// egress worker. Exactly one of Text or Payload is set.
type OutMessage struct {
	Ctx             tenant.Context    `json:"ctx"`
	Platform        Platform          `json:"platform"`
	ChatID          string            `json:"chat_id"`
	ThreadID        string            `json:"thread_id,omitempty"`
	Kind            OutKind           `json:"kind"`
	Text            string            `json:"text,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	Metadata        map[string]string `json:"metadata"`
	OriginatedMsgID string            `json:"originated_msg_id,omitempty"`
}

// Validate checks the exactly-one-of(text,payload) invariant.
func (m OutMessage) Validate() error {
	hasText := m.Text != ""
	hasPayload := len(m.Payload) > 0
	if hasText == hasPayload {
		return errInvalidOutMessage
	}
	return nil
}

type outMessageError string

func (e outMessageError) Error() string { return string(e) }

const errInvalidOutMessage = outMessageError("out_message: exactly one of text or payload must be set")

// DLQStage enumerates which stage produced a dead-lettered entry.
type DLQStage string

const (
	StageIngress DLQStage = "ingress"
	StageRunner  DLQStage = "runner"
	StageEgress  DLQStage = "egress"
)

// DLQEntry is an append-only, immutable-after-write dead-letter record.
type DLQEntry struct {
	StreamSeq      uint64   `json:"stream_seq"`
	Tenant         string   `json:"tenant"`
	Stage          DLQStage `json:"stage"`
	Subject        string   `json:"subject"`
	OriginalBytes  []byte   `json:"original_bytes"`
	ErrorKind      string   `json:"error_kind"`
	ErrorDetail    string   `json:"error_detail"`
	FirstSeen      time.Time `json:"first_seen"`
	AttemptCount   int      `json:"attempt_count"`
	ReplaySubject  string   `json:"replay_subject"`
}

// MarshalBus serialises v with the bus's snake_case field names (the
// struct tags above already are snake_case, so this is a thin wrapper
// kept for symmetry with UnmarshalBus and to give callers one name to
// reach for regardless of envelope type).
func MarshalBus(v any) ([]byte, error) { return json.Marshal(v) }

// UnmarshalBus decodes bus-wire bytes into v.
func UnmarshalBus(data []byte, v any) error { return json.Unmarshal(data, v) }
