// Package webchat implements the standalone Direct Line v3 server: a
// self-contained HTTP + WebSocket protocol endpoint that acts as both an
// ingress and an egress channel for the WebChat platform without ever
// leaving the process. Token minting, conversation storage, and activity
// streaming are all local — there is no external Direct Line service
// behind this package.
package webchat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Activity is a Bot Framework-shaped activity record, the unit the
// Direct Line surface exchanges in both directions.
type Activity struct {
	ID           string                 `json:"id,omitempty"`
	Type         string                 `json:"type"`
	Timestamp    time.Time              `json:"timestamp,omitempty"`
	From         *ChannelAccount        `json:"from,omitempty"`
	Recipient    *ChannelAccount        `json:"recipient,omitempty"`
	Conversation *ConversationAccount   `json:"conversation,omitempty"`
	Text         string                 `json:"text,omitempty"`
	Attachments  []Attachment           `json:"attachments,omitempty"`
	ChannelData  json.RawMessage        `json:"channelData,omitempty"`
	Value        json.RawMessage        `json:"value,omitempty"`
	Locale       string                 `json:"locale,omitempty"`
	ReplyToID    string                 `json:"replyToId,omitempty"`
	ServiceURL   string                 `json:"serviceUrl,omitempty"`
	ChannelID    string                 `json:"channelId,omitempty"`
}

// ChannelAccount identifies a participant (user or bot) in a conversation.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID string `json:"id"`
}

// Attachment is a Direct Line attachment. Content is opaque — the
// transport spine never interprets card payloads.
type Attachment struct {
	ContentType string          `json:"contentType"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Name        string          `json:"name,omitempty"`
}

// ensureDefaults fills in id/type/timestamp/conversation the way the
// Direct Line service does for any activity that omits them, so callers
// posting a bare {"type":"message","text":"..."} still get a
// fully-formed stored record.
func (a *Activity) ensureDefaults(conversationID string) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Type == "" {
		a.Type = "message"
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.Conversation == nil || a.Conversation.ID == "" {
		a.Conversation = &ConversationAccount{ID: conversationID}
	}
}

// StoredActivity pairs an Activity with the monotonic watermark it was
// appended at.
type StoredActivity struct {
	Activity  Activity
	Watermark uint64
}

// ActivitiesEnvelope is the JSON frame the server sends over the
// WebSocket stream and returns from the activities GET endpoint.
type ActivitiesEnvelope struct {
	Activities []Activity `json:"activities"`
	Watermark  string     `json:"watermark"`
}
