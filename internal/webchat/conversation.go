package webchat

import (
	"errors"
	"sync"
	"time"
)

// State is a conversation's position in the Created -> Active ->
// (Closed | Expired) state machine described in §4.6.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateClosed  State = "closed"
	StateExpired State = "expired"
)

// DefaultBacklogCap is the per-conversation activity backlog cap used
// when WebChatConfig.BacklogCap is unset.
const DefaultBacklogCap = 500

// Errors returned by Store implementations. Handlers map these onto the
// HTTP status codes §4.6 documents (404/429/500), never leaking a raw
// storage error to the caller.
var (
	ErrConversationNotFound = errors.New("webchat: conversation not found")
	ErrBacklogFull          = errors.New("webchat: activity backlog full")
	ErrWatermarkReused      = errors.New("webchat: watermark already advanced past requested value")
)

// Conversation is one Direct Line conversation's durable state: its
// tenant scope, lifecycle state, and activity backlog. Watermarks are
// monotonic integers starting at 0, advanced by exactly one per
// appended activity and never reused — the backlog slice index i always
// holds the activity appended at watermark i+1.
type Conversation struct {
	ID         string
	Ctx        TenantClaims
	State      State
	CreatedAt  time.Time
	LastActive time.Time
	BacklogCap int

	mu         sync.Mutex
	activities []StoredActivity
	watermark  uint64
}

// NewConversation builds a fresh conversation directly in the Active
// state. The state machine's Created -> Active transition on "first POST
// .../conversations" is, in this package's terms, conversation creation
// itself, since the HTTP handler that creates the row is the same
// request that starts it; no constructed conversation is ever observed
// in the Created state.
func NewConversation(id string, ctx TenantClaims, backlogCap int) *Conversation {
	if backlogCap <= 0 {
		backlogCap = DefaultBacklogCap
	}
	now := time.Now().UTC()
	return &Conversation{
		ID:         id,
		Ctx:        ctx,
		State:      StateActive,
		CreatedAt:  now,
		LastActive: now,
		BacklogCap: backlogCap,
	}
}

// Append adds activity to the backlog under conv's next watermark,
// enforcing the backlog cap. Returns the stored copy including its
// assigned watermark.
func (c *Conversation) Append(activity Activity) (StoredActivity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State == StateClosed || c.State == StateExpired {
		return StoredActivity{}, ErrConversationNotFound
	}
	if len(c.activities) >= c.BacklogCap {
		return StoredActivity{}, ErrBacklogFull
	}

	activity.ensureDefaults(c.ID)
	c.watermark++
	stored := StoredActivity{Activity: activity, Watermark: c.watermark}
	c.activities = append(c.activities, stored)
	c.LastActive = time.Now().UTC()
	return stored, nil
}

// Since returns every activity with watermark strictly greater than
// after, plus the conversation's current watermark.
func (c *Conversation) Since(after uint64) ([]StoredActivity, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if after >= c.watermark {
		return nil, c.watermark
	}
	// activities[i] holds watermark i+1, so "after" activities have
	// already been seen and the slice starts at index `after`.
	out := make([]StoredActivity, len(c.activities)-int(after))
	copy(out, c.activities[after:])
	return out, c.watermark
}

// Watermark returns the conversation's current watermark.
func (c *Conversation) Watermark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// Close transitions the conversation to Closed. Idempotent.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State == StateActive || c.State == StateCreated {
		c.State = StateClosed
	}
}

// ExpireIfIdle transitions to Expired when the conversation has been
// inactive longer than idleAfter. Returns true if a transition happened.
func (c *Conversation) ExpireIfIdle(idleAfter time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateActive {
		return false
	}
	if time.Since(c.LastActive) < idleAfter {
		return false
	}
	c.State = StateExpired
	return true
}

func (c *Conversation) snapshotState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State
}
