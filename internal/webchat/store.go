package webchat

import "context"

// Subscriber receives every activity appended to one conversation after
// it subscribed. Send must not block the appender for long — an
// implementation with a bounded channel that drops on backpressure is
// preferable to one that can wedge Append.
type Subscriber interface {
	Send(StoredActivity)
	Done() <-chan struct{}
}

// Store persists conversations and their activity backlogs. The
// conversation store <-> subscriber relationship is expressed as an
// index (conversation id -> subscriber set) kept inside the
// implementation rather than back-pointers from Conversation to its
// subscribers, so subscribers can be garbage collected without the
// store needing to know anything beyond "this id has no more
// listeners".
type Store interface {
	// Create persists a new conversation, entering the Active state.
	Create(ctx context.Context, id string, tenant TenantClaims, backlogCap int) (*Conversation, error)
	// Get loads a conversation by id.
	Get(ctx context.Context, id string) (*Conversation, error)
	// Append adds activity to conversation id's backlog and fans it out
	// to every current subscriber.
	Append(ctx context.Context, id string, activity Activity) (StoredActivity, error)
	// Since returns activities with watermark strictly greater than
	// after, plus the conversation's current watermark.
	Since(ctx context.Context, id string, after uint64) ([]StoredActivity, uint64, error)
	// Subscribe registers sub to receive every activity appended to id
	// from this point on. The returned unsubscribe func must be called
	// when the caller is done listening.
	Subscribe(ctx context.Context, id string, sub Subscriber) (unsubscribe func(), err error)
	// Close releases any resources the store holds (durable backends
	// only; the in-memory store's Close is a no-op).
	Close() error
}

// chanSubscriber is the Subscriber a WebSocket connection registers:
// activities land on a bounded channel the connection's write loop
// drains; when the channel is full the activity is dropped for that
// subscriber (the connection stays open) rather than stalling every
// other subscriber on the same conversation.
type chanSubscriber struct {
	ch   chan StoredActivity
	done chan struct{}
}

func newChanSubscriber(buffer int) *chanSubscriber {
	if buffer <= 0 {
		buffer = 32
	}
	return &chanSubscriber{ch: make(chan StoredActivity, buffer), done: make(chan struct{})}
}

func (s *chanSubscriber) Send(a StoredActivity) {
	select {
	case s.ch <- a:
	default:
		// Slow consumer: drop rather than block the appender. The
		// consumer can always catch up via GET .../activities?watermark=n.
	}
}

func (s *chanSubscriber) Done() <-chan struct{} { return s.done }

func (s *chanSubscriber) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
