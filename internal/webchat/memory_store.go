package webchat

import (
	"context"
	"sync"
)

// MemoryStore is the default in-process conversation store. Each
// conversation carries its own subscriber set and mutex; cross-
// conversation access takes only the top-level map lock, briefly, per
// the concurrency model's "per-conversation lock ... cross-conversation
// access is lock-free" policy.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*entry
}

type entry struct {
	conv *Conversation

	subMu sync.Mutex
	subs  map[*chanSubscriber]struct{}
}

// NewMemoryStore builds an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*entry)}
}

func (m *MemoryStore) Create(_ context.Context, id string, tenant TenantClaims, backlogCap int) (*Conversation, error) {
	conv := NewConversation(id, tenant, backlogCap)
	m.mu.Lock()
	m.convs[id] = &entry{conv: conv, subs: make(map[*chanSubscriber]struct{})}
	m.mu.Unlock()
	return conv, nil
}

func (m *MemoryStore) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.convs[id]
	return e, ok
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, ErrConversationNotFound
	}
	return e.conv, nil
}

func (m *MemoryStore) Append(_ context.Context, id string, activity Activity) (StoredActivity, error) {
	e, ok := m.lookup(id)
	if !ok {
		return StoredActivity{}, ErrConversationNotFound
	}
	stored, err := e.conv.Append(activity)
	if err != nil {
		return StoredActivity{}, err
	}
	e.fanOut(stored)
	return stored, nil
}

func (m *MemoryStore) Since(_ context.Context, id string, after uint64) ([]StoredActivity, uint64, error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, 0, ErrConversationNotFound
	}
	acts, wm := e.conv.Since(after)
	return acts, wm, nil
}

func (m *MemoryStore) Subscribe(_ context.Context, id string, sub Subscriber) (func(), error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, ErrConversationNotFound
	}
	cs, ok := sub.(*chanSubscriber)
	if !ok {
		return nil, errUnsupportedSubscriber
	}
	e.subMu.Lock()
	e.subs[cs] = struct{}{}
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, cs)
		e.subMu.Unlock()
	}, nil
}

func (m *MemoryStore) Close() error { return nil }

func (e *entry) fanOut(a StoredActivity) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for sub := range e.subs {
		sub.Send(a)
	}
}

type storeError string

func (err storeError) Error() string { return string(err) }

const errUnsupportedSubscriber = storeError("webchat: subscriber type not supported by this store")
