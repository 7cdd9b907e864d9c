package webchat

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCreateAppendSince(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	claims := TenantClaims{Env: "dev", Tenant: "acme"}

	conv, err := store.Create(ctx, "c1", claims, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.State != StateActive {
		t.Fatalf("expected new conversation to be Active, got %s", conv.State)
	}

	stored, err := store.Append(ctx, "c1", Activity{Type: "message", Text: "hi"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored.Watermark != 1 {
		t.Fatalf("expected watermark 1, got %d", stored.Watermark)
	}

	acts, wm, err := store.Since(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if wm != 1 || len(acts) != 1 {
		t.Fatalf("expected 1 activity at watermark 1, got %d activities watermark %d", len(acts), wm)
	}
}

func TestMemoryStoreAppendUnknownConversation(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Append(context.Background(), "missing", Activity{}); err != ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestMemoryStoreSubscribeReceivesFanOut(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, "c1", TenantClaims{Env: "dev", Tenant: "acme"}, 10); err != nil {
		t.Fatalf("create: %v", err)
	}

	sub := newChanSubscriber(4)
	unsubscribe, err := store.Subscribe(ctx, "c1", sub)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if _, err := store.Append(ctx, "c1", Activity{Type: "message", Text: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case a := <-sub.ch:
		if a.Activity.Text != "hello" {
			t.Errorf("expected hello, got %q", a.Activity.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fan-out")
	}
}
