package webchat

import (
	"context"
	"testing"
	"time"
)

func TestSQLiteStoreCreateAppendSinceGet(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	claims := TenantClaims{Env: "dev", Tenant: "acme", Team: "support"}

	if _, err := store.Create(ctx, "c1", claims, 10); err != nil {
		t.Fatalf("create: %v", err)
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
	if wm != 1 || len(acts) != 1 || acts[0].Activity.Text != "hi" {
		t.Fatalf("unexpected since result: wm=%d acts=%+v", wm, acts)
	}

	conv, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv.Ctx.Tenant != "acme" || conv.Ctx.Team != "support" {
		t.Fatalf("expected tenant scope to round-trip, got %+v", conv.Ctx)
	}
	if conv.Watermark() != 1 {
		t.Fatalf("expected loaded conversation watermark 1, got %d", conv.Watermark())
	}
}

func TestSQLiteStoreAppendUnknownConversation(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if _, err := store.Append(context.Background(), "missing", Activity{}); err != ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestSQLiteStoreAppendRejectsOverBacklogCap(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if _, err := store.Create(ctx, "c1", TenantClaims{Env: "dev", Tenant: "acme"}, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Append(ctx, "c1", Activity{Type: "message"}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := store.Append(ctx, "c1", Activity{Type: "message"}); err != ErrBacklogFull {
		t.Fatalf("expected ErrBacklogFull, got %v", err)
	}
}

func TestSQLiteStoreSubscribeReceivesFanOut(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
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
