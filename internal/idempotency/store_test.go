package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStoreFirstWriterWins(t *testing.T) {
	s := NewInMemoryStore(10)
	key := Key{Tenant: "acme", Platform: "local", MsgID: "m1"}

	fresh, err := s.Claim(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh {
		t.Error("first claim should be fresh")
	}

	fresh, err = s.Claim(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh {
		t.Error("second claim within TTL should not be fresh")
	}
}

func TestInMemoryStoreExpiry(t *testing.T) {
	s := NewInMemoryStore(10)
	key := Key{Tenant: "acme", Platform: "local", MsgID: "m1"}

	if _, err := s.Claim(context.Background(), key, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	fresh, err := s.Claim(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh {
		t.Error("claim after expiry should be fresh again")
	}
}

type failingStore struct{}

func (failingStore) Claim(context.Context, Key, time.Duration) (bool, error) {
	return false, errors.New("boom")
}

func TestGuardFallsBackOnPrimaryError(t *testing.T) {
	g := NewGuard(failingStore{}, 10, 10*time.Millisecond)
	key := Key{Tenant: "acme", Platform: "local", MsgID: "m1"}

	fresh, degraded, err := g.ShouldProcess(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh {
		t.Error("expected fresh on first fallback claim")
	}
	if !degraded {
		t.Error("expected degraded=true when primary store fails")
	}

	fresh, _, err = g.ShouldProcess(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh {
		t.Error("second fallback claim for same key should not be fresh")
	}
}
