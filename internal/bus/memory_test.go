package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMatchSubjectWildcards(t *testing.T) {
	cases := []struct {
		pattern, subj string
		want          bool
	}{
		{"greentic.messaging.egress.dev.>", "greentic.messaging.egress.dev.acme.slack", true},
		{"greentic.messaging.egress.dev.>", "greentic.messaging.egress.prod.acme.slack", false},
		{"greentic.messaging.ingress.dev.*.*.*", "greentic.messaging.ingress.dev.acme.default.local", true},
		{"greentic.messaging.ingress.dev.*.*.*", "greentic.messaging.ingress.dev.acme.default", false},
	}
	for _, c := range cases {
		if got := matchSubject(c.pattern, c.subj); got != c.want {
			t.Errorf("matchSubject(%q, %q) = %v, want %v", c.pattern, c.subj, got, c.want)
		}
	}
}

func TestInMemoryPublishSubscribe(t *testing.T) {
	b := NewInMemory()
	var mu sync.Mutex
	var got []string

	done := make(chan struct{}, 1)
	_, err := b.Subscribe(context.Background(), "greentic.messaging.ingress.dev.*.*.*", "workers", func(ctx context.Context, d Delivery) error {
		mu.Lock()
		got = append(got, d.Subject())
		mu.Unlock()
		d.Ack()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(context.Background(), "greentic.messaging.ingress.dev.acme.default.local", []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "greentic.messaging.ingress.dev.acme.default.local" {
		t.Errorf("unexpected deliveries: %v", got)
	}
}

func TestInMemoryQueueGroupRoundRobin(t *testing.T) {
	b := NewInMemory()
	counts := make([]int, 2)
	var mu sync.Mutex
	wg := make(chan struct{}, 4)

	for i := 0; i < 2; i++ {
		idx := i
		_, err := b.Subscribe(context.Background(), "greentic.messaging.egress.dev.>", "egress-workers", func(ctx context.Context, d Delivery) error {
			mu.Lock()
			counts[idx]++
			mu.Unlock()
			d.Ack()
			wg <- struct{}{}
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	for i := 0; i < 4; i++ {
		if err := b.Publish(context.Background(), "greentic.messaging.egress.dev.acme.slack", []byte(`{}`)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i := 0; i < 4; i++ {
		select {
		case <-wg:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if counts[0] == 0 || counts[1] == 0 {
		t.Errorf("expected both queue group members to receive deliveries, got %v", counts)
	}
	if counts[0]+counts[1] != 4 {
		t.Errorf("expected 4 total deliveries, got %d", counts[0]+counts[1])
	}
}

func TestInMemoryTenantIsolation(t *testing.T) {
	b := NewInMemory()
	gotA := make(chan string, 1)
	gotB := make(chan string, 1)

	b.Subscribe(context.Background(), "greentic.messaging.ingress.dev.acme.*.*", "a", func(ctx context.Context, d Delivery) error {
		gotA <- d.Subject()
		d.Ack()
		return nil
	})
	b.Subscribe(context.Background(), "greentic.messaging.ingress.dev.globex.*.*", "b", func(ctx context.Context, d Delivery) error {
		gotB <- d.Subject()
		d.Ack()
		return nil
	})

	b.Publish(context.Background(), "greentic.messaging.ingress.dev.acme.default.local", []byte(`{}`))

	select {
	case <-gotA:
	case <-time.After(time.Second):
		t.Fatal("tenant acme's subscriber never received its own message")
	}

	select {
	case <-gotB:
		t.Fatal("tenant globex's subscriber received tenant acme's message")
	case <-time.After(100 * time.Millisecond):
	}
}
