package dlq

import (
	"context"
	"os"
	"testing"

	"github.com/greentic/gsm-gateway/internal/envelope"
)

// getTestPostgresStore returns a PostgresStore for integration tests,
// or skips when TEST_POSTGRES_DSN is unset — the same escape hatch the
// teacher's pgvector integration tests use, since this repository's CI
// does not run a Postgres instance.
func getTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skipping integration test: TEST_POSTGRES_DSN not set")
	}
	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestPostgresStoreRecordAndList(t *testing.T) {
	store := getTestPostgresStore(t)
	ctx := context.Background()

	entry := BuildEntry("acme", envelope.StageEgress, "greentic.messaging.egress.dev.acme.slack", []byte(`{"chatId":"c1"}`), "permanent", "runner returned 400", 1)
	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// Recording the identical entry again must not error.
	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("Record (duplicate): %v", err)
	}

	entries, err := store.List(ctx, "acme", string(envelope.StageEgress), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one listed entry")
	}
	if entries[0].Tenant != "acme" || entries[0].ErrorKind != "permanent" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}
