package tenant

import "testing"

func TestNewDefaultsEnv(t *testing.T) {
	ctx, err := New("", "acme", "default", "u1", "corr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Env != DefaultEnv {
		t.Errorf("got env %q want %q", ctx.Env, DefaultEnv)
	}
}

func TestNewRejectsEmptyTenant(t *testing.T) {
	if _, err := New("dev", "", "default", "", ""); err == nil {
		t.Error("expected error for empty tenant")
	}
	if _, err := New("dev", "   ", "default", "", ""); err == nil {
		t.Error("expected error for whitespace-only tenant")
	}
}

func TestNewDropsBlankTeam(t *testing.T) {
	ctx, err := New("dev", "acme", "   ", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Team != "" {
		t.Errorf("expected empty team, got %q", ctx.Team)
	}
}

func TestFromEnvelopeIsIdentity(t *testing.T) {
	ctx, err := New("prod", "acme", "sales", "u1", "corr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lifted := FromEnvelope(ctx)
	if lifted != ctx {
		t.Errorf("FromEnvelope mutated context: got %+v want %+v", lifted, ctx)
	}
}
