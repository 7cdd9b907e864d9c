package webchat

import (
	"net/http"
	"testing"
	"time"
)

func TestTokenIssuerMintAndVerify(t *testing.T) {
	issuer := NewTokenIssuer("shh-secret", time.Minute)
	ctx := TenantClaims{Env: "dev", Tenant: "acme", Team: "default"}

	token, ttl, err := issuer.Mint(ctx, "user:1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if ttl != time.Minute {
		t.Errorf("expected ttl of 1m, got %s", ttl)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !claims.Ctx.Equal(ctx) {
		t.Errorf("ctx mismatch: got %+v", claims.Ctx)
	}
	if claims.Conv != "" {
		t.Errorf("expected no conv claim on a user token, got %q", claims.Conv)
	}
	if claims.Subject != "user:1" {
		t.Errorf("expected subject user:1, got %q", claims.Subject)
	}
}

func TestTokenIssuerMintConversationCarriesConvClaim(t *testing.T) {
	issuer := NewTokenIssuer("shh-secret", time.Minute)
	ctx := TenantClaims{Env: "dev", Tenant: "acme"}

	token, _, err := issuer.MintConversation(ctx, "user:1", "conv-1")
	if err != nil {
		t.Fatalf("mint conversation: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Conv != "conv-1" {
		t.Errorf("expected conv claim conv-1, got %q", claims.Conv)
	}
}

func TestTokenIssuerRejectsWrongKey(t *testing.T) {
	a := NewTokenIssuer("key-a", time.Minute)
	b := NewTokenIssuer("key-b", time.Minute)

	token, _, err := a.Mint(TenantClaims{Env: "dev", Tenant: "acme"}, "u1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Fatal("expected verify with a different key to fail")
	}
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	// NewTokenIssuer replaces a non-positive TTL with the 30-minute
	// default, so the negative TTL is set on the struct directly.
	issuer := &TokenIssuer{key: []byte("key"), ttl: -time.Minute} // already expired at mint time
	token, _, err := issuer.Mint(TenantClaims{Env: "dev", Tenant: "acme"}, "u1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Fatal("expected verify to reject an expired token")
	}
}

func TestExtractBearer(t *testing.T) {
	h := http.Header{}
	if _, ok := extractBearer(h); ok {
		t.Fatal("expected no token in empty header")
	}
	h.Set("Authorization", "Bearer abc123")
	tok, ok := extractBearer(h)
	if !ok || tok != "abc123" {
		t.Fatalf("expected abc123, got %q ok=%v", tok, ok)
	}
}
