package webchat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TenantClaims mirrors tenant.Context's exported fields the JWT needs to
// carry — a copy rather than an import of internal/tenant.Context so the
// wire shape (and json casing) is pinned to what §4.6 documents as the
// token's ctx claim, independent of any future change to the internal
// context type.
type TenantClaims struct {
	Env    string `json:"env"`
	Tenant string `json:"tenant"`
	Team   string `json:"team,omitempty"`
}

// Equal reports whether two tenant claim sets identify the same scope.
func (c TenantClaims) Equal(other TenantClaims) bool {
	return c.Env == other.Env && c.Tenant == other.Tenant && c.Team == other.Team
}

// Claims is the Direct Line JWT payload: {ctx, conv?, exp, iat} plus a
// subject identifying the end user.
type Claims struct {
	Ctx  TenantClaims `json:"ctx"`
	Conv string       `json:"conv,omitempty"`
	jwt.RegisteredClaims
}

var (
	// ErrSigningDisabled is returned when no signing key is configured.
	ErrSigningDisabled = errors.New("webchat: jwt signing key not configured")
	// ErrInvalidToken covers every token parse/verify failure; the
	// specific cause is never surfaced to the caller (§4.6's failure
	// model: JWT validation failures are a flat 401).
	ErrInvalidToken = errors.New("webchat: invalid token")
)

// TokenIssuer signs and verifies Direct Line JWTs with a single HS256
// key. Production deployments source the key from the secrets resolver
// (WEBCHAT_JWT_SIGNING_KEY is documented as dev-only); this type doesn't
// care which — it takes whatever bytes it's given at construction.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
}

// NewTokenIssuer builds a TokenIssuer. ttl defaults to 30 minutes.
func NewTokenIssuer(signingKey string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &TokenIssuer{key: []byte(signingKey), ttl: ttl}
}

// Mint signs a fresh user-scoped token (no conv claim) for ctx/subject.
func (t *TokenIssuer) Mint(ctx TenantClaims, subject string) (string, time.Duration, error) {
	return t.sign(ctx, "", subject)
}

// MintConversation signs a conversation-scoped token: the same ctx and
// subject as the user token that requested it, plus the conversation id.
func (t *TokenIssuer) MintConversation(ctx TenantClaims, subject, conversationID string) (string, time.Duration, error) {
	return t.sign(ctx, conversationID, subject)
}

func (t *TokenIssuer) sign(ctx TenantClaims, conv, subject string) (string, time.Duration, error) {
	if len(t.key) == 0 {
		return "", 0, ErrSigningDisabled
	}
	now := time.Now()
	claims := Claims{
		Ctx:  ctx,
		Conv: conv,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", 0, fmt.Errorf("webchat: sign token: %w", err)
	}
	return signed, t.ttl, nil
}

// Verify parses and validates a token, rejecting anything not signed
// with our own HS256 key or already expired.
func (t *TokenIssuer) Verify(raw string) (Claims, error) {
	if len(t.key) == 0 {
		return Claims{}, ErrSigningDisabled
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.key, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Ctx.Tenant) == "" || strings.TrimSpace(claims.Ctx.Env) == "" {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

// extractBearer pulls the token out of an "Authorization: Bearer <t>" header.
func extractBearer(headers http.Header) (string, bool) {
	v := headers.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(v, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(v, prefix))
	if tok == "" {
		return "", false
	}
	return tok, true
}
