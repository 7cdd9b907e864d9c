// Package secrets defines the Resolver interface the gateway and
// egress worker use to fetch platform credential material. Secret
// storage backends themselves are out of scope for this module — only
// the interface and a development-only environment-backed
// implementation live here.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/greentic/gsm-gateway/internal/tenant"
)

// Resolver looks up opaque credential material by a hierarchical URI
// keyed on tenant context plus a logical name (e.g. "bot_token",
// "signing_secret"). Implementations are supplied externally; this
// package consumes only the interface.
type Resolver interface {
	Resolve(ctx context.Context, tctx tenant.Context, platform, name string) (string, error)
}

// EnvResolver is a development-only Resolver that reads
// GSM_SECRET_{TENANT}_{PLATFORM}_{NAME} from the process environment,
// normalised to uppercase with non-alphanumerics mapped to underscore.
// Production deployments must supply their own Resolver.
type EnvResolver struct{}

func NewEnvResolver() EnvResolver { return EnvResolver{} }

func (EnvResolver) Resolve(_ context.Context, tctx tenant.Context, platform, name string) (string, error) {
	key := envKey(tctx.Tenant, platform, name)
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("secrets: no value for %s", key)
	}
	return v, nil
}

func envKey(tenant, platform, name string) string {
	parts := []string{"GSM_SECRET", tenant, platform, name}
	joined := strings.ToUpper(strings.Join(parts, "_"))
	var b strings.Builder
	for _, r := range joined {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
