// Package subject is the single module through which every bus subject
// string in this repository is produced. Raw string concatenation of
// subjects anywhere else is forbidden — components call these functions
// so the whole system agrees on routing strings.
package subject

import (
	"fmt"
	"strings"
)

const (
	// DefaultIngressPrefix is used when INGRESS_PREFIX is unset.
	DefaultIngressPrefix = "greentic.messaging.ingress"
	// DefaultEgressPrefix is used for the egress input wildcard when
	// EGRESS_SUBJECT is unset.
	DefaultEgressPrefix = "greentic.messaging.egress"
	// DefaultEgressOutPrefix is used when EGRESS_OUT_PREFIX is unset.
	DefaultEgressOutPrefix = "greentic.messaging.egress.out"

	dlqPrefix    = "dlq"
	replayPrefix = "replay"

	defaultTeam = "default"
)

// Namer produces subject strings with configurable prefixes. The zero
// value uses the package defaults.
type Namer struct {
	IngressPrefix   string
	EgressPrefix    string
	EgressOutPrefix string
}

// NewNamer builds a Namer, substituting package defaults for empty prefixes.
func NewNamer(ingressPrefix, egressPrefix, egressOutPrefix string) *Namer {
	n := &Namer{
		IngressPrefix:   ingressPrefix,
		EgressPrefix:    egressPrefix,
		EgressOutPrefix: egressOutPrefix,
	}
	if n.IngressPrefix == "" {
		n.IngressPrefix = DefaultIngressPrefix
	}
	if n.EgressPrefix == "" {
		n.EgressPrefix = DefaultEgressPrefix
	}
	if n.EgressOutPrefix == "" {
		n.EgressOutPrefix = DefaultEgressOutPrefix
	}
	return n
}

// norm sanitises a subject component: NATS-style subject tokens cannot
// contain whitespace or the wildcard/separator characters "*", ">", "/",
// ".". Those are replaced with "-"; a component that is empty after
// trimming is rejected by the caller (env and team are the exceptions:
// env defaults to "dev" and team to "default" — see IngressSubject).
func norm(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '*', '>', '/', '.':
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IngressSubject builds greentic.messaging.ingress.{env}.{tenant}.{team}.{platform}.
// Empty tenant is rejected (a subject namer called with empty tenant is a
// bug, per the design notes, not an operational failure). Empty team is
// replaced by the literal "default".
func (n *Namer) IngressSubject(env, tenant, team, platform string) (string, error) {
	env = requireNonEmpty(norm(env), "dev")
	tenant = norm(tenant)
	if tenant == "" {
		return "", fmt.Errorf("subject: tenant must not be empty")
	}
	platform = norm(platform)
	if platform == "" {
		return "", fmt.Errorf("subject: platform must not be empty")
	}
	team = norm(team)
	if team == "" {
		team = defaultTeam
	}
	return fmt.Sprintf("%s.%s.%s.%s.%s", n.IngressPrefix, env, tenant, team, platform), nil
}

// EgressWildcard builds the wildcard the egress worker's durable consumer
// filters on: greentic.messaging.egress.{env}.>
func (n *Namer) EgressWildcard(env string) string {
	env = requireNonEmpty(norm(env), "dev")
	return fmt.Sprintf("%s.%s.>", n.EgressPrefix, env)
}

// EgressSubject builds a concrete egress input subject for a single
// tenant/platform, used by producers publishing OutMessages for the
// egress worker to consume.
func (n *Namer) EgressSubject(env, tenant, platform string) (string, error) {
	env = requireNonEmpty(norm(env), "dev")
	tenant = norm(tenant)
	if tenant == "" {
		return "", fmt.Errorf("subject: tenant must not be empty")
	}
	platform = norm(platform)
	if platform == "" {
		return "", fmt.Errorf("subject: platform must not be empty")
	}
	return fmt.Sprintf("%s.%s.%s.%s", n.EgressPrefix, env, tenant, platform), nil
}

// EgressOutSubject builds greentic.messaging.egress.out.{tenant}.{platform},
// the post-runner result subject.
func (n *Namer) EgressOutSubject(tenant, platform string) (string, error) {
	tenant = norm(tenant)
	if tenant == "" {
		return "", fmt.Errorf("subject: tenant must not be empty")
	}
	platform = norm(platform)
	if platform == "" {
		return "", fmt.Errorf("subject: platform must not be empty")
	}
	return fmt.Sprintf("%s.%s.%s", n.EgressOutPrefix, tenant, platform), nil
}

// DLQSubject builds dlq.{tenant}.{stage}.
func DLQSubject(tenant, stage string) (string, error) {
	tenant = norm(tenant)
	if tenant == "" {
		return "", fmt.Errorf("subject: tenant must not be empty")
	}
	stage = norm(stage)
	if stage == "" {
		return "", fmt.Errorf("subject: stage must not be empty")
	}
	return fmt.Sprintf("%s.%s.%s", dlqPrefix, tenant, stage), nil
}

// ReplaySubject builds replay.{tenant}.{stage}.
func ReplaySubject(tenant, stage string) (string, error) {
	tenant = norm(tenant)
	if tenant == "" {
		return "", fmt.Errorf("subject: tenant must not be empty")
	}
	stage = norm(stage)
	if stage == "" {
		return "", fmt.Errorf("subject: stage must not be empty")
	}
	return fmt.Sprintf("%s.%s.%s", replayPrefix, tenant, stage), nil
}

// ParsedIngress is the result of parsing an ingress subject back into its
// components, used by the subject round-trip property test.
type ParsedIngress struct {
	Env, Tenant, Team, Platform string
}

// ParseIngress inverts IngressSubject for a given prefix.
func (n *Namer) ParseIngress(subj string) (ParsedIngress, bool) {
	prefix := n.IngressPrefix + "."
	if !strings.HasPrefix(subj, prefix) {
		return ParsedIngress{}, false
	}
	rest := strings.TrimPrefix(subj, prefix)
	parts := strings.Split(rest, ".")
	if len(parts) != 4 {
		return ParsedIngress{}, false
	}
	return ParsedIngress{Env: parts[0], Tenant: parts[1], Team: parts[2], Platform: parts[3]}, true
}

func requireNonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
