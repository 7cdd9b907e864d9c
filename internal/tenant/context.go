// Package tenant implements the TenantContext value type and its two
// constructors: New at ingress, and FromEnvelope to lift a previously
// constructed context back out on the egress side. No third constructor
// exists — every envelope that crosses the bus carries a context built
// by exactly one of these two functions.
package tenant

import (
	"regexp"
	"strings"
)

// Context carries {env, tenant, team?, user?, correlation_id?, trace_id?}
// through every envelope. Immutable after ingress creation.
type Context struct {
	Env           string `json:"env"`
	Tenant        string `json:"tenant"`
	Team          string `json:"team,omitempty"`
	User          string `json:"user,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
}

const DefaultEnv = "dev"

var printable = regexp.MustCompile(`^[[:print:]]+$`)

// New is the ingress-side constructor. env defaults to "dev" when empty.
// tenant must be non-empty after trimming. team, if present, is
// sanitised to a non-empty printable string or dropped.
func New(env, tenantID, team, user, correlationID string) (Context, error) {
	env = strings.TrimSpace(env)
	if env == "" {
		env = DefaultEnv
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Context{}, errEmptyTenant
	}
	team = sanitizeTeam(team)
	return Context{
		Env:           env,
		Tenant:        tenantID,
		Team:          team,
		User:          strings.TrimSpace(user),
		CorrelationID: strings.TrimSpace(correlationID),
	}, nil
}

// WithTraceID returns a copy of ctx carrying a trace id, used once a span
// has been started for the request.
func (c Context) WithTraceID(traceID string) Context {
	c.TraceID = traceID
	return c
}

// FromEnvelope lifts a context that was already constructed at ingress
// back into scope on the egress side, without re-deriving any field.
func FromEnvelope(c Context) Context { return c }

func sanitizeTeam(team string) string {
	team = strings.TrimSpace(team)
	if team == "" || !printable.MatchString(team) {
		return ""
	}
	return team
}

type tenantError string

func (e tenantError) Error() string { return string(e) }

const errEmptyTenant = tenantError("tenant: tenant must not be empty")
