// Package observability is the ambient logging/metrics/tracing/event
// stack shared by cmd/gateway, cmd/egress, and cmd/webchat. Nothing here
// is specific to a platform or tenant; domain code calls into it, it
// never calls back into domain code.
package observability
