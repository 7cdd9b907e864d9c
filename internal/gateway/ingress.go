package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/idempotency"
	"github.com/greentic/gsm-gateway/internal/observability"
	"github.com/greentic/gsm-gateway/internal/tenant"
)

func formatRetryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// handleIngress implements spec §4.3's algorithm: bounded body read,
// platform resolution, guard rails, msg_id derivation, idempotency
// claim, envelope construction, publish, ack.
//
// Routes: POST /api/{tenant}/{channel} and POST /api/{tenant}/{team}/{channel}
func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, team, platformName, ok := parseIngressPath(r.URL.Path)
	if !ok {
		http.Error(w, "malformed path", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	adapter, ok := s.adapters[platformName]
	if !ok {
		s.respondUnknownPlatform(w)
		return
	}

	if ok, reason := s.runGuardRails(r.Header, body); !ok {
		s.denyGuardRail(w, tenantID, platformName, reason)
		return
	}

	if s.limiter != nil {
		permit := s.limiter.TryAcquire(r.Context(), tenantID)
		if !permit.Granted {
			w.Header().Set("Retry-After", formatRetryAfterSeconds(permit.RetryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
	}

	tctx, err := tenant.New(s.cfg.Env, tenantID, team, "", uuid.NewString())
	if err != nil {
		http.Error(w, "invalid tenant", http.StatusBadRequest)
		return
	}

	creds := s.credentialsFor(r.Context(), tctx, platformName)
	verdict := adapter.VerifyWebhook(r.Header, body, creds)
	if !verdict.Accepted {
		s.logger.Warn("gateway: webhook rejected", "platform", platformName, "tenant", tenantID, "reason", verdict.Reason)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	result := adapter.Normalise(body, tctx)
	if result.Dropped {
		s.recordDrop(platformName, tenantID, result.Reason)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	env := result.Envelope
	if env.MsgID == "" {
		env.MsgID = uuid.NewString()
	}

	// Some platforms' webhooks carry only a message id, not its text
	// (Webex). Adapters that need a second round trip to fill in the
	// envelope implement this optional interface; the gateway calls it
	// between Normalise and the idempotency claim so a resolve failure
	// never reaches the bus as a half-empty envelope.
	if resolver, ok := adapter.(interface {
		ResolveText(ctx context.Context, env *envelope.MessageEnvelope, creds adapters.Credentials) error
	}); ok {
		if err := resolver.ResolveText(r.Context(), env, creds); err != nil {
			s.logger.Error("gateway: failed to resolve message text", "platform", platformName, "tenant", tenantID, "error", err)
			http.Error(w, "upstream fetch failed", http.StatusServiceUnavailable)
			return
		}
	}

	key := idempotency.Key{Tenant: tenantID, Platform: platformName, MsgID: env.MsgID}
	fresh, _, err := s.idemp.ShouldProcess(r.Context(), key, s.cfg.IdempotencyTTL)
	if err != nil {
		http.Error(w, "idempotency store error", http.StatusServiceUnavailable)
		return
	}
	if !fresh {
		if s.metrics != nil {
			s.metrics.RecordIdempotencyHit(tenantID, platformName, string(envelope.StageIngress))
		}
		if s.events != nil {
			s.events.Emit(observability.Event{
				Type:     observability.EventIdempotencyHit,
				Level:    observability.LevelInfo,
				Tenant:   tenantID,
				Platform: platformName,
				Stage:    string(envelope.StageIngress),
				Action:   "duplicate_msg_id",
				Details:  map[string]any{"msg_id": env.MsgID},
			})
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	subj, err := s.cfg.Namer.IngressSubject(s.cfg.Env, tenantID, team, platformName)
	if err != nil {
		http.Error(w, "subject build failed", http.StatusBadRequest)
		return
	}

	data, err := envelope.MarshalBus(env)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}

	if err := s.bus.Publish(r.Context(), subj, data); err != nil {
		s.logger.Error("gateway: publish failed", "subject", subj, "error", err)
		if s.dlqPub != nil {
			entry := buildIngressDLQEntry(tenantID, subj, data, err)
			s.dlqPub.Publish(r.Context(), entry)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordMessage(tenantID, platformName, "ingress", "accepted")
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) respondUnknownPlatform(w http.ResponseWriter) {
	names := make([]string, 0, len(s.adapters))
	for name := range s.adapters {
		names = append(names, name)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":     "unknown channel",
		"available": names,
	})
}

func (s *Server) recordDrop(platform, tenantID, reason string) {
	s.logger.Info("gateway: dropped inbound message at normalisation", "platform", platform, "tenant", tenantID, "reason", reason)
	if s.metrics != nil {
		s.metrics.RecordMessage(tenantID, platform, "ingress", "dropped")
	}
}

// credentialsFor resolves every credential field an adapter might need
// via the secrets resolver, tolerating missing individual secrets
// (e.g. a platform that only needs a signing secret, not a bot token).
func (s *Server) credentialsFor(ctx context.Context, tctx tenant.Context, platform string) adapters.Credentials {
	if s.resolver == nil {
		return adapters.Credentials{}
	}
	lookup := func(name string) string {
		v, err := s.resolver.Resolve(ctx, tctx, platform, name)
		if err != nil {
			return ""
		}
		return v
	}
	return adapters.Credentials{
		BotToken:      lookup("bot_token"),
		SigningSecret: lookup("signing_secret"),
		AppSecret:     lookup("app_secret"),
		VerifyToken:   lookup("verify_token"),
		AccountSID:    lookup("account_sid"),
		AuthToken:     lookup("auth_token"),
	}
}

func buildIngressDLQEntry(tenantID, subj string, data []byte, cause error) envelope.DLQEntry {
	return envelope.DLQEntry{
		Tenant:        tenantID,
		Stage:         envelope.StageIngress,
		Subject:       subj,
		OriginalBytes: data,
		ErrorKind:     "transient",
		ErrorDetail:   cause.Error(),
		AttemptCount:  1,
	}
}

// parseIngressPath extracts {tenant}/{team?}/{channel} from
// /api/{tenant}/{channel} or /api/{tenant}/{team}/{channel}.
func parseIngressPath(path string) (tenantID, team, platform string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/api/")
	if trimmed == path {
		return "", "", "", false
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	switch len(parts) {
	case 2:
		return parts[0], "", parts[1], parts[0] != "" && parts[1] != ""
	case 3:
		return parts[0], parts[1], parts[2], parts[0] != "" && parts[2] != ""
	default:
		return "", "", "", false
	}
}
