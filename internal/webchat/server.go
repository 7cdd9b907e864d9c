// Package webchat implements the WebChat/Direct Line standalone server —
// see doc comment in types.go for the package-level summary. This file
// wires the HTTP + WebSocket surface: token minting, conversation
// creation, activity exchange, and streaming.
package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/observability"
	"github.com/greentic/gsm-gateway/internal/ratelimit"
	"github.com/greentic/gsm-gateway/internal/subject"
	"github.com/greentic/gsm-gateway/internal/tenant"
)

// tokenRateLimit is the fixed 5 requests/minute per client IP §4.6
// requires on the token-mint endpoint.
var tokenRateLimit = ratelimit.Config{Rate: 5.0 / 60.0, Burst: 5}

// Config is everything Server needs beyond its collaborators.
type Config struct {
	Addr          string
	PublicBaseURL string // used to build streamUrl; empty derives ws(s):// from the request host
	JWTSigningKey string
	TokenTTL      time.Duration
	BacklogCap    int
	IdleTimeout   time.Duration // conversation expiry after inactivity
	Guards        GuardConfig
}

// GuardConfig gates the admin proactive-post endpoint the same way the
// ingress gateway gates its own admin surface.
type GuardConfig struct {
	Bearer     string
	HMACSecret string
	HMACHeader string
}

// Server is the standalone Direct Line HTTP + WebSocket server.
type Server struct {
	cfg     Config
	store   Store
	issuer  *TokenIssuer
	bus     bus.Client
	namer   *subject.Namer
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	events  *observability.EventLogger

	ipLimiter *ratelimit.Local
	upgrader  websocket.Upgrader

	httpServer   *http.Server
	httpListener net.Listener
}

// New builds a Server. store may be a *MemoryStore or *SQLiteStore
// (or any other Store implementation); bus and namer may be nil, in
// which case posted activities are appended to the conversation only
// and never forwarded onto the ingress bus (used by tests that only
// exercise the Direct Line surface itself).
func New(cfg Config, store Store, busClient bus.Client, namer *subject.Namer, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer, events *observability.EventLogger) *Server {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * time.Minute
	}
	if cfg.BacklogCap <= 0 {
		cfg.BacklogCap = DefaultBacklogCap
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		issuer:    NewTokenIssuer(cfg.JWTSigningKey, cfg.TokenTTL),
		bus:       busClient,
		namer:     namer,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		events:    events,
		ipLimiter: ratelimit.NewLocal(tokenRateLimit),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v3/directline/tokens/generate", s.handleGenerateToken)
	mux.HandleFunc("/v3/directline/conversations", s.handleCreateConversation)
	mux.HandleFunc("/v3/directline/conversations/", s.handleConversationSubroute)
	mux.HandleFunc("/webchat/admin/", s.handleAdminPostActivity)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start begins listening and serving in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("webchat: listen on %s: %w", s.cfg.Addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpListener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webchat: http server error", "error", err)
		}
	}()
	s.logger.Info("webchat: listening", "addr", s.cfg.Addr)
	return nil
}

// Stop gracefully drains in-flight requests (including open WebSocket
// upgrades, which count as in-flight until their handler returns).
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("webchat: shutdown error", "error", err)
	}
	s.httpServer = nil
	s.httpListener = nil
}

// --- tokens/generate ---

type generateTokenRequest struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

type generateTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := clientIP(r)
	if !s.ipLimiter.TryAcquire(ip).Granted {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	q := r.URL.Query()
	env := strings.TrimSpace(q.Get("env"))
	tenantID := strings.TrimSpace(q.Get("tenant"))
	team := strings.TrimSpace(q.Get("team"))
	if env == "" || tenantID == "" {
		http.Error(w, "env and tenant are required", http.StatusBadRequest)
		return
	}

	var body generateTokenRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body) // best-effort; absent/malformed body just skips the subject override
	}
	userSubject := strings.TrimSpace(body.User.ID)
	if userSubject == "" {
		userSubject = "user:" + uuid.NewString()
	}

	claims := TenantClaims{Env: env, Tenant: tenantID, Team: team}
	token, ttl, err := s.issuer.Mint(claims, userSubject)
	if err != nil {
		s.logger.Error("webchat: mint token failed", "error", err)
		http.Error(w, "token signing unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, generateTokenResponse{Token: token, ExpiresIn: int(ttl.Seconds())})
}

// --- conversations ---

type createConversationResponse struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
	StreamURL      string `json:"streamUrl,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, ok := extractBearer(r.Header)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	claims, err := s.issuer.Verify(raw)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if claims.Conv != "" {
		http.Error(w, "token is already conversation-scoped", http.StatusBadRequest)
		return
	}

	convID := uuid.NewString()
	if _, err := s.store.Create(r.Context(), convID, claims.Ctx, s.cfg.BacklogCap); err != nil {
		s.logger.Error("webchat: create conversation failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	convToken, _, err := s.issuer.MintConversation(claims.Ctx, claims.Subject, convID)
	if err != nil {
		s.logger.Error("webchat: mint conversation token failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.ConversationOpened(claims.Ctx.Tenant)
	}
	s.emitEvent(observability.EventIngressReceived, claims.Ctx, "webchat.conversation.created", map[string]any{"conversation_id": convID})

	writeJSON(w, http.StatusOK, createConversationResponse{
		ConversationID: convID,
		Token:          convToken,
		StreamURL:      s.streamURL(r, convID, convToken),
	})
}

func (s *Server) streamURL(r *http.Request, convID, token string) string {
	base := s.cfg.PublicBaseURL
	if base == "" {
		scheme := "ws"
		if r.TLS != nil {
			scheme = "wss"
		}
		base = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return fmt.Sprintf("%s/v3/directline/conversations/%s/stream?t=%s", strings.TrimRight(base, "/"), convID, token)
}

// handleConversationSubroute dispatches /v3/directline/conversations/{id}/{activities|stream}.
func (s *Server) handleConversationSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v3/directline/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "malformed path", http.StatusBadRequest)
		return
	}
	convID, sub := parts[0], parts[1]
	switch sub {
	case "activities":
		if r.Method == http.MethodGet {
			s.handleListActivities(w, r, convID)
			return
		}
		if r.Method == http.MethodPost {
			s.handlePostActivity(w, r, convID)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	case "stream":
		s.handleStream(w, r, convID)
	default:
		http.Error(w, "unknown conversation sub-route", http.StatusNotFound)
	}
}

// authorizeConversation validates the bearer JWT and enforces §4.6's
// binding rule: a present conv claim must equal the URL's conversation
// id, and ctx must match the stored conversation's tenant context.
// Mismatches and missing conversations both yield 403 so a client can't
// distinguish "wrong tenant" from "doesn't exist".
func (s *Server) authorizeConversation(r *http.Request, convID string) (Claims, *Conversation, int) {
	raw, ok := extractBearer(r.Header)
	if !ok {
		return Claims{}, nil, http.StatusUnauthorized
	}
	claims, err := s.issuer.Verify(raw)
	if err != nil {
		return Claims{}, nil, http.StatusUnauthorized
	}
	if claims.Conv != "" && claims.Conv != convID {
		return Claims{}, nil, http.StatusForbidden
	}
	conv, err := s.store.Get(r.Context(), convID)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return Claims{}, nil, http.StatusForbidden
		}
		return Claims{}, nil, http.StatusInternalServerError
	}
	// Lazy inactivity expiry: checked on access rather than via a
	// background sweep, since a conversation nobody is touching costs
	// nothing left in the Active state a little longer than idleTimeout.
	if conv.ExpireIfIdle(s.cfg.IdleTimeout) {
		return Claims{}, nil, http.StatusForbidden
	}
	if !claims.Ctx.Equal(conv.Ctx) {
		return Claims{}, nil, http.StatusForbidden
	}
	return claims, conv, 0
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request, convID string) {
	_, _, status := s.authorizeConversation(r, convID)
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	after, err := parseWatermark(r.URL.Query().Get("watermark"))
	if err != nil {
		http.Error(w, "invalid watermark", http.StatusBadRequest)
		return
	}
	stored, wm, err := s.store.Since(r.Context(), convID, after)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ActivitiesEnvelope{Activities: toActivities(stored), Watermark: strconv.FormatUint(wm, 10)})
}

func (s *Server) handlePostActivity(w http.ResponseWriter, r *http.Request, convID string) {
	claims, _, status := s.authorizeConversation(r, convID)
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	var activity Activity
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&activity); err != nil {
		http.Error(w, "malformed activity", http.StatusBadRequest)
		return
	}
	if activity.From == nil || activity.From.ID == "" {
		activity.From = &ChannelAccount{ID: claims.Subject}
	}

	stored, err := s.store.Append(r.Context(), convID, activity)
	if err != nil {
		switch {
		case errors.Is(err, ErrBacklogFull):
			w.WriteHeader(http.StatusTooManyRequests)
		case errors.Is(err, ErrConversationNotFound):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	s.publishIngress(r.Context(), claims.Ctx, convID, claims.Subject, stored.Activity)

	writeJSON(w, http.StatusCreated, map[string]string{"id": stored.Activity.ID})
}

// publishIngress forwards a user-authored activity onto the ingress bus
// subject the same way any other platform's inbound webhook would,
// giving the flow runner one uniform entry point regardless of channel.
// A publish failure is logged and swallowed — the activity is still
// durably in the conversation backlog and visible to the widget either
// way, so a bus outage degrades WebChat to "the bot doesn't reply" not
// "the user's message vanished".
func (s *Server) publishIngress(ctx context.Context, claims TenantClaims, convID, userID string, activity Activity) {
	if s.bus == nil || s.namer == nil {
		return
	}
	tctx, err := tenant.New(claims.Env, claims.Tenant, claims.Team, userID, "")
	if err != nil {
		s.logger.Warn("webchat: cannot build tenant context for ingress publish", "error", err)
		return
	}
	env := envelope.MessageEnvelope{
		Ctx:       tctx,
		Platform:  envelope.PlatformWebchat,
		ChatID:    convID,
		UserID:    userID,
		MsgID:     activity.ID,
		Text:      activity.Text,
		Metadata:  map[string]string{},
		Timestamp: activity.Timestamp,
	}
	subj, err := s.namer.IngressSubject(claims.Env, claims.Tenant, claims.Team, string(envelope.PlatformWebchat))
	if err != nil {
		s.logger.Warn("webchat: cannot build ingress subject", "error", err)
		return
	}
	data, err := envelope.MarshalBus(env)
	if err != nil {
		s.logger.Warn("webchat: cannot encode envelope", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, subj, data); err != nil {
		s.logger.Warn("webchat: ingress publish failed", "subject", subj, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordMessage(claims.Tenant, string(envelope.PlatformWebchat), "ingress", "accepted")
	}
}

// --- admin proactive post ---

type adminPostActivityRequest struct {
	ConversationID string          `json:"conversation_id"`
	Activity       json.RawMessage `json:"activity"`
}

type adminPostActivityResponse struct {
	Posted int `json:"posted"`
}

// handleAdminPostActivity implements the operator-facing proactive-message
// path (POST /webchat/admin/{env}/{tenant}/post-activity), guarded by the
// same shared-secret rails as the ingress gateway's own admin surface.
func (s *Server) handleAdminPostActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webchat/admin/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "post-activity" {
		http.Error(w, "unknown admin route", http.StatusNotFound)
		return
	}

	body, err := readBounded(w, r, 1<<20)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !verifyBearer(r.Header, s.cfg.Guards.Bearer) || !verifyHMAC(r.Header, body, s.cfg.Guards.HMACSecret, s.cfg.Guards.HMACHeader) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var req adminPostActivityRequest
	if err := json.Unmarshal(body, &req); err != nil || req.ConversationID == "" {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	var activity Activity
	if err := json.Unmarshal(req.Activity, &activity); err != nil {
		http.Error(w, "malformed activity", http.StatusBadRequest)
		return
	}

	stored, err := s.store.Append(r.Context(), req.ConversationID, activity)
	if err != nil {
		switch {
		case errors.Is(err, ErrConversationNotFound):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, ErrBacklogFull):
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	_ = stored
	writeJSON(w, http.StatusOK, adminPostActivityResponse{Posted: 1})
}

func (s *Server) emitEvent(t observability.EventType, ctx TenantClaims, action string, details map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(observability.Event{
		Type:     t,
		Level:    observability.LevelInfo,
		Tenant:   ctx.Tenant,
		Team:     ctx.Team,
		Platform: string(envelope.PlatformWebchat),
		Action:   action,
		Details:  details,
	})
}

// --- helpers ---

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseWatermark(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("webchat: invalid watermark %q: %w", raw, err)
	}
	return v, nil
}

func toActivities(stored []StoredActivity) []Activity {
	out := make([]Activity, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.Activity)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBounded(w http.ResponseWriter, r *http.Request, max int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, max)
	return io.ReadAll(r.Body)
}
