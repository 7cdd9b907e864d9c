package egress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/dlq"
	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/errs"
	"github.com/greentic/gsm-gateway/internal/observability"
	"github.com/greentic/gsm-gateway/internal/ratelimit"
	"github.com/greentic/gsm-gateway/internal/secrets"
	"github.com/greentic/gsm-gateway/internal/subject"
	"github.com/greentic/gsm-gateway/internal/tenant"
)

// Config holds everything Worker needs to subscribe and process.
type Config struct {
	Env             string
	Namer           *subject.Namer
	QueueGroup      string
	MaxAttempts     int
	AdapterOverride string
}

// Worker is the durable, queue-group consumer that drives the flow
// runner and the platform adapter for every OutMessage.
type Worker struct {
	cfg      Config
	bus      bus.Client
	limiter  *ratelimit.Hybrid
	runner   RunnerClient
	dlqPub   *dlq.Publisher
	adapters map[string]adapters.Adapter
	resolver secrets.Resolver
	logger   *slog.Logger
	metrics  *observability.Metrics
	events   *observability.EventLogger
	attempts *attemptTracker
}

// New builds a Worker. adapterSet maps platform identifier to adapter
// implementation, the same set the ingress gateway is wired with.
func New(
	cfg Config,
	busClient bus.Client,
	limiter *ratelimit.Hybrid,
	runner RunnerClient,
	dlqPub *dlq.Publisher,
	adapterSet map[string]adapters.Adapter,
	resolver secrets.Resolver,
	logger *slog.Logger,
	metrics *observability.Metrics,
	events *observability.EventLogger,
) *Worker {
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "egress-workers"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:      cfg,
		bus:      busClient,
		limiter:  limiter,
		runner:   runner,
		dlqPub:   dlqPub,
		adapters: adapterSet,
		resolver: resolver,
		logger:   logger,
		metrics:  metrics,
		events:   events,
		attempts: newAttemptTracker(),
	}
}

// Start begins consuming greentic.messaging.egress.{env}.> as a
// queue-group member; delivery order across chats is not promised, only
// insofar as the underlying bus implementation preserves it.
func (w *Worker) Start(ctx context.Context) (bus.Subscription, error) {
	wildcard := w.cfg.Namer.EgressWildcard(w.cfg.Env)
	sub, err := w.bus.Subscribe(ctx, wildcard, w.cfg.QueueGroup, w.handleDelivery)
	if err != nil {
		return nil, fmt.Errorf("egress: subscribe %s: %w", wildcard, err)
	}
	w.logger.Info("egress: listening", "subject", wildcard, "queue_group", w.cfg.QueueGroup)
	return sub, nil
}

// handleDelivery implements spec §4.4's six steps. It always returns nil
// (acking or naking the delivery itself) so the bus layer never applies
// its own default Nak(0) on top of a decision already made here.
func (w *Worker) handleDelivery(ctx context.Context, d bus.Delivery) error {
	var out envelope.OutMessage
	if err := envelope.UnmarshalBus(d.Data(), &out); err != nil {
		w.dlqAndAck(ctx, d, "", "decode", err, 1)
		return nil
	}
	if err := out.Validate(); err != nil {
		w.dlqAndAck(ctx, d, out.Ctx.Tenant, "decode", err, 1)
		return nil
	}

	tenantID := out.Ctx.Tenant

	if w.limiter != nil {
		permit := w.limiter.TryAcquire(ctx, tenantID)
		if !permit.Granted {
			if w.metrics != nil {
				w.metrics.RecordRateLimitDenial(tenantID, string(out.Platform))
			}
			if w.events != nil {
				w.events.Emit(observability.Event{
					Type:     observability.EventRateLimitDenied,
					Level:    observability.LevelWarn,
					Tenant:   tenantID,
					Platform: string(out.Platform),
					Stage:    "egress",
					Action:   "rate_limit_denied",
				})
			}
			if err := d.Nak(permit.RetryAfter); err != nil {
				w.logger.Warn("egress: nak failed", "error", err)
			}
			return nil
		}
	}

	key := attemptKey(d, out)
	attempt := w.attempts.increment(key)

	adapterName := w.cfg.AdapterOverride
	if adapterName == "" {
		adapterName = string(out.Platform)
	}
	adapter, ok := w.adapters[adapterName]
	if !ok {
		w.attempts.clear(key)
		w.dlqAndAck(ctx, d, tenantID, "permanent", fmt.Errorf("no adapter registered for platform %q", out.Platform), attempt)
		return nil
	}

	start := time.Now()
	result, err := w.runner.Invoke(ctx, out, adapterName)
	if err != nil {
		w.recordRunner(tenantID, string(out.Platform), err, start)
		w.emitEgressFailed(tenantID, string(out.Platform), "runner", err)
		if errs.Classify(err) == errs.KindPermanent {
			w.attempts.clear(key)
			w.dlqAndAck(ctx, d, tenantID, "permanent", err, attempt)
			return nil
		}
		w.retryOrDLQ(ctx, d, key, tenantID, "transient", err, attempt)
		return nil
	}
	w.recordRunner(tenantID, string(out.Platform), nil, start)

	creds := w.credentialsFor(ctx, out.Ctx, adapterName)
	if err := adapter.Deliver(ctx, result, creds); err != nil {
		w.emitEgressFailed(tenantID, string(out.Platform), "deliver", err)
		w.retryOrDLQ(ctx, d, key, tenantID, "transient", err, attempt)
		return nil
	}

	if subj, err := w.cfg.Namer.EgressOutSubject(tenantID, string(out.Platform)); err == nil {
		if data, encErr := envelope.MarshalBus(result); encErr == nil {
			if pubErr := w.bus.Publish(ctx, subj, data); pubErr != nil {
				w.logger.Error("egress: out-subject publish failed", "subject", subj, "error", pubErr)
			}
		}
	}

	w.attempts.clear(key)
	if w.metrics != nil {
		w.metrics.RecordMessage(tenantID, string(out.Platform), "egress", "delivered")
	}
	if w.events != nil {
		w.events.Emit(observability.Event{
			Type:     observability.EventEgressDelivered,
			Level:    observability.LevelInfo,
			Tenant:   tenantID,
			Platform: string(out.Platform),
			Stage:    "egress",
			Action:   "delivered",
		})
	}
	if err := d.Ack(); err != nil {
		w.logger.Warn("egress: ack failed", "error", err)
	}
	return nil
}

// retryOrDLQ implements steps 5/6's threshold branch: below max attempts,
// negative-ack with an exponential delay computed from the attempt
// number; at or above the threshold, DLQ and ack.
func (w *Worker) retryOrDLQ(ctx context.Context, d bus.Delivery, key, tenantID, errorKind string, cause error, attempt int) {
	if attempt >= w.cfg.MaxAttempts {
		w.attempts.clear(key)
		w.dlqAndAck(ctx, d, tenantID, errorKind, cause, attempt)
		return
	}
	w.logger.Warn("egress: delivery failed, retrying", "tenant", tenantID, "attempt", attempt, "error", cause)
	if err := d.Nak(backoffDelay(attempt)); err != nil {
		w.logger.Warn("egress: nak failed", "error", err)
	}
}

// backoffDelay computes the nth exponential back-off interval using
// cenkalti/backoff/v4's ExponentialBackOff generator, keyed off the
// attempt count the worker's own attemptTracker maintains.
func backoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (w *Worker) recordRunner(tenantID, platform string, err error, start time.Time) {
	if w.metrics == nil {
		return
	}
	status := "2xx"
	if err != nil {
		if errs.Classify(err) == errs.KindPermanent {
			status = "4xx"
		} else {
			status = "5xx"
		}
	}
	w.metrics.RecordRunnerRequest(tenantID, platform, status, time.Since(start).Seconds())
}

// emitEgressFailed records a per-attempt delivery failure, distinct
// from the DLQ-write event that only fires once a delivery is finally
// abandoned.
func (w *Worker) emitEgressFailed(tenantID, platform, step string, cause error) {
	if w.events == nil {
		return
	}
	w.events.Emit(observability.Event{
		Type:     observability.EventEgressFailed,
		Level:    observability.LevelWarn,
		Tenant:   tenantID,
		Platform: platform,
		Stage:    "egress",
		Action:   step,
		Error:    cause.Error(),
	})
}

func (w *Worker) dlqAndAck(ctx context.Context, d bus.Delivery, tenantID, errorKind string, cause error, attempt int) {
	if w.dlqPub != nil {
		entry := dlq.BuildEntry(tenantID, envelope.StageEgress, d.Subject(), d.Data(), errorKind, cause.Error(), attempt)
		w.dlqPub.Publish(ctx, entry)
	}
	if w.metrics != nil {
		w.metrics.RecordDLQWrite(tenantID, string(envelope.StageEgress), errorKind)
	}
	w.logger.Error("egress: delivery dead-lettered", "tenant", tenantID, "error_kind", errorKind, "attempt", attempt, "error", cause)
	if err := d.Ack(); err != nil {
		w.logger.Warn("egress: ack failed", "error", err)
	}
}

// credentialsFor mirrors the gateway's per-field secrets lookup so an
// adapter's Deliver call has the same credential set its VerifyWebhook
// call would have had at ingress.
func (w *Worker) credentialsFor(ctx context.Context, tctx tenant.Context, platform string) adapters.Credentials {
	if w.resolver == nil {
		return adapters.Credentials{}
	}
	lookup := func(name string) string {
		v, err := w.resolver.Resolve(ctx, tctx, platform, name)
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
