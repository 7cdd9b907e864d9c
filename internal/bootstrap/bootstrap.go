// Package bootstrap wires the shared components every long-running
// process in this repository needs — logging, metrics, tracing, the bus
// client, the idempotency guard, the rate limiter, the DLQ publisher,
// the secrets resolver, and the adapter set discovered from packs — from
// a single loaded Config. cmd/gateway and cmd/egress both call Build
// once at startup; cmd/webchat and cmd/dlq-replay use the individual
// constructors they need directly.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/adapters/local"
	"github.com/greentic/gsm-gateway/internal/adapters/slack"
	"github.com/greentic/gsm-gateway/internal/adapters/teams"
	"github.com/greentic/gsm-gateway/internal/adapters/telegram"
	"github.com/greentic/gsm-gateway/internal/adapters/webex"
	"github.com/greentic/gsm-gateway/internal/adapters/whatsapp"
	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/config"
	"github.com/greentic/gsm-gateway/internal/dlq"
	"github.com/greentic/gsm-gateway/internal/idempotency"
	"github.com/greentic/gsm-gateway/internal/observability"
	"github.com/greentic/gsm-gateway/internal/ratelimit"
	"github.com/greentic/gsm-gateway/internal/registry"
	"github.com/greentic/gsm-gateway/internal/secrets"
	"github.com/greentic/gsm-gateway/internal/subject"
)

// Shared holds every component built from Config that a process needs
// to construct its own server or worker.
type Shared struct {
	Obs            *observability.Logger
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
	TracerShutdown func(context.Context) error
	Events         *observability.EventLogger

	Bus      bus.Client
	Redis    *redis.Client
	Idemp    *idempotency.Guard
	Limiter  *ratelimit.Hybrid
	DLQ      *dlq.Publisher
	Resolver secrets.Resolver
	Adapters map[string]adapters.Adapter
	Namer    *subject.Namer
}

// Build assembles every shared component from cfg. serviceName names the
// process for tracing ("gsm-gateway", "gsm-egress", "gsm-webchat").
func Build(cfg config.Config, serviceName string) (*Shared, error) {
	obs := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	logger := obs.Slog()

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName: serviceName,
		Endpoint:    cfg.Observability.OTELEndpoint,
	})

	busClient, err := NewBus(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: bus: %w", err)
	}

	redisClient := NewRedisClient(cfg.Store.RedisURL)

	var idempStore idempotency.Store
	if redisClient != nil {
		idempStore = idempotency.NewRedisStore(redisClient, cfg.Store.IdempotencyBucket+"/")
	} else {
		idempStore = idempotency.NewInMemoryStore(0)
	}
	idemp := idempotency.NewGuard(idempStore, 10000, 0)

	limiter := ratelimit.NewHybrid(ratelimit.DefaultConfig(), redisClient, cfg.Store.RateLimitBucket+"/", 0)

	adapterSet, err := LoadAdapters(cfg.Packs, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: adapters: %w", err)
	}

	namer := subject.NewNamer(cfg.Bus.IngressPrefix, cfg.Bus.EgressPrefix, cfg.Bus.EgressOutPrefix)

	eventCfg := observability.DefaultEventConfig()
	eventCfg.Enabled = true
	events := observability.NewEventLogger(eventCfg, obs)

	var pgStore *dlq.PostgresStore
	if cfg.Store.DLQPostgresDSN != "" {
		pgStore, err = dlq.NewPostgresStore(cfg.Store.DLQPostgresDSN)
		if err != nil {
			logger.Warn("bootstrap: dlq postgres store unavailable, listing history will be bus-retention-only", "error", err)
		} else if err := pgStore.Migrate(context.Background()); err != nil {
			logger.Warn("bootstrap: dlq postgres migrate failed", "error", err)
		}
	}
	dlqPub := dlq.NewPublisher(busClient, logger, events, pgStore)

	return &Shared{
		Obs:            obs,
		Logger:         logger,
		Metrics:        observability.NewMetrics(),
		Tracer:         tracer,
		TracerShutdown: shutdown,
		Events:         events,
		Bus:            busClient,
		Redis:          redisClient,
		Idemp:          idemp,
		Limiter:        limiter,
		DLQ:            dlqPub,
		Resolver:       secrets.NewEnvResolver(),
		Adapters:       adapterSet,
		Namer:          namer,
	}, nil
}

// NewBus selects a bus.Client backend from cfg.URL: empty selects the
// in-memory bus, "kafka://broker1,broker2" selects the Kafka client.
func NewBus(cfg config.BusConfig) (bus.Client, error) {
	if cfg.URL == "" {
		return bus.NewInMemory(), nil
	}
	if rest, ok := strings.CutPrefix(cfg.URL, "kafka://"); ok {
		brokers := strings.Split(rest, ",")
		return bus.NewKafka(brokers), nil
	}
	return nil, fmt.Errorf("bootstrap: unrecognised BUS_URL scheme %q", cfg.URL)
}

// NewRedisClient builds a redis client from url, or returns nil if url
// is empty — callers fall back to in-memory-only behaviour for the
// idempotency store and rate limiter's shared reconciliation.
func NewRedisClient(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	return redis.NewClient(opts)
}

// providerConstructors maps a pack manifest's provider_type to the
// concrete adapter constructor it selects.
var providerConstructors = map[string]func() adapters.Adapter{
	"slack":    func() adapters.Adapter { return slack.New() },
	"teams":    func() adapters.Adapter { return teams.New() },
	"telegram": func() adapters.Adapter { return telegram.New() },
	"whatsapp": func() adapters.Adapter { return whatsapp.New() },
	"webex":    func() adapters.Adapter { return webex.New() },
	"local":    func() adapters.Adapter { return local.New() },
}

// LoadAdapters discovers pack manifests per cfg and instantiates one
// adapter per distinct platform named by a registered manifest,
// keyed by platform identifier. Platforms with no manifest still get a
// zero-config adapter when their provider_type is one of the six this
// module ships, so a gateway with no packs configured still serves
// every built-in platform — packs exist to add capability/flow
// metadata and third-party platforms, not to gate built-in adapters.
func LoadAdapters(cfg config.PacksConfig, logger *slog.Logger) (map[string]adapters.Adapter, error) {
	reg := registry.New(logger)
	if err := registry.Discover(reg, registry.DiscoverOptions{
		Root:          cfg.Root,
		ExplicitPaths: cfg.ExplicitPaths,
		Strict:        cfg.StrictMode,
	}); err != nil {
		return nil, err
	}

	out := make(map[string]adapters.Adapter)
	for _, m := range reg.All() {
		ctor, ok := providerConstructors[m.ProviderType]
		if !ok {
			logger.Warn("bootstrap: no adapter implementation for provider_type, skipping", "id", m.ID, "provider_type", m.ProviderType)
			continue
		}
		platform := m.Platform
		if platform == "" {
			platform = m.ProviderType
		}
		if _, exists := out[platform]; exists {
			continue
		}
		out[platform] = ctor()
	}

	for name, ctor := range providerConstructors {
		if _, exists := out[name]; !exists {
			out[name] = ctor()
		}
	}
	return out, nil
}
