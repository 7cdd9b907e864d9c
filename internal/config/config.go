// Package config loads process configuration from environment variables
// into one struct per concern (gateway, egress, webchat, observability).
// Every process (cmd/gateway, cmd/egress, cmd/webchat) calls Load once at
// startup and shares the resulting Config read-only thereafter — no
// process re-reads the environment after boot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full set of recognised process configuration options.
type Config struct {
	Env string

	Bus       BusConfig
	Gateway   GatewayConfig
	Egress    EgressConfig
	Packs     PacksConfig
	Guards    GuardConfig
	Store     StoreConfig
	WebChat   WebChatConfig
	Observability ObservabilityConfig
}

// BusConfig configures the bus client and subject prefixes. URL selects
// the backend: empty selects the in-memory bus (dev/single-process),
// "kafka://broker1:9092,broker2:9092" selects the Kafka-backed client.
type BusConfig struct {
	URL             string
	IngressPrefix   string
	EgressPrefix    string
	EgressOutPrefix string
}

// GatewayConfig configures the ingress HTTP server.
type GatewayConfig struct {
	Addr string
	Port int
}

// EgressConfig configures the egress worker.
type EgressConfig struct {
	Subject       string
	Adapter       string
	RunnerURL     string
	RunnerAPIKey  string
	InvokeTimeout time.Duration
	MaxAttempts   int
}

// PacksConfig configures adapter pack discovery.
type PacksConfig struct {
	Root       string
	ExplicitPaths []string
	StrictMode bool
}

// GuardConfig configures the ingress gateway's guard rails.
type GuardConfig struct {
	Bearer     string
	HMACSecret string
	HMACHeader string
}

// StoreConfig configures the idempotency and rate-limit KV buckets.
type StoreConfig struct {
	RedisURL           string
	IdempotencyBucket  string
	RateLimitBucket    string
	DLQPostgresDSN     string
}

// WebChatConfig configures the Direct Line standalone server.
type WebChatConfig struct {
	Addr           string
	Port           int
	JWTSigningKey  string
	TokenTTL       time.Duration
	BacklogCap     int
	SQLitePath     string
}

// ObservabilityConfig configures logging/metrics/tracing.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	OTELEndpoint string
	MetricsAddr string
}

// Load reads every recognised environment variable and applies the
// defaults from the external interfaces table. It never re-reads the
// environment after returning.
func Load() (Config, error) {
	cfg := Config{
		Env: getenv("ENV", "dev"),
		Bus: BusConfig{
			URL:             getenv("BUS_URL", ""),
			IngressPrefix:   getenv("INGRESS_PREFIX", "greentic.messaging.ingress"),
			EgressPrefix:    getenv("EGRESS_SUBJECT_PREFIX", "greentic.messaging.egress"),
			EgressOutPrefix: getenv("EGRESS_OUT_PREFIX", "greentic.messaging.egress.out"),
		},
		Gateway: GatewayConfig{
			Addr: getenv("GATEWAY_ADDR", "0.0.0.0"),
			Port: getenvInt("GATEWAY_PORT", 8080),
		},
		Egress: EgressConfig{
			Subject:       getenv("EGRESS_SUBJECT", ""),
			Adapter:       getenv("EGRESS_ADAPTER", ""),
			RunnerURL:     getenv("RUNNER_HTTP_URL", ""),
			RunnerAPIKey:  getenv("RUNNER_HTTP_API_KEY", ""),
			InvokeTimeout: getenvDuration("RUNNER_HTTP_TIMEOUT", 10*time.Second),
			MaxAttempts:   getenvInt("EGRESS_MAX_ATTEMPTS", 5),
		},
		Packs: PacksConfig{
			Root:          getenv("PACKS_ROOT", ""),
			ExplicitPaths: splitNonEmpty(getenv("ADAPTER_PACK_PATHS", ""), ","),
			StrictMode:    getenvBool("PACKS_STRICT", false),
		},
		Guards: GuardConfig{
			Bearer:     getenv("INGRESS_BEARER", ""),
			HMACSecret: getenv("INGRESS_HMAC_SECRET", ""),
			HMACHeader: getenv("INGRESS_HMAC_HEADER", "X-Signature"),
		},
		Store: StoreConfig{
			RedisURL:          getenv("REDIS_URL", ""),
			IdempotencyBucket: getenv("IDEMPOTENCY_BUCKET", "idempotency"),
			RateLimitBucket:   getenv("RATE_LIMIT_BUCKET", "rate-limit"),
			DLQPostgresDSN:    getenv("DLQ_POSTGRES_DSN", ""),
		},
		WebChat: WebChatConfig{
			Addr:          getenv("WEBCHAT_ADDR", "0.0.0.0"),
			Port:          getenvInt("WEBCHAT_PORT", 8090),
			JWTSigningKey: getenv("WEBCHAT_JWT_SIGNING_KEY", ""),
			TokenTTL:      getenvDuration("WEBCHAT_TOKEN_TTL", 30*time.Minute),
			BacklogCap:    getenvInt("WEBCHAT_BACKLOG_CAP", 500),
			SQLitePath:    getenv("WEBCHAT_SQLITE_PATH", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:     getenv("LOG_LEVEL", "info"),
			LogFormat:    getenv("LOG_FORMAT", "json"),
			OTELEndpoint: getenv("OTEL_ENDPOINT", ""),
			MetricsAddr:  getenv("METRICS_ADDR", ":9090"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate enforces the invariants Load's callers rely on: a fatal
// configuration error here maps to exit code 1.
func (c Config) validate() error {
	if strings.TrimSpace(c.Env) == "" {
		return fmt.Errorf("config: ENV must not be empty")
	}
	if c.WebChat.Port == c.Gateway.Port {
		return fmt.Errorf("config: GATEWAY_PORT and WEBCHAT_PORT must differ")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
