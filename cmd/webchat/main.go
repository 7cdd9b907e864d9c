// webchat runs the standalone Direct Line server: a self-contained
// HTTP + WebSocket process serving token minting, conversation storage,
// and activity streaming for the WebChat platform without depending on
// an external Direct Line service. It shares the ingress bus with
// cmd/gateway so activities posted through it reach the same flow
// runner as every other platform's webhook traffic.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/greentic/gsm-gateway/internal/bootstrap"
	"github.com/greentic/gsm-gateway/internal/config"
	"github.com/greentic/gsm-gateway/internal/observability"
	"github.com/greentic/gsm-gateway/internal/subject"
	"github.com/greentic/gsm-gateway/internal/webchat"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webchat",
		Short: "Run the standalone Direct Line server",
		Long: `Run the WebChat standalone server: mints Direct Line JWTs, stores
conversations and their activity backlogs, and streams new activities to
attached WebSocket subscribers, forwarding posted user activities onto
the same ingress bus subject every other platform publishes to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}
	cmd.AddCommand(buildVersionCmd())
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("webchat %s (%s)\n", version, commit)
			return nil
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	obs := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	logger := obs.Slog()

	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName: "gsm-webchat",
		Endpoint:    cfg.Observability.OTELEndpoint,
	})
	defer tracerShutdown(context.Background())

	busClient, err := bootstrap.NewBus(cfg.Bus)
	if err != nil {
		return fmt.Errorf("bootstrap: bus: %w", err)
	}
	defer busClient.Close()

	namer := subject.NewNamer(cfg.Bus.IngressPrefix, cfg.Bus.EgressPrefix, cfg.Bus.EgressOutPrefix)
	metrics := observability.NewMetrics()

	eventCfg := observability.DefaultEventConfig()
	eventCfg.Enabled = true
	events := observability.NewEventLogger(eventCfg, obs)
	defer events.Close()

	store, err := buildStore(cfg.WebChat)
	if err != nil {
		return fmt.Errorf("bootstrap: webchat store: %w", err)
	}
	defer store.Close()

	addr := fmt.Sprintf("%s:%d", cfg.WebChat.Addr, cfg.WebChat.Port)
	srv := webchat.New(
		webchat.Config{
			Addr:          addr,
			JWTSigningKey: cfg.WebChat.JWTSigningKey,
			TokenTTL:      cfg.WebChat.TokenTTL,
			BacklogCap:    cfg.WebChat.BacklogCap,
			Guards: webchat.GuardConfig{
				Bearer:     cfg.Guards.Bearer,
				HMACSecret: cfg.Guards.HMACSecret,
				HMACHeader: cfg.Guards.HMACHeader,
			},
		},
		store,
		busClient,
		namer,
		logger,
		metrics,
		tracer,
		events,
	)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("webchat: start: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-runCtx.Done()

	logger.Info("webchat: shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	srv.Stop(stopCtx)
	return nil
}

func buildStore(cfg config.WebChatConfig) (webchat.Store, error) {
	if cfg.SQLitePath == "" {
		return webchat.NewMemoryStore(), nil
	}
	return webchat.NewSQLiteStore(cfg.SQLitePath)
}
