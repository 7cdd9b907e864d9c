// gateway runs the transport spine's ingress HTTP server: one process
// per deployment, terminating webhooks from every configured platform
// and publishing normalised envelopes onto the bus for the egress
// worker to eventually deliver a response through.
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
	"github.com/greentic/gsm-gateway/internal/gateway"
	"github.com/greentic/gsm-gateway/internal/observability"
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
		Use:   "gateway",
		Short: "Run the ingress gateway HTTP server",
		Long: `Run the ingress gateway: terminates inbound webhooks for every
configured messaging platform, runs guard rails and the idempotency
claim, and publishes normalised envelopes onto the bus.

Configuration is read entirely from the environment; see
internal/config for the full list of recognised variables.`,
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
			fmt.Printf("gateway %s (%s)\n", version, commit)
			return nil
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	shared, err := bootstrap.Build(cfg, "gsm-gateway")
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer shared.Events.Close()
	defer shared.TracerShutdown(context.Background())

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Addr, cfg.Gateway.Port)
	srv := gateway.New(
		gateway.Config{
			Addr: addr,
			Env:  cfg.Env,
			Namer: shared.Namer,
			Guards: gateway.GuardConfig{
				Bearer:     cfg.Guards.Bearer,
				HMACSecret: cfg.Guards.HMACSecret,
				HMACHeader: cfg.Guards.HMACHeader,
			},
		},
		shared.Bus,
		shared.Idemp,
		shared.Limiter,
		shared.Resolver,
		shared.DLQ,
		shared.Adapters,
		shared.Logger,
		shared.Metrics,
		shared.Tracer,
		shared.Events,
	)

	shared.Events.Emit(observability.Event{
		Type:   observability.EventGatewayStartup,
		Level:  observability.LevelInfo,
		Action: "startup",
		Details: map[string]any{"addr": addr},
	})

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("gateway: start: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-runCtx.Done()

	shared.Logger.Info("gateway: shutting down")
	shared.Events.Emit(observability.Event{
		Type:   observability.EventGatewayShutdown,
		Level:  observability.LevelInfo,
		Action: "shutdown",
	})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	srv.Stop(stopCtx)
	return nil
}
