// egress runs the durable queue-group worker that drives the external
// flow runner and the platform adapters: one process per deployment,
// consuming OutMessages published onto the egress wildcard subject.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/greentic/gsm-gateway/internal/bootstrap"
	"github.com/greentic/gsm-gateway/internal/config"
	"github.com/greentic/gsm-gateway/internal/egress"
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
		Use:   "egress",
		Short: "Run the egress worker",
		Long: `Run the egress worker: a durable, queue-group consumer that decodes
each OutMessage, acquires a rate-limit permit, invokes the external flow
runner, delivers the result through the matching platform adapter, and
publishes an audit copy to the per-platform out subject.`,
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
			fmt.Printf("egress %s (%s)\n", version, commit)
			return nil
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	shared, err := bootstrap.Build(cfg, "gsm-egress")
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer shared.Events.Close()
	defer shared.TracerShutdown(context.Background())

	runner := newRunnerClient(cfg, shared.Logger)

	worker := egress.New(
		egress.Config{
			Env:             cfg.Env,
			Namer:           shared.Namer,
			MaxAttempts:     cfg.Egress.MaxAttempts,
			AdapterOverride: cfg.Egress.Adapter,
		},
		shared.Bus,
		shared.Limiter,
		runner,
		shared.DLQ,
		shared.Adapters,
		shared.Resolver,
		shared.Logger,
		shared.Metrics,
		shared.Events,
	)

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sub, err := worker.Start(runCtx)
	if err != nil {
		return fmt.Errorf("egress: start: %w", err)
	}

	<-runCtx.Done()
	shared.Logger.Info("egress: shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = stopCtx
	return sub.Close()
}

func newRunnerClient(cfg config.Config, logger *slog.Logger) egress.RunnerClient {
	if cfg.Egress.RunnerURL == "" {
		return egress.NewLoggingRunnerClient(logger)
	}
	return egress.NewHTTPRunnerClient(cfg.Egress.RunnerURL, cfg.Egress.RunnerAPIKey, cfg.Egress.InvokeTimeout, logger)
}
