// dlq-replay runs the dead-letter queue replayer: a durable subscriber
// on replay.{tenant}.{stage} that republishes each entry it receives to
// its original stage's input subject. The entry's attempt_count is
// logged but not carried into the republished message, so the egress
// worker's retry budget starts over for a replayed message. It
// is the operator-facing recovery path for entries written by the
// gateway or egress worker's DLQ publisher.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/greentic/gsm-gateway/internal/bootstrap"
	"github.com/greentic/gsm-gateway/internal/config"
	"github.com/greentic/gsm-gateway/internal/dlq"
	"github.com/greentic/gsm-gateway/internal/observability"
	"github.com/greentic/gsm-gateway/internal/subject"
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
	root := &cobra.Command{
		Use:          "dlq-replay",
		Short:        "Replay dead-lettered messages back to their original stage",
		SilenceUsage: true,
	}
	root.AddCommand(buildRunCmd())
	root.AddCommand(buildListCmd())
	root.AddCommand(buildVersionCmd())
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("dlq-replay %s (%s)\n", version, commit)
			return nil
		},
	}
}

func buildRunCmd() *cobra.Command {
	var tenantID, stage string
	var all bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the replayer, subscribing on one tenant/stage or every replay subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && (tenantID == "" || stage == "") {
				return fmt.Errorf("dlq-replay: either --all or both --tenant and --stage are required")
			}
			return runReplayer(cmd.Context(), tenantID, stage, all)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to replay for")
	cmd.Flags().StringVar(&stage, "stage", "", "stage to replay for (ingress|runner|egress)")
	cmd.Flags().BoolVar(&all, "all", false, "subscribe to replay.> across every tenant and stage")
	return cmd
}

func runReplayer(ctx context.Context, tenantID, stage string, all bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	obs := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	logger := obs.Slog()

	busClient, err := bootstrap.NewBus(cfg.Bus)
	if err != nil {
		return fmt.Errorf("bootstrap: bus: %w", err)
	}
	defer busClient.Close()

	replaySubject := "replay.>"
	if !all {
		var err error
		replaySubject, err = subject.ReplaySubject(tenantID, stage)
		if err != nil {
			return fmt.Errorf("dlq-replay: %w", err)
		}
	}

	eventCfg := observability.DefaultEventConfig()
	eventCfg.Enabled = true
	events := observability.NewEventLogger(eventCfg, obs)
	defer events.Close()

	replayer := dlq.NewReplayer(busClient, logger, events)
	sub, err := replayer.Start(ctx, replaySubject, "dlq-replayer")
	if err != nil {
		return fmt.Errorf("dlq-replay: start: %w", err)
	}
	defer sub.Close()

	logger.Info("dlq-replay: listening", "subject", replaySubject)

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-runCtx.Done()

	logger.Info("dlq-replay: shutting down")
	return nil
}

func buildListCmd() *cobra.Command {
	var tenantID, stage string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered entries from the Postgres listing store (requires DLQ_POSTGRES_DSN)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), tenantID, stage, limit)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "filter by tenant (empty matches every tenant)")
	cmd.Flags().StringVar(&stage, "stage", "", "filter by stage (empty matches every stage)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to return")
	return cmd
}

func runList(ctx context.Context, tenantID, stage string, limit int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Store.DLQPostgresDSN == "" {
		return fmt.Errorf("dlq-replay: DLQ_POSTGRES_DSN is not configured, nothing to list")
	}

	store, err := dlq.NewPostgresStore(cfg.Store.DLQPostgresDSN)
	if err != nil {
		return fmt.Errorf("dlq-replay: %w", err)
	}
	defer store.Close()

	entries, err := store.List(ctx, tenantID, stage, limit)
	if err != nil {
		return fmt.Errorf("dlq-replay: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
