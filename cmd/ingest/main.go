// Command ingest hosts the heimdall plugin: it loads the plugin configuration,
// replays the current state of every watched account, then feeds live
// account notifications into the plugin until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"heimdall/internal/changebus"
	"heimdall/internal/cli"
	"heimdall/internal/ingestion"
	"heimdall/internal/plugin"
	"heimdall/internal/solana"
	"heimdall/internal/storage/memory"
)

type ingestFlags struct {
	configPath   string
	rpcEndpoint  string
	wsEndpoint   string
	skipSnapshot bool
	useMemory    bool
	concurrency  int
	metricsAddr  string
	logLevel     string
	logJSON      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &ingestFlags{}

	cmd := &cobra.Command{
		Use:          "ingest",
		Short:        "Stream Solana account updates into the heimdall projections",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "Path to the plugin JSON configuration")
	flags.StringVar(&f.rpcEndpoint, "rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	flags.StringVar(&f.wsEndpoint, "ws-endpoint", os.Getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint")
	flags.BoolVar(&f.skipSnapshot, "skip-snapshot", false, "Skip the startup snapshot of watched accounts")
	flags.BoolVar(&f.useMemory, "use-memory", false, "Use in-memory storage instead of PostgreSQL (dry run)")
	flags.IntVar(&f.concurrency, "snapshot-concurrency", 8, "Concurrent RPC calls during the startup snapshot")
	flags.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level")
	flags.BoolVar(&f.logJSON, "log-json", false, "Log as JSON")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func run(parent context.Context, f *ingestFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := cli.NewLogger(f.logLevel, f.logJSON)
	if err != nil {
		return err
	}
	if f.wsEndpoint == "" {
		return errors.New("--ws-endpoint is required")
	}
	if f.rpcEndpoint == "" && !f.skipSnapshot {
		return errors.New("--rpc-endpoint is required unless --skip-snapshot is set")
	}

	ctx, done := cli.ShutdownContext(parent, logger)
	defer done()

	cli.StartMetrics(ctx, f.metricsAddr, logger)

	opts := plugin.Options{Logger: logger}
	if f.useMemory {
		opts.Store = memory.NewProjectionStore()
		opts.Bus = changebus.NewMemoryBus()
		opts.History = memory.NewListingHistoryStore()
		logger.Warn("using in-memory storage, nothing is persisted")
	}

	h := plugin.New(opts)
	if err := h.OnLoad(ctx, f.configPath); err != nil {
		return fmt.Errorf("load plugin: %w", err)
	}
	defer h.OnUnload()

	watch := h.Config().Watch
	logger.WithFields(logrus.Fields{
		"programs": len(watch.ProgramList()),
		"users":    len(watch.UserList()),
	}).Info("plugin loaded")

	if !f.skipSnapshot {
		snap := ingestion.NewSnapshotter(ingestion.SnapshotterOptions{
			RPC:         solana.NewHTTPClient(f.rpcEndpoint),
			Watch:       watch,
			Handler:     h,
			Concurrency: f.concurrency,
			Logger:      logger,
		})
		res, err := snap.Run(ctx)
		if err != nil {
			return fmt.Errorf("startup snapshot: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"slot":           res.Slot,
			"users":          res.Users,
			"token_accounts": res.TokenAccounts,
			"listings":       res.Listings,
			"rejected":       res.Rejected,
			"duration":       res.Duration.String(),
		}).Info("startup snapshot complete")
	}

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Logger = logger
	ws, err := solana.NewWSClient(ctx, f.wsEndpoint, &wsCfg)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source: ingestion.NewWSSource(ingestion.WSSourceOptions{
			WS:     ws,
			Watch:  watch,
			Logger: logger,
		}),
		Handler: h,
		Logger:  logger,
	})

	err = runner.Run(ctx)
	processed, rejected := runner.Stats()
	logger.WithFields(logrus.Fields{"processed": processed, "rejected": rejected}).Info("ingestion stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
