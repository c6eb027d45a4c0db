// Command stream serves the ListingStream gRPC service. It listens for change
// notifications from Postgres, re-reads the changed rows and fans them out to
// every connected subscriber.
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
	"heimdall/internal/config"
	"heimdall/internal/fanout"
	"heimdall/internal/server"
	"heimdall/internal/storage/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Serve listing and user asset updates over gRPC",
		Long: "Configuration is read from the environment: DATABASE_URL, HEIMDALL_STREAM_ADDR,\n" +
			"HEIMDALL_STREAM_QUEUE_SIZE, HEIMDALL_STREAM_OVERFLOW, HEIMDALL_METRICS_ADDR, HEIMDALL_LOG_LEVEL.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadStream()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logJSON)
		},
	}
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")

	return cmd
}

func run(parent context.Context, cfg *config.Stream, logJSON bool) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := cli.NewLogger(cfg.LogLevel, logJSON)
	if err != nil {
		return err
	}
	overflow, err := fanout.ParseOverflow(cfg.Overflow)
	if err != nil {
		return err
	}

	ctx, done := cli.ShutdownContext(parent, logger)
	defer done()

	cli.StartMetrics(ctx, cfg.MetricsAddr, logger)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.WithMaxConns(int32(cfg.MaxConnections)))
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	bus := changebus.NewPGBus(pool, changebus.PGBusOptions{Logger: logger})
	events, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("listen for changes: %w", err)
	}

	dispatcher := fanout.NewDispatcher(fanout.Options{
		Store:     postgres.NewProjectionStore(pool),
		QueueSize: cfg.QueueSize,
		Overflow:  overflow,
		Logger:    logger,
	})

	srv, err := server.New(server.Options{
		Addr:       cfg.Addr,
		Subscriber: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"addr":       srv.Addr(),
		"queue_size": cfg.QueueSize,
		"overflow":   overflow.String(),
	}).Info("stream service starting")

	errCh := make(chan error, 2)
	go func() {
		errCh <- fmt.Errorf("dispatcher: %w", dispatcher.Run(ctx, events))
	}()
	go func() {
		if err := srv.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
			return
		}
		errCh <- nil
	}()

	err = <-errCh
	done()
	srv.Close()

	if err == nil || errors.Is(err, context.Canceled) {
		logger.Info("stream service stopped")
		return nil
	}
	logger.WithError(err).Error("stream service failed")
	return err
}
