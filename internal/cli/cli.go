// Package cli holds the process plumbing shared by the binaries: logger
// setup, signal handling and the metrics endpoint.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"heimdall/internal/observability"
)

// ShutdownTimeout bounds graceful shutdown after the first signal.
const ShutdownTimeout = 30 * time.Second

// NewLogger builds a logrus logger writing to stderr.
func NewLogger(level string, jsonFormat bool) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(lvl)
	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM. A second
// signal, or ShutdownTimeout elapsing before done is called, exits the process.
func ShutdownContext(parent context.Context, logger logrus.FieldLogger) (ctx context.Context, done func()) {
	ctx, cancel := context.WithCancel(parent)
	finished := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("shutting down")
			cancel()
		case <-finished:
			signal.Stop(sigCh)
			return
		}

		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Error("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(ShutdownTimeout):
			logger.Errorf("graceful shutdown timed out after %s, forcing exit", ShutdownTimeout)
			os.Exit(1)
		case <-finished:
		}
		signal.Stop(sigCh)
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			close(finished)
			cancel()
		})
	}
}

// StartMetrics serves /metrics and /health on addr in the background.
// An empty addr disables the endpoint.
func StartMetrics(ctx context.Context, addr string, logger logrus.FieldLogger) {
	if addr == "" {
		return
	}
	go func() {
		if err := observability.ServeMetrics(ctx, addr, logger); err != nil {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
}
