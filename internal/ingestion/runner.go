package ingestion

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"heimdall/internal/cdc"
)

// ErrSourceClosed is returned by Run when the account feed ends.
var ErrSourceClosed = errors.New("account source closed")

// Runner feeds a live account source into a handler, one update at a time.
type Runner struct {
	source  AccountSource
	handler Handler
	logger  logrus.FieldLogger

	processed int
	rejected  int
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source  AccountSource
	Handler Handler
	Logger  logrus.FieldLogger
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Runner{
		source:  opts.Source,
		handler: opts.Handler,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled, the source closes, or the handler
// returns a fatal error. Non-fatal handler errors are logged and skipped.
func (r *Runner) Run(ctx context.Context) error {
	updates, err := r.source.Subscribe(ctx)
	if err != nil {
		return cdc.New(cdc.KindConnection, "account source", err)
	}

	r.logger.Info("ingestion runner started")

	for {
		select {
		case <-ctx.Done():
			r.logger.WithFields(logrus.Fields{
				"processed": r.processed,
				"rejected":  r.rejected,
			}).Info("ingestion runner stopping")
			return ctx.Err()

		case u, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSourceClosed
			}

			r.processed++
			if err := r.handler.UpdateAccount(ctx, u); err != nil {
				if cdc.KindOf(err).Fatal() {
					return err
				}
				r.rejected++
				r.logger.WithError(err).WithFields(logrus.Fields{
					"account": u.Pubkey.String(),
					"slot":    u.Slot,
				}).Error("account update rejected")
			}
		}
	}
}

// Stats returns the number of updates processed and rejected so far.
// Only meaningful after Run returns.
func (r *Runner) Stats() (processed, rejected int) {
	return r.processed, r.rejected
}
