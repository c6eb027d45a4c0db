package changebus

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"heimdall/internal/domain"
	"heimdall/internal/observability"
	"heimdall/internal/storage/postgres"
)

// PGBusOptions configures a PGBus.
type PGBusOptions struct {
	Logger            logrus.FieldLogger
	BufferSize        int           // Default: 256
	ReconnectDelay    time.Duration // Default: 500ms
	MaxReconnectDelay time.Duration // Default: 30s
	ReconnectAttempts uint          // Default: 10, 0 keeps the default
}

// PGBus is a Bus over Postgres LISTEN/NOTIFY.
type PGBus struct {
	pool   *postgres.Pool
	logger logrus.FieldLogger

	bufferSize        int
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	reconnectAttempts uint
}

// NewPGBus creates a bus that publishes and listens through pool.
func NewPGBus(pool *postgres.Pool, opts PGBusOptions) *PGBus {
	b := &PGBus{
		pool:              pool,
		logger:            opts.Logger,
		bufferSize:        opts.BufferSize,
		reconnectDelay:    opts.ReconnectDelay,
		maxReconnectDelay: opts.MaxReconnectDelay,
		reconnectAttempts: opts.ReconnectAttempts,
	}
	if b.logger == nil {
		b.logger = logrus.StandardLogger()
	}
	if b.bufferSize <= 0 {
		b.bufferSize = 256
	}
	if b.reconnectDelay <= 0 {
		b.reconnectDelay = 500 * time.Millisecond
	}
	if b.maxReconnectDelay <= 0 {
		b.maxReconnectDelay = 30 * time.Second
	}
	if b.reconnectAttempts == 0 {
		b.reconnectAttempts = 10
	}
	return b
}

var _ Bus = (*PGBus)(nil)

// Publish issues pg_notify on the channel for ev.Kind.
func (b *PGBus) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	channel, body, err := EncodePayload(ev)
	if err != nil {
		return err
	}

	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, body); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}

	observability.RecordPublished(ev.Kind.String())
	return nil
}

// Subscribe opens a dedicated listening connection. A lost connection is
// re-established with exponential backoff; notifications sent while it is
// down are not replayed.
func (b *PGBus) Subscribe(ctx context.Context) (<-chan domain.ChangeEvent, error) {
	conn, err := b.listen(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.ChangeEvent, b.bufferSize)
	go b.run(ctx, conn, out)
	return out, nil
}

// listen takes a connection out of the pool and LISTENs on both channels.
func (b *PGBus) listen(ctx context.Context) (*pgx.Conn, error) {
	pooled, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener connection: %w", err)
	}
	conn := pooled.Hijack()

	for _, channel := range []string{ListingChannel, UserChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			_ = conn.Close(context.Background())
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
	}
	return conn, nil
}

func (b *PGBus) reconnect(ctx context.Context) (*pgx.Conn, error) {
	return retry.DoWithData(
		func() (*pgx.Conn, error) {
			return b.listen(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(b.reconnectAttempts),
		retry.Delay(b.reconnectDelay),
		retry.MaxDelay(b.maxReconnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			b.logger.WithError(err).WithField("attempt", n+1).Warn("change bus reconnect failed")
		}),
	)
}

func (b *PGBus) run(ctx context.Context, conn *pgx.Conn, out chan<- domain.ChangeEvent) {
	defer close(out)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			b.logger.WithError(err).Warn("change bus connection lost, reconnecting")
			_ = conn.Close(context.Background())
			conn = nil
			observability.RecordBusReconnect()

			conn, err = b.reconnect(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.WithError(err).Error("change bus reconnect gave up")
				}
				return
			}
			b.logger.Info("change bus listener reconnected")
			continue
		}

		ev, err := DecodePayload(n.Channel, n.Payload)
		if err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{
				"channel": n.Channel,
				"payload": n.Payload,
			}).Warn("dropping change notification")
			observability.RecordMalformedPayload()
			continue
		}
		observability.RecordReceived(ev.Kind.String())

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
