package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"heimdall/internal/cdc"
)

// Overflow policies for slow stream subscribers.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"
)

// Stream is the stream service configuration, read from the environment.
type Stream struct {
	DatabaseURL    string `env:"DATABASE_URL,required"`
	Addr           string `env:"HEIMDALL_STREAM_ADDR" envDefault:"[::1]:50051"`
	QueueSize      int    `env:"HEIMDALL_STREAM_QUEUE_SIZE" envDefault:"100"`
	Overflow       string `env:"HEIMDALL_STREAM_OVERFLOW" envDefault:"drop_oldest"`
	MetricsAddr    string `env:"HEIMDALL_METRICS_ADDR"`
	LogLevel       string `env:"HEIMDALL_LOG_LEVEL" envDefault:"info"`
	MaxConnections int    `env:"HEIMDALL_MAX_CONNECTIONS" envDefault:"5"`
}

// LoadStream parses the stream configuration from the process environment.
func LoadStream() (*Stream, error) {
	return parseStream(env.Options{})
}

func parseStream(opts env.Options) (*Stream, error) {
	var cfg Stream
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, cdc.New(cdc.KindConfig, "environment", fmt.Errorf("parse env: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, cdc.New(cdc.KindConfig, "environment", err)
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Stream) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("HEIMDALL_STREAM_QUEUE_SIZE must be positive, got %d", c.QueueSize)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("HEIMDALL_MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	}
	switch strings.ToLower(c.Overflow) {
	case OverflowDropOldest, OverflowDisconnect:
		c.Overflow = strings.ToLower(c.Overflow)
	default:
		return fmt.Errorf("HEIMDALL_STREAM_OVERFLOW must be %q or %q, got %q", OverflowDropOldest, OverflowDisconnect, c.Overflow)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("HEIMDALL_LOG_LEVEL: %w", err)
	}
	return nil
}
