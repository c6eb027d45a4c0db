// Package plugin exposes the ingestion pipeline through the host lifecycle:
// load once, receive account updates, unload.
package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"heimdall/internal/cdc"
	"heimdall/internal/changebus"
	"heimdall/internal/config"
	"heimdall/internal/domain"
	"heimdall/internal/ingestion"
	"heimdall/internal/storage"
	chstore "heimdall/internal/storage/clickhouse"
	"heimdall/internal/storage/migrations"
	"heimdall/internal/storage/postgres"
)

// Name is the plugin name reported to the host.
const Name = "heimdall"

// ErrNotLoaded is returned by UpdateAccount before a successful OnLoad.
var ErrNotLoaded = errors.New("plugin not loaded")

// Heimdall owns the store connections and the ingestion filter.
type Heimdall struct {
	logger logrus.FieldLogger

	// Injected dependencies; when Store is nil OnLoad connects to Postgres.
	store   storage.ProjectionStore
	bus     changebus.Bus
	history storage.ListingHistoryStore

	cfg    *config.Plugin
	pool   *postgres.Pool
	chConn *chstore.Conn
	filter *ingestion.Filter
}

// Options contains configuration for creating a Heimdall plugin.
type Options struct {
	Logger  logrus.FieldLogger
	Store   storage.ProjectionStore     // Optional, replaces Postgres
	Bus     changebus.Bus               // Optional, replaces pg_notify
	History storage.ListingHistoryStore // Optional, replaces ClickHouse
}

// New creates an unloaded plugin.
func New(opts Options) *Heimdall {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Heimdall{
		logger:  logger,
		store:   opts.Store,
		bus:     opts.Bus,
		history: opts.History,
	}
}

// Name returns the plugin name.
func (h *Heimdall) Name() string {
	return Name
}

// Config returns the loaded configuration, or nil before OnLoad.
func (h *Heimdall) Config() *config.Plugin {
	return h.cfg
}

// OnLoad reads the configuration file, connects to the stores and applies
// migrations. Every returned error is fatal for the host.
func (h *Heimdall) OnLoad(ctx context.Context, configPath string) error {
	cfg, err := config.LoadPlugin(configPath)
	if err != nil {
		return err
	}
	for _, user := range cfg.OffCurveUsers() {
		h.logger.WithField("account", user.String()).Warn("tracked user is not an ed25519 key; it cannot own a wallet")
	}

	if h.store == nil {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.WithMaxConns(int32(cfg.MaxConnections)))
		if err != nil {
			return cdc.New(cdc.KindConnection, "postgres", err)
		}
		h.pool = pool

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			h.OnUnload()
			return cdc.New(cdc.KindConnection, "postgres", err)
		}
		if len(applied) > 0 {
			h.logger.WithField("versions", applied).Info("postgres migrations applied")
		}

		h.store = postgres.NewProjectionStore(pool)
		if h.bus == nil {
			h.bus = changebus.NewPGBus(pool, changebus.PGBusOptions{Logger: h.logger})
		}
	}

	if h.history == nil && cfg.ClickhouseURL != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseURL)
		if err != nil {
			h.OnUnload()
			return cdc.New(cdc.KindConnection, "clickhouse", err)
		}
		h.chConn = conn
		h.history = chstore.NewListingHistoryStore(conn)
	}

	h.filter = ingestion.NewFilter(ingestion.FilterOptions{
		Watch:   cfg.Watch,
		Store:   h.store,
		Bus:     h.bus,
		History: h.history,
		Logger:  h.logger,
	})
	h.cfg = cfg

	h.logger.WithFields(logrus.Fields{
		"programs":      cfg.Watch.Programs.Cardinality(),
		"tracked_users": cfg.Watch.TrackedUsers.Cardinality(),
		"history":       h.history != nil,
	}).Info("plugin loaded")
	return nil
}

// UpdateAccount handles one account update from the host.
func (h *Heimdall) UpdateAccount(ctx context.Context, u domain.AccountUpdate) error {
	_, err := h.Report(ctx, u)
	return err
}

// Report handles one account update and returns what each branch did.
func (h *Heimdall) Report(ctx context.Context, u domain.AccountUpdate) (*ingestion.Report, error) {
	if h.filter == nil {
		return nil, ErrNotLoaded
	}
	return h.filter.UpdateAccount(ctx, u)
}

// OnUnload releases every connection opened by OnLoad.
func (h *Heimdall) OnUnload() {
	if h.chConn != nil {
		if err := h.chConn.Close(); err != nil {
			h.logger.WithError(err).Warn("close clickhouse connection")
		}
		h.chConn = nil
	}
	if h.pool != nil {
		h.pool.Close()
		h.pool = nil
	}
	h.filter = nil
}

// String implements fmt.Stringer for log output.
func (h *Heimdall) String() string {
	return fmt.Sprintf("%s(loaded=%t)", Name, h.filter != nil)
}
