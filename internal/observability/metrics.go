// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	UpdatesReceived  *prometheus.CounterVec
	BranchOutcomes   *prometheus.CounterVec
	IngestErrors     *prometheus.CounterVec
	HighestSlotSeen  prometheus.Gauge
	UpdateLatency    prometheus.Histogram
	SnapshotAccounts *prometheus.CounterVec

	// Change bus metrics
	EventsPublished  *prometheus.CounterVec
	EventsReceived   *prometheus.CounterVec
	BusReconnects    prometheus.Counter
	MalformedPayload prometheus.Counter

	// Fan-out metrics
	ActiveSubscribers prometheus.Gauge
	UpdatesDelivered  *prometheus.CounterVec
	UpdatesDropped    *prometheus.CounterVec
	FetchMisses       *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulWrite prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg registers on the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "heimdall"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		UpdatesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "updates_received_total",
			Help:      "Total number of account updates received by schema version",
		}, []string{"version"}),
		BranchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "branch_outcomes_total",
			Help:      "Total number of ingestion branch results by branch and outcome",
		}, []string{"branch", "outcome"}),
		IngestErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "errors_total",
			Help:      "Total number of ingestion errors by kind",
		}, []string{"kind"}),
		HighestSlotSeen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),
		UpdateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "update_latency_seconds",
			Help:      "Time spent handling one account update",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotAccounts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "snapshot_accounts_total",
			Help:      "Total number of accounts replayed by the startup snapshot by source",
		}, []string{"source"}),

		// Change bus metrics
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changebus",
			Name:      "events_published_total",
			Help:      "Total number of change events published by kind",
		}, []string{"kind"}),
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changebus",
			Name:      "events_received_total",
			Help:      "Total number of change events received by kind",
		}, []string{"kind"}),
		BusReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changebus",
			Name:      "reconnects_total",
			Help:      "Total number of listener reconnects",
		}),
		MalformedPayload: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changebus",
			Name:      "malformed_payloads_total",
			Help:      "Total number of notifications dropped for an unparseable payload",
		}),

		// Fan-out metrics
		ActiveSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "active_subscribers",
			Help:      "Current number of registered stream subscribers",
		}),
		UpdatesDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "updates_delivered_total",
			Help:      "Total number of updates queued to subscribers by kind",
		}, []string{"kind"}),
		UpdatesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "updates_dropped_total",
			Help:      "Total number of updates dropped by reason",
		}, []string{"reason"}),
		FetchMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "fetch_misses_total",
			Help:      "Total number of change events whose row could not be re-fetched",
		}, []string{"kind"}),

		// Latency metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulWrite: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_write_timestamp",
			Help:      "Unix timestamp of last committed projection write",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HealthHandler reports liveness on /health.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// NewMux returns a mux serving /metrics and /health.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.Handle("/health", HealthHandler())
	return mux
}

// ServeMetrics serves NewMux on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, logger logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordUpdateReceived counts one account update and tracks the highest slot.
func RecordUpdateReceived(version string, slot uint64) {
	DefaultMetrics.UpdatesReceived.WithLabelValues(version).Inc()
	updateHighestSlot(slot)
}

var highestSlot atomic.Uint64

func updateHighestSlot(slot uint64) {
	for {
		cur := highestSlot.Load()
		if slot <= cur {
			return
		}
		if highestSlot.CompareAndSwap(cur, slot) {
			DefaultMetrics.HighestSlotSeen.Set(float64(slot))
			return
		}
	}
}

// RecordBranch records the outcome of one ingestion branch.
func RecordBranch(branch, outcome string) {
	DefaultMetrics.BranchOutcomes.WithLabelValues(branch, outcome).Inc()
	if outcome == "written" {
		DefaultMetrics.LastSuccessfulWrite.Set(float64(time.Now().Unix()))
	}
}

// RecordIngestError records an ingestion error by kind.
func RecordIngestError(kind string) {
	DefaultMetrics.IngestErrors.WithLabelValues(kind).Inc()
}

// RecordUpdateLatency records the time spent handling one update.
func RecordUpdateLatency(d time.Duration) {
	DefaultMetrics.UpdateLatency.Observe(d.Seconds())
}

// RecordSnapshotAccount counts one account replayed by the startup snapshot.
func RecordSnapshotAccount(source string) {
	DefaultMetrics.SnapshotAccounts.WithLabelValues(source).Inc()
}

// RecordPublished counts a published change event.
func RecordPublished(kind string) {
	DefaultMetrics.EventsPublished.WithLabelValues(kind).Inc()
}

// RecordReceived counts a received change event.
func RecordReceived(kind string) {
	DefaultMetrics.EventsReceived.WithLabelValues(kind).Inc()
}

// RecordBusReconnect counts a listener reconnect.
func RecordBusReconnect() {
	DefaultMetrics.BusReconnects.Inc()
}

// RecordMalformedPayload counts a dropped notification.
func RecordMalformedPayload() {
	DefaultMetrics.MalformedPayload.Inc()
}

// SetActiveSubscribers sets the subscriber gauge.
func SetActiveSubscribers(n int) {
	DefaultMetrics.ActiveSubscribers.Set(float64(n))
}

// RecordDelivered counts an update queued to a subscriber.
func RecordDelivered(kind string) {
	DefaultMetrics.UpdatesDelivered.WithLabelValues(kind).Inc()
}

// RecordDropped counts an update dropped for reason.
func RecordDropped(reason string) {
	DefaultMetrics.UpdatesDropped.WithLabelValues(reason).Inc()
}

// RecordFetchMiss counts a change event whose row was missing.
func RecordFetchMiss(kind string) {
	DefaultMetrics.FetchMisses.WithLabelValues(kind).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
