// Package metrics exposes Prometheus collectors for the provider's
// composite storage operations, challenge outcomes, wire-ingestion lag
// and garbage-collection sweeps, served on config.Config.MetricsAddr.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anastasis-sarl/anastasis-provider/internal/authorization"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// Metrics holds the provider's Prometheus collectors, one registry per
// process, mirroring how a single health-logging component owns all of
// a service's gauges and counters.
type Metrics struct {
	registry *prometheus.Registry

	serializableRetries prometheus.Counter
	serializableGiveups prometheus.Counter

	challengeOutcomes *prometheus.CounterVec

	ingesterLagSeconds prometheus.Gauge
	ingesterBatchRows  prometheus.Counter

	gcAccountsExpired         prometheus.Counter
	gcTruthsExpired           prometheus.Counter
	gcRecdocPaymentsExpired   prometheus.Counter
	gcChallengePaymentsExpired prometheus.Counter
	gcChallengeCodesExpired   prometheus.Counter
	gcSweepDuration           prometheus.Histogram
}

// New builds a Metrics and registers all of its collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{registry: reg}

	m.serializableRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anastasis_storage_serializable_retries_total",
		Help: "Number of SERIALIZABLE transaction attempts that hit a conflict and were retried",
	})
	m.serializableGiveups = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anastasis_storage_serializable_giveups_total",
		Help: "Number of composite storage operations that exhausted their retry budget",
	})

	m.challengeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anastasis_challenge_outcomes_total",
		Help: "Challenge-authorization process outcomes by result and method",
	}, []string{"result", "method"})

	m.ingesterLagSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anastasis_ingester_lag_seconds",
		Help: "Seconds since the most recently ingested wire-transfer record was posted",
	})
	m.ingesterBatchRows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anastasis_ingester_rows_total",
		Help: "Total inbound wire-transfer rows ingested",
	})

	m.gcAccountsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anastasis_gc_accounts_expired_total",
		Help: "Accounts removed by garbage collection",
	})
	m.gcTruthsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anastasis_gc_truths_expired_total",
		Help: "Truths removed by garbage collection",
	})
	m.gcRecdocPaymentsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anastasis_gc_recdoc_payments_expired_total",
		Help: "Unpaid recovery-document payment records removed by garbage collection",
	})
	m.gcChallengePaymentsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anastasis_gc_challenge_payments_expired_total",
		Help: "Unpaid or refunded challenge payment records removed by garbage collection",
	})
	m.gcChallengeCodesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anastasis_gc_challenge_codes_expired_total",
		Help: "Expired challenge codes removed by garbage collection",
	})
	m.gcSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "anastasis_gc_sweep_duration_seconds",
		Help:    "Wall-clock duration of a single garbage-collection sweep",
		Buckets: prometheus.DefBuckets,
	})

	reg.MustRegister(
		m.serializableRetries,
		m.serializableGiveups,
		m.challengeOutcomes,
		m.ingesterLagSeconds,
		m.ingesterBatchRows,
		m.gcAccountsExpired,
		m.gcTruthsExpired,
		m.gcRecdocPaymentsExpired,
		m.gcChallengePaymentsExpired,
		m.gcChallengeCodesExpired,
		m.gcSweepDuration,
	)

	return m
}

// ObserveSerializableRetry records one retried SERIALIZABLE attempt.
func (m *Metrics) ObserveSerializableRetry() { m.serializableRetries.Inc() }

// ObserveSerializableGiveup records one composite operation that never
// committed after exhausting its retry budget.
func (m *Metrics) ObserveSerializableGiveup() { m.serializableGiveups.Inc() }

// RetryObserver adapts m into a storage.RetryObserver, for wiring via
// storage.SetRetryObserver at process startup.
func (m *Metrics) RetryObserver() storage.RetryObserver {
	return storage.RetryObserver{
		OnRetry:  m.ObserveSerializableRetry,
		OnGiveup: m.ObserveSerializableGiveup,
	}
}

// ObserveChallengeOutcome records one challenge-authorization Process
// result for the given method name.
func (m *Metrics) ObserveChallengeOutcome(result authorization.ProcessResult, method string) {
	m.challengeOutcomes.WithLabelValues(result.String(), method).Inc()
}

// ObserveIngestedRow records one newly ingested wire-transfer row and
// refreshes the lag gauge against the row's own booking time.
func (m *Metrics) ObserveIngestedRow(bookedAt time.Time) {
	m.ingesterBatchRows.Inc()
	m.ingesterLagSeconds.Set(time.Since(bookedAt).Seconds())
}

// ObserveGCResult records one gc sweep's result and how long it took.
func (m *Metrics) ObserveGCResult(result storage.GCResult, duration time.Duration) {
	m.gcAccountsExpired.Add(float64(result.AccountsExpired))
	m.gcTruthsExpired.Add(float64(result.TruthsExpired))
	m.gcRecdocPaymentsExpired.Add(float64(result.RecdocPaymentsExpired))
	m.gcChallengePaymentsExpired.Add(float64(result.ChallengePaymentsExpired))
	m.gcChallengeCodesExpired.Add(float64(result.ChallengeCodesExpired))
	m.gcSweepDuration.Observe(duration.Seconds())
}

// Serve starts a dedicated HTTP server exposing /metrics on addr,
// shutting down when ctx is cancelled. It runs in the caller's
// goroutine; callers that want a background server should invoke it
// with `go`.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(log.Writer(), "[metrics] ", log.LstdFlags)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Printf("shutting down metrics server on %s", addr)
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
