// Package metrics exposes the Prometheus instrumentation surface for the engine.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Registry holds every Prometheus collector the engine updates.
type Registry struct {
	JobsEnqueued   *prometheus.CounterVec
	JobsDropped    *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	QueueDepth     prometheus.Gauge
	CVADuration    *prometheus.HistogramVec
	InsufficientData *prometheus.CounterVec

	LedgerSize        prometheus.Gauge
	OpportunitiesNew  *prometheus.CounterVec
	OpportunitiesMerged *prometheus.CounterVec
	PrunedCollisions  prometheus.Counter
	TradeResults      *prometheus.CounterVec

	logger *zap.Logger
	server *http.Server
}

// New builds and registers the engine's metrics collectors.
func New(logger *zap.Logger) *Registry {
	r := &Registry{
		logger: logger.Named("metrics"),

		JobsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsezone_jobs_enqueued_total",
				Help: "Total number of analysis jobs enqueued, by pair and mode.",
			},
			[]string{"pair", "mode"},
		),
		JobsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsezone_jobs_dropped_total",
				Help: "Total number of jobs dropped because a pair was already in flight.",
			},
			[]string{"pair"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsezone_job_duration_seconds",
				Help:    "Wall-clock duration of a worker processing one job end to end.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"pair", "mode"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulsezone_job_queue_depth",
				Help: "Current number of jobs waiting in the engine's job queue.",
			},
		),
		CVADuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsezone_cva_build_duration_seconds",
				Help:    "Duration of a single CVA histogram build.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"pair"},
		),
		InsufficientData: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsezone_insufficient_data_total",
				Help: "Total number of CVA builds that failed with InsufficientData.",
			},
			[]string{"pair"},
		),
		LedgerSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulsezone_ledger_size",
				Help: "Current number of live opportunities held in the ledger.",
			},
		),
		OpportunitiesNew: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsezone_opportunities_new_total",
				Help: "Total number of brand-new opportunities inserted into the ledger.",
			},
			[]string{"pair", "strategy"},
		),
		OpportunitiesMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsezone_opportunities_merged_total",
				Help: "Total number of opportunities merged into an existing fuzzy match.",
			},
			[]string{"pair", "strategy"},
		),
		PrunedCollisions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsezone_pruned_collisions_total",
				Help: "Total number of opportunities removed by collision pruning.",
			},
		),
		TradeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsezone_trade_results_total",
				Help: "Total number of finalised trade results emitted, by exit reason.",
			},
			[]string{"pair", "exit_reason"},
		),
	}

	prometheus.MustRegister(
		r.JobsEnqueued, r.JobsDropped, r.JobDuration, r.QueueDepth,
		r.CVADuration, r.InsufficientData,
		r.LedgerSize, r.OpportunitiesNew, r.OpportunitiesMerged,
		r.PrunedCollisions, r.TradeResults,
	)

	return r
}

// Serve starts the /metrics and /healthz HTTP endpoints in the background.
func (r *Registry) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.server = &http.Server{Addr: addr, Handler: mux}
	r.logger.Info("starting metrics server", zap.String("addr", addr))

	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the metrics HTTP server.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.server.Shutdown(shutdownCtx)
}
