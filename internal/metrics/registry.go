// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for the backtest engine.
type Registry struct {
	reg *prometheus.Registry

	// Step duration metrics
	StepDuration *prometheus.HistogramVec

	// Cache performance metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Queue metrics
	Enqueues     *prometheus.CounterVec
	QueueDepth   *prometheus.GaugeVec
	EnqueueFails *prometheus.CounterVec

	// Run metrics
	TickerOutcomes *prometheus.CounterVec
	ActiveWorkers  prometheus.Gauge
	RunsTotal      prometheus.Counter
}

// NewRegistry creates a registry with all engine metrics registered on a
// private Prometheus registry so tests do not collide on the default one.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backcast_step_duration_seconds",
				Help:    "Duration of each engine stage in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"stage", "result"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backcast_cache_hit_ratio",
				Help: "Current OHLCV cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backcast_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backcast_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		Enqueues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backcast_enqueues_total",
				Help: "Total number of result payloads enqueued by queue",
			},
			[]string{"queue"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backcast_queue_depth",
				Help: "Pending items per result queue",
			},
			[]string{"queue"},
		),

		EnqueueFails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backcast_enqueue_failures_total",
				Help: "Total number of failed enqueues by queue",
			},
			[]string{"queue"},
		),

		TickerOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backcast_ticker_outcomes_total",
				Help: "Per-ticker backtest outcomes by status",
			},
			[]string{"status"},
		),

		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backcast_active_workers",
				Help: "Number of ticker workers currently running",
			},
		),

		RunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backcast_runs_total",
				Help: "Total number of backtest runs started",
			},
		),
	}

	r.reg.MustRegister(
		r.StepDuration,
		r.CacheHitRatio,
		r.CacheHits,
		r.CacheMisses,
		r.Enqueues,
		r.QueueDepth,
		r.EnqueueFails,
		r.TickerOutcomes,
		r.ActiveWorkers,
		r.RunsTotal,
	)

	return r
}

// StageTimer tracks execution time for one engine stage.
type StageTimer struct {
	metrics *Registry
	stage   string
	start   time.Time
}

// StartStageTimer begins timing a stage.
func (r *Registry) StartStageTimer(stage string) *StageTimer {
	return &StageTimer{metrics: r, stage: stage, start: time.Now()}
}

// Stop completes the timing and records the observation.
func (st *StageTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.stage, result).Observe(duration.Seconds())

	log.Debug().
		Str("stage", st.stage).
		Str("result", result).
		Dur("duration", duration).
		Msg("stage completed")
}

// RecordCacheHit records a cache hit for the specified cache type.
func (r *Registry) RecordCacheHit(cacheType string) {
	r.CacheHits.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio(cacheType)
}

// RecordCacheMiss records a cache miss for the specified cache type.
func (r *Registry) RecordCacheMiss(cacheType string) {
	r.CacheMisses.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio(cacheType)
}

// RecordEnqueue records an enqueue attempt outcome.
func (r *Registry) RecordEnqueue(queue string, ok bool) {
	if ok {
		r.Enqueues.WithLabelValues(queue).Inc()
		return
	}
	r.EnqueueFails.WithLabelValues(queue).Inc()
}

// RecordTickerOutcome tallies one ticker's run status.
func (r *Registry) RecordTickerOutcome(status string) {
	r.TickerOutcomes.WithLabelValues(status).Inc()
}

func (r *Registry) updateCacheHitRatio(cacheType string) {
	hits := counterValue(r.CacheHits, cacheType)
	misses := counterValue(r.CacheMisses, cacheType)
	if total := hits + misses; total > 0 {
		r.CacheHitRatio.Set(hits / total)
	}
}

func counterValue(vec *prometheus.CounterVec, labels ...string) float64 {
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	var m io_prometheus_client.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Handler returns the HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
