// Package metrics exposes the Prometheus surface of the normalization
// pipeline: queue depth per source type, demuxer routing counters,
// processor outcome counters, enrichment latency, sink send outcomes,
// and the auxiliary subsystems (DLQ, circuit breaker, rate limiter).
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	EventsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventnorm_events_routed_total",
			Help: "Total number of raw events routed to a per-source-type queue",
		},
		[]string{"source_type"},
	)

	EventsRawForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventnorm_events_raw_forwarded_total",
			Help: "Total number of raw events forwarded to the raw side-sink (missing or unknown sourceType)",
		},
		[]string{"reason"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventnorm_queue_depth",
			Help: "Current number of events waiting in a source-type queue",
		},
		[]string{"source_type"},
	)

	QueueUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventnorm_queue_utilization",
			Help: "Current utilization of a source-type queue (0.0 to 1.0)",
		},
		[]string{"source_type"},
	)

	ParseFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventnorm_parse_failures_total",
			Help: "Total number of events dropped because the registered parser could not parse them",
		},
		[]string{"source_type"},
	)

	TranslateMissTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventnorm_translate_miss_total",
			Help: "Total number of parsed events for which no translator rule matched",
		},
		[]string{"source_type"},
	)

	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventnorm_events_emitted_total",
			Help: "Total number of events successfully translated and emitted downstream",
		},
		[]string{"source_type"},
	)

	EnrichmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventnorm_enrichment_duration_seconds",
			Help:    "Time spent walking the schema catalog to enrich one event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class_uid"},
	)

	SinkSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventnorm_sink_send_duration_seconds",
			Help:    "Time spent sending one batch to a sink",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink_type"},
	)

	SinkSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventnorm_sink_send_total",
			Help: "Total number of sink send attempts",
		},
		[]string{"sink_type", "status"},
	)

	DLQEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventnorm_dlq_entries",
			Help: "Current number of entries held in the dead letter queue",
		},
		[]string{"reason"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventnorm_circuit_breaker_state",
			Help: "Circuit breaker state per sink: 0=closed, 1=half-open, 2=open",
		},
		[]string{"sink_type"},
	)

	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventnorm_rate_limit_rejected_total",
			Help: "Total number of events rejected by the adaptive rate limiter",
		},
		[]string{"tenant"},
	)

	RuleReloadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventnorm_rule_reload_total",
			Help: "Total number of hot-reload swaps of the rule/schema registries",
		},
		[]string{"status"},
	)
)

// RecordRouted increments the routed counter for one event.
func RecordRouted(sourceType string) {
	EventsRoutedTotal.WithLabelValues(sourceType).Inc()
}

// RecordRawForwarded increments the raw-forward counter, tagged with why
// the event bypassed per-source-type routing.
func RecordRawForwarded(reason string) {
	EventsRawForwardedTotal.WithLabelValues(reason).Inc()
}

// SetQueueStats updates the depth and utilization gauges for one queue.
func SetQueueStats(sourceType string, depth int, capacity int) {
	QueueDepth.WithLabelValues(sourceType).Set(float64(depth))
	if capacity > 0 {
		QueueUtilization.WithLabelValues(sourceType).Set(float64(depth) / float64(capacity))
	}
}

func RecordParseFailure(sourceType string) {
	ParseFailuresTotal.WithLabelValues(sourceType).Inc()
}

func RecordTranslateMiss(sourceType string) {
	TranslateMissTotal.WithLabelValues(sourceType).Inc()
}

func RecordEmitted(sourceType string) {
	EventsEmittedTotal.WithLabelValues(sourceType).Inc()
}

func RecordSinkSend(sinkType string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	SinkSendTotal.WithLabelValues(sinkType, status).Inc()
}

func SetDLQEntries(reason string, count int) {
	DLQEntries.WithLabelValues(reason).Set(float64(count))
}

func SetCircuitState(sinkType string, state int) {
	CircuitBreakerState.WithLabelValues(sinkType).Set(float64(state))
}

func RecordRateLimitRejected(tenant string) {
	RateLimitRejectedTotal.WithLabelValues(tenant).Inc()
}

func RecordRuleReload(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	RuleReloadTotal.WithLabelValues(status).Inc()
}

// MetricsServer exposes /metrics and /health over HTTP. internal/app
// runs one when its admin server is disabled but metrics are still
// wanted, so scraping keeps working on headless deployments.
type MetricsServer struct {
	server *http.Server
	logger *logrus.Logger
	done   chan struct{}
}

var metricsRegisteredOnce sync.Once

// safeRegister registers a collector, swallowing the panic MustRegister
// raises on a duplicate registration (NewMetricsServer may be called more
// than once in tests).
func safeRegister(collector prometheus.Collector) {
	defer func() {
		recover()
	}()
	prometheus.MustRegister(collector)
}

// EnsureRegistered registers every collector exactly once per process.
// Both NewMetricsServer and the admin mux in internal/app call this, so
// either one (or both, side by side) can expose /metrics.
func EnsureRegistered() {
	metricsRegisteredOnce.Do(func() {
		safeRegister(EventsRoutedTotal)
		safeRegister(EventsRawForwardedTotal)
		safeRegister(QueueDepth)
		safeRegister(QueueUtilization)
		safeRegister(ParseFailuresTotal)
		safeRegister(TranslateMissTotal)
		safeRegister(EventsEmittedTotal)
		safeRegister(EnrichmentDuration)
		safeRegister(SinkSendDuration)
		safeRegister(SinkSendTotal)
		safeRegister(DLQEntries)
		safeRegister(CircuitBreakerState)
		safeRegister(RateLimitRejectedTotal)
		safeRegister(RuleReloadTotal)
	})
}

// Handler returns the promhttp handler for /metrics, for callers (such as
// the admin mux) that want to mount it on their own server.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// NewMetricsServer builds a standalone metrics HTTP server bound to
// its own address, for deployments that keep the metrics port separate
// from the admin surface.
func NewMetricsServer(addr string, logger *logrus.Logger) *MetricsServer {
	EnsureRegistered()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (ms *MetricsServer) Start() error {
	if ms.logger != nil {
		ms.logger.WithField("addr", ms.server.Addr).Info("metrics: starting standalone metrics server")
	}
	go func() {
		defer close(ms.done)
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if ms.logger != nil {
				ms.logger.WithError(err).Error("metrics: standalone metrics server failed")
			}
		}
	}()
	return nil
}

// Stop closes the listener and waits for the serve goroutine to exit.
func (ms *MetricsServer) Stop() error {
	err := ms.server.Close()
	<-ms.done
	return err
}
