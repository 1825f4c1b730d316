package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec

	// Notification metrics
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	NotificationRetries *prometheus.CounterVec
	QueuePending        *prometheus.GaugeVec
	QueueDeadLettered   prometheus.Counter

	// Stream metrics
	EntriesPublished *prometheus.CounterVec
	EntriesConsumed  *prometheus.CounterVec
	HandlerErrors    *prometheus.CounterVec
	StreamPending    prometheus.Gauge
	AnomalyAlerts    *prometheus.CounterVec

	registry *prometheus.Registry
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "opspulse",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "breaker_rejections_total",
				Help:      "Total number of calls rejected by open breakers",
			},
			[]string{"breaker"},
		),

		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications delivered per channel",
			},
			[]string{"channel", "priority"},
		),
		NotificationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "notifications_failed_total",
				Help:      "Total number of failed channel deliveries",
			},
			[]string{"channel", "priority"},
		),
		NotificationRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "notification_retries_total",
				Help:      "Total number of notification retry attempts",
			},
			[]string{"priority"},
		),
		QueuePending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "notification_queue_pending",
				Help:      "Number of notifications waiting in the queue",
			},
			[]string{"store"},
		),
		QueueDeadLettered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "notifications_dead_lettered_total",
				Help:      "Total number of notifications moved to the failed store",
			},
		),

		EntriesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "stream_entries_published_total",
				Help:      "Total number of log entries published to the stream",
			},
			[]string{"mode"},
		),
		EntriesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "stream_entries_consumed_total",
				Help:      "Total number of log entries consumed and acknowledged",
			},
			[]string{"consumer"},
		),
		HandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "stream_handler_errors_total",
				Help:      "Total number of stream handler failures",
			},
			[]string{"consumer"},
		),
		StreamPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "stream_pending_entries",
				Help:      "Number of consumed but unacknowledged stream entries",
			},
		),
		AnomalyAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "anomaly_alerts_total",
				Help:      "Total number of anomaly alerts raised",
			},
			[]string{"service"},
		),
	}

	m.registry.MustRegister(
		m.BreakerState,
		m.BreakerTransitions,
		m.BreakerRejections,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.NotificationRetries,
		m.QueuePending,
		m.QueueDeadLettered,
		m.EntriesPublished,
		m.EntriesConsumed,
		m.HandlerErrors,
		m.StreamPending,
		m.AnomalyAlerts,
	)

	return m
}

// RecordBreakerTransition records a state change and updates the state gauge
func (m *Metrics) RecordBreakerTransition(breaker, from, to string, state float64) {
	if m == nil || m.BreakerTransitions == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(breaker, from, to).Inc()
	m.BreakerState.WithLabelValues(breaker).Set(state)
}

// RecordBreakerRejection records a fast-failed call
func (m *Metrics) RecordBreakerRejection(breaker string) {
	if m == nil || m.BreakerRejections == nil {
		return
	}
	m.BreakerRejections.WithLabelValues(breaker).Inc()
}

// RecordNotificationSent records a successful channel delivery
func (m *Metrics) RecordNotificationSent(channel, priority string) {
	if m == nil || m.NotificationsSent == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(channel, priority).Inc()
}

// RecordNotificationFailed records a failed channel delivery
func (m *Metrics) RecordNotificationFailed(channel, priority string) {
	if m == nil || m.NotificationsFailed == nil {
		return
	}
	m.NotificationsFailed.WithLabelValues(channel, priority).Inc()
}

// RecordNotificationRetry records a retry attempt
func (m *Metrics) RecordNotificationRetry(priority string) {
	if m == nil || m.NotificationRetries == nil {
		return
	}
	m.NotificationRetries.WithLabelValues(priority).Inc()
}

// RecordDeadLettered records a notification exhausting its retries
func (m *Metrics) RecordDeadLettered() {
	if m == nil || m.QueueDeadLettered == nil {
		return
	}
	m.QueueDeadLettered.Inc()
}

// UpdateQueuePending updates the pending gauge for a queue store
func (m *Metrics) UpdateQueuePending(store string, pending int64) {
	if m == nil || m.QueuePending == nil {
		return
	}
	m.QueuePending.WithLabelValues(store).Set(float64(pending))
}

// RecordEntriesPublished records published stream entries
func (m *Metrics) RecordEntriesPublished(mode string, count int) {
	if m == nil || m.EntriesPublished == nil {
		return
	}
	m.EntriesPublished.WithLabelValues(mode).Add(float64(count))
}

// RecordEntryConsumed records a consumed and acknowledged entry
func (m *Metrics) RecordEntryConsumed(consumer string) {
	if m == nil || m.EntriesConsumed == nil {
		return
	}
	m.EntriesConsumed.WithLabelValues(consumer).Inc()
}

// RecordHandlerError records a stream handler failure
func (m *Metrics) RecordHandlerError(consumer string) {
	if m == nil || m.HandlerErrors == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(consumer).Inc()
}

// UpdateStreamPending updates the unacknowledged-entry gauge
func (m *Metrics) UpdateStreamPending(pending int64) {
	if m == nil || m.StreamPending == nil {
		return
	}
	m.StreamPending.Set(float64(pending))
}

// RecordAnomalyAlert records a raised anomaly alert
func (m *Metrics) RecordAnomalyAlert(service string) {
	if m == nil || m.AnomalyAlerts == nil {
		return
	}
	m.AnomalyAlerts.WithLabelValues(service).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Collector periodically refreshes gauges from a stats source
type Collector struct {
	metrics  *Metrics
	interval time.Duration
	collect  func(*Metrics)
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a collector that invokes collect every interval
func NewCollector(metrics *Metrics, interval time.Duration, collect func(*Metrics)) *Collector {
	return &Collector{
		metrics:  metrics,
		interval: interval,
		collect:  collect,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins periodic collection
func (c *Collector) Start() {
	go func() {
		defer close(c.doneCh)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(c.metrics)
			}
		}
	}()
}

// Stop halts collection and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}
