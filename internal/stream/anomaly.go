package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opspulse/opspulse/pkg/config"
	"github.com/opspulse/opspulse/pkg/logging"
	"github.com/opspulse/opspulse/pkg/metrics"
)

// Alerter raises an operator alert. Satisfied by the notification service.
type Alerter interface {
	SendCriticalAlert(ctx context.Context, title, message string) string
}

// Detector counts error-level entries per service over a rolling window
// and raises one alert per service per window when the threshold is
// reached. Counters and the alerted set reset together when the window
// elapses, checked lazily on each incoming entry.
type Detector struct {
	alerter Alerter
	logger  *logging.Logger
	metrics *metrics.Metrics

	window    time.Duration
	threshold int

	mu        sync.Mutex
	counts    map[string]int
	alerted   map[string]struct{}
	lastReset time.Time
}

// NewDetector creates an anomaly detector with the configured window and
// error threshold.
func NewDetector(cfg config.AnomalyConfig, alerter Alerter, logger *logging.Logger) *Detector {
	return &Detector{
		alerter:   alerter,
		logger:    logger,
		window:    cfg.Window,
		threshold: cfg.ErrorThreshold,
		counts:    make(map[string]int),
		alerted:   make(map[string]struct{}),
		lastReset: time.Now(),
	}
}

// SetMetrics attaches instrumentation for raised alerts
func (d *Detector) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// Handler returns the detector as a stream handler
func (d *Detector) Handler() Handler {
	return d.Process
}

// Process scores one log entry. Alert delivery runs in its own goroutine
// so a slow notification path never stalls stream consumption.
func (d *Detector) Process(ctx context.Context, entry *LogEntry) error {
	if !isErrorLevel(entry.Level) {
		return nil
	}

	d.mu.Lock()
	if time.Since(d.lastReset) > d.window {
		d.counts = make(map[string]int)
		d.alerted = make(map[string]struct{})
		d.lastReset = time.Now()
	}

	d.counts[entry.Service]++
	count := d.counts[entry.Service]

	fire := false
	if count >= d.threshold {
		if _, already := d.alerted[entry.Service]; !already {
			d.alerted[entry.Service] = struct{}{}
			fire = true
		}
	}
	d.mu.Unlock()

	if fire {
		d.metrics.RecordAnomalyAlert(entry.Service)
		d.logger.Warn("Anomaly detected",
			"service", entry.Service,
			"error_count", count,
			"threshold", d.threshold,
		)
		go d.triggerAlert(entry.Service, count)
	}
	return nil
}

func (d *Detector) triggerAlert(service string, count int) {
	title := fmt.Sprintf("Anomaly detected: %s", service)
	message := fmt.Sprintf("Service %s logged %d errors within the last %s (threshold %d)",
		service, count, d.window, d.threshold)

	d.alerter.SendCriticalAlert(context.Background(), title, message)
}

func isErrorLevel(level string) bool {
	switch strings.ToLower(level) {
	case "error", "critical", "fatal":
		return true
	}
	return false
}
