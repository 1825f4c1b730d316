package stream

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspulse/opspulse/pkg/config"
	"github.com/opspulse/opspulse/pkg/logging"
	"github.com/opspulse/opspulse/pkg/metrics"
)

// stubAlerter records raised alerts
type stubAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *stubAlerter) SendCriticalAlert(ctx context.Context, title, message string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, message)
	return "stub-id"
}

func (a *stubAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func newTestDetector(window time.Duration, threshold int) (*Detector, *stubAlerter) {
	alerter := &stubAlerter{}
	d := NewDetector(config.AnomalyConfig{
		Window:         window,
		ErrorThreshold: threshold,
	}, alerter, logging.GetLogger())
	return d, alerter
}

func feedErrors(t *testing.T, d *Detector, service string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, d.Process(context.Background(), NewLogEntry(service, "error", "boom")))
	}
}

func TestDetector_ThresholdTriggersOneAlert(t *testing.T) {
	d, alerter := newTestDetector(time.Minute, 10)

	// 9 errors: below threshold, no alert
	feedErrors(t, d, "api-gateway", 9)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, alerter.count())

	// 10th error raises exactly one alert
	feedErrors(t, d, "api-gateway", 1)
	require.Eventually(t, func() bool {
		return alerter.count() == 1
	}, 3*time.Second, 10*time.Millisecond)

	// 11th within the same window raises no additional alert
	feedErrors(t, d, "api-gateway", 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, alerter.count())
}

func TestDetector_AlertMessageNamesService(t *testing.T) {
	d, alerter := newTestDetector(time.Minute, 3)

	feedErrors(t, d, "billing", 3)

	require.Eventually(t, func() bool {
		return alerter.count() == 1
	}, 3*time.Second, 10*time.Millisecond)

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	assert.Contains(t, alerter.alerts[0], "billing")
	assert.Contains(t, alerter.alerts[0], "3 errors")
}

func TestDetector_ServicesCountedIndependently(t *testing.T) {
	d, alerter := newTestDetector(time.Minute, 5)

	feedErrors(t, d, "billing", 4)
	feedErrors(t, d, "search", 4)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, alerter.count())

	feedErrors(t, d, "billing", 1)
	require.Eventually(t, func() bool {
		return alerter.count() == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDetector_WindowResetClearsCountersAndAlerted(t *testing.T) {
	d, alerter := newTestDetector(50*time.Millisecond, 3)

	feedErrors(t, d, "billing", 3)
	require.Eventually(t, func() bool {
		return alerter.count() == 1
	}, 3*time.Second, 10*time.Millisecond)

	// After the window elapses the service may alert again
	time.Sleep(80 * time.Millisecond)
	feedErrors(t, d, "billing", 3)
	require.Eventually(t, func() bool {
		return alerter.count() == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDetector_IgnoresNonErrorLevels(t *testing.T) {
	d, alerter := newTestDetector(time.Minute, 2)

	for _, level := range []string{"info", "debug", "warn", "warning"} {
		require.NoError(t, d.Process(context.Background(), NewLogEntry("svc", level, "msg")))
		require.NoError(t, d.Process(context.Background(), NewLogEntry("svc", level, "msg")))
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, alerter.count())
}

func TestDetector_ErrorLevelsCaseInsensitive(t *testing.T) {
	d, alerter := newTestDetector(time.Minute, 3)

	for _, level := range []string{"ERROR", "Critical", "fatal"} {
		require.NoError(t, d.Process(context.Background(), NewLogEntry("svc", level, "msg")))
	}

	require.Eventually(t, func() bool {
		return alerter.count() == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDetector_EndToEndThroughStream(t *testing.T) {
	cfg := testStreamConfig()
	s, _ := newTestStream(t, cfg)

	d, alerter := newTestDetector(time.Minute, 10)
	s.AddHandler(d.Handler())

	// A burst of error entries for one service
	entries := make([]*LogEntry, 150)
	for i := range entries {
		entries[i] = NewLogEntry("api-gateway", "error", "upstream timeout")
	}
	require.Equal(t, 150, s.PublishBatch(context.Background(), entries))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Consume(ctx, "consumer-1")

	// Exactly one alert naming the service, despite 150 errors
	require.Eventually(t, func() bool {
		return alerter.count() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		pending, err := s.PendingCount(context.Background())
		return err == nil && pending == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, alerter.count())
	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	assert.True(t, strings.Contains(alerter.alerts[0], "api-gateway"))
}

func TestDetector_AlertRecordsMetric(t *testing.T) {
	d, alerter := newTestDetector(time.Minute, 3)

	m := metrics.NewMetrics(metrics.DefaultConfig())
	d.SetMetrics(m)

	feedErrors(t, d, "billing", 3)

	require.Eventually(t, func() bool {
		return alerter.count() == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnomalyAlerts.WithLabelValues("billing")))
}
