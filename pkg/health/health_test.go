package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspulse/opspulse/pkg/logging"
	"github.com/opspulse/opspulse/pkg/resilience"
)

type staticChecker struct {
	name   string
	status Status
}

func (sc *staticChecker) Check(ctx context.Context) *Check {
	return &Check{Name: sc.name, Status: sc.status}
}

func newTestService() *Service {
	return NewService(logging.GetLogger(), map[string]string{"service": "test"})
}

func TestCheckHealth_AllHealthy(t *testing.T) {
	svc := newTestService()
	svc.RegisterChecker("a", &staticChecker{name: "a", status: StatusHealthy})
	svc.RegisterChecker("b", &staticChecker{name: "b", status: StatusHealthy})

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestCheckHealth_WorstStatusWins(t *testing.T) {
	svc := newTestService()
	svc.RegisterChecker("healthy", &staticChecker{name: "healthy", status: StatusHealthy})
	svc.RegisterChecker("degraded", &staticChecker{name: "degraded", status: StatusDegraded})

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)

	svc.RegisterChecker("unhealthy", &staticChecker{name: "unhealthy", status: StatusUnhealthy})
	resp = svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestHandler_StatusCodes(t *testing.T) {
	svc := newTestService()
	svc.RegisterChecker("ok", &staticChecker{name: "ok", status: StatusHealthy})

	rec := httptest.NewRecorder()
	svc.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)

	svc.RegisterChecker("down", &staticChecker{name: "down", status: StatusUnhealthy})
	rec = httptest.NewRecorder()
	svc.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadinessHandler_DegradedStillReady(t *testing.T) {
	svc := newTestService()
	svc.RegisterChecker("fallback", &staticChecker{name: "fallback", status: StatusDegraded})

	rec := httptest.NewRecorder()
	svc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
}

func TestLivenessHandler_AlwaysOK(t *testing.T) {
	svc := newTestService()

	rec := httptest.NewRecorder()
	svc.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCustomChecker(t *testing.T) {
	ok := NewCustomChecker("ok", func(ctx context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	failing := NewCustomChecker("failing", func(ctx context.Context) error {
		return assert.AnError
	})
	check := failing.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.NotEmpty(t, check.Error)
}

func TestBreakerChecker(t *testing.T) {
	registry := resilience.NewRegistry(resilience.Config{})
	cb := registry.GetOrCreate("flaky-provider", resilience.Config{FailureThreshold: 1})

	checker := NewBreakerChecker(registry, "breakers")
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	_, _ = cb.Call(func() (interface{}, error) { return nil, assert.AnError })

	check := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "flaky-provider")
}
