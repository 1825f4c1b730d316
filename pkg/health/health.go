package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opspulse/opspulse/internal/notify"
	"github.com/opspulse/opspulse/internal/store"
	"github.com/opspulse/opspulse/pkg/logging"
	"github.com/opspulse/opspulse/pkg/resilience"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// Check represents a health check result
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response represents the overall health response
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) *Check
}

// Service provides health checking functionality
type Service struct {
	checkers map[string]Checker
	logger   *logging.Logger
	metadata map[string]string
	mutex    sync.RWMutex
}

// NewService creates a new health check service
func NewService(logger *logging.Logger, metadata map[string]string) *Service {
	if metadata == nil {
		metadata = make(map[string]string)
	}

	return &Service{
		checkers: make(map[string]Checker),
		logger:   logger,
		metadata: metadata,
	}
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers[name] = checker
}

// CheckHealth runs all registered checks concurrently. The overall status
// is the worst individual result, with degraded between healthy and
// unhealthy.
func (s *Service) CheckHealth(ctx context.Context) *Response {
	start := time.Now()

	s.mutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mutex.RUnlock()

	checks := make(map[string]*Check, len(checkers))
	overallStatus := StatusHealthy

	var wg sync.WaitGroup
	var mutex sync.Mutex

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			check := checker.Check(ctx)

			mutex.Lock()
			checks[name] = check

			switch check.Status {
			case StatusUnhealthy:
				overallStatus = StatusUnhealthy
			case StatusDegraded:
				if overallStatus == StatusHealthy {
					overallStatus = StatusDegraded
				}
			}
			mutex.Unlock()
		}(name, checker)
	}

	wg.Wait()

	return &Response{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Checks:    checks,
		Metadata:  s.metadata,
	}
}

// Handler returns an HTTP handler for the full health report
func (s *Service) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, health)
	}
}

// LivenessHandler returns a simple liveness check handler
func (s *Service) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// ReadinessHandler returns a readiness check handler. Degraded still
// reports ready: the backbone keeps serving on its fallback paths.
func (s *Service) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, map[string]interface{}{
			"status":    health.Status,
			"timestamp": health.Timestamp,
			"ready":     health.Status != StatusUnhealthy,
		})
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// RedisChecker checks Redis connectivity
type RedisChecker struct {
	client *store.Client
	name   string
}

// NewRedisChecker creates a new Redis health checker
func NewRedisChecker(client *store.Client, name string) *RedisChecker {
	return &RedisChecker{
		client: client,
		name:   name,
	}
}

// Check performs the Redis health check
func (rc *RedisChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      rc.name,
		Timestamp: start,
	}

	if rc.client == nil {
		check.Status = StatusUnhealthy
		check.Error = "redis connection is nil"
		check.Duration = time.Since(start)
		return check
	}

	if err := rc.client.Health(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
		check.Duration = time.Since(start)
		return check
	}

	stats := rc.client.Stats()
	check.Status = StatusHealthy
	check.Message = "redis is healthy"
	check.Duration = time.Since(start)
	check.Metadata = map[string]string{
		"total_connections": fmt.Sprintf("%d", stats.TotalConns),
		"idle_connections":  fmt.Sprintf("%d", stats.IdleConns),
	}

	return check
}

// QueueChecker reports the notification queue's state. A queue running on
// its local fallback buffer is degraded, not unhealthy: delivery continues
// best effort.
type QueueChecker struct {
	queue *notify.Queue
	name  string
}

// NewQueueChecker creates a notification queue health checker
func NewQueueChecker(queue *notify.Queue, name string) *QueueChecker {
	return &QueueChecker{
		queue: queue,
		name:  name,
	}
}

// Check performs the queue health check
func (qc *QueueChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      qc.name,
		Timestamp: start,
	}

	stats := qc.queue.Stats(ctx)
	check.Duration = time.Since(start)
	check.Metadata = map[string]string{
		"pending":   fmt.Sprintf("%d", stats.Pending),
		"failed":    fmt.Sprintf("%d", stats.Failed),
		"processed": fmt.Sprintf("%d", stats.Processed),
	}

	if !stats.Available || qc.queue.Degraded() {
		check.Status = StatusDegraded
		check.Message = "queue store unavailable, running on local fallback"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "queue is healthy"
	return check
}

// BreakerChecker reports open circuit breakers as a degraded condition
type BreakerChecker struct {
	registry *resilience.Registry
	name     string
}

// NewBreakerChecker creates a circuit breaker health checker
func NewBreakerChecker(registry *resilience.Registry, name string) *BreakerChecker {
	return &BreakerChecker{
		registry: registry,
		name:     name,
	}
}

// Check reports which breakers are currently open
func (bc *BreakerChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      bc.name,
		Timestamp: start,
	}

	var open []string
	for _, status := range bc.registry.Status() {
		if status.State != resilience.StateClosed.String() {
			open = append(open, status.Name)
		}
	}

	check.Duration = time.Since(start)
	if len(open) > 0 {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("open breakers: %s", strings.Join(open, ", "))
		return check
	}

	check.Status = StatusHealthy
	check.Message = "all breakers closed"
	return check
}

// CustomChecker wraps a function as a health checker
type CustomChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

// NewCustomChecker creates a checker from a function
func NewCustomChecker(name string, checkFn func(ctx context.Context) error) *CustomChecker {
	return &CustomChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Check runs the wrapped function
func (cc *CustomChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      cc.name,
		Timestamp: start,
	}

	if err := cc.checkFn(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
	} else {
		check.Status = StatusHealthy
	}
	check.Duration = time.Since(start)

	return check
}
