package resilience

import (
	"sort"
	"sync"
	"time"
)

// Registry holds one circuit breaker per dependency name. Breakers are
// created lazily on first lookup and live for the process lifetime, so every
// call site protecting the same dependency observes the same state.
type Registry struct {
	mutex    sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults Config
}

// NewRegistry creates a registry. The defaults config supplies thresholds
// for breakers created without an explicit config.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// GetOrCreate returns the breaker for name, creating it with the given
// config on first lookup. The config is ignored for an existing breaker.
func (r *Registry) GetOrCreate(name string, config Config) *CircuitBreaker {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config.Name = name
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = r.defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = r.defaults.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = r.defaults.Timeout
	}
	if config.OnStateChange == nil {
		config.OnStateChange = r.defaults.OnStateChange
	}
	if config.OnRejection == nil {
		config.OnRejection = r.defaults.OnRejection
	}

	cb := New(config)
	r.breakers[name] = cb
	return cb
}

// Get returns the breaker for name using the registry defaults
func (r *Registry) Get(name string) *CircuitBreaker {
	return r.GetOrCreate(name, Config{})
}

// Reset resets the named breaker. Returns false if it does not exist.
func (r *Registry) Reset(name string) bool {
	r.mutex.Lock()
	cb, ok := r.breakers[name]
	r.mutex.Unlock()

	if !ok {
		return false
	}

	cb.Reset()
	return true
}

// Status returns snapshots of all registered breakers, sorted by name
func (r *Registry) Status() []Status {
	r.mutex.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.Unlock()

	statuses := make([]Status, 0, len(breakers))
	for _, cb := range breakers {
		statuses = append(statuses, cb.Status())
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})

	return statuses
}

// Names of the breakers guarding the platform's default providers.
const (
	BreakerAIPrimary  = "ai-primary"
	BreakerAIFallback = "ai-fallback"
	BreakerSearch     = "search"
	BreakerMetrics    = "metrics"
)

// DefaultRegistry builds a registry pre-populated with breakers for the
// platform's known flaky providers. Zero fields in defaults fall back to
// 5 failures, 2 successes, 30s. The primary AI provider trips faster and
// cools down longer than the local fallback.
func DefaultRegistry(defaults Config) *Registry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 5
	}
	if defaults.SuccessThreshold <= 0 {
		defaults.SuccessThreshold = 2
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}
	r := NewRegistry(defaults)

	r.GetOrCreate(BreakerAIPrimary, Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	})
	r.GetOrCreate(BreakerAIFallback, Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	})
	r.GetOrCreate(BreakerSearch, Config{})
	r.GetOrCreate(BreakerMetrics, Config{})

	return r
}
