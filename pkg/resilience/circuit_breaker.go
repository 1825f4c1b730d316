package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opspulse/opspulse/pkg/logging"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed State = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, trial requests are allowed
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds configuration for a circuit breaker
type Config struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of failures in the closed state
	// before the circuit opens
	FailureThreshold int
	// SuccessThreshold is the number of successes in the half-open state
	// before the circuit closes again
	SuccessThreshold int
	// Timeout is the period of the open state, after which a trial
	// request is admitted and the state becomes half-open
	Timeout time.Duration
	// ExcludedErrors are predicates for errors that never count as failures
	ExcludedErrors []func(error) bool
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from State, to State)
	// OnRejection is called for every call rejected while the circuit is open
	OnRejection func(name string)
}

// Status is a side-effect-free snapshot of a circuit breaker
type Status struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastFailure  time.Time `json:"last_failure"`
}

// CircuitBreaker shields calls to one unreliable dependency. All call sites
// protecting the same dependency must share one instance, so failure
// knowledge is shared (see Registry).
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	excludedErrors   []func(error) bool
	onStateChange    func(name string, from State, to State)
	onRejection      func(name string)

	mutex           sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time

	logger *logging.Logger
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		timeout:          config.Timeout,
		excludedErrors:   config.ExcludedErrors,
		onStateChange:    config.OnStateChange,
		onRejection:      config.OnRejection,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		logger:           logging.GetLogger(),
	}

	cb.logger.Debug("Circuit breaker initialized",
		"name", cb.name,
		"failure_threshold", cb.failureThreshold,
		"timeout", cb.timeout,
	)

	return cb
}

// Execute runs the given request if the circuit breaker admits it. When the
// circuit is open it fails fast with an *OpenError and the request function
// is never invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	if !cb.checkState() {
		if cb.onRejection != nil {
			cb.onRejection(cb.name)
		}
		return nil, &OpenError{Name: cb.name}
	}

	result, err := req(ctx)
	if err != nil {
		cb.recordFailure(err)
		return result, err
	}

	cb.recordSuccess()
	return result, nil
}

// Call is a convenience method that wraps Execute for functions that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// checkState decides admission and performs the open-to-half-open
// transition. Returns true if the request is admitted.
func (cb *CircuitBreaker) checkState() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.timeout {
			cb.setState(StateHalfOpen)
			cb.successCount = 0
			return true
		}
		return false
	default: // StateHalfOpen - trial calls allowed
		return true
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.failureCount = 0
		}
	case StateClosed:
		// Sliding reset: any success clears the failure streak
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	for _, excluded := range cb.excludedErrors {
		if excluded(err) {
			return
		}
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateHalfOpen:
		// Any failure during a trial reopens the circuit
		cb.setState(StateOpen)
	case StateClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen)
		}
	}
}

// setState transitions the state. Caller must hold the mutex.
func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.lastStateChange = time.Now()

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	if state == StateOpen {
		cb.logger.Warn("Circuit breaker opened",
			"name", cb.name,
			"from", prev.String(),
			"failure_count", cb.failureCount,
		)
	} else {
		cb.logger.Info("Circuit breaker state changed",
			"name", cb.name,
			"from", prev.String(),
			"to", state.String(),
		)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// IsOpen reports whether the circuit is currently open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Status returns a snapshot of the circuit breaker for the status surface
func (cb *CircuitBreaker) Status() Status {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Status{
		Name:         cb.name,
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		LastFailure:  cb.lastFailureTime,
	}
}

// Reset manually resets the circuit breaker to the closed state
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
	cb.lastStateChange = time.Now()

	cb.logger.Info("Circuit breaker manually reset", "name", cb.name)
}

// OpenError is returned when the circuit breaker is open and a request is
// rejected without invoking the wrapped call. It is distinguishable from a
// genuine call failure so retry logic never double-counts it.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open", e.Name)
}

// IsOpenError checks if an error is a circuit breaker rejection
func IsOpenError(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
