package resilience

import (
	"context"

	"github.com/opspulse/opspulse/pkg/logging"
)

// Provider is a named callable guarded by its own circuit breaker.
type Provider struct {
	Name    string
	Breaker *CircuitBreaker
	Call    func(context.Context) (interface{}, error)
}

// Result carries the outcome of a fallback-protected call. Degraded is set
// when neither provider could serve and the stand-in value was returned.
type Result struct {
	Value    interface{}
	Provider string
	Degraded bool
}

// Fallback attempts a primary provider through its breaker, falls back to a
// secondary provider on rejection or failure, and returns a degraded
// stand-in result when both are unavailable. Callers never see an error for
// provider unavailability.
type Fallback struct {
	primary   Provider
	secondary Provider
	degraded  func(context.Context) interface{}
	logger    *logging.Logger
}

// NewFallback creates a fallback policy over two breaker-guarded providers.
// degraded produces the stand-in value returned when both providers fail.
func NewFallback(primary, secondary Provider, degraded func(context.Context) interface{}) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		degraded:  degraded,
		logger:    logging.GetLogger(),
	}
}

// Execute runs the call through the fallback chain.
func (f *Fallback) Execute(ctx context.Context) Result {
	value, err := f.primary.Breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return f.primary.Call(ctx)
	})
	if err == nil {
		return Result{Value: value, Provider: f.primary.Name}
	}

	if IsOpenError(err) {
		f.logger.Warn("Primary provider circuit open, trying fallback",
			"primary", f.primary.Name,
			"fallback", f.secondary.Name,
		)
	} else {
		f.logger.Warn("Primary provider failed, trying fallback",
			"primary", f.primary.Name,
			"fallback", f.secondary.Name,
			"error", err.Error(),
		)
	}

	value, err = f.secondary.Breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return f.secondary.Call(ctx)
	})
	if err == nil {
		return Result{Value: value, Provider: f.secondary.Name}
	}

	f.logger.Error("All providers unavailable, returning degraded result",
		"primary", f.primary.Name,
		"fallback", f.secondary.Name,
		"error", err.Error(),
	)

	return Result{Value: f.degraded(ctx), Degraded: true}
}
