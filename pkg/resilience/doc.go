// Package resilience provides circuit breaker and fallback capabilities
// that shield calls to unreliable external providers.
//
// # Circuit Breaker Pattern
//
// A breaker monitors consecutive failures of one dependency and fails fast
// while the dependency is down, admitting trial calls after a cooldown.
//
//	cb := resilience.New(resilience.Config{
//		Name:             "search",
//		FailureThreshold: 5,
//		SuccessThreshold: 2,
//		Timeout:          30 * time.Second,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return searchClient.Query(ctx, q)
//	})
//
// Rejections are returned as *OpenError and can be told apart from genuine
// call failures with IsOpenError, so retry logic never double-counts them.
//
// # Shared Breakers
//
// All call sites protecting the same dependency must share one breaker, so
// failure knowledge is shared across the process. The Registry hands out
// process-wide singletons keyed by dependency name:
//
//	reg := resilience.DefaultRegistry(resilience.Config{})
//	cb := reg.Get("ai-primary")
//
// # Provider Fallback
//
// Fallback chains two breaker-guarded providers and degrades gracefully:
// when both the primary and the secondary are open or failing, the caller
// receives a clearly marked stand-in result instead of an error.
//
//	fb := resilience.NewFallback(primary, secondary, func(ctx context.Context) interface{} {
//		return "analysis temporarily unavailable"
//	})
//	res := fb.Execute(ctx)
//
// The package is thread-safe; breakers are guarded by a single short-held
// mutex around each state transition.
package resilience
