package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestProvider(name string, call func(context.Context) (interface{}, error)) Provider {
	return Provider{
		Name: name,
		Breaker: New(Config{
			Name:             name,
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          time.Hour,
		}),
		Call: call,
	}
}

func TestFallback_PrimarySucceeds(t *testing.T) {
	primary := newTestProvider("gpt", func(ctx context.Context) (interface{}, error) {
		return "primary answer", nil
	})
	secondary := newTestProvider("local", func(ctx context.Context) (interface{}, error) {
		t.Fatal("secondary should not be called")
		return nil, nil
	})

	fb := NewFallback(primary, secondary, func(ctx context.Context) interface{} {
		return "degraded"
	})

	result := fb.Execute(context.Background())
	assert.Equal(t, "primary answer", result.Value)
	assert.Equal(t, "gpt", result.Provider)
	assert.False(t, result.Degraded)
}

func TestFallback_SecondaryOnPrimaryFailure(t *testing.T) {
	primary := newTestProvider("gpt", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("upstream timeout")
	})
	secondary := newTestProvider("local", func(ctx context.Context) (interface{}, error) {
		return "fallback answer", nil
	})

	fb := NewFallback(primary, secondary, func(ctx context.Context) interface{} {
		return "degraded"
	})

	result := fb.Execute(context.Background())
	assert.Equal(t, "fallback answer", result.Value)
	assert.Equal(t, "local", result.Provider)
	assert.False(t, result.Degraded)
}

func TestFallback_SecondaryOnOpenPrimary(t *testing.T) {
	calls := 0
	primary := newTestProvider("gpt", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("upstream timeout")
	})
	secondary := newTestProvider("local", func(ctx context.Context) (interface{}, error) {
		return "fallback answer", nil
	})

	fb := NewFallback(primary, secondary, func(ctx context.Context) interface{} {
		return "degraded"
	})

	// Trip the primary breaker, then verify further executions skip it
	fb.Execute(context.Background())
	fb.Execute(context.Background())
	assert.True(t, primary.Breaker.IsOpen())

	result := fb.Execute(context.Background())
	assert.Equal(t, 2, calls)
	assert.Equal(t, "local", result.Provider)
}

func TestFallback_DegradedWhenBothFail(t *testing.T) {
	primary := newTestProvider("gpt", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("upstream timeout")
	})
	secondary := newTestProvider("local", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("model not loaded")
	})

	fb := NewFallback(primary, secondary, func(ctx context.Context) interface{} {
		return map[string]string{"status": "analysis unavailable"}
	})

	result := fb.Execute(context.Background())
	assert.True(t, result.Degraded)
	assert.Empty(t, result.Provider)
	assert.Equal(t, map[string]string{"status": "analysis unavailable"}, result.Value)
}
