package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})

	// Initially closed
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 5; i++ {
		result, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return "success", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, StateClosed, cb.State())
	}
}

func TestCircuitBreaker_TripsAfterThresholdFailures(t *testing.T) {
	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("test error")
		})
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())

	// The very next call is rejected without invoking the function
	invoked := false
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "should not execute", nil
	})
	require.Error(t, err)
	assert.True(t, IsOpenError(err))
	assert.False(t, invoked)
}

func TestCircuitBreaker_SlidingFailureReset(t *testing.T) {
	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})

	fail := func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") }
	succeed := func(ctx context.Context) (interface{}, error) { return "ok", nil }

	// Two failures, then a success clears the streak
	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), succeed)
	assert.Equal(t, StateClosed, cb.State())

	// Two more failures still do not trip
	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), fail)
	assert.Equal(t, StateClosed, cb.State())

	// Third consecutive failure trips
	cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_NoAdmissionBeforeTimeout(t *testing.T) {
	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          80 * time.Millisecond,
	})

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("test error")
	})
	assert.Equal(t, StateOpen, cb.State())

	// Before the timeout, every call is rejected and state stays open
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.Error(t, err)
	assert.True(t, IsOpenError(err))
	assert.Equal(t, StateOpen, cb.State())

	// At/after the timeout the first call is admitted and moves to half-open
	time.Sleep(100 * time.Millisecond)
	_, err = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("test error")
	})
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	// First success moves to half-open, second closes the circuit
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "success", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "success", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Status().FailureCount)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("test error")
	})
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("test error")
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ExcludedErrorsNotCounted(t *testing.T) {
	notConfigured := errors.New("not configured")

	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		ExcludedErrors: []func(error) bool{
			func(err error) bool { return errors.Is(err, notConfigured) },
		},
	})

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, notConfigured
		})
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Status().FailureCount)
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("test error")
	})

	time.Sleep(60 * time.Millisecond)

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Hour,
	})

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("test error")
	})
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())

	status := cb.Status()
	assert.Equal(t, 0, status.FailureCount)
	assert.Equal(t, 0, status.SuccessCount)
	assert.True(t, status.LastFailure.IsZero())
}

func TestCircuitBreaker_Status(t *testing.T) {
	cb := New(Config{
		Name:             "test-cb",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("test error")
	})

	status := cb.Status()
	assert.Equal(t, "test-cb", status.Name)
	assert.Equal(t, "CLOSED", status.State)
	assert.Equal(t, 1, status.FailureCount)
	assert.False(t, status.LastFailure.IsZero())
}

func TestIsOpenError(t *testing.T) {
	assert.True(t, IsOpenError(&OpenError{Name: "x"}))
	assert.False(t, IsOpenError(errors.New("regular error")))
	assert.False(t, IsOpenError(nil))
}
