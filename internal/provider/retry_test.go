package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gis/geoquery/internal/observability"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func TestRetryingSucceedsAfterTransientFailures(t *testing.T) {
	mock := &Mock{
		Responses: []string{"ok"},
		Errors: []error{
			&Error{Backend: "mock", Msg: "rate limited", Transient: true},
			&Error{Backend: "mock", Msg: "timeout", Transient: true},
			nil,
		},
	}
	gen := NewRetrying(mock, fastPolicy(), observability.Nop())

	text, err := gen.Generate(context.Background(), "prompt", 256)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Len(t, mock.Calls, 3)
}

func TestRetryingStopsOnNonTransientError(t *testing.T) {
	mock := &Mock{
		Responses: []string{"ok"},
		Errors: []error{
			&Error{Backend: "mock", Msg: "invalid api key", Transient: false},
		},
	}
	gen := NewRetrying(mock, fastPolicy(), observability.Nop())

	_, err := gen.Generate(context.Background(), "prompt", 256)
	require.Error(t, err)
	assert.Len(t, mock.Calls, 1, "non-transient errors must not be retried")
}

func TestRetryingExhaustsAttempts(t *testing.T) {
	transient := &Error{Backend: "mock", Msg: "overloaded", Transient: true}
	mock := &Mock{
		Errors: []error{transient, transient, transient, transient},
	}
	gen := NewRetrying(mock, fastPolicy(), observability.Nop())

	_, err := gen.Generate(context.Background(), "prompt", 256)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Len(t, mock.Calls, 4, "initial attempt plus MaxRetries")
}

func TestRetryingHonorsContextDuringBackoff(t *testing.T) {
	transient := &Error{Backend: "mock", Msg: "overloaded", Transient: true}
	mock := &Mock{
		Errors: []error{transient, transient, transient, transient},
	}
	policy := RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Minute,
		MaxDelay:   time.Minute,
	}
	gen := NewRetrying(mock, policy, observability.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := gen.Generate(ctx, "prompt", 256)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Generate did not return after cancellation")
	}
	assert.Len(t, mock.Calls, 1, "cancellation during backoff must stop retries")
}

func TestMockReplaysResponses(t *testing.T) {
	mock := &Mock{Responses: []string{"first", "second"}}

	text, err := mock.Generate(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Equal(t, "first", text)

	// The last response repeats once the script runs out.
	for i := 0; i < 3; i++ {
		text, err = mock.Generate(context.Background(), "b", 10)
		require.NoError(t, err)
		assert.Equal(t, "second", text)
	}
}
