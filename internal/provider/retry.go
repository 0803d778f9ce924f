package provider

import (
	"context"
	"time"

	"github.com/meridian-gis/geoquery/internal/observability"
)

// RetryPolicy holds the retry parameters as an explicit value.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the standard policy for provider calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Retrying wraps a Generator with exponential backoff for transient
// failures. Non-transient failures are returned immediately.
type Retrying struct {
	inner  Generator
	policy RetryPolicy
	logger *observability.Logger
}

// NewRetrying wraps gen with the given policy.
func NewRetrying(gen Generator, policy RetryPolicy, logger *observability.Logger) *Retrying {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}

	return &Retrying{
		inner:  gen,
		policy: policy,
		logger: logger.WithProvider(gen.Name()),
	}
}

// Name returns the wrapped backend identifier.
func (r *Retrying) Name() string { return r.inner.Name() }

// Generate calls the wrapped generator, retrying transient failures with a
// doubling delay up to the policy cap. The backoff sleep honors context
// cancellation, so cancelling ctx aborts both the in-flight HTTP call and
// any pending wait.
func (r *Retrying) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var lastErr error
	delay := r.policy.BaseDelay

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		text, err := r.inner.Generate(ctx, prompt, maxTokens)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return "", err
		}

		if attempt == r.policy.MaxRetries {
			r.logger.Error().
				Err(err).
				Int("attempts", attempt+1).
				Msg("All provider attempts failed")
			break
		}

		r.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Provider call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}

	return "", lastErr
}

var _ Generator = (*Retrying)(nil)
