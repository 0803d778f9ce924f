// Package provider abstracts external text-generation services behind a
// single Generator interface. Concrete backends differ only in transport
// and auth; the compiler is agnostic to which one is configured.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend identifies a text-generation service.
type Backend string

const (
	BackendAnthropic Backend = "anthropic"
	BackendOpenAI    Backend = "openai"
	BackendGemini    Backend = "gemini"
)

// Generator produces completion text for a prompt.
type Generator interface {
	// Generate sends the prompt and returns the raw completion text.
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	// Name returns the backend identifier for logging.
	Name() string
}

// Error reports a provider failure. Transient errors (network, timeout,
// rate limit, server-side) are retried; the rest are not.
type Error struct {
	Backend   Backend
	Msg       string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Backend, e.Msg, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Backend, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Transient
	}
	return false
}

// Config holds backend connection settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// New creates a Generator for the given backend.
func New(backend Backend, cfg Config) (Generator, error) {
	switch backend {
	case BackendAnthropic:
		return NewAnthropic(cfg)
	case BackendOpenAI:
		return NewOpenAI(cfg)
	case BackendGemini:
		return NewGemini(cfg)
	default:
		return nil, fmt.Errorf("unknown provider backend: %q", backend)
	}
}

// transientStatus reports whether an HTTP status code warrants a retry.
func transientStatus(code int) bool {
	return code == 429 || code >= 500
}
