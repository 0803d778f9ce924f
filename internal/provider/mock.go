package provider

import "context"

// Mock is a scripted generator for tests and offline demos.
type Mock struct {
	// Responses are returned in order; the last one repeats.
	Responses []string
	// Errors are returned before Responses are consulted, in order.
	Errors []error
	// Calls records every prompt received.
	Calls []string
}

// Name returns the mock identifier.
func (m *Mock) Name() string { return "mock" }

// Generate replays the scripted errors, then responses.
func (m *Mock) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.Calls = append(m.Calls, prompt)

	if len(m.Errors) > 0 {
		err := m.Errors[0]
		m.Errors = m.Errors[1:]
		if err != nil {
			return "", err
		}
	}

	if len(m.Responses) == 0 {
		return "", &Error{Backend: "mock", Msg: "no scripted response"}
	}

	resp := m.Responses[0]
	if len(m.Responses) > 1 {
		m.Responses = m.Responses[1:]
	}
	return resp, nil
}

var _ Generator = (*Mock)(nil)
