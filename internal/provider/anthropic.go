package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewAnthropic creates an Anthropic-backed generator.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Backend: BackendAnthropic, Msg: "API key is required"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Anthropic{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
	}, nil
}

// Name returns the backend identifier.
func (a *Anthropic) Name() string { return string(BackendAnthropic) }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt and returns the completion text.
func (a *Anthropic) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	reqBody := anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Backend: BackendAnthropic, Msg: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return "", &Error{Backend: BackendAnthropic, Msg: "create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &Error{Backend: BackendAnthropic, Msg: "send request", Transient: isNetworkError(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Backend: BackendAnthropic, Msg: "read response", Transient: true, Err: err}
	}

	var decoded anthropicResponse
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API error: status %d", resp.StatusCode)
		if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != nil {
			msg = fmt.Sprintf("API error: %s (type: %s)", decoded.Error.Message, decoded.Error.Type)
		}
		return "", &Error{Backend: BackendAnthropic, Msg: msg, Transient: transientStatus(resp.StatusCode)}
	}

	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &Error{Backend: BackendAnthropic, Msg: "unmarshal response", Err: err}
	}

	for _, block := range decoded.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", &Error{Backend: BackendAnthropic, Msg: "response contains no text content"}
}

// isNetworkError reports whether err is a transport-level failure. Timeouts
// count as transient; caller cancellation does not.
func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
