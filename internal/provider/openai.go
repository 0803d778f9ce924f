package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAI calls the OpenAI Chat Completions API.
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewOpenAI creates an OpenAI-backed generator.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Backend: BackendOpenAI, Msg: "API key is required"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4-turbo-preview"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAI{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
	}, nil
}

// Name returns the backend identifier.
func (o *OpenAI) Name() string { return string(BackendOpenAI) }

type openaiRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []openaiMessage `json:"messages"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends the prompt and returns the completion text.
func (o *OpenAI) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	reqBody := openaiRequest{
		Model:     o.model,
		MaxTokens: maxTokens,
		Messages:  []openaiMessage{{Role: "user", Content: prompt}},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Backend: BackendOpenAI, Msg: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", &Error{Backend: BackendOpenAI, Msg: "create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", &Error{Backend: BackendOpenAI, Msg: "send request", Transient: isNetworkError(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Backend: BackendOpenAI, Msg: "read response", Transient: true, Err: err}
	}

	var decoded openaiResponse
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API error: status %d", resp.StatusCode)
		if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != nil {
			msg = fmt.Sprintf("API error: %s (type: %s)", decoded.Error.Message, decoded.Error.Type)
		}
		return "", &Error{Backend: BackendOpenAI, Msg: msg, Transient: transientStatus(resp.StatusCode)}
	}

	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &Error{Backend: BackendOpenAI, Msg: "unmarshal response", Err: err}
	}

	if len(decoded.Choices) == 0 {
		return "", &Error{Backend: BackendOpenAI, Msg: "response contains no choices"}
	}

	return decoded.Choices[0].Message.Content, nil
}
