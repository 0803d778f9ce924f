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

// Gemini calls the Google Generative Language API.
type Gemini struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewGemini creates a Gemini-backed generator.
func NewGemini(cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Backend: BackendGemini, Msg: "API key is required"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Gemini{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
	}, nil
}

// Name returns the backend identifier.
func (g *Gemini) Name() string { return string(BackendGemini) }

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate sends the prompt and returns the completion text.
func (g *Gemini) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	reqBody := geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: maxTokens},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Backend: BackendGemini, Msg: "marshal request", Err: err}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", &Error{Backend: BackendGemini, Msg: "create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &Error{Backend: BackendGemini, Msg: "send request", Transient: isNetworkError(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Backend: BackendGemini, Msg: "read response", Transient: true, Err: err}
	}

	var decoded geminiResponse
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API error: status %d", resp.StatusCode)
		if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != nil {
			msg = fmt.Sprintf("API error: %s (status: %s)", decoded.Error.Message, decoded.Error.Status)
		}
		return "", &Error{Backend: BackendGemini, Msg: msg, Transient: transientStatus(resp.StatusCode)}
	}

	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &Error{Backend: BackendGemini, Msg: "unmarshal response", Err: err}
	}

	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", &Error{Backend: BackendGemini, Msg: "response contains no candidates"}
	}

	return decoded.Candidates[0].Content.Parts[0].Text, nil
}
