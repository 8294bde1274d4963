package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lararun/internal/apperr"
	"lararun/internal/logger"
	"lararun/internal/observability"
)

// Generator produces schema-conformant JSON from a system and user prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

// Config configures the OpenAI-compatible client
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client calls the Responses API with strict json_schema output.
type Client struct {
	log        *logger.Logger
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	backoff    time.Duration
}

// NewClient builds a client; BaseURL and Model fall back to OpenAI defaults.
func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing llm api key")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		log:        log.With("component", "LLMClient"),
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
	}, nil
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model string         `json:"model"`
	Input []inputMessage `json:"input"`
	Text  struct {
		Format map[string]any `json:"format"`
	} `json:"text"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// GenerateJSON sends the prompts with a strict json_schema response format
// and decodes the assistant's output text.
func (c *Client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}

	req := responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	start := time.Now()
	var resp responsesResponse
	err := c.doWithRetry(ctx, "/v1/responses", &req, &resp)
	observability.ObserveLLMRequest(schemaName, err, time.Since(start))
	if err != nil {
		var hErr *httpError
		if errors.As(err, &hErr) && !hErr.retryable() {
			return nil, apperr.Permanent(apperr.CodeUpstream, "structured generation request rejected", err)
		}
		return nil, apperr.Transient(apperr.CodeUpstream, "structured generation request failed", err)
	}

	text, refusal := extractOutputText(resp)
	if refusal != "" {
		return nil, apperr.Permanent(apperr.CodeMalformedOutput, "model refused", errors.New(refusal))
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Permanent(apperr.CodeMalformedOutput, "no output_text found in response", nil)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, apperr.Permanent(apperr.CodeMalformedOutput, "failed to parse model JSON", err)
	}
	return obj, nil
}

func extractOutputText(resp responsesResponse) (text, refusal string) {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			switch {
			case c.Type == "refusal" && c.Refusal != "":
				refusal = c.Refusal
			case c.Type == "output_text" && c.Text != "":
				out.WriteString(c.Text)
			}
		}
	}
	return out.String(), refusal
}

func (c *Client) doWithRetry(ctx context.Context, path string, body, out any) error {
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("llm decode error: %w", uErr)
			}
			return nil
		}

		var hErr *httpError
		if errors.As(err, &hErr) && !hErr.retryable() {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		c.log.Warn("LLM request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", backoff.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (c *Client) doOnce(ctx context.Context, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
