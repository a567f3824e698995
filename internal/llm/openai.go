package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rmp4/sql-agent-dashboard/internal/fence"
)

const emptyReply = "I couldn't generate a response."

type OpenAIConfig struct {
	BaseURL             string
	APIKey              string
	Model               string
	Temperature         float64
	MaxCompletionTokens int
	MaxRetries          int
	Timeout             time.Duration
	// RetryBaseDelay is the first backoff step; later steps double it.
	RetryBaseDelay time.Duration
	Logger         *slog.Logger
}

// OpenAIResponder talks to an OpenAI-compatible chat completions endpoint.
type OpenAIResponder struct {
	baseURL        string
	apiKey         string
	model          string
	temperature    float64
	maxTokens      int
	maxRetries     int
	retryBaseDelay time.Duration
	client         *http.Client
	logger         *slog.Logger
}

func NewOpenAIResponder(cfg OpenAIConfig) (*OpenAIResponder, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.MaxCompletionTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIResponder{
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:         strings.TrimSpace(cfg.APIKey),
		model:          model,
		temperature:    cfg.Temperature,
		maxTokens:      maxTokens,
		maxRetries:     max(cfg.MaxRetries, 0),
		retryBaseDelay: baseDelay,
		client:         &http.Client{Timeout: timeout},
		logger:         logger,
	}, nil
}

func (r *OpenAIResponder) Model() string {
	return r.model
}

func (r *OpenAIResponder) Generate(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(r.payload(req))
	if err != nil {
		return Response{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	content, err := r.complete(ctx, body)
	if err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(content) == "" {
		content = emptyReply
	}
	return Response{Text: content, Visualization: extractVisualization(content)}, nil
}

func (r *OpenAIResponder) payload(req Request) map[string]any {
	payload := map[string]any{
		"model":                 r.model,
		"messages":              buildMessages(req),
		"max_completion_tokens": r.maxTokens,
	}
	if r.temperature > 0 {
		payload["temperature"] = r.temperature
	}
	return payload
}

// complete posts body and retries rate limits and server errors with
// exponential backoff.
func (r *OpenAIResponder) complete(ctx context.Context, body []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.retryBaseDelay * time.Duration(1<<uint(attempt-1))
			r.logger.Warn("retrying chat completion",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", lastErr),
			)
			if err := sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("request chat completion: %w", err)
			}
		}

		content, retryable, err := r.attempt(ctx, body)
		if err == nil {
			return content, nil
		}
		if !retryable || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w (after %d retries)", lastErr, r.maxRetries)
}

func (r *OpenAIResponder) attempt(ctx context.Context, body []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", false, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("empty chat completion choices")
	}
	if parsed.Choices[0].Message.Content == nil {
		return "", false, nil
	}
	return *parsed.Choices[0].Message.Content, false, nil
}

// extractVisualization keeps the first visualization block when it is a JSON
// object.
func extractVisualization(text string) json.RawMessage {
	block, ok := fence.Visualization(text)
	if !ok {
		return nil
	}
	var object map[string]any
	if err := json.Unmarshal([]byte(block), &object); err != nil || object == nil {
		return nil
	}
	return json.RawMessage(block)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
