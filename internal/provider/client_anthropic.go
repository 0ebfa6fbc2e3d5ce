package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"appforge/internal/types"
)

// AnthropicClient implements types.Client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	logger      *zap.Logger
	mu          sync.Mutex
	lastRequest time.Time
}

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.anthropic.com/v1",
		Model:   "claude-sonnet-4-6",
		Timeout: 10 * time.Minute, // large generations need extended timeouts
	}
}

// NewAnthropicClient creates a new Anthropic client with default config.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return NewAnthropicClientWithConfig(DefaultAnthropicConfig(apiKey))
}

// NewAnthropicClientWithConfig creates a new Anthropic client with custom config.
func NewAnthropicClientWithConfig(cfg AnthropicConfig) *AnthropicClient {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetModel changes the model used for completions.
func (c *AnthropicClient) SetModel(model string) { c.model = model }

// GetModel returns the current model.
func (c *AnthropicClient) GetModel() string { return c.model }

// throttle enforces minimum spacing between requests.
func (c *AnthropicClient) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func (c *AnthropicClient) buildRequest(req types.Request, stream bool) AnthropicRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	var system string
	messages := make([]AnthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		messages = append(messages, AnthropicMessage{Role: m.Role, Content: m.Content})
	}

	return AnthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// Call performs a batch completion against /messages.
func (c *AnthropicClient) Call(ctx context.Context, req types.Request) (types.Response, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	reqBody := c.buildRequest(req, false)
	c.logger.Debug("anthropic call",
		zap.String("model", reqBody.Model),
		zap.Int("max_tokens", reqBody.MaxTokens))

	if c.apiKey == "" {
		return types.Response{}, fmt.Errorf("API key not configured")
	}

	c.throttle()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return types.Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Retry loop for rate limits and transient errors
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return types.Response{}, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return types.Response{}, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var ar AnthropicResponse
		if err := json.Unmarshal(body, &ar); err != nil {
			return types.Response{}, fmt.Errorf("failed to parse response: %w", err)
		}
		if ar.Error != nil {
			return types.Response{}, fmt.Errorf("API error: %s", ar.Error.Message)
		}

		var sb strings.Builder
		for _, block := range ar.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}

		out := types.Response{
			Content:    strings.TrimSpace(sb.String()),
			Model:      reqBody.Model,
			TokensIn:   ar.Usage.InputTokens,
			TokensOut:  ar.Usage.OutputTokens,
			DurationMs: time.Since(start).Milliseconds(),
			Blocked:    ar.StopReason == "refusal",
		}
		c.logger.Debug("anthropic call complete",
			zap.Int64("duration_ms", out.DurationMs),
			zap.Int("tokens", out.TotalTokens()),
			zap.Int("response_len", len(out.Content)))
		return out, nil
	}

	return types.Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Stream performs a streaming completion. Token chunks are followed by a
// mandatory terminal done chunk carrying usage totals; a mid-stream
// transport failure still yields the done chunk so callers can treat the
// attempt as empty and fall back.
func (c *AnthropicClient) Stream(ctx context.Context, req types.Request) (<-chan types.StreamChunk, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	out := make(chan types.StreamChunk, 100)
	reqBody := c.buildRequest(req, true)

	go func() {
		defer close(out)

		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
			defer cancel()
		}

		start := time.Now()
		done := types.StreamChunk{Kind: types.ChunkDone, Model: reqBody.Model}
		defer func() {
			done.DurationMs = time.Since(start).Milliseconds()
			select {
			case out <- done:
			case <-ctx.Done():
			}
		}()

		c.throttle()

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			c.logger.Error("anthropic stream: marshal failed", zap.Error(err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			c.logger.Error("anthropic stream: request build failed", zap.Error(err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("anthropic stream: request failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			c.logger.Warn("anthropic stream: non-200 status",
				zap.Int("status", resp.StatusCode),
				zap.String("body", string(body)))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			var evt struct {
				Type    string `json:"type"`
				Message *struct {
					Usage struct {
						InputTokens int `json:"input_tokens"`
					} `json:"usage"`
				} `json:"message,omitempty"`
				Delta *struct {
					Type       string `json:"type"`
					Text       string `json:"text,omitempty"`
					StopReason string `json:"stop_reason,omitempty"`
				} `json:"delta,omitempty"`
				Usage *struct {
					OutputTokens int `json:"output_tokens"`
				} `json:"usage,omitempty"`
				Error *struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error,omitempty"`
			}
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}
			if evt.Error != nil {
				c.logger.Warn("anthropic stream: API error", zap.String("message", evt.Error.Message))
				return
			}

			switch evt.Type {
			case "message_start":
				if evt.Message != nil {
					done.TokensIn = evt.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if evt.Delta != nil && evt.Delta.Text != "" {
					select {
					case out <- types.StreamChunk{Kind: types.ChunkToken, Text: evt.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				if evt.Usage != nil {
					done.TokensOut = evt.Usage.OutputTokens
				}
				if evt.Delta != nil && evt.Delta.StopReason == "refusal" {
					done.Blocked = true
				}
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("anthropic stream: scan error", zap.Error(err))
		}
	}()

	return out, nil
}
