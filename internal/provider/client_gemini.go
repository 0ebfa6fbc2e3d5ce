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

// GeminiClient implements types.Client for the Google Gemini API.
//
// Gemini models return a RECITATION finish reason when generated text trips
// the content-recitation filter, which happens routinely on boilerplate
// code. The adapter maps that to an empty, blocked response so the pipeline
// can fall back to another model.
type GeminiClient struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	httpClient      *http.Client
	logger          *zap.Logger
	mu              sync.Mutex
	lastRequest     time.Time
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
	Logger          *zap.Logger
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Model:           "gemini-3-flash-preview",
		Timeout:         10 * time.Minute,
		MaxOutputTokens: 65536,
	}
}

// NewGeminiClient creates a new Gemini client with default config.
func NewGeminiClient(apiKey string) *GeminiClient {
	return NewGeminiClientWithConfig(DefaultGeminiConfig(apiKey))
}

// NewGeminiClientWithConfig creates a new Gemini client with custom config.
func NewGeminiClientWithConfig(cfg GeminiConfig) *GeminiClient {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	maxOut := cfg.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = 65536
	}
	return &GeminiClient{
		apiKey:          cfg.APIKey,
		baseURL:         cfg.BaseURL,
		model:           model,
		maxOutputTokens: maxOut,
		logger:          logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetModel changes the model used for completions.
func (c *GeminiClient) SetModel(model string) { c.model = model }

// GetModel returns the current model.
func (c *GeminiClient) GetModel() string { return c.model }

func (c *GeminiClient) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func (c *GeminiClient) buildRequest(req types.Request) (string, GeminiRequest) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > c.maxOutputTokens {
		maxTokens = c.maxOutputTokens
	}

	var system *GeminiContent
	contents := make([]GeminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if system == nil {
				system = &GeminiContent{Parts: []GeminiPart{{Text: m.Content}}}
			} else {
				system.Parts = append(system.Parts, GeminiPart{Text: m.Content})
			}
		case "assistant":
			contents = append(contents, GeminiContent{Role: "model", Parts: []GeminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, GeminiContent{Role: "user", Parts: []GeminiPart{{Text: m.Content}}})
		}
	}

	return model, GeminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: GeminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
}

func isRecitation(finishReason string) bool {
	return strings.Contains(strings.ToUpper(finishReason), "RECITATION")
}

// Call performs a batch completion against models/{model}:generateContent.
// A RECITATION block returns empty content with Blocked set; the caller
// decides whether to retry on a different model.
func (c *GeminiClient) Call(ctx context.Context, req types.Request) (types.Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	model, reqBody := c.buildRequest(req)
	c.logger.Debug("gemini call", zap.String("model", model))

	if c.apiKey == "" {
		return types.Response{}, fmt.Errorf("API key not configured")
	}

	c.throttle()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return types.Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)

	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return types.Response{}, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

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

		var gr GeminiResponse
		if err := json.Unmarshal(body, &gr); err != nil {
			return types.Response{}, fmt.Errorf("failed to parse response: %w", err)
		}
		if gr.Error != nil {
			return types.Response{}, fmt.Errorf("API error: %s", gr.Error.Message)
		}

		out := types.Response{
			Model:      model,
			TokensIn:   gr.UsageMetadata.PromptTokenCount,
			TokensOut:  gr.UsageMetadata.CandidatesTokenCount,
			DurationMs: time.Since(start).Milliseconds(),
		}

		if len(gr.Candidates) > 0 {
			if isRecitation(gr.Candidates[0].FinishReason) {
				c.logger.Warn("gemini call: RECITATION block, content suppressed",
					zap.String("model", model))
				out.Blocked = true
				out.TokensOut = 0
				return out, nil
			}
			var sb strings.Builder
			for _, part := range gr.Candidates[0].Content.Parts {
				sb.WriteString(part.Text)
			}
			out.Content = strings.TrimSpace(sb.String())
		}

		c.logger.Debug("gemini call complete",
			zap.Int64("duration_ms", out.DurationMs),
			zap.Int("tokens", out.TotalTokens()),
			zap.Int("response_len", len(out.Content)))
		return out, nil
	}

	return types.Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Stream performs a streaming completion against
// models/{model}:streamGenerateContent. A RECITATION finish reason aborts
// token emission and flags the terminal done chunk as blocked.
func (c *GeminiClient) Stream(ctx context.Context, req types.Request) (<-chan types.StreamChunk, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	out := make(chan types.StreamChunk, 100)
	model, reqBody := c.buildRequest(req)

	go func() {
		defer close(out)

		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
			defer cancel()
		}

		start := time.Now()
		done := types.StreamChunk{Kind: types.ChunkDone, Model: model}
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
			c.logger.Error("gemini stream: marshal failed", zap.Error(err))
			return
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, model, c.apiKey)
		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			c.logger.Error("gemini stream: request build failed", zap.Error(err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("gemini stream: request failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			c.logger.Warn("gemini stream: non-200 status",
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

			var chunk GeminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				c.logger.Warn("gemini stream: API error", zap.String("message", chunk.Error.Message))
				return
			}

			// Usage metadata arrives cumulatively; keep the latest
			if chunk.UsageMetadata.TotalTokenCount > 0 {
				done.TokensIn = chunk.UsageMetadata.PromptTokenCount
				done.TokensOut = chunk.UsageMetadata.CandidatesTokenCount
			}

			if len(chunk.Candidates) == 0 {
				continue
			}
			if isRecitation(chunk.Candidates[0].FinishReason) {
				c.logger.Warn("gemini stream: RECITATION block mid-stream", zap.String("model", model))
				done.Blocked = true
				return
			}
			for _, part := range chunk.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case out <- types.StreamChunk{Kind: types.ChunkToken, Text: part.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("gemini stream: scan error", zap.Error(err))
		}
	}()

	return out, nil
}
