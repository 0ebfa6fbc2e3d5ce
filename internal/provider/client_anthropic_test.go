package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"appforge/internal/types"
)

func newTestAnthropicClient(url string) *AnthropicClient {
	cfg := DefaultAnthropicConfig("test-key")
	cfg.BaseURL = url
	return NewAnthropicClientWithConfig(cfg)
}

func TestAnthropicCall_ParsesResponse(t *testing.T) {
	var gotReq AnthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant",
			"content": [{"type": "text", "text": "plan line 1"}, {"type": "text", "text": "\nplan line 2"}],
			"model": "claude-sonnet-4-6", "stop_reason": "end_turn",
			"usage": {"input_tokens": 25, "output_tokens": 14}
		}`))
	}))
	defer server.Close()

	c := newTestAnthropicClient(server.URL)
	resp, err := c.Call(context.Background(), types.Request{
		Messages: []types.Message{
			{Role: "system", Content: "you are a planner"},
			{Role: "user", Content: "plan it"},
		},
		MaxTokens: 4000,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if resp.Content != "plan line 1\nplan line 2" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.TokensIn != 25 || resp.TokensOut != 14 {
		t.Errorf("tokens = %d/%d", resp.TokensIn, resp.TokensOut)
	}

	if gotReq.System != "you are a planner" {
		t.Errorf("system = %q, want extracted from messages", gotReq.System)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
	if gotReq.MaxTokens != 4000 {
		t.Errorf("max_tokens = %d", gotReq.MaxTokens)
	}
}

func TestAnthropicCall_RefusalBecomesBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": [],
			"stop_reason": "refusal",
			"usage": {"input_tokens": 10, "output_tokens": 0}
		}`))
	}))
	defer server.Close()

	c := newTestAnthropicClient(server.URL)
	resp, err := c.Call(context.Background(), types.Request{
		Messages: []types.Message{{Role: "user", Content: "generate"}},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.Blocked {
		t.Error("refusal not flagged as blocked")
	}
	if resp.Content != "" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestAnthropicCall_RetriesRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": [{"type": "text", "text": "ok"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer server.Close()

	c := newTestAnthropicClient(server.URL)
	resp, err := c.Call(context.Background(), types.Request{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Content != "ok" || attempts != 2 {
		t.Errorf("Content = %q after %d attempts", resp.Content, attempts)
	}
}

func TestAnthropicCall_NonRetryableStatusFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"type": "authentication_error", "message": "bad key"}}`))
	}))
	defer server.Close()

	c := newTestAnthropicClient(server.URL)
	_, err := c.Call(context.Background(), types.Request{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want status failure", err)
	}
}

func TestAnthropicStream_TokensUsageAndDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("stream flag not set on request")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody(
			`{"type": "message_start", "message": {"usage": {"input_tokens": 42}}}`,
			`{"type": "content_block_delta", "delta": {"type": "text_delta", "text": "### FILE: a.py"}}`,
			`{"type": "content_block_delta", "delta": {"type": "text_delta", "text": "\nx = 1\n"}}`,
			`{"type": "message_delta", "delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 17}}`,
			`{"type": "message_stop"}`,
		)))
	}))
	defer server.Close()

	c := newTestAnthropicClient(server.URL)
	ch, err := c.Stream(context.Background(), types.Request{
		Messages: []types.Message{{Role: "user", Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	text, done := collectChunks(t, ch)
	if text != "### FILE: a.py\nx = 1\n" {
		t.Errorf("streamed text = %q", text)
	}
	if done.TokensIn != 42 || done.TokensOut != 17 {
		t.Errorf("done usage = %d/%d, want 42/17", done.TokensIn, done.TokensOut)
	}
	if done.Blocked {
		t.Error("clean stream flagged blocked")
	}
}

func TestAnthropicStream_RefusalFlagsDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody(
			`{"type": "message_start", "message": {"usage": {"input_tokens": 5}}}`,
			`{"type": "message_delta", "delta": {"stop_reason": "refusal"}, "usage": {"output_tokens": 0}}`,
		)))
	}))
	defer server.Close()

	c := newTestAnthropicClient(server.URL)
	ch, err := c.Stream(context.Background(), types.Request{
		Messages: []types.Message{{Role: "user", Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	_, done := collectChunks(t, ch)
	if !done.Blocked {
		t.Error("refusal stream not flagged blocked")
	}
}

func TestAnthropicStream_NoKey(t *testing.T) {
	c := newTestAnthropicClient("http://127.0.0.1:0")
	c.apiKey = ""
	if _, err := c.Stream(context.Background(), types.Request{}); err == nil {
		t.Error("Stream without key succeeded")
	}
}
