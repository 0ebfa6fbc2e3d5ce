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

func newTestGeminiClient(url string) *GeminiClient {
	cfg := DefaultGeminiConfig("test-key")
	cfg.BaseURL = url
	return NewGeminiClientWithConfig(cfg)
}

func TestGeminiCall_ParsesResponse(t *testing.T) {
	var gotReq GeminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "hello "}, {"text": "world"}], "role": "model"}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 7, "totalTokenCount": 19}
		}`))
	}))
	defer server.Close()

	c := newTestGeminiClient(server.URL)
	resp, err := c.Call(context.Background(), types.Request{
		Messages: []types.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
		Temperature: 0.3,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if resp.Content != "hello world" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.TokensIn != 12 || resp.TokensOut != 7 {
		t.Errorf("tokens = %d/%d, want 12/7", resp.TokensIn, resp.TokensOut)
	}
	if resp.Blocked {
		t.Error("Blocked set on a clean response")
	}

	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("system instruction not carried: %+v", gotReq.SystemInstruction)
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Role != "user" {
		t.Errorf("contents = %+v", gotReq.Contents)
	}
}

func TestGeminiCall_RecitationBecomesBlockedEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "partial boilerplate"}], "role": "model"}, "finishReason": "RECITATION"}],
			"usageMetadata": {"promptTokenCount": 30, "candidatesTokenCount": 500, "totalTokenCount": 530}
		}`))
	}))
	defer server.Close()

	c := newTestGeminiClient(server.URL)
	resp, err := c.Call(context.Background(), types.Request{
		Messages: []types.Message{{Role: "user", Content: "generate"}},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if !resp.Blocked {
		t.Error("RECITATION not flagged as blocked")
	}
	if resp.Content != "" {
		t.Errorf("blocked response leaked content: %q", resp.Content)
	}
	if resp.TokensOut != 0 {
		t.Errorf("TokensOut = %d, blocked output must not be billed as usable", resp.TokensOut)
	}
	if resp.TokensIn != 30 {
		t.Errorf("TokensIn = %d, prompt tokens still counted", resp.TokensIn)
	}
}

func TestGeminiCall_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": {"code": 400, "message": "invalid argument", "status": "INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	c := newTestGeminiClient(server.URL)
	_, err := c.Call(context.Background(), types.Request{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "invalid argument") {
		t.Errorf("err = %v, want API error surfaced", err)
	}
}

func TestGeminiCall_NoKey(t *testing.T) {
	c := newTestGeminiClient("http://127.0.0.1:0")
	c.apiKey = ""
	if _, err := c.Call(context.Background(), types.Request{}); err == nil {
		t.Error("Call without key succeeded")
	}
}

func sseBody(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString("data: ")
		b.WriteString(c)
		b.WriteString("\n\n")
	}
	return b.String()
}

func collectChunks(t *testing.T, ch <-chan types.StreamChunk) (text string, done types.StreamChunk) {
	t.Helper()
	gotDone := false
	for chunk := range ch {
		switch chunk.Kind {
		case types.ChunkToken:
			if gotDone {
				t.Error("token chunk after done chunk")
			}
			text += chunk.Text
		case types.ChunkDone:
			gotDone = true
			done = chunk
		}
	}
	if !gotDone {
		t.Fatal("stream ended without a done chunk")
	}
	return text, done
}

func TestGeminiStream_TokensThenDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "alt=sse") {
			t.Errorf("missing alt=sse in %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody(
			`{"candidates": [{"content": {"parts": [{"text": "### FILE: a.py"}]}}]}`,
			`{"candidates": [{"content": {"parts": [{"text": "\nx = 1\n"}]}}], "usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 4, "totalTokenCount": 13}}`,
			`{"candidates": [{"content": {"parts": []}, "finishReason": "STOP"}], "usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 11, "totalTokenCount": 20}}`,
		)))
	}))
	defer server.Close()

	c := newTestGeminiClient(server.URL)
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
	if done.TokensIn != 9 || done.TokensOut != 11 {
		t.Errorf("done usage = %d/%d, want latest cumulative 9/11", done.TokensIn, done.TokensOut)
	}
	if done.Blocked {
		t.Error("clean stream flagged blocked")
	}
}

func TestGeminiStream_RecitationAbortsBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody(
			`{"candidates": [{"content": {"parts": [{"text": "some code"}]}}]}`,
			`{"candidates": [{"content": {"parts": []}, "finishReason": "RECITATION"}]}`,
			`{"candidates": [{"content": {"parts": [{"text": "must not appear"}]}}]}`,
		)))
	}))
	defer server.Close()

	c := newTestGeminiClient(server.URL)
	ch, err := c.Stream(context.Background(), types.Request{
		Messages: []types.Message{{Role: "user", Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	text, done := collectChunks(t, ch)
	if !done.Blocked {
		t.Error("RECITATION stream not flagged blocked")
	}
	if strings.Contains(text, "must not appear") {
		t.Errorf("tokens emitted after the block: %q", text)
	}
}

func TestGeminiStream_TransportFailureStillSendsDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	c := newTestGeminiClient(server.URL)
	ch, err := c.Stream(context.Background(), types.Request{
		Messages: []types.Message{{Role: "user", Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	text, done := collectChunks(t, ch)
	if text != "" {
		t.Errorf("failed stream emitted tokens: %q", text)
	}
	if done.Blocked {
		t.Error("transport failure is empty, not blocked")
	}
}
