package types

import "context"

// Message is a single conversation message sent to a provider.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request is a provider-agnostic LLM call request.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Model       string    `json:"model"`
}

// Response is the result of a batch LLM call. Adapters signal a
// provider-side content block (or a transport failure they could not
// distinguish further) by returning empty content; callers branch only on
// empty vs non-empty, never on an adapter error taxonomy.
type Response struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensIn   int    `json:"tokens_in"`
	TokensOut  int    `json:"tokens_out"`
	DurationMs int64  `json:"duration_ms"`
	Blocked    bool   `json:"blocked"`
}

// TotalTokens returns input plus output token usage.
func (r Response) TotalTokens() int {
	return r.TokensIn + r.TokensOut
}

// ChunkKind tags a streaming chunk.
type ChunkKind string

const (
	ChunkToken ChunkKind = "token"
	ChunkDone  ChunkKind = "done"
)

// StreamChunk is one element of a provider token stream. The terminal
// ChunkDone chunk is mandatory and always last; it carries the usage totals
// and the blocked flag for the whole attempt.
type StreamChunk struct {
	Kind       ChunkKind `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Model      string    `json:"model,omitempty"`
	TokensIn   int       `json:"tokens_in,omitempty"`
	TokensOut  int       `json:"tokens_out,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Blocked    bool      `json:"blocked,omitempty"`
}

// Client is the LLM call interface consumed by the pipeline and implemented
// by provider adapters.
type Client interface {
	// Call performs a batch completion.
	Call(ctx context.Context, req Request) (Response, error)
	// Stream performs a streaming completion. The returned channel is closed
	// after the terminal done chunk.
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}
