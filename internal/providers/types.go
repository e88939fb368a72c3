// Package providers abstracts model completion and embedding backends
// behind a small interface so the orchestration core never depends on a
// specific vendor API.
package providers

import "context"

// Message is one entry in a chat completion request.
type Message struct {
	Role       string            `json:"role"` // system | user | assistant | tool
	Content    string            `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
}

// ToolCallRequest is a structured tool invocation requested by the model.
type ToolCallRequest struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolFunctionSchema describes one callable tool to the model.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolDefinition wraps a function schema in the wire envelope.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// Usage reports token consumption for one completion call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is a model completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  string // "", "auto", "none", "required"
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the final result of a completion call. Tool calls are
// returned atomically: either the full set or none.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCallRequest
	FinishReason string
	Usage        *Usage
}

// StreamChunk is one incremental piece of a streamed completion.
type StreamChunk struct {
	Content string
	Done    bool
}

// Provider is the model completion interface consumed by the agent loop,
// reranker and compression manager.
type Provider interface {
	Name() string
	// Chat performs a blocking completion and returns the full response,
	// including any tool-call set.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// ChatStream yields incremental content via onChunk and returns the
	// complete response. Implementations may fall back to Chat and
	// synthesize chunks when streaming cannot be combined with tools.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)
}

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
