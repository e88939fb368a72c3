package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	openaiDefaultBase = "https://api.openai.com/v1"
	maxRetries        = 3
	retryBaseDelay    = 500 * time.Millisecond
)

// OpenAIProvider talks to any OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	name    string
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	limiter *rate.Limiter // nil = unlimited
}

// NewOpenAIProvider creates a provider. model is the default model used
// when a request leaves ChatRequest.Model empty.
func NewOpenAIProvider(name, apiKey, apiBase, model string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = openaiDefaultBase
	}
	return &OpenAIProvider{
		name:    name,
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// SetRateLimit caps outgoing completion calls per minute. 0 removes the cap.
func (p *OpenAIProvider) SetRateLimit(perMinute int) {
	if perMinute <= 0 {
		p.limiter = nil
		return
	}
	p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func (p *OpenAIProvider) Name() string { return p.name }

type wireRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

type wireChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
	Delta        struct {
		Content   string            `json:"content"`
		ToolCalls []json.RawMessage `json:"tool_calls"`
	} `json:"delta"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   *Usage       `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat performs a non-streaming completion with retry on transient errors.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			slog.Debug("retrying completion", "provider", p.name, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, retriable, err := p.doChat(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retriable {
			break
		}
	}
	return nil, lastErr
}

func (p *OpenAIProvider) doChat(ctx context.Context, body []byte) (*ChatResponse, bool, error) {
	if err := p.wait(ctx); err != nil {
		return nil, false, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	p.setHeaders(httpReq)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("%s: completion request: %w", p.name, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%s: read response: %w", p.name, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		retriable := httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500
		return nil, retriable, fmt.Errorf("%s: status %d: %s", p.name, httpResp.StatusCode, truncateErr(string(data)))
	}

	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, false, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if wire.Error != nil {
		return nil, false, fmt.Errorf("%s: api error: %s", p.name, wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		return nil, false, fmt.Errorf("%s: empty choices", p.name)
	}

	choice := wire.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        wire.Usage,
	}, false, nil
}

// ChatStream streams completion content via SSE. When tools are present
// the tool-call set must arrive atomically, so it falls back to Chat and
// synthesizes chunks.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	if len(req.Tools) > 0 {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		if onChunk != nil {
			if resp.Content != "" {
				onChunk(StreamChunk{Content: resp.Content})
			}
			onChunk(StreamChunk{Done: true})
		}
		return resp, nil
	}

	body, err := p.buildBody(req, true)
	if err != nil {
		return nil, err
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: stream request: %w", p.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("%s: stream status %d: %s", p.name, httpResp.StatusCode, truncateErr(string(data)))
	}

	var content strings.Builder
	finishReason := ""
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var wire wireResponse
		if err := json.Unmarshal([]byte(payload), &wire); err != nil || len(wire.Choices) == 0 {
			continue
		}
		choice := wire.Choices[0]
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if onChunk != nil {
				onChunk(StreamChunk{Content: choice.Delta.Content})
			}
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: stream read: %w", p.name, err)
	}

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return &ChatResponse{Content: content.String(), FinishReason: finishReason}, nil
}

func (p *OpenAIProvider) buildBody(req ChatRequest, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	wire := wireRequest{
		Model:       model,
		Messages:    req.Messages,
		Tools:       CleanToolSchemas(p.name, req.Tools),
		ToolChoice:  req.ToolChoice,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

func (p *OpenAIProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func (p *OpenAIProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func truncateErr(s string) string {
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
