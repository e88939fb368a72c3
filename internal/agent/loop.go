package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codelenshq/oracle/internal/convo"
	"github.com/codelenshq/oracle/internal/providers"
	"github.com/codelenshq/oracle/internal/tools"
	"github.com/codelenshq/oracle/pkg/protocol"
)

const turnLimitNotice = "I reached my reasoning limit before fully answering. Here is what I found so far:\n\n"

// Loop is the tool-calling controller: it issues a completion request
// with the scoped tool catalog, executes requested tool calls
// (concurrently when independent), appends results, and repeats until
// a final answer or the turn ceiling.
type Loop struct {
	provider    providers.Provider
	model       string
	registry    *tools.Registry
	scope       tools.Scope
	turnCeiling int
}

func NewLoop(provider providers.Provider, model string, registry *tools.Registry, scope tools.Scope, turnCeiling int) *Loop {
	if turnCeiling <= 0 {
		turnCeiling = 15
	}
	return &Loop{
		provider:    provider,
		model:       model,
		registry:    registry,
		scope:       scope,
		turnCeiling: turnCeiling,
	}
}

func (l *Loop) Model() string { return l.model }

// Run executes the loop. With a turn ceiling of T it issues at most T
// completion calls. Tool failures are fed back to the model as
// error-status results; only total model unavailability is returned as
// an error.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	system := req.SystemPrompt
	if req.Context != "" {
		system += "\n\n# Evidence\n" + req.Context
	}

	msgs := make([]providers.Message, 0, len(req.History)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: system})
	msgs = append(msgs, req.History...)
	msgs = append(msgs, providers.Message{Role: "user", Content: req.Question})

	result := &RunResult{FinalState: StateAwaitingModel}
	toolDefs := l.registry.ProviderDefs(l.scope)
	lastContent := ""

	for turn := 1; turn <= l.turnCeiling; turn++ {
		if err := ctx.Err(); err != nil {
			result.FinalState = StateError
			return result, err
		}
		result.Turns = turn

		resp, err := l.provider.ChatStream(ctx, providers.ChatRequest{
			Model:      l.model,
			Messages:   msgs,
			Tools:      toolDefs,
			ToolChoice: "auto",
		}, func(chunk providers.StreamChunk) {
			if chunk.Content != "" {
				req.Sink.Emit(protocol.AnswerToken(chunk.Content))
			}
		})
		if err != nil {
			// Model unavailability is one of the two user-visible
			// failure classes; nothing to degrade to here.
			result.FinalState = StateError
			return result, fmt.Errorf("model completion (turn %d): %w", turn, err)
		}
		if resp.Usage != nil {
			result.TokensUsed += resp.Usage.TotalTokens
		}
		if resp.Content != "" {
			lastContent = resp.Content
		}

		// Final answer: no tool calls requested.
		if len(resp.ToolCalls) == 0 {
			result.Answer = resp.Content
			result.Exchanges = append(result.Exchanges, convo.Exchange{
				Role:      "assistant",
				Content:   resp.Content,
				Timestamp: time.Now().UTC(),
			})
			result.FinalState = StateDone
			return result, nil
		}

		// Executing tools.
		result.FinalState = StateExecutingTools
		assistant := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		msgs = append(msgs, assistant)

		calls := l.executeToolCalls(ctx, resp.ToolCalls, req.SessionKey, req.Sink)

		assistantEx := convo.Exchange{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: calls,
			Timestamp: time.Now().UTC(),
		}
		result.Exchanges = append(result.Exchanges, assistantEx)

		// Results appended in original call order regardless of
		// completion order, so downstream prompts are reproducible.
		for _, call := range calls {
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    call.Result,
				ToolCallID: call.ID,
			})
			result.Exchanges = append(result.Exchanges, convo.Exchange{
				Role:       "tool",
				Content:    call.Result,
				ToolCallID: call.ID,
				Timestamp:  time.Now().UTC(),
			})
		}

		result.FinalState = StateAwaitingModel
	}

	// Turn ceiling reached: best-effort partial answer, flagged.
	slog.Warn("turn ceiling reached", "session", req.SessionKey, "turns", l.turnCeiling)
	req.Sink.Emit(protocol.ErrorEvent(protocol.ErrTurnLimit,
		fmt.Sprintf("turn ceiling %d reached, answer is partial", l.turnCeiling)))
	result.Partial = true
	result.FinalState = StateError
	result.Answer = turnLimitNotice + lastContent
	result.Exchanges = append(result.Exchanges, convo.Exchange{
		Role:      "assistant",
		Content:   result.Answer,
		Timestamp: time.Now().UTC(),
	})
	return result, nil
}

// executeToolCalls runs the tool calls of one turn concurrently and
// returns records in the original call order. A failing tool yields an
// error-status record, never a loop failure.
func (l *Loop) executeToolCalls(ctx context.Context, requests []providers.ToolCallRequest, sessionKey string, sink protocol.Sink) []convo.ToolCall {
	calls := make([]convo.ToolCall, len(requests))
	var wg sync.WaitGroup

	for i, tc := range requests {
		sink.Emit(protocol.ToolCallEvent(tc.ID, tc.Function.Name, tc.Function.Arguments))

		wg.Add(1)
		go func() {
			defer wg.Done()
			calls[i] = l.executeOne(ctx, tc, sessionKey)
		}()
	}
	wg.Wait()

	// Emit results in call order after the whole batch completes, so
	// every consumer observes the same deterministic stream.
	for _, call := range calls {
		sink.Emit(protocol.ToolResultEvent(call.ID, call.Name, call.Result, call.Status == "error"))
	}
	return calls
}

func (l *Loop) executeOne(ctx context.Context, tc providers.ToolCallRequest, sessionKey string) convo.ToolCall {
	call := convo.ToolCall{
		ID:        tc.ID,
		Name:      tc.Function.Name,
		Arguments: tc.Function.Arguments,
		Status:    "pending",
	}

	args := map[string]interface{}{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			call.Status = "error"
			call.Result = "invalid tool arguments: " + err.Error()
			return call
		}
	}

	start := time.Now()
	res := func() *tools.Result {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("tool panicked", "tool", tc.Function.Name, "panic", r)
			}
		}()
		return l.registry.Execute(ctx, tc.Function.Name, args, l.scope, sessionKey)
	}()
	call.Duration = time.Since(start)

	if res == nil {
		call.Status = "error"
		call.Result = "tool execution panicked"
		return call
	}

	call.Result = res.ForLLM
	if res.IsError {
		call.Status = "error"
	} else {
		call.Status = "success"
	}
	return call
}
