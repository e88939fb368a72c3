// Package protocol defines the typed event stream emitted while the
// oracle answers a question. Events are transport-agnostic: the web
// front-end forwards them over its own wire, the CLI prints them.
package protocol

import "time"

// EventType identifies the kind of a stream event.
type EventType string

const (
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventAnswerToken EventType = "answer_token"
	EventDone        EventType = "done"
	EventError       EventType = "error"
)

// Event is one chunk of the streamed response.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`

	// tool_call / tool_result
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	ToolArgs   string `json:"toolArgs,omitempty"`
	ToolOutput string `json:"toolOutput,omitempty"`
	ToolError  bool   `json:"toolError,omitempty"`

	// answer_token
	Token string `json:"token,omitempty"`

	// done
	TokensUsed int `json:"tokensUsed,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Sink receives stream events. A nil Sink is allowed everywhere and
// means the caller does not want streaming.
type Sink func(Event)

// Emit sends an event to the sink if one is set.
func (s Sink) Emit(ev Event) {
	if s == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s(ev)
}

// AnswerToken builds an answer_token event.
func AnswerToken(tok string) Event {
	return Event{Type: EventAnswerToken, Token: tok}
}

// ToolCallEvent builds a tool_call event.
func ToolCallEvent(id, name, args string) Event {
	return Event{Type: EventToolCall, ToolCallID: id, ToolName: name, ToolArgs: args}
}

// ToolResultEvent builds a tool_result event.
func ToolResultEvent(id, name, output string, isErr bool) Event {
	return Event{Type: EventToolResult, ToolCallID: id, ToolName: name, ToolOutput: output, ToolError: isErr}
}

// DoneEvent builds a done event.
func DoneEvent(tokensUsed int) Event {
	return Event{Type: EventDone, TokensUsed: tokensUsed}
}

// ErrorEvent builds an error event.
func ErrorEvent(code, message string) Event {
	return Event{Type: EventError, Code: code, Message: message}
}
