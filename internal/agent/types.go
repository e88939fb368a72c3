// Package agent implements the tool-calling loop and subagent
// delegation.
package agent

import (
	"context"

	"github.com/codelenshq/oracle/internal/convo"
	"github.com/codelenshq/oracle/pkg/protocol"
	"github.com/codelenshq/oracle/internal/providers"
)

// State is the loop's state machine position.
type State string

const (
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateDone           State = "done"
	StateError          State = "error"
)

// RunRequest is one question-to-answer cycle.
type RunRequest struct {
	SystemPrompt string
	Context      string // assembled evidence, already budgeted
	History      []providers.Message
	Question     string
	SessionKey   string
	Sink         protocol.Sink // nil = no streaming
}

// RunResult is the loop's outcome. Partial is set when the turn
// ceiling forced a best-effort answer.
type RunResult struct {
	Answer     string
	Exchanges  []convo.Exchange // assistant and tool exchanges produced
	Turns      int
	Partial    bool
	TokensUsed int
	FinalState State
}

// Agent is the core abstraction for an execution loop. Implemented by
// *Loop; kept as an interface for testability.
type Agent interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	Model() string
}
