// Package convo owns the persistent, compressible conversation context
// kept per (user, project) session. The ConversationContext exclusively
// owns its exchange list; everything else mutates it through Manager.
package convo

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a conversation context.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended" // model changed, needs re-tokenization
	StatusClosed    Status = "closed"
)

// ToolCall is one tool invocation recorded inside an exchange.
type ToolCall struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	Result    string        `json:"result,omitempty"`
	Status    string        `json:"status"` // pending | success | error
	Duration  time.Duration `json:"duration,omitempty"`
}

// Exchange is one turn of the conversation.
type Exchange struct {
	Role             string     `json:"role"` // user | assistant | tool
	Content          string     `json:"content"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
	TokenCount       int        `json:"token_count"`
	KeyInsight       string     `json:"key_insight,omitempty"` // retained preferentially during compression
	MentionedSymbols []string   `json:"mentioned_symbols,omitempty"`
	MentionedFiles   []string   `json:"mentioned_files,omitempty"`
}

// ConversationContext is the evolving record of one (user, project)
// session. TokensUsed stays at or under TokenBudget except transiently
// before a compression pass completes.
type ConversationContext struct {
	ID      uuid.UUID `json:"id"`
	User    string    `json:"user"`
	Project string    `json:"project"`

	TokenBudget       int        `json:"token_budget"`
	TokensUsed        int        `json:"tokens_used"`
	CompressedSummary string     `json:"compressed_summary,omitempty"`
	RecentExchanges   []Exchange `json:"recent_exchanges"`

	// KeyDecisions are never pruned; compression must carry every entry
	// verbatim.
	KeyDecisions     []string `json:"key_decisions,omitempty"`
	MentionedSymbols []string `json:"mentioned_symbols,omitempty"`
	MentionedFiles   []string `json:"mentioned_files,omitempty"`

	Status           Status    `json:"status"`
	CompressionCount int       `json:"compression_count"`
	LastModel        string    `json:"last_model,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewContext creates an active context for a (user, project) pair.
func NewContext(user, project string, tokenBudget int) *ConversationContext {
	now := time.Now().UTC()
	return &ConversationContext{
		ID:          uuid.Must(uuid.NewV7()),
		User:        user,
		Project:     project,
		TokenBudget: tokenBudget,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RecordDecision appends a key decision if not already present.
func (c *ConversationContext) RecordDecision(decision string) {
	c.KeyDecisions = addUnique(c.KeyDecisions, decision)
}

// MentionSymbols merges symbols into the mentioned set.
func (c *ConversationContext) MentionSymbols(symbols ...string) {
	for _, s := range symbols {
		c.MentionedSymbols = addUnique(c.MentionedSymbols, s)
	}
}

// MentionFiles merges file paths into the mentioned set.
func (c *ConversationContext) MentionFiles(files ...string) {
	for _, f := range files {
		c.MentionedFiles = addUnique(c.MentionedFiles, f)
	}
}

func addUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
