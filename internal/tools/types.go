// Package tools defines the static tool registry and the built-in
// evidence tools exposed to the agent loop.
package tools

import (
	"context"

	"github.com/codelenshq/oracle/internal/providers"
)

// Scope is an agent role allowed to call a tool.
type Scope string

const (
	ScopeOracle    Scope = "oracle"    // main research loop
	ScopeLibrarian Scope = "librarian" // vault-organization subagent
)

// Tool is the interface all tools implement. Tools are stateless per
// call; per-call values travel on the context.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	// Scopes lists which agent roles may call this tool.
	Scopes() []Scope
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// ToProviderDef converts a Tool to a provider tool definition.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// InScope reports whether t may be called by the given role.
func InScope(t Tool, scope Scope) bool {
	for _, s := range t.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}
