package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codelenshq/oracle/internal/providers"
)

// Registry maps tool name to handler. It is populated and validated at
// startup; there is no runtime registration path, so a misdeclared
// tool fails the process before it can fail a query.
type Registry struct {
	tools       map[string]Tool
	mu          sync.RWMutex
	rateLimiter *RateLimiter // nil = no rate limiting
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// SetRateLimiter enables per-session tool rate limiting.
func (r *Registry) SetRateLimiter(rl *RateLimiter) {
	r.rateLimiter = rl
}

// Register adds a tool, rejecting duplicates and invalid descriptors.
func (r *Registry) Register(tool Tool) error {
	if err := validate(tool); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("duplicate tool %q", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// MustRegister registers a set of tools, panicking on a declaration
// error. Used during startup wiring only.
func (r *Registry) MustRegister(ts ...Tool) {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func validate(t Tool) error {
	if t.Name() == "" {
		return fmt.Errorf("tool with empty name")
	}
	if t.Description() == "" {
		return fmt.Errorf("tool %q: empty description", t.Name())
	}
	params := t.Parameters()
	if params == nil {
		return fmt.Errorf("tool %q: nil parameter schema", t.Name())
	}
	if _, ok := params["type"]; !ok {
		return fmt.Errorf("tool %q: parameter schema missing type", t.Name())
	}
	if len(t.Scopes()) == 0 {
		return fmt.Errorf("tool %q: no agent scopes", t.Name())
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a tool by name for the given scope and session key.
// Unknown tools and out-of-scope calls come back as error results the
// model can react to.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, scope Scope, sessionKey string) *Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return ErrorResult("unknown tool: " + name)
	}
	if !InScope(tool, scope) {
		return ErrorResult(fmt.Sprintf("tool %s is not available to %s agents", name, scope))
	}

	if r.rateLimiter != nil && sessionKey != "" {
		if err := r.rateLimiter.Allow(sessionKey); err != nil {
			return ErrorResult(err.Error())
		}
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	duration := time.Since(start)

	slog.Debug("tool executed",
		"tool", name,
		"scope", scope,
		"duration_ms", duration.Milliseconds(),
		"is_error", result.IsError,
	)
	return result
}

// ProviderDefs returns tool definitions visible to the given scope.
func (r *Registry) ProviderDefs(scope Scope) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		if InScope(tool, scope) {
			defs = append(defs, ToProviderDef(tool))
		}
	}
	return defs
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
