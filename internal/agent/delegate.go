package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/codelenshq/oracle/internal/providers"
	"github.com/codelenshq/oracle/internal/tools"
)

const librarianSystemPrompt = `You are the Librarian, a specialist for organizing and researching a project's document vault.
Work strictly from evidence returned by your tools. When the task is complete, reply with a short summary of what you did and which artifacts you touched, one per line prefixed with "touched: ".
If you cannot complete the task, say so plainly and explain why.`

// DelegateResult is the only thing a subagent returns to its parent;
// the internal transcript never crosses the boundary, keeping the
// parent's context compact.
type DelegateResult struct {
	Success          bool     `json:"success"`
	ArtifactsTouched []string `json:"artifacts_touched,omitempty"`
	Summary          string   `json:"summary"`
}

// DelegateTool invokes the Librarian subagent as an ordinary tool call
// from the main loop. The subagent runs its own Loop with a disjoint,
// smaller tool catalog, its own instructions, a lower turn ceiling and
// optionally a cheaper model. It shares no conversation context with
// the parent: it sees only the task description and the evidence slice
// the parent passes.
type DelegateTool struct {
	provider    providers.Provider
	model       string
	registry    *tools.Registry
	turnCeiling int
}

func NewDelegateTool(provider providers.Provider, model string, registry *tools.Registry, turnCeiling int) *DelegateTool {
	if turnCeiling <= 0 {
		turnCeiling = 8
	}
	return &DelegateTool{
		provider:    provider,
		model:       model,
		registry:    registry,
		turnCeiling: turnCeiling,
	}
}

func (t *DelegateTool) Name() string { return "delegate_librarian" }

func (t *DelegateTool) Description() string {
	return "Delegate a research or vault-organization task to the Librarian specialist. Pass a self-contained task description; the Librarian does not see this conversation."
}

func (t *DelegateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_description": map[string]interface{}{
				"type":        "string",
				"description": "Self-contained description of the task",
			},
			"context_slice": map[string]interface{}{
				"type":        "string",
				"description": "Optional evidence to hand the Librarian",
			},
		},
		"required": []interface{}{"task_description"},
	}
}

func (t *DelegateTool) Scopes() []tools.Scope { return []tools.Scope{tools.ScopeOracle} }

func (t *DelegateTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	task, _ := args["task_description"].(string)
	if strings.TrimSpace(task) == "" {
		return tools.ErrorResult("delegate_librarian: task_description is required")
	}
	contextSlice, _ := args["context_slice"].(string)

	sub := NewLoop(t.provider, t.model, t.registry, tools.ScopeLibrarian, t.turnCeiling)
	run, err := sub.Run(ctx, RunRequest{
		SystemPrompt: librarianSystemPrompt,
		Context:      contextSlice,
		Question:     task,
	})

	var dr DelegateResult
	switch {
	case err != nil:
		dr = DelegateResult{Success: false, Summary: "librarian failed: " + err.Error()}
	case run.Partial:
		dr = DelegateResult{Success: false, Summary: "librarian exhausted its turn ceiling: " + run.Answer}
	default:
		dr = DelegateResult{
			Success:          true,
			ArtifactsTouched: parseArtifacts(run.Answer),
			Summary:          run.Answer,
		}
	}

	slog.Debug("librarian delegation finished", "success", dr.Success, "artifacts", len(dr.ArtifactsTouched))

	payload, merr := json.Marshal(dr)
	if merr != nil {
		return tools.ErrorResult("delegate_librarian: encode result: " + merr.Error())
	}
	// The parent surfaces a failed delegation to the user; it is not a
	// parent-level error.
	res := tools.NewResult(string(payload))
	return res
}

func parseArtifacts(answer string) []string {
	var artifacts []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "touched: "); ok {
			if rest = strings.TrimSpace(rest); rest != "" {
				artifacts = append(artifacts, rest)
			}
		}
	}
	return artifacts
}

var _ tools.Tool = (*DelegateTool)(nil)
