package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/codelenshq/oracle/internal/providers"
	"github.com/codelenshq/oracle/internal/tools"
)

func TestDelegateTool_ReturnsOnlySummary(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "Organized the research notes.\ntouched: vault/notes/auth.md\ntouched: vault/index.md", FinishReason: "stop"},
	}}
	registry := testRegistry(t, &echoTool{name: "echo"})
	dt := NewDelegateTool(p, "test-model", registry, 8)

	res := dt.Execute(context.Background(), map[string]interface{}{
		"task_description": "organize the auth research",
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.ForLLM)
	}

	var dr DelegateResult
	if err := json.Unmarshal([]byte(res.ForLLM), &dr); err != nil {
		t.Fatalf("result is not a DelegateResult payload: %v", err)
	}
	if !dr.Success {
		t.Error("success = false")
	}
	if len(dr.ArtifactsTouched) != 2 || dr.ArtifactsTouched[0] != "vault/notes/auth.md" {
		t.Errorf("artifacts = %v", dr.ArtifactsTouched)
	}
}

// A failed delegation is a payload for the parent model, not a parent
// error.
func TestDelegateTool_SubagentFailureIsPayload(t *testing.T) {
	p := &scriptedProvider{err: errors.New("model down")}
	dt := NewDelegateTool(p, "test-model", testRegistry(t, &echoTool{name: "echo"}), 8)

	res := dt.Execute(context.Background(), map[string]interface{}{
		"task_description": "anything",
	})
	if res.IsError {
		t.Fatal("subagent failure must not be an error-status tool result")
	}

	var dr DelegateResult
	if err := json.Unmarshal([]byte(res.ForLLM), &dr); err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if dr.Success {
		t.Error("success = true, want false")
	}
}

func TestDelegateTool_CeilingExhaustionReported(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCallRequest{toolCall("c1", "echo", `{"value":"x"}`)}},
	}}
	dt := NewDelegateTool(p, "test-model", testRegistry(t, &echoTool{name: "echo"}), 2)

	res := dt.Execute(context.Background(), map[string]interface{}{
		"task_description": "loop forever",
	})

	var dr DelegateResult
	if err := json.Unmarshal([]byte(res.ForLLM), &dr); err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if dr.Success {
		t.Error("exhausted ceiling must report failure")
	}
}

func TestDelegateTool_RequiresTask(t *testing.T) {
	dt := NewDelegateTool(&scriptedProvider{}, "test-model", testRegistry(t, &echoTool{name: "echo"}), 8)
	if res := dt.Execute(context.Background(), map[string]interface{}{}); !res.IsError {
		t.Error("missing task_description must be an error result")
	}
}

func TestDelegateTool_ScopedToOracle(t *testing.T) {
	dt := NewDelegateTool(&scriptedProvider{}, "test-model", testRegistry(t, &echoTool{name: "echo"}), 8)
	if tools.InScope(dt, tools.ScopeLibrarian) {
		t.Error("librarian must not be able to delegate to itself")
	}
	if !tools.InScope(dt, tools.ScopeOracle) {
		t.Error("oracle scope missing")
	}
}
