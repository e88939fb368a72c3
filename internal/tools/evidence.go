package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/codelenshq/oracle/internal/index"
	"github.com/codelenshq/oracle/internal/retrieval"
)

// Built-in evidence tools. All of them read the evidence store or run
// the retrieval pipeline; none of them answer from anything but
// retrieved evidence.

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// --- code_search ---

// CodeSearchTool runs the full hybrid retrieval pipeline for a focused
// sub-query and returns reranked evidence snippets.
type CodeSearchTool struct {
	orchestrator *retrieval.Orchestrator
	reranker     retrieval.Reranker
	topK         int
}

func NewCodeSearchTool(orchestrator *retrieval.Orchestrator, reranker retrieval.Reranker, topK int) *CodeSearchTool {
	if topK <= 0 {
		topK = 6
	}
	return &CodeSearchTool{orchestrator: orchestrator, reranker: reranker, topK: topK}
}

func (t *CodeSearchTool) Name() string { return "code_search" }

func (t *CodeSearchTool) Description() string {
	return "Search the project's code and documentation for evidence relevant to a query. Combines semantic, keyword and graph search."
}

func (t *CodeSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to search for",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum results to return (default 6)",
			},
		},
		"required": []interface{}{"query"},
	}
}

func (t *CodeSearchTool) Scopes() []Scope { return []Scope{ScopeOracle, ScopeLibrarian} }

func (t *CodeSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := stringArg(args, "query")
	if query == "" {
		return ErrorResult("code_search: query is required")
	}
	topK := intArg(args, "max_results", t.topK)

	results, _ := t.orchestrator.Retrieve(ctx, retrieval.Request{
		Question:  query,
		QueryType: retrieval.QueryConceptual,
		TopK:      topK,
	})
	if len(results) == 0 {
		return NewResult("No evidence found for: " + query)
	}

	ranked := t.reranker.Rerank(ctx, query, results, topK)
	var b strings.Builder
	for _, r := range ranked {
		fmt.Fprintf(&b, "[%s] %s\n%s\n\n", r.SourceType, r.SourcePath, r.Content)
	}
	return NewResult(strings.TrimSpace(b.String()))
}

// --- symbol_lookup ---

// SymbolLookupTool resolves a symbol name to its definition sites.
type SymbolLookupTool struct {
	store *index.Store
}

func NewSymbolLookupTool(store *index.Store) *SymbolLookupTool {
	return &SymbolLookupTool{store: store}
}

func (t *SymbolLookupTool) Name() string { return "symbol_lookup" }

func (t *SymbolLookupTool) Description() string {
	return "Look up where a symbol (function, type, method) is defined. Exact name match."
}

func (t *SymbolLookupTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"symbol": map[string]interface{}{
				"type":        "string",
				"description": "Exact symbol name",
			},
		},
		"required": []interface{}{"symbol"},
	}
}

func (t *SymbolLookupTool) Scopes() []Scope { return []Scope{ScopeOracle, ScopeLibrarian} }

func (t *SymbolLookupTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	symbol := stringArg(args, "symbol")
	if symbol == "" {
		return ErrorResult("symbol_lookup: symbol is required")
	}

	defs, err := t.store.LookupSymbol(symbol)
	if err != nil {
		return ErrorResult("symbol_lookup: " + err.Error()).WithError(err)
	}
	if len(defs) == 0 {
		return NewResult("No definition found for " + symbol)
	}

	var b strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&b, "%s %s defined at %s:%d\n", d.Kind, d.Name, d.Path, d.Line)
	}
	return NewResult(strings.TrimSpace(b.String()))
}

// --- list_references ---

// ListReferencesTool walks the code graph one hop around a symbol.
type ListReferencesTool struct {
	store *index.Store
}

func NewListReferencesTool(store *index.Store) *ListReferencesTool {
	return &ListReferencesTool{store: store}
}

func (t *ListReferencesTool) Name() string { return "list_references" }

func (t *ListReferencesTool) Description() string {
	return "List callers of a symbol (incoming references) or what it calls (outgoing)."
}

func (t *ListReferencesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"symbol": map[string]interface{}{
				"type":        "string",
				"description": "Exact symbol name",
			},
			"direction": map[string]interface{}{
				"type":        "string",
				"enum":        []interface{}{"incoming", "outgoing"},
				"description": "incoming = callers, outgoing = callees (default incoming)",
			},
		},
		"required": []interface{}{"symbol"},
	}
}

func (t *ListReferencesTool) Scopes() []Scope { return []Scope{ScopeOracle} }

func (t *ListReferencesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	symbol := stringArg(args, "symbol")
	if symbol == "" {
		return ErrorResult("list_references: symbol is required")
	}

	var (
		edges []index.Edge
		err   error
	)
	if stringArg(args, "direction") == "outgoing" {
		edges, err = t.store.ReferencesFrom(symbol, 50)
	} else {
		edges, err = t.store.ReferencesTo(symbol, 50)
	}
	if err != nil {
		return ErrorResult("list_references: " + err.Error()).WithError(err)
	}
	if len(edges) == 0 {
		return NewResult("No references found for " + symbol)
	}

	var b strings.Builder
	for _, e := range edges {
		fmt.Fprintf(&b, "%s -> %s (%s) at %s:%d\n", e.FromSymbol, e.ToSymbol, e.Kind, e.Path, e.Line)
	}
	return NewResult(strings.TrimSpace(b.String()))
}

// --- doc_search ---

// DocSearchTool searches project documentation notes.
type DocSearchTool struct {
	retriever retrieval.Retriever
}

func NewDocSearchTool(retriever retrieval.Retriever) *DocSearchTool {
	return &DocSearchTool{retriever: retriever}
}

func (t *DocSearchTool) Name() string { return "doc_search" }

func (t *DocSearchTool) Description() string {
	return "Search project documentation and design notes."
}

func (t *DocSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to search for",
			},
		},
		"required": []interface{}{"query"},
	}
}

func (t *DocSearchTool) Scopes() []Scope { return []Scope{ScopeOracle, ScopeLibrarian} }

func (t *DocSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := stringArg(args, "query")
	if query == "" {
		return ErrorResult("doc_search: query is required")
	}

	results, err := t.retriever.Search(ctx, query, retrieval.Filters{MaxResults: 8})
	if err != nil {
		return ErrorResult("doc_search: " + err.Error()).WithError(err)
	}
	if len(results) == 0 {
		return NewResult("No documentation found for: " + query)
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", r.SourcePath, r.Content)
	}
	return NewResult(strings.TrimSpace(b.String()))
}
