package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codelenshq/oracle/internal/index"
	"github.com/codelenshq/oracle/internal/providers"
)

const snippetMaxLen = 700

// --- exact: fast definition lookup over the symbol table ---

// ExactRetriever resolves symbol names to their definition sites.
// Used as the definition fast path before the full hybrid fan-out.
type ExactRetriever struct {
	store *index.Store
}

func NewExactRetriever(store *index.Store) *ExactRetriever {
	return &ExactRetriever{store: store}
}

func (r *ExactRetriever) Method() Method         { return MethodExact }
func (r *ExactRetriever) SourceType() SourceType { return SourceCode }

func (r *ExactRetriever) Search(ctx context.Context, query string, f Filters) ([]Result, error) {
	var out []Result
	for _, sym := range ExtractSymbols(query) {
		defs, err := r.store.LookupSymbol(sym)
		if err != nil {
			return nil, fmt.Errorf("symbol lookup %q: %w", sym, err)
		}
		for _, d := range defs {
			out = append(out, Result{
				Content:    fmt.Sprintf("%s %s defined at %s:%d", d.Kind, d.Name, d.Path, d.Line),
				SourceType: SourceCode,
				SourcePath: fmt.Sprintf("%s:%d", d.Path, d.Line),
				Method:     MethodExact,
				Score:      1.0,
				StartLine:  d.Line,
				EndLine:    d.Line,
				Metadata:   map[string]interface{}{"symbol": d.Name, "kind": d.Kind},
			})
		}
	}
	if f.MaxResults > 0 && len(out) > f.MaxResults {
		out = out[:f.MaxResults]
	}
	return out, nil
}

// --- vector: semantic search over chunk embeddings ---

// VectorRetriever embeds the query and ranks chunks by cosine similarity.
type VectorRetriever struct {
	store    *index.Store
	embedder providers.EmbeddingProvider
}

func NewVectorRetriever(store *index.Store, embedder providers.EmbeddingProvider) *VectorRetriever {
	return &VectorRetriever{store: store, embedder: embedder}
}

func (r *VectorRetriever) Method() Method         { return MethodVector }
func (r *VectorRetriever) SourceType() SourceType { return SourceCode }

func (r *VectorRetriever) Search(ctx context.Context, query string, f Filters) ([]Result, error) {
	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, nil
	}
	queryVec := embeddings[0]

	chunks, err := r.store.AllChunks()
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	var out []Result
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if f.PathPrefix != "" && !strings.HasPrefix(c.Path, f.PathPrefix) {
			continue
		}
		sim := CosineSimilarity(queryVec, c.Embedding)
		if sim <= 0 {
			continue
		}
		out = append(out, Result{
			Content:    truncateSnippet(c.Text, snippetMaxLen),
			SourceType: sourceTypeFor(c.Source),
			SourcePath: fmt.Sprintf("%s:%d", c.Path, c.StartLine),
			Method:     MethodVector,
			Score:      sim,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	limit := f.MaxResults
	if limit <= 0 {
		limit = 10
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- keyword: FTS5 BM25 over code chunks ---

type KeywordRetriever struct {
	store *index.Store
}

func NewKeywordRetriever(store *index.Store) *KeywordRetriever {
	return &KeywordRetriever{store: store}
}

func (r *KeywordRetriever) Method() Method         { return MethodKeyword }
func (r *KeywordRetriever) SourceType() SourceType { return SourceCode }

func (r *KeywordRetriever) Search(ctx context.Context, query string, f Filters) ([]Result, error) {
	hits, err := r.store.SearchFTS(ftsQuery(query), "code", f.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return hitsToResults(hits, MethodKeyword), nil
}

// --- graph: one-hop reference edges around mentioned symbols ---

type GraphRetriever struct {
	store *index.Store
}

func NewGraphRetriever(store *index.Store) *GraphRetriever {
	return &GraphRetriever{store: store}
}

func (r *GraphRetriever) Method() Method         { return MethodGraph }
func (r *GraphRetriever) SourceType() SourceType { return SourceGraphEdge }

func (r *GraphRetriever) Search(ctx context.Context, query string, f Filters) ([]Result, error) {
	limit := f.MaxResults
	if limit <= 0 {
		limit = 20
	}

	var out []Result
	for _, sym := range ExtractSymbols(query) {
		callers, err := r.store.ReferencesTo(sym, limit)
		if err != nil {
			return nil, fmt.Errorf("references to %q: %w", sym, err)
		}
		for _, e := range callers {
			out = append(out, edgeResult(e, fmt.Sprintf("%s %ss %s at %s:%d", e.FromSymbol, e.Kind, e.ToSymbol, e.Path, e.Line)))
		}

		callees, err := r.store.ReferencesFrom(sym, limit)
		if err != nil {
			return nil, fmt.Errorf("references from %q: %w", sym, err)
		}
		for _, e := range callees {
			out = append(out, edgeResult(e, fmt.Sprintf("%s %ss %s at %s:%d", e.FromSymbol, e.Kind, e.ToSymbol, e.Path, e.Line)))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func edgeResult(e index.Edge, content string) Result {
	return Result{
		Content:    content,
		SourceType: SourceGraphEdge,
		SourcePath: fmt.Sprintf("%s:%d", e.Path, e.Line),
		Method:     MethodGraph,
		Score:      1.0, // graph hits are exact facts, not ranked guesses
		StartLine:  e.Line,
		EndLine:    e.Line,
		Metadata:   map[string]interface{}{"from": e.FromSymbol, "to": e.ToSymbol, "kind": e.Kind},
	}
}

// --- docs: FTS over project documentation notes ---

type DocRetriever struct {
	store *index.Store
}

func NewDocRetriever(store *index.Store) *DocRetriever {
	return &DocRetriever{store: store}
}

func (r *DocRetriever) Method() Method         { return MethodKeyword }
func (r *DocRetriever) SourceType() SourceType { return SourceDocs }

func (r *DocRetriever) Search(ctx context.Context, query string, f Filters) ([]Result, error) {
	hits, err := r.store.SearchNotes(ftsQuery(query), f.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("docs search: %w", err)
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			Content:    truncateSnippet(h.Text, snippetMaxLen),
			SourceType: SourceDocs,
			SourcePath: h.Path, // note id
			Method:     MethodKeyword,
			Score:      h.Score,
		})
	}
	return out, nil
}

// --- history: lexical scan over past conversation exchanges ---

// HistoryEntry is one past exchange exposed to the history retriever.
type HistoryEntry struct {
	ThreadID string
	Content  string
}

// HistorySource supplies past exchanges of one conversation thread.
// Implemented by the conversation store; kept as an interface to avoid
// owning it here. Scoping to a thread keeps one session's dialogue out
// of another session's evidence.
type HistorySource interface {
	RecentEntries(ctx context.Context, thread string) ([]HistoryEntry, error)
}

type HistoryRetriever struct {
	source HistorySource
}

func NewHistoryRetriever(source HistorySource) *HistoryRetriever {
	return &HistoryRetriever{source: source}
}

func (r *HistoryRetriever) Method() Method         { return MethodLexical }
func (r *HistoryRetriever) SourceType() SourceType { return SourceHistory }

func (r *HistoryRetriever) Search(ctx context.Context, query string, f Filters) ([]Result, error) {
	if f.Thread == "" {
		return nil, nil
	}
	entries, err := r.source.RecentEntries(ctx, f.Thread)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var out []Result
	for _, e := range entries {
		score := overlapScore(e.Content, terms)
		if score <= 0 {
			continue
		}
		out = append(out, Result{
			Content:    truncateSnippet(e.Content, snippetMaxLen),
			SourceType: SourceHistory,
			SourcePath: e.ThreadID,
			Method:     MethodLexical,
			Score:      score,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	limit := f.MaxResults
	if limit <= 0 {
		limit = 5
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- helpers ---

func hitsToResults(hits []index.Hit, method Method) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			Content:    truncateSnippet(h.Text, snippetMaxLen),
			SourceType: sourceTypeFor(h.Source),
			SourcePath: fmt.Sprintf("%s:%d", h.Path, h.StartLine),
			Method:     method,
			Score:      h.Score,
			StartLine:  h.StartLine,
			EndLine:    h.EndLine,
		})
	}
	return out
}

func sourceTypeFor(source string) SourceType {
	if source == "docs" {
		return SourceDocs
	}
	return SourceCode
}

// ftsQuery quotes each term so FTS5 treats user input as plain words,
// not query syntax.
func ftsQuery(query string) string {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return `""`
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(quoted, " OR ")
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "of": {}, "in": {},
	"to": {}, "how": {}, "what": {}, "where": {}, "does": {}, "do": {},
	"and": {}, "or": {}, "for": {}, "me": {}, "show": {}, "it": {}, "this": {},
}

func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	})
	var terms []string
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

func overlapScore(content string, terms []string) float64 {
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func truncateSnippet(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
