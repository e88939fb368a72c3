// Package retrieval implements multi-source evidence retrieval:
// query classification, parallel fan-out over independent retrievers,
// merge/dedupe with provenance, and model-based reranking.
package retrieval

import "context"

// SourceType is the kind of knowledge a result came from.
type SourceType string

const (
	SourceCode      SourceType = "code"
	SourceDocs      SourceType = "documentation"
	SourceGraphEdge SourceType = "graph-edge"
	SourceHistory   SourceType = "history"
)

// Method identifies how a result was retrieved. Scores are only
// comparable within one method until reranked.
type Method string

const (
	MethodVector  Method = "vector"
	MethodKeyword Method = "keyword"
	MethodGraph   Method = "graph"
	MethodLexical Method = "lexical-history"
	MethodExact   Method = "exact"
)

// QueryType steers retriever weighting and context assembly.
type QueryType string

const (
	QueryDefinition QueryType = "definition"
	QueryReference  QueryType = "reference"
	QueryConceptual QueryType = "conceptual"
	QueryStructural QueryType = "structural"
)

// Result is one piece of retrieved evidence.
type Result struct {
	Content     string                 `json:"content"`
	SourceType  SourceType             `json:"source_type"`
	SourcePath  string                 `json:"source_path"` // file:line, note id, or thread id
	Method      Method                 `json:"retrieval_method"`
	Score       float64                `json:"score"` // retriever-local
	RerankScore float64                `json:"rerank_score,omitempty"`
	TokenCount  int                    `json:"token_count"`
	StartLine   int                    `json:"start_line,omitempty"`
	EndLine     int                    `json:"end_line,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Filters narrows a retriever search.
type Filters struct {
	MaxResults int
	PathPrefix string
	Thread     string // scopes history retrieval to one conversation thread
}

// Retriever answers "find evidence relevant to X" from one knowledge
// source. Implementations are stateless per call and independently
// failable; the orchestrator absorbs their errors.
type Retriever interface {
	Method() Method
	SourceType() SourceType
	Search(ctx context.Context, query string, f Filters) ([]Result, error)
}

// Request is one retrieval pass over the selected sources.
type Request struct {
	Question          string
	QueryType         QueryType
	SourceFilter      []SourceType // empty = all sources
	TopK              int          // final target size after rerank
	MaxResultsPerPath int          // per-retriever cap, 0 = TopK x cap factor
	Thread            string       // conversation thread for history retrieval, "" = none
}

// PathResult is the raw per-retriever outcome recorded in a trace.
type PathResult struct {
	Method      Method   `json:"method"`
	Results     []Result `json:"results,omitempty"`
	Err         string   `json:"error,omitempty"`
	Unavailable bool     `json:"unavailable,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

// Trace captures per-path raw results for explain mode.
type Trace struct {
	QueryType QueryType    `json:"query_type"`
	Paths     []PathResult `json:"paths"`
	Merged    int          `json:"merged"`
	Deduped   int          `json:"deduped"`
	Reranked  bool         `json:"reranked"`
}
