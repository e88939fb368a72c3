package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codelenshq/oracle/internal/tokens"
)

// Orchestrator fans a query out to all applicable retrievers in
// parallel, merges and deduplicates the results, and attributes
// provenance. A retriever that times out or errors is recorded as
// unavailable and excluded; the whole query never fails because one
// source is down.
type Orchestrator struct {
	retrievers []Retriever
	exact      Retriever // definition fast path, may be nil
	timeout    time.Duration
	capFactor  int
	counter    *tokens.Counter
	model      string
}

// NewOrchestrator wires the retriever set. exact is tried first for
// definition queries; retrievers is the full hybrid set.
func NewOrchestrator(exact Retriever, retrievers []Retriever, timeout time.Duration, capFactor int, counter *tokens.Counter, model string) *Orchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if capFactor <= 0 {
		capFactor = 5
	}
	return &Orchestrator{
		retrievers: retrievers,
		exact:      exact,
		timeout:    timeout,
		capFactor:  capFactor,
		counter:    counter,
		model:      model,
	}
}

// Retrieve runs one retrieval pass. The returned trace always carries
// per-path outcomes; callers drop it unless explain was requested.
// A zero-length result with a nil error means no evidence was found;
// the caller must answer honestly rather than fabricate.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) ([]Result, *Trace) {
	trace := &Trace{QueryType: req.QueryType}

	perPath := req.MaxResultsPerPath
	if perPath <= 0 {
		perPath = req.TopK * o.capFactor
	}
	filters := Filters{MaxResults: perPath, Thread: req.Thread}

	// Definition fast path: exact symbol lookup first, hybrid fan-out
	// only if it returns nothing.
	if req.QueryType == QueryDefinition && o.exact != nil && o.sourceAllowed(req.SourceFilter, o.exact.SourceType()) {
		if hits := o.runOne(ctx, o.exact, req.Question, filters, trace); len(hits) > 0 {
			trace.Merged = len(hits)
			trace.Deduped = len(hits)
			return o.finalize(hits, req), trace
		}
	}

	selected := o.selectRetrievers(req)
	if len(selected) == 0 {
		return nil, trace
	}

	var (
		mu      sync.Mutex
		batches = make([][]Result, len(selected))
		paths   = make([]PathResult, len(selected))
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range selected {
		g.Go(func() error {
			start := time.Now()
			rctx, cancel := context.WithTimeout(gctx, o.timeout)
			defer cancel()

			results, err := r.Search(rctx, req.Question, filters)
			pr := PathResult{Method: r.Method(), DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				pr.Err = err.Error()
				pr.Unavailable = true
				slog.Warn("retriever unavailable", "method", r.Method(), "error", err)
			} else {
				pr.Results = results
			}

			mu.Lock()
			batches[i] = results
			paths[i] = pr
			mu.Unlock()
			return nil // degradation, never propagate
		})
	}
	g.Wait()

	trace.Paths = paths

	// Merge in fixed retriever order so dedupe is deterministic
	// regardless of completion order.
	var merged []Result
	for _, batch := range batches {
		merged = append(merged, batch...)
	}
	trace.Merged = len(merged)

	deduped := Dedupe(merged)
	trace.Deduped = len(deduped)

	// Cap the candidate set before reranking to bound rerank cost.
	maxCandidates := req.TopK * o.capFactor
	if maxCandidates > 0 && len(deduped) > maxCandidates {
		deduped = deduped[:maxCandidates]
	}

	return o.finalize(deduped, req), trace
}

func (o *Orchestrator) runOne(ctx context.Context, r Retriever, question string, f Filters, trace *Trace) []Result {
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	results, err := r.Search(rctx, question, f)
	pr := PathResult{Method: r.Method(), DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		pr.Err = err.Error()
		pr.Unavailable = true
		slog.Warn("retriever unavailable", "method", r.Method(), "error", err)
	} else {
		pr.Results = results
	}
	trace.Paths = append(trace.Paths, pr)
	return results
}

func (o *Orchestrator) selectRetrievers(req Request) []Retriever {
	var out []Retriever
	for _, r := range o.retrievers {
		if o.sourceAllowed(req.SourceFilter, r.SourceType()) {
			out = append(out, r)
		}
	}
	return out
}

func (o *Orchestrator) sourceAllowed(filter []SourceType, st SourceType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == st {
			return true
		}
	}
	return false
}

func (o *Orchestrator) finalize(results []Result, req Request) []Result {
	if o.counter == nil {
		return results
	}
	for i := range results {
		if results[i].TokenCount == 0 {
			results[i].TokenCount = o.counter.Count(o.model, results[i].Content)
		}
	}
	return results
}

// Dedupe collapses results that reference the same source path with an
// overlapping content span. The higher-scoring entry survives, and its
// metadata records every method that found it. Idempotent: deduping a
// deduped set is a no-op.
func Dedupe(results []Result) []Result {
	var out []Result
	for _, r := range results {
		merged := false
		for i := range out {
			if !sameEvidence(out[i], r) {
				continue
			}
			recordMethod(&out[i], r.Method)
			if r.Score > out[i].Score {
				// Keep the higher-scoring content but preserve the
				// accumulated provenance.
				methods := out[i].Metadata["methods"]
				keep := r
				keep.Metadata = cloneMeta(r.Metadata)
				keep.Metadata["methods"] = methods
				out[i] = keep
			}
			merged = true
			break
		}
		if !merged {
			c := r
			c.Metadata = cloneMeta(r.Metadata)
			recordMethod(&c, r.Method)
			out = append(out, c)
		}
	}
	return out
}

func sameEvidence(a, b Result) bool {
	if pathOnly(a.SourcePath) != pathOnly(b.SourcePath) {
		return false
	}
	// No span info: fall back to exact path equality.
	if a.EndLine == 0 && b.EndLine == 0 {
		return a.SourcePath == b.SourcePath
	}
	return a.StartLine <= b.EndLine && b.StartLine <= a.EndLine
}

func pathOnly(sourcePath string) string {
	if i := strings.LastIndex(sourcePath, ":"); i > 0 {
		return sourcePath[:i]
	}
	return sourcePath
}

func recordMethod(r *Result, m Method) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	methods, _ := r.Metadata["methods"].([]Method)
	for _, existing := range methods {
		if existing == m {
			return
		}
	}
	r.Metadata["methods"] = append(methods, m)
}

func cloneMeta(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		if k == "methods" {
			if ms, ok := v.([]Method); ok {
				cp := make([]Method, len(ms))
				copy(cp, ms)
				out[k] = cp
				continue
			}
		}
		out[k] = v
	}
	return out
}
