package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeRetriever returns canned results or a canned error, recording the
// filters of the last search.
type fakeRetriever struct {
	method     Method
	source     SourceType
	results    []Result
	err        error
	delay      time.Duration
	gotFilters Filters
}

func (f *fakeRetriever) Method() Method         { return f.method }
func (f *fakeRetriever) SourceType() SourceType { return f.source }

func (f *fakeRetriever) Search(ctx context.Context, query string, filters Filters) ([]Result, error) {
	f.gotFilters = filters
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, f.err
}

func codeResult(path string, start, end int, method Method, score float64) Result {
	return Result{
		Content:    "snippet from " + path,
		SourceType: SourceCode,
		SourcePath: path,
		Method:     method,
		Score:      score,
		StartLine:  start,
		EndLine:    end,
	}
}

// Each retriever sees the request's per-path cap and thread; the cap
// defaults to TopK times the cap factor when the request leaves it zero.
func TestOrchestrator_PerPathFilters(t *testing.T) {
	r := &fakeRetriever{method: MethodKeyword, source: SourceCode}
	o := NewOrchestrator(nil, []Retriever{r}, time.Second, 5, nil, "")

	o.Retrieve(context.Background(), Request{Question: "q", QueryType: QueryConceptual, TopK: 8})
	if r.gotFilters.MaxResults != 40 {
		t.Errorf("default per-path cap = %d, want 40", r.gotFilters.MaxResults)
	}
	if r.gotFilters.Thread != "" {
		t.Errorf("thread = %q, want empty", r.gotFilters.Thread)
	}

	o.Retrieve(context.Background(), Request{
		Question: "q", QueryType: QueryConceptual, TopK: 8,
		MaxResultsPerPath: 3, Thread: "alice:payments",
	})
	if r.gotFilters.MaxResults != 3 {
		t.Errorf("per-path cap = %d, want 3", r.gotFilters.MaxResults)
	}
	if r.gotFilters.Thread != "alice:payments" {
		t.Errorf("thread = %q, want alice:payments", r.gotFilters.Thread)
	}
}

func TestOrchestrator_MergesAllSources(t *testing.T) {
	vector := &fakeRetriever{method: MethodVector, source: SourceCode,
		results: []Result{codeResult("src/a.go:10", 10, 20, MethodVector, 0.9)}}
	keyword := &fakeRetriever{method: MethodKeyword, source: SourceCode,
		results: []Result{codeResult("src/b.go:5", 5, 8, MethodKeyword, 0.7)}}

	o := NewOrchestrator(nil, []Retriever{vector, keyword}, time.Second, 5, nil, "")
	results, trace := o.Retrieve(context.Background(), Request{Question: "how does a work", QueryType: QueryConceptual, TopK: 8})

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if trace.Merged != 2 || trace.Deduped != 2 {
		t.Errorf("trace merged/deduped = %d/%d, want 2/2", trace.Merged, trace.Deduped)
	}
}

// One failing retriever must not fail the query; it is recorded as
// unavailable in the trace.
func TestOrchestrator_DegradesOnRetrieverError(t *testing.T) {
	good := &fakeRetriever{method: MethodKeyword, source: SourceCode,
		results: []Result{codeResult("src/a.go:1", 1, 3, MethodKeyword, 0.5)}}
	bad := &fakeRetriever{method: MethodVector, source: SourceCode, err: errors.New("embedding service down")}

	o := NewOrchestrator(nil, []Retriever{bad, good}, time.Second, 5, nil, "")
	results, trace := o.Retrieve(context.Background(), Request{Question: "q", QueryType: QueryConceptual, TopK: 8})

	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	unavailable := 0
	for _, p := range trace.Paths {
		if p.Unavailable {
			unavailable++
		}
	}
	if unavailable != 1 {
		t.Errorf("unavailable paths = %d, want 1", unavailable)
	}
}

// A slow retriever is cut off at the timeout while fast ones still
// deliver.
func TestOrchestrator_TimeoutIsolation(t *testing.T) {
	slow := &fakeRetriever{method: MethodVector, source: SourceCode, delay: 500 * time.Millisecond,
		results: []Result{codeResult("src/slow.go:1", 1, 2, MethodVector, 0.9)}}
	fast := &fakeRetriever{method: MethodKeyword, source: SourceCode,
		results: []Result{codeResult("src/fast.go:1", 1, 2, MethodKeyword, 0.8)}}

	o := NewOrchestrator(nil, []Retriever{slow, fast}, 50*time.Millisecond, 5, nil, "")
	results, _ := o.Retrieve(context.Background(), Request{Question: "q", QueryType: QueryConceptual, TopK: 8})

	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (fast only)", len(results))
	}
	if results[0].SourcePath != "src/fast.go:1" {
		t.Errorf("result path = %s, want src/fast.go:1", results[0].SourcePath)
	}
}

func TestOrchestrator_DefinitionFastPath(t *testing.T) {
	exact := &fakeRetriever{method: MethodExact, source: SourceCode,
		results: []Result{codeResult("src/auth.py:45", 45, 45, MethodExact, 1.0)}}
	hybrid := &fakeRetriever{method: MethodVector, source: SourceCode,
		results: []Result{codeResult("src/other.go:1", 1, 2, MethodVector, 0.9)}}

	o := NewOrchestrator(exact, []Retriever{hybrid}, time.Second, 5, nil, "")
	results, _ := o.Retrieve(context.Background(), Request{
		Question: "Where is UserService defined?", QueryType: QueryDefinition, TopK: 8})

	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (exact hit short-circuits)", len(results))
	}
	if results[0].Method != MethodExact {
		t.Errorf("method = %s, want exact", results[0].Method)
	}
}

// Empty exact hits must fall through to the hybrid fan-out.
func TestOrchestrator_DefinitionFallsBackToHybrid(t *testing.T) {
	exact := &fakeRetriever{method: MethodExact, source: SourceCode}
	hybrid := &fakeRetriever{method: MethodKeyword, source: SourceCode,
		results: []Result{codeResult("src/a.go:1", 1, 2, MethodKeyword, 0.6)}}

	o := NewOrchestrator(exact, []Retriever{hybrid}, time.Second, 5, nil, "")
	results, _ := o.Retrieve(context.Background(), Request{
		Question: "Where is Foo defined?", QueryType: QueryDefinition, TopK: 8})

	if len(results) != 1 || results[0].Method != MethodKeyword {
		t.Fatalf("results = %+v, want single keyword hit", results)
	}
}

func TestOrchestrator_SourceFilter(t *testing.T) {
	code := &fakeRetriever{method: MethodKeyword, source: SourceCode,
		results: []Result{codeResult("src/a.go:1", 1, 2, MethodKeyword, 0.6)}}
	docs := &fakeRetriever{method: MethodKeyword, source: SourceDocs,
		results: []Result{{Content: "doc", SourceType: SourceDocs, SourcePath: "notes/design", Method: MethodKeyword, Score: 0.5}}}

	o := NewOrchestrator(nil, []Retriever{code, docs}, time.Second, 5, nil, "")
	results, _ := o.Retrieve(context.Background(), Request{
		Question: "q", QueryType: QueryConceptual, SourceFilter: []SourceType{SourceDocs}, TopK: 8})

	if len(results) != 1 || results[0].SourceType != SourceDocs {
		t.Fatalf("results = %+v, want docs only", results)
	}
}

func TestOrchestrator_CapsCandidates(t *testing.T) {
	var many []Result
	for i := 0; i < 40; i++ {
		many = append(many, codeResult("src/a.go:"+string(rune('a'+i)), i*10, i*10+5, MethodKeyword, 0.5))
	}
	r := &fakeRetriever{method: MethodKeyword, source: SourceCode, results: many}

	o := NewOrchestrator(nil, []Retriever{r}, time.Second, 5, nil, "")
	results, _ := o.Retrieve(context.Background(), Request{Question: "q", QueryType: QueryConceptual, TopK: 4})

	if len(results) > 20 {
		t.Errorf("len(results) = %d, want <= topK*capFactor = 20", len(results))
	}
}

func TestDedupe_OverlappingSpans(t *testing.T) {
	a := codeResult("src/auth.py:40", 40, 60, MethodVector, 0.7)
	b := codeResult("src/auth.py:50", 50, 70, MethodKeyword, 0.9)
	c := codeResult("src/auth.py:200", 200, 210, MethodKeyword, 0.4)

	out := Dedupe([]Result{a, b, c})
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}

	// Higher-scoring b survives with both methods recorded.
	if out[0].Score != 0.9 {
		t.Errorf("surviving score = %v, want 0.9", out[0].Score)
	}
	methods, _ := out[0].Metadata["methods"].([]Method)
	if len(methods) != 2 {
		t.Errorf("methods = %v, want vector+keyword", methods)
	}
}

func TestDedupe_DistinctPathsKept(t *testing.T) {
	a := codeResult("src/a.go:10", 10, 20, MethodVector, 0.7)
	b := codeResult("src/b.go:10", 10, 20, MethodKeyword, 0.9)
	if out := Dedupe([]Result{a, b}); len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

// Deduping an already-deduped set must be a no-op.
func TestDedupe_Idempotent(t *testing.T) {
	in := []Result{
		codeResult("src/auth.py:40", 40, 60, MethodVector, 0.7),
		codeResult("src/auth.py:50", 50, 70, MethodKeyword, 0.9),
		codeResult("src/b.go:10", 10, 12, MethodGraph, 1.0),
	}
	once := Dedupe(in)
	twice := Dedupe(once)

	if len(once) != len(twice) {
		t.Fatalf("len changed: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].SourcePath != twice[i].SourcePath || once[i].Score != twice[i].Score {
			t.Errorf("entry %d changed: %+v -> %+v", i, once[i], twice[i])
		}
		m1, _ := once[i].Metadata["methods"].([]Method)
		m2, _ := twice[i].Metadata["methods"].([]Method)
		if len(m1) != len(m2) {
			t.Errorf("entry %d methods changed: %v -> %v", i, m1, m2)
		}
	}
}
