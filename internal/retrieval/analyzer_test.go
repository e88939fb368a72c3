package retrieval

import (
	"testing"
	"time"
)

func TestAnalyzer_Classify(t *testing.T) {
	a := NewAnalyzer()

	cases := []struct {
		question string
		want     QueryType
	}{
		{"Where is UserService defined?", QueryDefinition},
		{"find the definition of parseToken", QueryDefinition},
		{"locate the retry handler", QueryDefinition},
		{"What calls validateToken?", QueryReference},
		{"who uses the ConnectionPool?", QueryReference},
		{"callers of flushBatch", QueryReference},
		{"How does authentication work?", QueryConceptual},
		{"why does the cache invalidate early", QueryConceptual},
		{"explain the session lifecycle", QueryConceptual},
		{"What is the structure of the payments module?", QueryStructural},
		{"architecture of the indexing pipeline", QueryStructural},
		{"gibberish without any cue words", QueryConceptual},
		{"", QueryConceptual},
	}

	for _, tc := range cases {
		if got := a.Classify(tc.question); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.question, got, tc.want)
		}
	}
}

// Reference cues must win over definition cues when both appear.
func TestAnalyzer_ReferenceBeatsDefinition(t *testing.T) {
	a := NewAnalyzer()
	q := "where are the callers of validateToken defined?"
	if got := a.Classify(q); got != QueryReference {
		t.Errorf("Classify(%q) = %s, want %s", q, got, QueryReference)
	}
}

func TestAnalyzer_ClassifyIsFast(t *testing.T) {
	a := NewAnalyzer()
	start := time.Now()
	for i := 0; i < 100; i++ {
		a.Classify("How does the retrieval orchestrator merge results from multiple sources?")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("100 classifications took %v", elapsed)
	}
}

func TestExtractSymbols(t *testing.T) {
	got := ExtractSymbols("Where is `UserService` defined, and what does handle_request call in RetryPolicy?")

	want := map[string]bool{
		"UserService":    true,
		"handle_request": true,
		"RetryPolicy":    true,
	}
	for _, sym := range got {
		if !want[sym] {
			t.Errorf("unexpected symbol %q", sym)
		}
		delete(want, sym)
	}
	for sym := range want {
		t.Errorf("missing symbol %q", sym)
	}
}

func TestExtractSymbols_Dedupes(t *testing.T) {
	got := ExtractSymbols("UserService and UserService again")
	if len(got) != 1 {
		t.Errorf("got %v, want single UserService", got)
	}
}
