package retrieval

import (
	"regexp"
	"strings"
)

// Classification is pure pattern matching so it stays well under the
// 20ms budget and never fails: unclassifiable questions default to
// conceptual, which engages the full hybrid path.

var (
	definitionRe = regexp.MustCompile(`(?i)\b(where('s| is| are)?\s+.+\s+(defined|declared|implemented)|definition of|find the (definition|declaration)|locate)\b`)
	referenceRe  = regexp.MustCompile(`(?i)\b(what (calls|uses|references|invokes)|who (calls|uses)|callers? of|usages? of|referenced by|call sites?)\b`)
	structuralRe = regexp.MustCompile(`(?i)\b(structure of|layout of|architecture of|overview of|how is .+ (organized|structured)|module layout|package structure)\b`)
	conceptualRe = regexp.MustCompile(`(?i)\b(how (does|do|is)|why (does|do|is)|what (is|are|does)|explain|describe|purpose of)\b`)
)

// Analyzer classifies a question into a QueryType.
type Analyzer struct{}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

// Classify returns the query type for a question. Never errors.
func (a *Analyzer) Classify(question string) QueryType {
	q := strings.TrimSpace(question)
	if q == "" {
		return QueryConceptual
	}

	// Reference cues beat definition cues: "what calls X" contains no
	// definition verb, but "where is the caller of X defined" should
	// still resolve as a reference question.
	switch {
	case referenceRe.MatchString(q):
		return QueryReference
	case definitionRe.MatchString(q):
		return QueryDefinition
	case structuralRe.MatchString(q):
		return QueryStructural
	case conceptualRe.MatchString(q):
		return QueryConceptual
	default:
		return QueryConceptual
	}
}

var symbolRe = regexp.MustCompile("`([A-Za-z_][A-Za-z0-9_.]*)`|\\b([A-Z][A-Za-z0-9]*[a-z][A-Za-z0-9]*)\\b|\\b([a-z]+_[a-z_]+)\\b")

// ExtractSymbols pulls likely code identifiers out of a question:
// backticked names, CamelCase words and snake_case words.
func ExtractSymbols(question string) []string {
	matches := symbolRe.FindAllStringSubmatch(question, -1)
	seen := make(map[string]struct{})
	var out []string
	for _, m := range matches {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}
