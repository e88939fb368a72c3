// Package assemble packs ranked evidence into a fixed token budget by
// priority tier before the final model call.
package assemble

import (
	"fmt"
	"strings"

	"github.com/codelenshq/oracle/internal/retrieval"
	"github.com/codelenshq/oracle/internal/tokens"
)

// Tier budget fractions, each applied to the budget remaining when the
// tier starts, so later tiers reclaim what earlier tiers left unused.
const (
	generalFraction = 0.60
	docsFraction    = 0.20
	structFraction  = 0.10

	structMinTokens = 48 // always include some structure, even truncated
)

// Assembler builds the evidence context string.
type Assembler struct {
	counter *tokens.Counter
	model   string
}

func New(counter *tokens.Counter, model string) *Assembler {
	return &Assembler{counter: counter, model: model}
}

// Output is the assembled context plus what was actually used.
type Output struct {
	Context    string
	TokensUsed int
	Citations  []retrieval.Result // results actually packed, in pack order
	Structure  string             // the structure slice included
}

// Assemble greedily packs evidence into budget tokens:
// definition/exact hits first (definition and reference queries), then
// general reranked evidence, documentation, a structural overview
// slice, then conversation-history evidence if room remains. The
// result never exceeds budget; leftover budget is simply left unused.
func (a *Assembler) Assemble(qt retrieval.QueryType, reranked []retrieval.Result, structure string, budget int) Output {
	if budget <= 0 {
		return Output{}
	}

	var (
		b         strings.Builder
		used      int
		citations []retrieval.Result
	)
	remaining := budget

	add := func(section, text string) bool {
		block := text
		if section != "" {
			block = "## " + section + "\n" + text
		}
		n := a.counter.Count(a.model, block+"\n\n")
		if n > remaining {
			return false
		}
		b.WriteString(block)
		b.WriteString("\n\n")
		used += n
		remaining -= n
		return true
	}

	exact, general, docs, history := partition(reranked)

	// Tier 0: exact/definition evidence, uncapped within the budget.
	if qt == retrieval.QueryDefinition || qt == retrieval.QueryReference {
		for _, r := range exact {
			if add("", formatResult(r)) {
				citations = append(citations, r)
			}
		}
	} else {
		// Outside definition flows exact hits compete as general evidence.
		general = append(exact, general...)
	}

	// Tier 1: general evidence, ~60% of what remains.
	citations = a.packTier(&b, general, int(float64(remaining)*generalFraction), &used, &remaining, citations)

	// Tier 2: documentation, ~20% of what now remains.
	citations = a.packTier(&b, docs, int(float64(remaining)*docsFraction), &used, &remaining, citations)

	// Tier 3: structure slice, ~10%, always non-empty if structure exists.
	structSlice := ""
	if structure != "" {
		allot := int(float64(remaining) * structFraction)
		if allot < structMinTokens {
			allot = structMinTokens
		}
		if allot > remaining {
			allot = remaining
		}
		if allot > 0 {
			structSlice = a.counter.Truncate(a.model, structure, allot-a.counter.Count(a.model, "## Project structure\n\n\n"))
			if structSlice != "" {
				add("Project structure", structSlice)
			}
		}
	}

	// Tier 4: history evidence takes whatever is left.
	citations = a.packTier(&b, history, remaining, &used, &remaining, citations)

	return Output{
		Context:    strings.TrimRight(b.String(), "\n"),
		TokensUsed: used,
		Citations:  citations,
		Structure:  structSlice,
	}
}

// packTier adds results until the tier allotment (or the hard budget)
// would be exceeded. Items that do not fit are skipped, not truncated.
func (a *Assembler) packTier(b *strings.Builder, results []retrieval.Result, allot int, used, remaining *int, citations []retrieval.Result) []retrieval.Result {
	if allot > *remaining {
		allot = *remaining
	}
	tierUsed := 0
	for _, r := range results {
		block := formatResult(r) + "\n\n"
		n := a.counter.Count(a.model, block)
		if tierUsed+n > allot {
			continue
		}
		b.WriteString(block)
		tierUsed += n
		*used += n
		*remaining -= n
		citations = append(citations, r)
	}
	return citations
}

func partition(results []retrieval.Result) (exact, general, docs, history []retrieval.Result) {
	for _, r := range results {
		switch {
		case r.Method == retrieval.MethodExact:
			exact = append(exact, r)
		case r.SourceType == retrieval.SourceDocs:
			docs = append(docs, r)
		case r.SourceType == retrieval.SourceHistory:
			history = append(history, r)
		default:
			general = append(general, r)
		}
	}
	return exact, general, docs, history
}

func formatResult(r retrieval.Result) string {
	return fmt.Sprintf("[%s] %s\n%s", r.SourceType, r.SourcePath, r.Content)
}
