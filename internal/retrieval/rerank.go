package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codelenshq/oracle/internal/index"
	"github.com/codelenshq/oracle/internal/providers"
)

// Reranker scores merged candidates for relevance to the question,
// independent of how they were retrieved. Swappable behind this
// contract.
type Reranker interface {
	Rerank(ctx context.Context, question string, candidates []Result, topK int) []Result
}

const rerankSystemPrompt = `You score evidence snippets for relevance to a question about a codebase.
Reply with ONLY a JSON array of numbers between 0 and 1, one per snippet, in order. No other text.`

// ModelReranker scores all candidates in a single batched completion
// call. On any scoring failure it falls back to the pre-rerank order
// truncated to topK rather than aborting.
type ModelReranker struct {
	provider providers.Provider
	model    string
	cache    *lru.Cache[string, float64] // (question, candidate) -> score
}

func NewModelReranker(provider providers.Provider, model string) *ModelReranker {
	cache, _ := lru.New[string, float64](2048)
	return &ModelReranker{provider: provider, model: model, cache: cache}
}

func (r *ModelReranker) Rerank(ctx context.Context, question string, candidates []Result, topK int) []Result {
	if len(candidates) == 0 {
		return nil
	}
	if topK <= 0 {
		topK = len(candidates)
	}

	scores, err := r.score(ctx, question, candidates)
	if err != nil {
		slog.Warn("rerank failed, falling back to merge order", "error", err)
		return fallbackOrder(candidates, topK)
	}

	out := make([]Result, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].RerankScore = scores[i]
	}

	// Stable sort preserves original merge order for equal scores, so
	// results are deterministic given deterministic retriever output.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func (r *ModelReranker) score(ctx context.Context, question string, candidates []Result) ([]float64, error) {
	scores := make([]float64, len(candidates))
	missing := make([]int, 0, len(candidates))

	for i, c := range candidates {
		if s, ok := r.cache.Get(cacheKey(question, c)); ok {
			scores[i] = s
		} else {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return scores, nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question: %s\n\nSnippets:\n", question)
	for n, idx := range missing {
		c := candidates[idx]
		fmt.Fprintf(&prompt, "[%d] (%s %s) %s\n\n", n, c.SourceType, c.SourcePath, c.Content)
	}

	resp, err := r.provider.Chat(ctx, providers.ChatRequest{
		Model: r.model,
		Messages: []providers.Message{
			{Role: "system", Content: rerankSystemPrompt},
			{Role: "user", Content: prompt.String()},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank call: %w", err)
	}

	parsed, err := parseScores(resp.Content, len(missing))
	if err != nil {
		return nil, err
	}

	for n, idx := range missing {
		scores[idx] = parsed[n]
		r.cache.Add(cacheKey(question, candidates[idx]), parsed[n])
	}
	return scores, nil
}

func parseScores(content string, want int) ([]float64, error) {
	// Models sometimes wrap the array in a code fence.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no score array in rerank response")
	}

	var scores []float64
	if err := json.Unmarshal([]byte(content[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("parse rerank scores: %w", err)
	}
	if len(scores) != want {
		return nil, fmt.Errorf("rerank returned %d scores, want %d", len(scores), want)
	}
	for i, s := range scores {
		if s < 0 {
			scores[i] = 0
		} else if s > 1 {
			scores[i] = 1
		}
	}
	return scores, nil
}

func cacheKey(question string, c Result) string {
	return question + "\x00" + c.SourcePath + "\x00" + index.ContentHash(c.Content)
}

// fallbackOrder keeps the pre-rerank order and synthesizes descending
// rank scores so downstream tiering still has a comparable ordering.
func fallbackOrder(candidates []Result, topK int) []Result {
	out := make([]Result, len(candidates))
	copy(out, candidates)
	if len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].RerankScore = 1.0 - float64(i)/float64(len(out)+1)
	}
	return out
}
