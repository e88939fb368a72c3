package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codelenshq/oracle/internal/providers"
	"github.com/codelenshq/oracle/internal/tokens"
)

// ErrCompressionFailed is returned when both summarization attempts
// fail verification and truncation had to discard exchanges outright.
var ErrCompressionFailed = errors.New("compression failed, oldest exchanges truncated")

const summarizeSystemPrompt = `You compress older turns of a conversation about a codebase into a running summary.
Rules:
- Merge the previous summary and the turns below into one concise summary.
- You MUST include every item under MUST PRESERVE exactly as written, verbatim.
- Keep key findings and their file/symbol references. Drop pleasantries and dead ends.
Reply with only the summary text.`

// Manager mutates conversation contexts: appends exchanges, triggers
// compression and re-tokenizes after model changes. Compression is
// lossy for raw dialogue but lossless for key decisions, mentioned
// symbols/files and per-exchange insights.
type Manager struct {
	provider providers.Provider
	model    string // summarizer model
	counter  *tokens.Counter
	keepLast int
	trigger  float64
}

func NewManager(provider providers.Provider, model string, counter *tokens.Counter, keepLast int, trigger float64) *Manager {
	if keepLast <= 0 {
		keepLast = 5
	}
	if trigger <= 0 || trigger >= 1 {
		trigger = 0.8
	}
	return &Manager{
		provider: provider,
		model:    model,
		counter:  counter,
		keepLast: keepLast,
		trigger:  trigger,
	}
}

// Append adds an exchange, fills in its token count for the session's
// model, merges its mentioned sets, and updates the running total.
func (m *Manager) Append(cc *ConversationContext, ex Exchange) {
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now().UTC()
	}
	if ex.TokenCount == 0 {
		ex.TokenCount = m.counter.Count(m.modelFor(cc), exchangeText(ex))
	}
	cc.RecentExchanges = append(cc.RecentExchanges, ex)
	cc.MentionSymbols(ex.MentionedSymbols...)
	cc.MentionFiles(ex.MentionedFiles...)
	cc.TokensUsed = m.totalTokens(cc)
	cc.UpdatedAt = time.Now().UTC()
}

// NeedsCompression reports whether the context is at or past the
// compression trigger threshold.
func (m *Manager) NeedsCompression(cc *ConversationContext) bool {
	return float64(cc.TokensUsed) >= m.trigger*float64(cc.TokenBudget)
}

// MaybeCompress compresses the context if the trigger threshold is
// reached. The pass must land below the threshold and carry every key
// decision, mentioned symbol/file and exchange insight verbatim; a
// failed pass is retried with stronger summarization, and as a last
// resort the oldest exchanges are truncated outright rather than
// exceeding the token budget.
func (m *Manager) MaybeCompress(ctx context.Context, cc *ConversationContext) error {
	if !m.NeedsCompression(cc) {
		return nil
	}

	if err := m.compressOnce(ctx, cc, m.keepLast); err == nil && !m.NeedsCompression(cc) {
		return nil
	} else if err != nil {
		slog.Warn("compression pass failed", "error", err, "keep_last", m.keepLast)
	}

	// Stronger pass: fold everything but the last two exchanges.
	if err := m.compressOnce(ctx, cc, 2); err == nil && !m.NeedsCompression(cc) {
		return nil
	} else if err != nil {
		slog.Warn("aggressive compression pass failed", "error", err)
	}

	m.truncateOldest(cc)
	return ErrCompressionFailed
}

func (m *Manager) compressOnce(ctx context.Context, cc *ConversationContext, keepLast int) error {
	if len(cc.RecentExchanges) <= keepLast {
		return fmt.Errorf("nothing to compress: %d exchanges, keep %d", len(cc.RecentExchanges), keepLast)
	}

	toCompress := cc.RecentExchanges[:len(cc.RecentExchanges)-keepLast]
	keep := cc.RecentExchanges[len(cc.RecentExchanges)-keepLast:]

	summary, err := m.summarize(ctx, cc, toCompress)
	if err != nil {
		return err
	}
	if err := verifyPreserved(summary, cc, toCompress); err != nil {
		return err
	}

	kept := make([]Exchange, len(keep))
	copy(kept, keep)
	cc.CompressedSummary = summary
	cc.RecentExchanges = kept
	cc.CompressionCount++
	cc.TokensUsed = m.totalTokens(cc)
	cc.UpdatedAt = time.Now().UTC()
	slog.Info("conversation compressed",
		"user", cc.User, "project", cc.Project,
		"folded", len(toCompress), "kept", len(kept),
		"tokens_used", cc.TokensUsed, "count", cc.CompressionCount)
	return nil
}

func (m *Manager) summarize(ctx context.Context, cc *ConversationContext, toCompress []Exchange) (string, error) {
	var b strings.Builder
	if cc.CompressedSummary != "" {
		fmt.Fprintf(&b, "Previous summary:\n%s\n\n", cc.CompressedSummary)
	}

	b.WriteString("MUST PRESERVE (verbatim):\n")
	for _, d := range cc.KeyDecisions {
		fmt.Fprintf(&b, "- decision: %s\n", d)
	}
	for _, s := range cc.MentionedSymbols {
		fmt.Fprintf(&b, "- symbol: %s\n", s)
	}
	for _, f := range cc.MentionedFiles {
		fmt.Fprintf(&b, "- file: %s\n", f)
	}
	for _, ex := range toCompress {
		if ex.KeyInsight != "" {
			fmt.Fprintf(&b, "- insight: %s\n", ex.KeyInsight)
		}
	}

	b.WriteString("\nTurns to fold in:\n")
	for _, ex := range toCompress {
		fmt.Fprintf(&b, "[%s] %s\n", ex.Role, exchangeText(ex))
	}

	resp, err := m.provider.Chat(ctx, providers.ChatRequest{
		Model: m.model,
		Messages: []providers.Message{
			{Role: "system", Content: summarizeSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("summarization call: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("empty summary")
	}
	return summary, nil
}

// verifyPreserved enforces the lossless guarantee for the three
// preserved categories plus per-exchange insights.
func verifyPreserved(summary string, cc *ConversationContext, compressed []Exchange) error {
	for _, d := range cc.KeyDecisions {
		if !strings.Contains(summary, d) {
			return fmt.Errorf("summary dropped key decision %q", d)
		}
	}
	for _, s := range cc.MentionedSymbols {
		if !strings.Contains(summary, s) {
			return fmt.Errorf("summary dropped symbol %q", s)
		}
	}
	for _, f := range cc.MentionedFiles {
		if !strings.Contains(summary, f) {
			return fmt.Errorf("summary dropped file %q", f)
		}
	}
	for _, ex := range compressed {
		if ex.KeyInsight != "" && !strings.Contains(summary, ex.KeyInsight) {
			return fmt.Errorf("summary dropped insight %q", ex.KeyInsight)
		}
	}
	return nil
}

// truncateOldest drops exchanges from the front until usage falls below
// the trigger threshold. A single exchange that alone exceeds the
// threshold has its content cut down instead, so the pass always lands
// under the trigger. Key decisions and mentioned sets live on the
// context itself, so they survive truncation.
func (m *Manager) truncateOldest(cc *ConversationContext) {
	threshold := m.trigger * float64(cc.TokenBudget)
	dropped := 0
	for len(cc.RecentExchanges) > 1 && float64(cc.TokensUsed) >= threshold {
		cc.RecentExchanges = cc.RecentExchanges[1:]
		cc.TokensUsed = m.totalTokens(cc)
		dropped++
	}

	if len(cc.RecentExchanges) == 1 && float64(cc.TokensUsed) >= threshold {
		model := m.modelFor(cc)
		allowed := int(threshold) - m.counter.Count(model, cc.CompressedSummary) - 1
		if allowed < 0 {
			allowed = 0
		}
		ex := cc.RecentExchanges[0]
		ex.ToolCalls = nil
		ex.Content = m.counter.Truncate(model, ex.Content, allowed)
		ex.TokenCount = m.counter.Count(model, exchangeText(ex))
		cc.RecentExchanges[0] = ex
		cc.TokensUsed = m.totalTokens(cc)
	}

	cc.UpdatedAt = time.Now().UTC()
	slog.Warn("compression fell back to truncation",
		"user", cc.User, "project", cc.Project, "dropped", dropped, "tokens_used", cc.TokensUsed)
}

// EnsureModel suspends and re-tokenizes the context when the requested
// model differs from the one the stored token counts were computed
// with. Counts are tokenizer-specific and must be recomputed, not
// copied.
func (m *Manager) EnsureModel(cc *ConversationContext, model string) {
	if cc.LastModel == model {
		return
	}
	if cc.LastModel != "" {
		cc.Status = StatusSuspended
		slog.Info("model changed, re-tokenizing context",
			"user", cc.User, "project", cc.Project,
			"from", cc.LastModel, "to", model)
	}

	for i := range cc.RecentExchanges {
		cc.RecentExchanges[i].TokenCount = m.counter.Count(model, exchangeText(cc.RecentExchanges[i]))
	}
	cc.LastModel = model
	cc.TokensUsed = m.totalTokens(cc)
	cc.Status = StatusActive
	cc.UpdatedAt = time.Now().UTC()
}

func (m *Manager) totalTokens(cc *ConversationContext) int {
	total := m.counter.Count(m.modelFor(cc), cc.CompressedSummary)
	for _, ex := range cc.RecentExchanges {
		total += ex.TokenCount
	}
	return total
}

func (m *Manager) modelFor(cc *ConversationContext) string {
	if cc.LastModel != "" {
		return cc.LastModel
	}
	return m.model
}

func exchangeText(ex Exchange) string {
	var b strings.Builder
	b.WriteString(ex.Content)
	for _, tc := range ex.ToolCalls {
		b.WriteString("\n")
		b.WriteString(tc.Name)
		b.WriteString(" ")
		b.WriteString(tc.Arguments)
		if tc.Result != "" {
			b.WriteString(" -> ")
			b.WriteString(tc.Result)
		}
	}
	return b.String()
}

// History renders the summary plus recent exchanges as provider
// messages for the agent loop's initial message set.
func History(cc *ConversationContext) []providers.Message {
	var msgs []providers.Message
	if cc.CompressedSummary != "" {
		msgs = append(msgs, providers.Message{
			Role:    "system",
			Content: "Summary of earlier conversation:\n" + cc.CompressedSummary,
		})
	}
	for _, ex := range cc.RecentExchanges {
		msg := providers.Message{Role: ex.Role, Content: ex.Content, ToolCallID: ex.ToolCallID}
		for _, tc := range ex.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCallRequest{
				ID:   tc.ID,
				Type: "function",
				Function: providers.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
