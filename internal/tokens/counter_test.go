package tokens

import (
	"strings"
	"testing"
)

func TestCounter_EmptyText(t *testing.T) {
	c := NewCounter(4)
	if got := c.Count("any-model", ""); got != 0 {
		t.Errorf("Count(empty) = %d, want 0", got)
	}
}

func TestCounter_CountsSomething(t *testing.T) {
	c := NewCounter(4)
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 10)
	n := c.Count("unknown-model-xyz", text)
	if n <= 0 {
		t.Fatalf("Count = %d, want > 0", n)
	}
	// Monotone in text length.
	if c.Count("unknown-model-xyz", text+text) <= n {
		t.Error("doubling text did not increase count")
	}
}

func TestCounter_Fits(t *testing.T) {
	c := NewCounter(4)
	if !c.Fits("m", "short", 100) {
		t.Error("short text should fit a large budget")
	}
	if c.Fits("m", strings.Repeat("word ", 1000), 10) {
		t.Error("long text should not fit a tiny budget")
	}
}

func TestCounter_TruncateRespectsBudget(t *testing.T) {
	c := NewCounter(4)
	text := strings.Repeat("alpha beta gamma delta ", 100)

	out := c.Truncate("m", text, 50)
	if got := c.Count("m", out); got > 50 {
		t.Errorf("truncated text counts %d tokens, budget 50", got)
	}
	if out == "" {
		t.Error("truncation emptied the text entirely")
	}
	if !strings.HasPrefix(text, out) {
		t.Error("truncation must return a prefix")
	}
}

func TestCounter_TruncateShortTextUnchanged(t *testing.T) {
	c := NewCounter(4)
	if out := c.Truncate("m", "tiny", 100); out != "tiny" {
		t.Errorf("Truncate = %q, want unchanged", out)
	}
}

func TestCounter_TruncateZeroBudget(t *testing.T) {
	c := NewCounter(4)
	if out := c.Truncate("m", "anything", 0); out != "" {
		t.Errorf("Truncate with zero budget = %q, want empty", out)
	}
}
