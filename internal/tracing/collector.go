// Package tracing collects spans for question cycles: retrieval
// fan-out, reranking, model calls, tool calls, delegation. Spans are
// buffered in memory and flushed in batches, optionally to an external
// OTLP backend.
package tracing

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1000
	recentSpanCap        = 512
	previewMaxLen        = 500
)

// SpanData is one timed unit of work inside a question cycle.
type SpanData struct {
	ID           uuid.UUID  `json:"id"`
	TraceID      uuid.UUID  `json:"trace_id"`
	ParentSpanID *uuid.UUID `json:"parent_span_id,omitempty"`

	// SpanType is one of "llm_call", "tool_call", "retrieval",
	// "rerank", "assemble", "compress", "delegate".
	SpanType string `json:"span_type"`
	Name     string `json:"name"`

	SessionKey string `json:"session_key,omitempty"`

	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`

	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	Status        string `json:"status"` // "ok" or "error"
	Error         string `json:"error,omitempty"`
	InputPreview  string `json:"input_preview,omitempty"`
	OutputPreview string `json:"output_preview,omitempty"`

	StartTime  time.Time `json:"start_time"`
	DurationMS int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// SpanExporter is implemented by backends that receive flushed spans.
// Keeping this as an interface lets the OTel dependency live in a
// separate sub-package.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []SpanData)
	Shutdown(ctx context.Context) error
}

// Collector buffers spans in memory and periodically flushes them. A
// bounded ring of recent spans is retained for explain output; when an
// exporter is attached, flushed spans also go to the external backend.
type Collector struct {
	spanCh chan SpanData
	stopCh chan struct{}
	wg     sync.WaitGroup

	recentMu sync.Mutex
	recent   []SpanData

	exporterMu sync.Mutex
	exporter   SpanExporter // nil = buffer only
}

func NewCollector() *Collector {
	return &Collector{
		spanCh: make(chan SpanData, defaultBufferSize),
		stopCh: make(chan struct{}),
	}
}

// SetExporter attaches an external span exporter. Safe to call after
// Start; spans buffered before attachment are exported on the next
// flush.
func (c *Collector) SetExporter(exp SpanExporter) {
	c.exporterMu.Lock()
	c.exporter = exp
	c.exporterMu.Unlock()
}

func (c *Collector) getExporter() SpanExporter {
	c.exporterMu.Lock()
	defer c.exporterMu.Unlock()
	return c.exporter
}

// Start begins the background flush loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.flushLoop()
	slog.Debug("tracing collector started")
}

// Stop drains remaining spans and shuts down the exporter.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()

	if exp := c.getExporter(); exp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exp.Shutdown(ctx); err != nil {
			slog.Warn("tracing: exporter shutdown failed", "error", err)
		}
	}
	slog.Debug("tracing collector stopped")
}

// EmitSpan enqueues a span. Non-blocking: drops the span when the
// buffer is full rather than stalling the question cycle.
func (c *Collector) EmitSpan(span SpanData) {
	if c == nil {
		return
	}
	if span.ID == uuid.Nil {
		span.ID = uuid.Must(uuid.NewV7())
	}
	if span.CreatedAt.IsZero() {
		span.CreatedAt = time.Now().UTC()
	}
	if span.Status == "" {
		span.Status = "ok"
	}
	span.InputPreview = truncatePreview(span.InputPreview)
	span.OutputPreview = truncatePreview(span.OutputPreview)

	select {
	case c.spanCh <- span:
	default:
		slog.Warn("tracing: span buffer full, dropping span",
			"span_type", span.SpanType, "name", span.Name)
	}
}

// SpansForTrace returns retained spans belonging to one trace, oldest
// first. Only spans still in the recent ring are returned.
func (c *Collector) SpansForTrace(traceID uuid.UUID) []SpanData {
	if c == nil {
		return nil
	}
	c.flush()

	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	var out []SpanData
	for _, s := range c.recent {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	return out
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	var spans []SpanData
	for {
		select {
		case span := <-c.spanCh:
			spans = append(spans, span)
		default:
			goto done
		}
	}
done:
	if len(spans) == 0 {
		return
	}

	c.recentMu.Lock()
	c.recent = append(c.recent, spans...)
	if over := len(c.recent) - recentSpanCap; over > 0 {
		c.recent = append(c.recent[:0], c.recent[over:]...)
	}
	c.recentMu.Unlock()

	if exp := c.getExporter(); exp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		exp.ExportSpans(ctx, spans)
	}
	slog.Debug("tracing: flushed spans", "count", len(spans))
}

// truncatePreview sanitizes and truncates a string to previewMaxLen
// bytes on a rune boundary.
func truncatePreview(s string) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= previewMaxLen {
		return s
	}
	maxLen := previewMaxLen
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
