package tracing

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type captureExporter struct {
	mu    sync.Mutex
	spans []SpanData
	shut  bool
}

func (e *captureExporter) ExportSpans(ctx context.Context, spans []SpanData) {
	e.mu.Lock()
	e.spans = append(e.spans, spans...)
	e.mu.Unlock()
}

func (e *captureExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shut = true
	e.mu.Unlock()
	return nil
}

func (e *captureExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.spans)
}

func TestCollector_EmitFillsDefaults(t *testing.T) {
	c := NewCollector()
	trace := uuid.Must(uuid.NewV7())

	c.EmitSpan(SpanData{TraceID: trace, SpanType: "retrieval", Name: "retrieve"})

	spans := c.SpansForTrace(trace)
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.ID == uuid.Nil {
		t.Error("span ID not assigned")
	}
	if s.Status != "ok" {
		t.Errorf("status = %q, want ok", s.Status)
	}
	if s.CreatedAt.IsZero() {
		t.Error("created_at not assigned")
	}
}

func TestCollector_SpansForTraceFiltersByTrace(t *testing.T) {
	c := NewCollector()
	t1 := uuid.Must(uuid.NewV7())
	t2 := uuid.Must(uuid.NewV7())

	c.EmitSpan(SpanData{TraceID: t1, SpanType: "retrieval", Name: "a"})
	c.EmitSpan(SpanData{TraceID: t2, SpanType: "rerank", Name: "b"})
	c.EmitSpan(SpanData{TraceID: t1, SpanType: "llm_call", Name: "c"})

	spans := c.SpansForTrace(t1)
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	for _, s := range spans {
		if s.TraceID != t1 {
			t.Errorf("span %s has trace %s", s.Name, s.TraceID)
		}
	}
	if spans[0].Name != "a" || spans[1].Name != "c" {
		t.Errorf("order = %s, %s, want a, c", spans[0].Name, spans[1].Name)
	}
}

func TestCollector_ExporterReceivesFlushedSpans(t *testing.T) {
	c := NewCollector()
	exp := &captureExporter{}
	c.SetExporter(exp)
	trace := uuid.Must(uuid.NewV7())

	c.EmitSpan(SpanData{TraceID: trace, SpanType: "tool_call", Name: "code_search"})
	c.SpansForTrace(trace) // forces a flush

	if got := exp.count(); got != 1 {
		t.Errorf("exported spans = %d, want 1", got)
	}
}

func TestCollector_StartStopDrainsAndShutsDown(t *testing.T) {
	c := NewCollector()
	exp := &captureExporter{}
	c.SetExporter(exp)
	c.Start()

	trace := uuid.Must(uuid.NewV7())
	c.EmitSpan(SpanData{TraceID: trace, SpanType: "compress", Name: "compress"})
	c.Stop()

	if got := exp.count(); got != 1 {
		t.Errorf("exported spans after stop = %d, want 1", got)
	}
	exp.mu.Lock()
	shut := exp.shut
	exp.mu.Unlock()
	if !shut {
		t.Error("exporter not shut down")
	}
}

func TestCollector_RecentRingBounded(t *testing.T) {
	c := NewCollector()
	trace := uuid.Must(uuid.NewV7())

	// More spans than the ring holds, emitted in buffer-sized batches
	// so none are dropped at the channel.
	total := recentSpanCap + 100
	for i := 0; i < total; i++ {
		c.EmitSpan(SpanData{TraceID: trace, SpanType: "tool_call", Name: "n"})
		if (i+1)%defaultBufferSize == 0 {
			c.flush()
		}
	}

	spans := c.SpansForTrace(trace)
	if len(spans) > recentSpanCap {
		t.Errorf("retained %d spans, cap is %d", len(spans), recentSpanCap)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.EmitSpan(SpanData{SpanType: "retrieval"})
	if spans := c.SpansForTrace(uuid.Must(uuid.NewV7())); spans != nil {
		t.Errorf("spans = %v, want nil", spans)
	}
}

func TestTruncatePreview(t *testing.T) {
	short := "hello"
	if got := truncatePreview(short); got != short {
		t.Errorf("short preview = %q", got)
	}

	long := strings.Repeat("x", previewMaxLen+200)
	got := truncatePreview(long)
	if len(got) > previewMaxLen+3 {
		t.Errorf("preview length = %d, want <= %d", len(got), previewMaxLen+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("long preview not marked truncated")
	}

	// Multi-byte runes never split mid-rune.
	runes := strings.Repeat("é", previewMaxLen) // 2 bytes each
	if got := truncatePreview(runes); !strings.HasSuffix(got, "...") || strings.Contains(got, "�") {
		t.Errorf("rune boundary broken: %q", got[len(got)-8:])
	}
}

func TestCollector_EmitDoesNotBlockWhenFull(t *testing.T) {
	c := NewCollector()
	for i := 0; i < defaultBufferSize+10; i++ {
		done := make(chan struct{})
		go func() {
			c.EmitSpan(SpanData{SpanType: "llm_call", Name: "n"})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("EmitSpan blocked on a full buffer")
		}
	}
}
