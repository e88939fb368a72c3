// Package oracle is the orchestration core: it owns the full
// question-to-answer cycle of classify, retrieve, rerank, assemble,
// agent loop, and context update. One Service instance serves all
// sessions; runs for the same (user, project) are serialized.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codelenshq/oracle/internal/agent"
	"github.com/codelenshq/oracle/internal/assemble"
	"github.com/codelenshq/oracle/internal/config"
	"github.com/codelenshq/oracle/internal/convo"
	"github.com/codelenshq/oracle/internal/index"
	"github.com/codelenshq/oracle/internal/providers"
	"github.com/codelenshq/oracle/internal/retrieval"
	"github.com/codelenshq/oracle/internal/scheduler"
	"github.com/codelenshq/oracle/internal/store"
	"github.com/codelenshq/oracle/internal/tokens"
	"github.com/codelenshq/oracle/internal/tools"
	"github.com/codelenshq/oracle/internal/tracing"
	"github.com/codelenshq/oracle/pkg/protocol"
)

const oracleSystemPrompt = `You are Oracle, a research assistant for a software project.
Answer strictly from the evidence provided and from your tools. Cite the source path for every claim about the code.
If the evidence does not support an answer, say so plainly instead of guessing.
For large research or vault-organization subtasks, delegate to the Librarian with delegate_librarian and report its summary.`

// Query is one question against a (user, project) session.
type Query struct {
	User         string
	Project      string
	Question     string
	SourceFilter []retrieval.SourceType // empty = all sources
	Explain      bool                   // include the retrieval trace and spans
	Sink         protocol.Sink          // nil = no streaming

	// Per-question overrides of the configured defaults; zero keeps
	// the default.
	MaxResultsPerPath int // cap per retrieval path
	MaxContextTokens  int // assembled evidence budget
}

// Response is the outcome of one question cycle.
type Response struct {
	Answer    string
	QueryType retrieval.QueryType
	Citations []retrieval.Result
	Structure string
	Turns     int
	Partial   bool

	// TokensUsed counts model tokens spent across the cycle.
	TokensUsed int

	// Compressed is set when this cycle triggered a compression pass;
	// CompressionFellBack additionally marks a truncation fallback.
	Compressed          bool
	CompressionFellBack bool

	// Explain-only fields.
	Trace *retrieval.Trace
	Spans []tracing.SpanData
}

// Service wires the whole pipeline and serializes runs per session.
type Service struct {
	cfg *config.Config

	provider providers.Provider
	counter  *tokens.Counter

	analyzer     *retrieval.Analyzer
	orchestrator *retrieval.Orchestrator
	reranker     retrieval.Reranker
	assembler    *assemble.Assembler

	manager  *convo.Manager
	contexts convo.Store

	registry *tools.Registry
	loop     *agent.Loop

	evidence  *index.Store
	collector *tracing.Collector
	sched     *scheduler.Scheduler[*Query, *Response]
}

// New builds a Service from config. The evidence index, context store,
// provider, retriever set, tool registry and tracing collector are all
// wired here; nothing registers at runtime.
func New(cfg *config.Config) (*Service, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("%s: provider api_key is required", protocol.ErrInvalidRequest)
	}

	evidence, err := index.Open(cfg.Store.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("open evidence index: %w", err)
	}

	contexts, err := store.Open(cfg.Store)
	if err != nil {
		evidence.Close()
		return nil, fmt.Errorf("open context store: %w", err)
	}

	provider := providers.NewOpenAIProvider("openai", cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)
	if cfg.Provider.RequestsPerMin > 0 {
		provider.SetRateLimit(cfg.Provider.RequestsPerMin)
	}

	counter := tokens.NewCounter(64)

	// Retriever set, in fixed merge order: vector, keyword, graph,
	// docs, history.
	exact := retrieval.NewExactRetriever(evidence)
	retrievers := []retrieval.Retriever{
		retrieval.NewKeywordRetriever(evidence),
		retrieval.NewGraphRetriever(evidence),
		retrieval.NewDocRetriever(evidence),
		retrieval.NewHistoryRetriever(&contextHistorySource{contexts: contexts}),
	}
	if cfg.Provider.EmbeddingModel != "" {
		embedder := providers.NewOpenAIEmbeddings(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.EmbeddingModel)
		retrievers = append([]retrieval.Retriever{retrieval.NewVectorRetriever(evidence, embedder)}, retrievers...)
	}

	orchestrator := retrieval.NewOrchestrator(
		exact, retrievers,
		time.Duration(cfg.Retrieval.TimeoutSeconds)*time.Second,
		cfg.Retrieval.CandidateCapFactor,
		counter, cfg.Provider.Model,
	)

	reranker := retrieval.NewModelReranker(provider, modelOr(cfg.Provider.RerankerModel, cfg.Provider.Model))
	assembler := assemble.New(counter, cfg.Provider.Model)
	manager := convo.NewManager(provider,
		modelOr(cfg.Provider.SummarizerModel, cfg.Provider.Model),
		counter, cfg.Context.KeepLastExchanges, cfg.Context.CompressionTrigger)

	registry := tools.NewRegistry()
	if cfg.Agent.ToolRatePerHour > 0 {
		registry.SetRateLimiter(tools.NewRateLimiter(cfg.Agent.ToolRatePerHour))
	}
	registry.MustRegister(
		tools.NewCodeSearchTool(orchestrator, reranker, cfg.Retrieval.TopK),
		tools.NewSymbolLookupTool(evidence),
		tools.NewListReferencesTool(evidence),
		tools.NewDocSearchTool(retrieval.NewDocRetriever(evidence)),
	)
	registry.MustRegister(agent.NewDelegateTool(provider,
		modelOr(cfg.Provider.SubagentModel, cfg.Provider.Model),
		registry, cfg.Agent.SubagentCeiling))

	collector := tracing.NewCollector()
	if cfg.Tracing.Enabled {
		collector.Start()
	}

	s := &Service{
		cfg:          cfg,
		provider:     provider,
		counter:      counter,
		analyzer:     retrieval.NewAnalyzer(),
		orchestrator: orchestrator,
		reranker:     reranker,
		assembler:    assembler,
		manager:      manager,
		contexts:     contexts,
		registry:     registry,
		loop:         agent.NewLoop(provider, cfg.Provider.Model, registry, tools.ScopeOracle, cfg.Agent.TurnCeiling),
		evidence:     evidence,
		collector:    collector,
	}
	s.sched = scheduler.New(scheduler.DefaultConfig(), s.run)
	return s, nil
}

// SetSpanExporter attaches an external OTLP exporter to the tracing
// collector. Must be called before the first Ask.
func (s *Service) SetSpanExporter(exp tracing.SpanExporter) {
	s.collector.SetExporter(exp)
}

// Close releases the evidence index and flushes remaining spans.
func (s *Service) Close() error {
	s.collector.Stop()
	return s.evidence.Close()
}

// Ask runs one question cycle for the query's session. Questions for
// the same (user, project) are serialized; distinct sessions run
// concurrently.
func (s *Service) Ask(ctx context.Context, q *Query) (*Response, error) {
	if q.Question == "" {
		return nil, fmt.Errorf("%s: question is empty", protocol.ErrInvalidRequest)
	}
	sessionKey := config.SessionKey(q.User, q.Project)

	select {
	case outcome := <-s.sched.Enqueue(ctx, sessionKey, q):
		if outcome.Err != nil {
			q.Sink.Emit(protocol.ErrorEvent(protocol.ErrInternal, outcome.Err.Error()))
		}
		return outcome.Result, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the serialized body of one question cycle.
func (s *Service) run(ctx context.Context, q *Query) (*Response, error) {
	sessionKey := config.SessionKey(q.User, q.Project)
	traceID := uuid.Must(uuid.NewV7())

	cc, err := s.contexts.Load(ctx, q.User, q.Project)
	if errors.Is(err, convo.ErrNotFound) {
		cc = convo.NewContext(q.User, q.Project, s.cfg.Context.TokenBudget)
	} else if err != nil {
		return nil, fmt.Errorf("%s: load context: %w", protocol.ErrPersistence, err)
	}
	s.manager.EnsureModel(cc, s.cfg.Provider.Model)

	// History is the conversation as it stood before this question;
	// the loop appends the question itself.
	history := convo.History(cc)

	qt := s.analyzer.Classify(q.Question)

	// Retrieval: degraded sources are recorded in the trace, never
	// fatal. Empty evidence flows through so the answer is honest.
	retrieveStart := time.Now()
	candidates, trace := s.orchestrator.Retrieve(ctx, retrieval.Request{
		Question:          q.Question,
		QueryType:         qt,
		SourceFilter:      q.SourceFilter,
		TopK:              s.cfg.Retrieval.TopK,
		MaxResultsPerPath: q.MaxResultsPerPath,
		Thread:            sessionKey,
	})
	s.emitSpan(traceID, sessionKey, "retrieval", "retrieve", retrieveStart, "", len(candidates), nil)

	var reranked []retrieval.Result
	if len(candidates) > 0 {
		rerankStart := time.Now()
		reranked = s.reranker.Rerank(ctx, q.Question, candidates, s.cfg.Retrieval.TopK)
		trace.Reranked = true
		s.emitSpan(traceID, sessionKey, "rerank", "rerank", rerankStart, "", len(reranked), nil)
	}

	structure, serr := s.evidence.StructureOverview(50)
	if serr != nil {
		slog.Warn("structure overview unavailable", "error", serr)
	}

	contextBudget := s.cfg.Context.MaxContextTokens
	if q.MaxContextTokens > 0 {
		contextBudget = q.MaxContextTokens
	}
	out := s.assembler.Assemble(qt, reranked, structure, contextBudget)
	evidenceCtx := out.Context
	if evidenceCtx == "" {
		evidenceCtx = "No indexed evidence matched this question."
	}

	loopStart := time.Now()
	run, err := s.loop.Run(ctx, agent.RunRequest{
		SystemPrompt: oracleSystemPrompt,
		Context:      evidenceCtx,
		History:      history,
		Question:     q.Question,
		SessionKey:   sessionKey,
		Sink:         q.Sink,
	})
	s.emitSpan(traceID, sessionKey, "llm_call", "agent_loop", loopStart, s.cfg.Provider.Model, run.TokensUsed, err)
	if err != nil {
		code := protocol.ErrUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = protocol.ErrModelTimeout
		}
		q.Sink.Emit(protocol.ErrorEvent(code, err.Error()))
		return nil, fmt.Errorf("%s: %w", code, err)
	}

	// Record the full turn: the user question, then everything the
	// loop produced, with mention sets from question and citations.
	userEx := convo.Exchange{
		Role:             "user",
		Content:          q.Question,
		MentionedSymbols: retrieval.ExtractSymbols(q.Question),
		MentionedFiles:   citedFiles(out.Citations),
	}
	s.manager.Append(cc, userEx)
	for _, ex := range run.Exchanges {
		s.manager.Append(cc, ex)
	}

	resp := &Response{
		Answer:     run.Answer,
		QueryType:  qt,
		Citations:  out.Citations,
		Structure:  out.Structure,
		Turns:      run.Turns,
		Partial:    run.Partial,
		TokensUsed: run.TokensUsed,
	}

	if s.manager.NeedsCompression(cc) {
		compressStart := time.Now()
		cerr := s.manager.MaybeCompress(ctx, cc)
		resp.Compressed = true
		if errors.Is(cerr, convo.ErrCompressionFailed) {
			resp.CompressionFellBack = true
		}
		s.emitSpan(traceID, sessionKey, "compress", "compress_context", compressStart, "", cc.TokensUsed, cerr)
	}

	if err := s.contexts.Save(ctx, cc); err != nil {
		q.Sink.Emit(protocol.ErrorEvent(protocol.ErrPersistence, err.Error()))
		return nil, fmt.Errorf("%s: save context: %w", protocol.ErrPersistence, err)
	}

	if q.Explain {
		resp.Trace = trace
		resp.Spans = s.collector.SpansForTrace(traceID)
	}

	q.Sink.Emit(protocol.DoneEvent(run.TokensUsed))
	return resp, nil
}

func (s *Service) emitSpan(traceID uuid.UUID, sessionKey, spanType, name string, start time.Time, model string, outputTokens int, err error) {
	span := tracing.SpanData{
		TraceID:      traceID,
		SpanType:     spanType,
		Name:         name,
		SessionKey:   sessionKey,
		Model:        model,
		OutputTokens: outputTokens,
		StartTime:    start.UTC(),
		DurationMS:   int(time.Since(start).Milliseconds()),
	}
	if err != nil {
		span.Status = "error"
		span.Error = err.Error()
	}
	s.collector.EmitSpan(span)
}

// Sessions lists all persisted conversation contexts.
func (s *Service) Sessions(ctx context.Context) ([]*convo.ConversationContext, error) {
	return s.contexts.List(ctx)
}

// ResetSession deletes the conversation context for a (user, project)
// pair. The evidence index is untouched.
func (s *Service) ResetSession(ctx context.Context, user, project string) error {
	if err := s.contexts.Delete(ctx, user, project); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func modelOr(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}

func citedFiles(citations []retrieval.Result) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range citations {
		if c.SourceType != retrieval.SourceCode {
			continue
		}
		path := c.SourcePath
		if i := strings.LastIndex(path, ":"); i > 0 {
			path = path[:i]
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}

// contextHistorySource exposes one session's persisted conversation to
// the history retriever as searchable past exchanges. The thread is the
// normalized "user:project" session key; other sessions are never read,
// so one user's dialogue cannot surface in another's evidence.
type contextHistorySource struct {
	contexts convo.Store
}

func (h *contextHistorySource) RecentEntries(ctx context.Context, thread string) ([]retrieval.HistoryEntry, error) {
	user, project, ok := strings.Cut(thread, ":")
	if !ok {
		return nil, nil
	}
	cc, err := h.contexts.Load(ctx, user, project)
	if errors.Is(err, convo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []retrieval.HistoryEntry
	if cc.CompressedSummary != "" {
		entries = append(entries, retrieval.HistoryEntry{ThreadID: thread, Content: cc.CompressedSummary})
	}
	for _, ex := range cc.RecentExchanges {
		if ex.Role == "tool" || ex.Content == "" {
			continue
		}
		entries = append(entries, retrieval.HistoryEntry{ThreadID: thread, Content: ex.Content})
	}
	return entries, nil
}
