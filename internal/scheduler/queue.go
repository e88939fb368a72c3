// Package scheduler serializes question handling per (user, project)
// session. A conversation context is exclusively owned by at most one
// in-flight question cycle; concurrent questions for the same session
// queue up instead of interleaving writes into the exchange log.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

// DropPolicy determines which question to drop when a queue is full.
type DropPolicy string

const (
	DropOld DropPolicy = "old" // evict oldest queued question
	DropNew DropPolicy = "new" // reject incoming question
)

// Config configures per-session queuing.
type Config struct {
	Cap  int        `json:"cap"`
	Drop DropPolicy `json:"drop"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Cap: 10, Drop: DropOld}
}

// RunFunc executes one queued question when its turn comes.
type RunFunc[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Outcome is the result of a scheduled run.
type Outcome[Res any] struct {
	Result Res
	Err    error
}

type pending[Req, Res any] struct {
	ctx      context.Context
	req      Req
	resultCh chan Outcome[Res]
}

// sessionQueue serializes runs for a single session key: only one run
// executes at a time, the rest wait FIFO.
type sessionQueue[Req, Res any] struct {
	key    string
	config Config
	runFn  RunFunc[Req, Res]

	mu     sync.Mutex
	queue  []*pending[Req, Res]
	active bool
}

func (sq *sessionQueue[Req, Res]) enqueue(ctx context.Context, req Req) <-chan Outcome[Res] {
	outcome := make(chan Outcome[Res], 1)
	p := &pending[Req, Res]{ctx: ctx, req: req, resultCh: outcome}

	sq.mu.Lock()
	defer sq.mu.Unlock()

	if len(sq.queue) >= sq.config.Cap {
		if sq.config.Drop == DropNew {
			outcome <- Outcome[Res]{Err: ErrQueueFull}
			close(outcome)
			return outcome
		}
		// drop=old: evict the oldest waiting question.
		oldest := sq.queue[0]
		sq.queue = sq.queue[1:]
		oldest.resultCh <- Outcome[Res]{Err: ErrQueueDropped}
		close(oldest.resultCh)
		slog.Warn("session queue full, dropped oldest", "session", sq.key)
	}

	sq.queue = append(sq.queue, p)
	if !sq.active {
		sq.startNext()
	}
	return outcome
}

// startNext pops the head of the queue and runs it. Must be called
// with sq.mu held.
func (sq *sessionQueue[Req, Res]) startNext() {
	if len(sq.queue) == 0 {
		return
	}
	p := sq.queue[0]
	sq.queue = sq.queue[1:]
	sq.active = true

	go func() {
		result, err := sq.runFn(p.ctx, p.req)
		p.resultCh <- Outcome[Res]{Result: result, Err: err}
		close(p.resultCh)

		sq.mu.Lock()
		sq.active = false
		if len(sq.queue) > 0 {
			sq.startNext()
		}
		sq.mu.Unlock()
	}()
}

// Scheduler owns one queue per session key.
type Scheduler[Req, Res any] struct {
	mu     sync.Mutex
	queues map[string]*sessionQueue[Req, Res]
	config Config
	runFn  RunFunc[Req, Res]
}

func New[Req, Res any](cfg Config, runFn RunFunc[Req, Res]) *Scheduler[Req, Res] {
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultConfig().Cap
	}
	if cfg.Drop == "" {
		cfg.Drop = DropOld
	}
	return &Scheduler[Req, Res]{
		queues: make(map[string]*sessionQueue[Req, Res]),
		config: cfg,
		runFn:  runFn,
	}
}

// Enqueue schedules a run for the session key and returns a channel
// that receives the outcome when the run completes.
func (s *Scheduler[Req, Res]) Enqueue(ctx context.Context, sessionKey string, req Req) <-chan Outcome[Res] {
	s.mu.Lock()
	sq, ok := s.queues[sessionKey]
	if !ok {
		sq = &sessionQueue[Req, Res]{key: sessionKey, config: s.config, runFn: s.runFn}
		s.queues[sessionKey] = sq
	}
	s.mu.Unlock()

	return sq.enqueue(ctx, req)
}

// QueueDepth returns the number of waiting (not running) questions for
// a session key.
func (s *Scheduler[Req, Res]) QueueDepth(sessionKey string) int {
	s.mu.Lock()
	sq, ok := s.queues[sessionKey]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return len(sq.queue)
}
