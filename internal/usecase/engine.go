package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/pkg/logger"
)

// PipelineFactory builds a fully wired pipeline for a symbol. The engine
// calls it once per symbol, on first sight.
type PipelineFactory func(symbol string) (*SymbolPipeline, error)

// Engine fans incoming bars out to per-symbol pipeline workers. Each symbol
// gets one worker goroutine and a bounded queue, so bars for a symbol are
// processed strictly in arrival order while symbols never block each other.
type Engine struct {
	mu      sync.RWMutex
	workers map[string]*symbolWorker

	factory    PipelineFactory
	bufferSize int

	log     *logger.Logger
	metrics domrepo.Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type symbolWorker struct {
	pipeline *SymbolPipeline
	in       chan *models.Bar
}

// EngineOption configures Engine.
type EngineOption func(*Engine)

// WithEngineBuffer sizes each symbol's bar queue.
func WithEngineBuffer(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

// WithEngineLogger attaches a logger.
func WithEngineLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithEngineMetrics counts dropped and rejected bars.
func WithEngineMetrics(m domrepo.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine that builds pipelines through factory.
func NewEngine(factory PipelineFactory, opts ...EngineOption) *Engine {
	e := &Engine{
		workers:    make(map[string]*symbolWorker),
		factory:    factory,
		bufferSize: 256,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start makes the engine accept bars. Workers are spawned lazily per symbol.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.started = true
}

// Stop drains and terminates every symbol worker.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.cancel()
	for _, w := range e.workers {
		close(w.in)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Submit routes one bar to its symbol's worker. Bars with an unsupported
// timeframe are rejected, as is any bar arriving before Start or after
// Stop; a full queue drops the bar rather than blocking the upstream
// reader.
func (e *Engine) Submit(bar *models.Bar) error {
	if bar == nil || bar.Symbol == "" {
		return fmt.Errorf("engine: bar without symbol")
	}
	if !domrepo.IsValidTimeframe(domrepo.Timeframe(bar.Timeframe)) {
		e.recordError("unknown_timeframe")
		return fmt.Errorf("engine: unsupported timeframe %q", bar.Timeframe)
	}

	w, err := e.worker(bar.Symbol)
	if err != nil {
		return err
	}

	// Stop closes worker channels under the write lock, so holding the
	// read lock across the send keeps it off a closed channel.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return fmt.Errorf("engine: not started")
	}
	select {
	case w.in <- bar:
		return nil
	default:
		e.recordError("ingest_overflow")
		if e.log != nil {
			e.log.Warn("bar dropped, queue full", logger.String("symbol", bar.Symbol))
		}
		return fmt.Errorf("engine: queue full for %s", bar.Symbol)
	}
}

func (e *Engine) worker(symbol string) (*symbolWorker, error) {
	e.mu.RLock()
	w := e.workers[symbol]
	started := e.started
	e.mu.RUnlock()
	if !started {
		return nil, fmt.Errorf("engine: not started")
	}
	if w != nil {
		return w, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil, fmt.Errorf("engine: not started")
	}
	if w = e.workers[symbol]; w != nil {
		return w, nil
	}
	p, err := e.factory(symbol)
	if err != nil {
		return nil, fmt.Errorf("engine: build pipeline for %s: %w", symbol, err)
	}
	w = &symbolWorker{pipeline: p, in: make(chan *models.Bar, e.bufferSize)}
	e.workers[symbol] = w

	e.wg.Add(1)
	go e.runWorker(w)
	if e.log != nil {
		e.log.Info("pipeline started", logger.String("symbol", symbol))
	}
	return w, nil
}

func (e *Engine) runWorker(w *symbolWorker) {
	defer e.wg.Done()
	for bar := range w.in {
		if _, err := w.pipeline.Process(e.ctx, bar); err != nil && e.log != nil {
			e.log.Debug("bar rejected",
				logger.String("symbol", bar.Symbol),
				logger.String("timeframe", bar.Timeframe),
				logger.Error(err),
			)
		}
	}
}

// Pipeline returns the pipeline for a symbol, if one exists.
func (e *Engine) Pipeline(symbol string) (*SymbolPipeline, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workers[symbol]
	if !ok {
		return nil, false
	}
	return w.pipeline, true
}

// Symbols lists the symbols with active pipelines.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.workers))
	for s := range e.workers {
		out = append(out, s)
	}
	return out
}

func (e *Engine) recordError(kind string) {
	if e.metrics != nil {
		e.metrics.RecordError(kind)
	}
}

// BarsHandler decodes bar messages from the ingest topic and feeds the
// engine. It satisfies the kafka consumer's MessageHandler contract.
type BarsHandler struct {
	topic  string
	engine *Engine
}

// NewBarsHandler binds the engine to a topic.
func NewBarsHandler(topic string, engine *Engine) *BarsHandler {
	return &BarsHandler{topic: topic, engine: engine}
}

// Topic returns the subscribed topic.
func (h *BarsHandler) Topic() string { return h.topic }

// Handle decodes one bar payload. Malformed payloads are swallowed after
// counting: redelivery cannot fix them.
func (h *BarsHandler) Handle(_ context.Context, payload []byte) error {
	var bar models.Bar
	if err := json.Unmarshal(payload, &bar); err != nil {
		h.engine.recordError("bar_decode")
		return nil
	}
	if err := h.engine.Submit(&bar); err != nil {
		return nil
	}
	return nil
}
