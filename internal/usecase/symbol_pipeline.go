package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/internal/features"
	"BarPulse/internal/health"
	"BarPulse/internal/latency"
	"BarPulse/internal/ring"
	"BarPulse/internal/scheduler"
	"BarPulse/pkg/logger"
)

// Pipeline stage identifiers used for latency tracking.
const (
	StageIngest    = "ingest"
	StageFeatures  = "features"
	StageInference = "inference"
	StageTotal     = "pipeline_total"
)

// SymbolPipeline runs the full ingest -> features -> inference cycle for one
// symbol. One worker goroutine drives Process; the feature accumulators and
// value cache are touched only by that worker. The ring stores and the last
// served prediction are also read by the snapshot flusher and the status API,
// so those go through statusMu.
type SymbolPipeline struct {
	symbol   string
	registry *features.Registry

	// statusMu guards rings and lastPred against concurrent status reads.
	statusMu sync.Mutex
	rings    map[string]*ring.Store

	states map[string]features.State // committed accumulators by column
	values map[string]float32        // committed feature values by column

	sched   *scheduler.Scheduler
	gate    *health.Gate
	tracker *latency.Tracker

	inferencer domrepo.Inferencer
	publisher  domrepo.PredictionPublisher
	predCache  domrepo.PredictionCache
	flusher    *SnapshotFlusher

	inferTimeout time.Duration
	p95Budget    time.Duration
	sloBreaching bool

	log     *logger.Logger
	audit   *logger.Audit
	metrics domrepo.Metrics

	calls    uint64
	lastPred *models.Prediction
}

// PipelineOption configures SymbolPipeline.
type PipelineOption func(*SymbolPipeline)

// WithPublisher pushes finished predictions downstream.
func WithPublisher(p domrepo.PredictionPublisher) PipelineOption {
	return func(sp *SymbolPipeline) { sp.publisher = p }
}

// WithPredictionCache keeps the last good prediction for emergency serving.
func WithPredictionCache(c domrepo.PredictionCache) PipelineOption {
	return func(sp *SymbolPipeline) { sp.predCache = c }
}

// WithFlusher wires the fire-and-forget snapshot sink.
func WithFlusher(f *SnapshotFlusher) PipelineOption {
	return func(sp *SymbolPipeline) { sp.flusher = f }
}

// WithInferTimeout bounds the external model call.
func WithInferTimeout(d time.Duration) PipelineOption {
	return func(sp *SymbolPipeline) {
		if d > 0 {
			sp.inferTimeout = d
		}
	}
}

// WithP95Budget sets the end-to-end latency SLO budget.
func WithP95Budget(d time.Duration) PipelineOption {
	return func(sp *SymbolPipeline) {
		if d > 0 {
			sp.p95Budget = d
		}
	}
}

// WithPipelineLogger attaches a logger.
func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(sp *SymbolPipeline) { sp.log = l }
}

// WithPipelineAudit appends wrap and SLO events to the audit trail.
func WithPipelineAudit(a *logger.Audit) PipelineOption {
	return func(sp *SymbolPipeline) { sp.audit = a }
}

// WithPipelineMetrics attaches the metrics sink.
func WithPipelineMetrics(m domrepo.Metrics) PipelineOption {
	return func(sp *SymbolPipeline) { sp.metrics = m }
}

// NewSymbolPipeline builds the per-symbol pipeline with one ring store per
// registered timeframe. All feature columns start stale so the first cycles
// run the full-recompute path until accumulators exist.
func NewSymbolPipeline(
	symbol string,
	registry *features.Registry,
	gate *health.Gate,
	sched *scheduler.Scheduler,
	tracker *latency.Tracker,
	inferencer domrepo.Inferencer,
	opts ...PipelineOption,
) (*SymbolPipeline, error) {
	sp := &SymbolPipeline{
		symbol:       symbol,
		registry:     registry,
		rings:        make(map[string]*ring.Store),
		states:       make(map[string]features.State),
		values:       make(map[string]float32),
		sched:        sched,
		gate:         gate,
		tracker:      tracker,
		inferencer:   inferencer,
		inferTimeout: 150 * time.Millisecond,
		p95Budget:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(sp)
	}

	for _, tf := range registry.Timeframes() {
		capacity := domrepo.RingCapacity(domrepo.Timeframe(tf))
		if capacity == 0 {
			return nil, fmt.Errorf("pipeline %s: unsupported timeframe %s", symbol, tf)
		}
		rs, err := ring.NewStore(symbol, tf, capacity)
		if err != nil {
			return nil, err
		}
		sp.rings[tf] = rs
		for _, f := range registry.Set(tf).Features() {
			sp.sched.MarkStale(features.ColumnName(tf, f.Name()), "uninitialized")
		}
	}
	return sp, nil
}

// Symbol returns the owning symbol.
func (p *SymbolPipeline) Symbol() string { return p.symbol }

// Process ingests one bar and returns the prediction for this cycle. Sample
// level errors (out-of-order, unknown timeframe) are returned to the caller
// for counting but never crash the worker.
func (p *SymbolPipeline) Process(ctx context.Context, bar *models.Bar) (*models.Prediction, error) {
	p.calls++
	total := p.tracker.Measure(StageTotal)
	defer func() {
		elapsed := total.Stop()
		p.sched.ObserveLatency(elapsed)
		p.enqueueLatency(StageTotal, elapsed)
		p.checkSLO()
	}()

	if err := p.append(bar); err != nil {
		return nil, err
	}

	path := p.sched.Decide()

	ft := p.tracker.Measure(StageFeatures)
	var computeErr error
	switch path {
	case models.PathFast:
		computeErr = p.advanceTimeframe(*bar)
	case models.PathSlow:
		computeErr = p.recomputeAll()
	case models.PathEmergency:
		// No state advance: every incremental column is stale until the
		// next full recompute.
		p.markAllStale("emergency cycle skipped state advance")
	}
	ft.Stop()

	if computeErr != nil {
		p.gate.RecordError(models.SeverityWarning)
		p.recordError("feature_compute")
		if p.log != nil {
			p.log.Error("feature computation failed", logger.String("symbol", p.symbol), logger.Error(computeErr))
		}
		return p.servePrediction(ctx, p.emergencyPrediction(ctx, bar)), nil
	}

	if path == models.PathEmergency {
		return p.servePrediction(ctx, p.emergencyPrediction(ctx, bar)), nil
	}

	fv := p.vector(bar.Timestamp, p.registry.Columns())
	pred, err := p.infer(ctx, fv)
	if err != nil {
		return p.servePrediction(ctx, p.emergencyPrediction(ctx, bar)), nil
	}
	pred.Path = path
	return p.servePrediction(ctx, pred), nil
}

func (p *SymbolPipeline) append(bar *models.Bar) error {
	st := p.tracker.Measure(StageIngest)
	defer st.Stop()

	rs := p.rings[bar.Timeframe]
	if rs == nil {
		p.recordError("unknown_timeframe")
		return fmt.Errorf("pipeline %s: unknown timeframe %q", p.symbol, bar.Timeframe)
	}
	p.statusMu.Lock()
	out, err := rs.Append(*bar)
	p.statusMu.Unlock()
	if err != nil {
		if errors.Is(err, models.ErrOutOfOrderBar) {
			p.recordError("out_of_order")
			p.gate.RecordError(models.SeverityWarning)
		}
		return err
	}
	if out.Event != nil {
		p.handleWrap(rs, out.Event)
	}
	return nil
}

func (p *SymbolPipeline) handleWrap(rs *ring.Store, ev *models.WrapEvent) {
	if p.metrics != nil {
		p.metrics.RecordWrap(ev.Timeframe)
	}
	if p.log != nil {
		p.log.Info("ring wrapped",
			logger.String("symbol", p.symbol),
			logger.String("timeframe", ev.Timeframe),
			logger.Uint64("wrap_count", ev.WrapCount),
		)
	}
	if p.audit != nil {
		p.audit.Append(logger.AuditEntry{
			Kind:   logger.AuditWrap,
			Symbol: p.symbol,
			Stage:  ev.Timeframe,
			Reason: fmt.Sprintf("wrap %d", ev.WrapCount),
		})
	}
	for _, col := range p.registry.WrapStale(ev.Timeframe, rs.Capacity()) {
		p.sched.MarkStale(col, "ring wrap")
	}
}

// advanceTimeframe is the fast path: O(1) advance of every incremental
// feature on the arriving bar's timeframe. New states are staged and only
// committed when every feature succeeded, so a mid-cycle failure leaves all
// accumulators on their previous bar.
func (p *SymbolPipeline) advanceTimeframe(bar models.Bar) error {
	set := p.registry.Set(bar.Timeframe)
	if set == nil {
		return nil
	}
	rs := p.rings[bar.Timeframe]

	stagedStates := make(map[string]features.State)
	stagedValues := make(map[string]float32)

	for _, f := range set.Features() {
		col := features.ColumnName(bar.Timeframe, f.Name())
		if !f.SupportsIncremental() {
			v, err := p.computeWindowed(rs, f)
			if err != nil {
				if errors.Is(err, models.ErrInsufficientHistory) {
					continue
				}
				return err
			}
			stagedValues[col] = v
			continue
		}

		inc := f.(features.Incremental)
		st, ok := p.states[col]
		if !ok {
			// First value for this column: build the accumulator from
			// the available window (the new bar is already in the ring).
			n := p.windowLen(rs, f)
			w, err := rs.Window(n)
			if err != nil {
				continue
			}
			newState, v, err := inc.Init(w)
			if err != nil {
				if errors.Is(err, models.ErrInsufficientHistory) {
					continue
				}
				return err
			}
			stagedStates[col] = newState
			stagedValues[col] = v
			continue
		}

		v, newState, err := inc.Advance(st, bar)
		if err != nil {
			return err
		}
		stagedStates[col] = newState
		stagedValues[col] = v
	}

	for col, st := range stagedStates {
		p.states[col] = st
	}
	for col, v := range stagedValues {
		p.values[col] = v
	}
	return nil
}

// recomputeAll is the slow path: every registered feature on every timeframe
// is rebuilt from its retained window, then the cache is marked repaired.
func (p *SymbolPipeline) recomputeAll() error {
	stagedStates := make(map[string]features.State)
	stagedValues := make(map[string]float32)

	for _, tf := range p.registry.Timeframes() {
		rs := p.rings[tf]
		for _, f := range p.registry.Set(tf).Features() {
			col := features.ColumnName(tf, f.Name())
			n := p.windowLen(rs, f)
			w, err := rs.Window(n)
			if err != nil {
				continue // not enough history yet
			}
			if inc, ok := f.(features.Incremental); ok {
				newState, v, err := inc.Init(w)
				if err != nil {
					if errors.Is(err, models.ErrInsufficientHistory) {
						continue
					}
					return err
				}
				stagedStates[col] = newState
				stagedValues[col] = v
				continue
			}
			v, err := f.Compute(w)
			if err != nil {
				if errors.Is(err, models.ErrInsufficientHistory) {
					continue
				}
				return err
			}
			stagedValues[col] = v
		}
	}

	for col, st := range stagedStates {
		p.states[col] = st
	}
	for col, v := range stagedValues {
		p.values[col] = v
	}
	p.sched.ClearStale()
	return nil
}

// windowLen picks how many bars a feature needs from the ring: cumulative
// accumulators consume everything retained, bounded features their lookback.
func (p *SymbolPipeline) windowLen(rs *ring.Store, f features.Feature) int {
	if features.IsCumulative(f) {
		return rs.Len()
	}
	return f.Lookback()
}

func (p *SymbolPipeline) computeWindowed(rs *ring.Store, f features.Feature) (float32, error) {
	w, err := rs.Window(p.windowLen(rs, f))
	if err != nil {
		return 0, err
	}
	return f.Compute(w)
}

func (p *SymbolPipeline) markAllStale(reason string) {
	for _, tf := range p.registry.Timeframes() {
		for _, f := range p.registry.Set(tf).Features() {
			if f.SupportsIncremental() {
				p.sched.MarkStale(features.ColumnName(tf, f.Name()), reason)
			}
		}
	}
}

// vector assembles the ordered feature vector over the requested columns,
// skipping columns that have not produced a value yet.
func (p *SymbolPipeline) vector(ts int64, cols []string) *models.FeatureVector {
	fv := &models.FeatureVector{
		Symbol:       p.symbol,
		Timestamp:    ts,
		ContractHash: p.registry.ContractHash(),
	}
	for _, col := range cols {
		if v, ok := p.values[col]; ok {
			fv.Columns = append(fv.Columns, col)
			fv.Values = append(fv.Values, v)
		}
	}
	return fv
}

func (p *SymbolPipeline) infer(ctx context.Context, fv *models.FeatureVector) (*models.Prediction, error) {
	st := p.tracker.Measure(StageInference)
	defer func() { p.enqueueLatency(StageInference, st.Stop()) }()

	ictx, cancel := context.WithTimeout(ctx, p.inferTimeout)
	defer cancel()

	pred, err := p.inferencer.Infer(ictx, fv)
	if err == nil {
		return pred, nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, models.ErrInferenceTimeout) {
		// Abandoned, not retried: the next natural bar is the retry.
		p.gate.RecordError(models.SeverityCritical)
		p.recordError("inference_timeout")
	} else {
		p.gate.RecordError(models.SeverityWarning)
		p.recordError("inference")
	}
	if p.log != nil {
		p.log.Error("inference call failed", logger.String("symbol", p.symbol), logger.Error(err))
	}
	return nil, err
}

// emergencyPrediction serves the reduced-fidelity fallback: the last good
// prediction when one exists (locally or in the shared cache), otherwise a
// zero-confidence value built from the emergency feature subset.
func (p *SymbolPipeline) emergencyPrediction(ctx context.Context, bar *models.Bar) *models.Prediction {
	p.statusMu.Lock()
	base := p.lastPred
	p.statusMu.Unlock()
	if base == nil && p.predCache != nil {
		if cached, err := p.predCache.Latest(ctx, p.symbol); err == nil && cached != nil {
			base = cached
		}
	}

	pred := &models.Prediction{
		Symbol:       p.symbol,
		Timestamp:    bar.Timestamp,
		Path:         models.PathEmergency,
		Degraded:     true,
		ContractHash: p.registry.ContractHash(),
	}
	if base != nil {
		pred.Value = base.Value
		pred.Confidence = base.Confidence / 2
		pred.Model = base.Model
		return pred
	}
	// No history at all: fall back to the emergency subset's mean column.
	fv := p.vector(bar.Timestamp, p.registry.Emergency())
	if v, ok := fv.Get(features.ColumnName(string(domrepo.DefaultTimeframe()), "welford_mean")); ok {
		pred.Value = v
	}
	return pred
}

// servePrediction records, caches, and publishes the cycle result without
// ever blocking the caller on a collaborator.
func (p *SymbolPipeline) servePrediction(ctx context.Context, pred *models.Prediction) *models.Prediction {
	if pred == nil {
		return nil
	}
	if !pred.Degraded {
		p.statusMu.Lock()
		p.lastPred = pred
		p.statusMu.Unlock()
	}
	if p.metrics != nil {
		p.metrics.RecordPrediction(p.symbol, float64(pred.Value))
	}

	cp := *pred
	if p.predCache != nil && !pred.Degraded {
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := p.predCache.Put(cctx, &cp); err != nil {
				p.recordError("prediction_cache")
			}
		}()
	}
	if p.publisher != nil {
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.publisher.Publish(pctx, &cp); err != nil {
				p.recordError("prediction_publish")
			}
		}()
	}
	return pred
}

func (p *SymbolPipeline) checkSLO() {
	meets := p.tracker.MeetsSLO(StageTotal, p.p95Budget)
	if meets {
		p.sloBreaching = false
		return
	}
	if p.metrics != nil {
		p.metrics.RecordSLOBreach(StageTotal)
	}
	if !p.sloBreaching {
		p.sloBreaching = true
		stats := p.tracker.Percentiles(StageTotal)
		if p.log != nil {
			p.log.Warn("latency budget breached",
				logger.String("symbol", p.symbol),
				logger.String("stage", StageTotal),
				logger.Duration("p95", stats.P95),
				logger.Duration("budget", p.p95Budget),
			)
		}
		if p.audit != nil {
			p.audit.Append(logger.AuditEntry{
				Kind:   logger.AuditSLOBreach,
				Symbol: p.symbol,
				Stage:  StageTotal,
				Reason: fmt.Sprintf("p95 %s over budget %s", stats.P95, p.p95Budget),
			})
		}
	}
}

func (p *SymbolPipeline) enqueueLatency(stage string, elapsed time.Duration) {
	if p.flusher == nil {
		return
	}
	p.flusher.EnqueueLatency(models.LatencyRow{
		Symbol:    p.symbol,
		Stage:     stage,
		ElapsedNs: elapsed.Nanoseconds(),
		CallIndex: p.calls,
		At:        time.Now(),
	})
}

func (p *SymbolPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

// --- status accessors for the API and the snapshot flusher ---

// Health returns the gate snapshot.
func (p *SymbolPipeline) Health() models.HealthState { return p.gate.Status() }

// Path returns the current execution path.
func (p *SymbolPipeline) Path() models.ExecutionPath { return p.sched.Path() }

// LatencyStats returns steady-state percentiles for a stage.
func (p *SymbolPipeline) LatencyStats(stage string) latency.Stats {
	return p.tracker.Percentiles(stage)
}

// LastPrediction returns the most recent non-degraded prediction.
func (p *SymbolPipeline) LastPrediction() *models.Prediction {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.lastPred
}

// RingSnapshotRows captures per-timeframe cursor state for persistence.
func (p *SymbolPipeline) RingSnapshotRows() []models.RingSnapshotRow {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	now := time.Now()
	rows := make([]models.RingSnapshotRow, 0, len(p.rings))
	for tf, rs := range p.rings {
		row := models.RingSnapshotRow{
			Symbol:     p.symbol,
			Timeframe:  tf,
			WriteIndex: rs.WriteIndex(),
			WrapCount:  rs.WrapCount(),
			OldestTime: rs.OldestTime(),
			NewestTime: rs.NewestTime(),
			At:         now,
		}
		if rs.Len() > 0 {
			if v, err := rs.Recent(1); err == nil {
				row.LastClose = v.At(0).Close
			}
		}
		rows = append(rows, row)
	}
	return rows
}
