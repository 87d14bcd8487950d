package usecase

import (
	"context"
	"sync"
	"time"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/pkg/logger"
)

// SnapshotFlusher batches latency rows and path transitions into the columnar
// store on a fixed interval, and captures ring cursors from every pipeline on
// each tick. Enqueueing never blocks: when a buffer is full the row is
// dropped and counted, keeping the hot path isolated from storage stalls.
type SnapshotFlusher struct {
	store    domrepo.SnapshotStore
	interval time.Duration

	latencies   chan models.LatencyRow
	transitions chan models.TransitionRow

	mu        sync.RWMutex
	pipelines []*SymbolPipeline

	log     *logger.Logger
	metrics domrepo.Metrics

	stop chan struct{}
	done chan struct{}
}

// FlusherOption configures SnapshotFlusher.
type FlusherOption func(*SnapshotFlusher)

// WithFlushInterval overrides the flush cadence.
func WithFlushInterval(d time.Duration) FlusherOption {
	return func(f *SnapshotFlusher) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithFlusherBuffer sizes the enqueue channels.
func WithFlusherBuffer(n int) FlusherOption {
	return func(f *SnapshotFlusher) {
		if n > 0 {
			f.latencies = make(chan models.LatencyRow, n)
			f.transitions = make(chan models.TransitionRow, n)
		}
	}
}

// WithFlusherLogger attaches a logger.
func WithFlusherLogger(l *logger.Logger) FlusherOption {
	return func(f *SnapshotFlusher) { f.log = l }
}

// WithFlusherMetrics counts dropped rows and flush failures.
func WithFlusherMetrics(m domrepo.Metrics) FlusherOption {
	return func(f *SnapshotFlusher) { f.metrics = m }
}

// NewSnapshotFlusher creates a flusher with a 30s interval and 4096-row
// buffers. Call Start to begin flushing.
func NewSnapshotFlusher(store domrepo.SnapshotStore, opts ...FlusherOption) *SnapshotFlusher {
	f := &SnapshotFlusher{
		store:       store,
		interval:    30 * time.Second,
		latencies:   make(chan models.LatencyRow, 4096),
		transitions: make(chan models.TransitionRow, 4096),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds a pipeline whose ring cursors are captured on every tick.
func (f *SnapshotFlusher) Register(p *SymbolPipeline) {
	f.mu.Lock()
	f.pipelines = append(f.pipelines, p)
	f.mu.Unlock()
}

// EnqueueLatency queues one latency row, dropping it when the buffer is full.
func (f *SnapshotFlusher) EnqueueLatency(row models.LatencyRow) {
	select {
	case f.latencies <- row:
	default:
		f.recordDrop()
	}
}

// EnqueueTransition queues one transition row, dropping it when full.
func (f *SnapshotFlusher) EnqueueTransition(row models.TransitionRow) {
	select {
	case f.transitions <- row:
	default:
		f.recordDrop()
	}
}

// Start runs the flush loop until Stop is called.
func (f *SnapshotFlusher) Start(ctx context.Context) {
	go f.run(ctx)
}

func (f *SnapshotFlusher) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.flush(context.Background())
			return
		case <-f.stop:
			f.flush(context.Background())
			return
		case <-ticker.C:
			f.flush(ctx)
		}
	}
}

// Stop flushes pending rows and terminates the loop.
func (f *SnapshotFlusher) Stop() {
	close(f.stop)
	<-f.done
}

func (f *SnapshotFlusher) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if rows := drainLatencies(f.latencies); len(rows) > 0 {
		if err := f.store.StoreLatencies(fctx, rows); err != nil {
			f.flushFailed("latencies", len(rows), err)
		}
	}
	if rows := drainTransitions(f.transitions); len(rows) > 0 {
		if err := f.store.StoreTransitions(fctx, rows); err != nil {
			f.flushFailed("transitions", len(rows), err)
		}
	}

	f.mu.RLock()
	pipelines := f.pipelines
	f.mu.RUnlock()
	if len(pipelines) == 0 {
		return
	}
	var rings []models.RingSnapshotRow
	for _, p := range pipelines {
		rings = append(rings, p.RingSnapshotRows()...)
	}
	if err := f.store.StoreRingSnapshots(fctx, rings); err != nil {
		f.flushFailed("ring_snapshots", len(rings), err)
	}
}

func (f *SnapshotFlusher) flushFailed(kind string, n int, err error) {
	if f.metrics != nil {
		f.metrics.RecordError("snapshot_flush")
	}
	if f.log != nil {
		f.log.Error("snapshot flush failed",
			logger.String("kind", kind),
			logger.Int("rows", n),
			logger.Error(err),
		)
	}
}

func (f *SnapshotFlusher) recordDrop() {
	if f.metrics != nil {
		f.metrics.RecordError("snapshot_drop")
	}
}

func drainLatencies(ch chan models.LatencyRow) []models.LatencyRow {
	var rows []models.LatencyRow
	for {
		select {
		case r := <-ch:
			rows = append(rows, r)
		default:
			return rows
		}
	}
}

func drainTransitions(ch chan models.TransitionRow) []models.TransitionRow {
	var rows []models.TransitionRow
	for {
		select {
		case r := <-ch:
			rows = append(rows, r)
		default:
			return rows
		}
	}
}
