// Package latency records per-stage pipeline timings with warmup exclusion
// and rolling percentile aggregation.
package latency

import (
	"math"
	"sort"
	"sync"
	"time"

	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/pkg/logger"
)

// Stats is the percentile summary for one stage over its steady-state window.
type Stats struct {
	P50    time.Duration `json:"p50_ns"`
	P95    time.Duration `json:"p95_ns"`
	P99    time.Duration `json:"p99_ns"`
	Max    time.Duration `json:"max_ns"`
	N      int           `json:"n"`
	Warmup bool          `json:"warmup"`
}

// Tracker keeps a bounded rolling history of stage timings. The first
// `warmup` calls per stage include one-time initialization costs (buffer
// allocation, lazy backend compilation) and are kept out of the percentile
// window.
type Tracker struct {
	mu       sync.Mutex
	warmup   int
	histSize int
	stages   map[string]*stageWindow

	log     *logger.Logger
	metrics domrepo.Metrics
}

type stageWindow struct {
	calls uint64 // total recordings, monotonic

	// steady-state ring of the most recent samples after warmup
	hist []time.Duration
	next int
	full bool

	warmupDone bool
}

// Option configures Tracker.
type Option func(*Tracker)

// WithWarmup overrides the per-stage warmup call count.
func WithWarmup(n int) Option {
	return func(t *Tracker) {
		if n >= 0 {
			t.warmup = n
		}
	}
}

// WithHistorySize bounds the steady-state rolling window per stage.
func WithHistorySize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.histSize = n
		}
	}
}

// WithLogger attaches a logger for the warmup-complete transition.
func WithLogger(l *logger.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithMetrics mirrors recordings into the metrics sink.
func WithMetrics(m domrepo.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a tracker with warmup=32 and a 1000-sample window.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		warmup:   32,
		histSize: 1000,
		stages:   make(map[string]*stageWindow),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ScopedTimer records elapsed time for a stage when stopped.
type ScopedTimer struct {
	t     *Tracker
	stage string
	start time.Time
	done  bool
}

// Measure starts a scoped timer for the stage.
func (t *Tracker) Measure(stage string) *ScopedTimer {
	return &ScopedTimer{t: t, stage: stage, start: time.Now()}
}

// Stop records the elapsed time once; later calls are no-ops.
func (s *ScopedTimer) Stop() time.Duration {
	elapsed := time.Since(s.start)
	if !s.done {
		s.done = true
		s.t.Record(s.stage, elapsed)
	}
	return elapsed
}

// Record adds one timing for a stage.
func (t *Tracker) Record(stage string, elapsed time.Duration) {
	t.mu.Lock()
	w := t.stages[stage]
	if w == nil {
		w = &stageWindow{hist: make([]time.Duration, t.histSize)}
		t.stages[stage] = w
	}
	w.calls++
	inWarmup := w.calls <= uint64(t.warmup)
	if !inWarmup {
		if !w.warmupDone {
			w.warmupDone = true
			if t.log != nil {
				t.log.Info("warmup complete",
					logger.String("stage", stage),
					logger.Int("warmup_calls", t.warmup),
				)
			}
		}
		w.hist[w.next] = elapsed
		w.next++
		if w.next == len(w.hist) {
			w.next = 0
			w.full = true
		}
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordStageLatency(stage, elapsed.Seconds())
	}
}

// Calls returns how many timings have been recorded for a stage.
func (t *Tracker) Calls(stage string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w := t.stages[stage]; w != nil {
		return w.calls
	}
	return 0
}

// InWarmup reports whether a stage has not yet passed its warmup calls.
func (t *Tracker) InWarmup(stage string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.stages[stage]
	return w == nil || w.calls <= uint64(t.warmup)
}

// Percentiles summarizes the steady-state window for a stage. During warmup
// it returns zero stats with Warmup set.
func (t *Tracker) Percentiles(stage string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.stages[stage]
	if w == nil {
		return Stats{Warmup: true}
	}
	n := w.next
	if w.full {
		n = len(w.hist)
	}
	if n == 0 {
		return Stats{Warmup: !w.warmupDone}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, w.hist[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return Stats{
		P50: nearestRank(sorted, 0.50),
		P95: nearestRank(sorted, 0.95),
		P99: nearestRank(sorted, 0.99),
		Max: sorted[n-1],
		N:   n,
	}
}

// MeetsSLO compares the rolling p95 against a budget. It is unconditionally
// true while the stage is still warming up: no SLO is judged yet.
func (t *Tracker) MeetsSLO(stage string, p95Budget time.Duration) bool {
	if t.InWarmup(stage) {
		return true
	}
	st := t.Percentiles(stage)
	if st.N == 0 {
		return true
	}
	return st.P95 <= p95Budget
}

func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(float64(len(sorted))*q)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
