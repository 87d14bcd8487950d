// Package scheduler picks the execution path for each inference cycle from
// cache validity, health state, and recent end-to-end latency.
package scheduler

import (
	"sort"
	"strings"
	"sync"
	"time"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/internal/health"
	"BarPulse/pkg/logger"
)

// Scheduler is the per-symbol path state machine.
//
// Transitions:
//
//	fast -> slow        stale cache or degraded health
//	slow -> fast        cache valid and healthy
//	any  -> emergency   blocked health or rolling mean latency over critical
//	emergency -> slow   health recovered and rolling mean under warn
type Scheduler struct {
	mu     sync.Mutex
	symbol string
	gate   *health.Gate

	warn     time.Duration
	critical time.Duration

	window []time.Duration
	next   int
	filled int

	stale map[string]string // column -> reason
	path  models.ExecutionPath

	now          func() time.Time
	log          *logger.Logger
	audit        *logger.Audit
	metrics      domrepo.Metrics
	onTransition func(models.TransitionRow)
}

// Option configures Scheduler.
type Option func(*Scheduler)

// WithThresholds sets the warn/critical rolling-mean latency thresholds.
func WithThresholds(warn, critical time.Duration) Option {
	return func(s *Scheduler) {
		if warn > 0 && critical > warn {
			s.warn = warn
			s.critical = critical
		}
	}
}

// WithWindow sets how many end-to-end latencies feed the rolling mean.
func WithWindow(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.window = make([]time.Duration, n)
		}
	}
}

// WithLogger attaches a logger for transition logging.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithAudit appends every transition to the audit trail.
func WithAudit(a *logger.Audit) Option {
	return func(s *Scheduler) { s.audit = a }
}

// WithMetrics counts path selections.
func WithMetrics(m domrepo.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTransitionHook forwards transitions to a sink (e.g. snapshot flusher).
func WithTransitionHook(fn func(models.TransitionRow)) Option {
	return func(s *Scheduler) { s.onTransition = fn }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler starting on the fast path with a 10-call latency
// window and 50ms/200ms thresholds.
func New(symbol string, gate *health.Gate, opts ...Option) *Scheduler {
	s := &Scheduler{
		symbol:   symbol,
		gate:     gate,
		warn:     50 * time.Millisecond,
		critical: 200 * time.Millisecond,
		window:   make([]time.Duration, 10),
		stale:    make(map[string]string),
		path:     models.PathFast,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkStale invalidates one feature column's cached state.
func (s *Scheduler) MarkStale(column, reason string) {
	s.mu.Lock()
	s.stale[column] = reason
	s.mu.Unlock()
}

// StaleColumns lists the currently invalidated columns, sorted.
func (s *Scheduler) StaleColumns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols := make([]string, 0, len(s.stale))
	for c := range s.stale {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// ClearStale marks the cache repaired after a full recompute.
func (s *Scheduler) ClearStale() {
	s.mu.Lock()
	s.stale = make(map[string]string)
	s.mu.Unlock()
}

// ObserveLatency feeds one end-to-end cycle latency into the rolling window.
func (s *Scheduler) ObserveLatency(d time.Duration) {
	s.mu.Lock()
	s.window[s.next] = d
	s.next = (s.next + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}
	s.mu.Unlock()
}

// RollingMean returns the mean of the observed latency window.
func (s *Scheduler) RollingMean() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollingMeanLocked()
}

func (s *Scheduler) rollingMeanLocked() time.Duration {
	if s.filled == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < s.filled; i++ {
		sum += s.window[i]
	}
	return sum / time.Duration(s.filled)
}

// Path returns the current path without re-evaluating transitions.
func (s *Scheduler) Path() models.ExecutionPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Decide re-evaluates the state machine for the next cycle and returns the
// path to run. Every transition is logged with its triggering reason.
func (s *Scheduler) Decide() models.ExecutionPath {
	// CanProceed first: it is the only call that can clear a blocked gate
	// after its cooldown.
	s.gate.CanProceed()
	st := s.gate.Status()

	s.mu.Lock()
	mean := s.rollingMeanLocked()
	prev := s.path
	next := prev
	reason := ""

	blocked := st.Status == models.StatusBlocked
	overCritical := mean > s.critical

	switch prev {
	case models.PathFast:
		switch {
		case blocked:
			next, reason = models.PathEmergency, "health blocked"
		case overCritical:
			next, reason = models.PathEmergency, "rolling mean over critical threshold"
		case len(s.stale) > 0:
			next, reason = models.PathSlow, "stale cache: "+s.staleSummaryLocked()
		case st.Status == models.StatusDegraded:
			next, reason = models.PathSlow, "health degraded"
		}
	case models.PathSlow:
		switch {
		case blocked:
			next, reason = models.PathEmergency, "health blocked"
		case overCritical:
			next, reason = models.PathEmergency, "rolling mean over critical threshold"
		case len(s.stale) == 0 && st.Status == models.StatusHealthy:
			next, reason = models.PathFast, "cache valid and health recovered"
		}
	case models.PathEmergency:
		if !blocked && mean < s.warn {
			next, reason = models.PathSlow, "health recovered and latency under warn threshold"
		}
	}
	s.path = next
	s.mu.Unlock()

	if next != prev {
		s.transition(prev, next, reason)
	}
	if s.metrics != nil {
		s.metrics.RecordPath(s.symbol, string(next))
	}
	return next
}

func (s *Scheduler) staleSummaryLocked() string {
	cols := make([]string, 0, len(s.stale))
	for c := range s.stale {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return strings.Join(cols, ",")
}

func (s *Scheduler) transition(from, to models.ExecutionPath, reason string) {
	at := s.now()
	if s.log != nil {
		s.log.Info("execution path changed",
			logger.String("symbol", s.symbol),
			logger.String("from", string(from)),
			logger.String("to", string(to)),
			logger.String("reason", reason),
		)
	}
	if s.audit != nil {
		s.audit.Append(logger.AuditEntry{
			At:     at,
			Kind:   logger.AuditTransition,
			Symbol: s.symbol,
			From:   string(from),
			To:     string(to),
			Reason: reason,
		})
	}
	if s.onTransition != nil {
		s.onTransition(models.TransitionRow{
			Symbol: s.symbol,
			From:   string(from),
			To:     string(to),
			Reason: reason,
			At:     at,
		})
	}
}
