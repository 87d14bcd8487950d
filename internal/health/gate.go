// Package health implements the error-rate circuit breaker that decides
// whether a symbol's pipeline worker is still trustworthy.
package health

import (
	"sync"
	"time"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/pkg/logger"
)

// Gate accumulates an error score: criticals add 2, warnings add 1. The
// status escalates one way (Healthy -> Degraded -> Blocked) and is only
// cleared by the cooldown path in CanProceed.
type Gate struct {
	mu             sync.Mutex
	symbol         string
	blockThreshold float64
	cooldown       time.Duration

	score       float64
	lastErrorAt time.Time
	status      models.HealthStatus

	now     func() time.Time
	log     *logger.Logger
	metrics domrepo.Metrics
}

// Option configures Gate.
type Option func(*Gate)

// WithBlockThreshold sets the score at which the gate blocks.
func WithBlockThreshold(v float64) Option {
	return func(g *Gate) {
		if v > 0 {
			g.blockThreshold = v
		}
	}
}

// WithCooldown sets how long a blocked gate stays closed after the last error.
func WithCooldown(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger attaches a logger for status transitions.
func WithLogger(l *logger.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// WithMetrics mirrors recorded errors into the metrics sink.
func WithMetrics(m domrepo.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// NewGate creates a healthy gate with block threshold 5 and a 10 minute
// cooldown.
func NewGate(symbol string, opts ...Option) *Gate {
	g := &Gate{
		symbol:         symbol,
		blockThreshold: 5,
		cooldown:       10 * time.Minute,
		status:         models.StatusHealthy,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RecordError folds one error into the score and re-derives the status.
func (g *Gate) RecordError(sev models.Severity) {
	g.mu.Lock()
	g.score += float64(sev)
	g.lastErrorAt = g.now()
	prev := g.status
	g.status = g.derive()
	cur := g.status
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordError("health_" + sev.String())
	}
	if cur != prev && g.log != nil {
		g.log.Warn("health status changed",
			logger.String("symbol", g.symbol),
			logger.String("from", string(prev)),
			logger.String("to", string(cur)),
			logger.String("severity", sev.String()),
		)
	}
}

// CanProceed reports whether the worker may run a cycle. A blocked gate
// re-opens only after the cooldown has elapsed since the last error; the
// score then resets to zero and the status returns to healthy.
func (g *Gate) CanProceed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != models.StatusBlocked {
		return true
	}
	if g.now().Sub(g.lastErrorAt) < g.cooldown {
		return false
	}
	g.score = 0
	g.status = models.StatusHealthy
	if g.log != nil {
		g.log.Info("health gate recovered after cooldown",
			logger.String("symbol", g.symbol),
		)
	}
	return true
}

// Status returns a snapshot of the gate.
func (g *Gate) Status() models.HealthState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return models.HealthState{
		Status:      g.status,
		ErrorScore:  g.score,
		LastErrorAt: g.lastErrorAt,
	}
}

func (g *Gate) derive() models.HealthStatus {
	switch {
	case g.score >= g.blockThreshold:
		return models.StatusBlocked
	case g.score >= g.blockThreshold/2:
		return models.StatusDegraded
	default:
		return models.StatusHealthy
	}
}
