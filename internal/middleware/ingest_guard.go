package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/internal/service/ratelimit"
)

// Sink is the downstream the guard feeds (the engine, or a publisher in
// relay deployments).
type Sink interface {
	Submit(bar *models.Bar) error
}

// IngestGuard sits between the bar source and the engine. It validates bars,
// throttles per symbol with a token bucket, and buffers when downstream
// submission fails, retrying with capped backoff.
type IngestGuard struct {
	sink    Sink
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter

	maxRPS  int
	bufSize int
	bufCh   chan *models.Bar
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// GuardOption configures IngestGuard.
type GuardOption func(*IngestGuard)

// WithMaxRPS caps accepted bars per second per symbol.
func WithMaxRPS(n int) GuardOption {
	return func(g *IngestGuard) {
		if n > 0 {
			g.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer capacity.
func WithBufferSize(n int) GuardOption {
	return func(g *IngestGuard) {
		if n > 0 {
			g.bufSize = n
		}
	}
}

// NewIngestGuard creates a guard with a 50 RPS per-symbol throttle and a
// 2000-bar retry buffer.
func NewIngestGuard(sink Sink, metrics domrepo.Metrics, opts ...GuardOption) *IngestGuard {
	g := &IngestGuard{
		sink:    sink,
		metrics: metrics,
		limiter: ratelimit.New(),
		maxRPS:  50,
		bufSize: 2000,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.bufCh = make(chan *models.Bar, g.bufSize)
	return g
}

// Start launches background retry of buffered bars.
func (g *IngestGuard) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.stopCh:
				return
			case bar := <-g.bufCh:
				if bar == nil {
					continue
				}
				if err := g.sink.Submit(bar); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					g.recordError("ingest_retry")
					if !g.pause(ctx, backoff) {
						return
					}
					select {
					case g.bufCh <- bar:
					default:
						g.recordError("ingest_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// pause sleeps for the backoff unless the guard is stopping. It returns
// false when the retry loop should exit instead of continuing.
func (g *IngestGuard) pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-g.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// Stop terminates the retry loop and waits for it to exit, so nothing is
// handed downstream after Stop returns.
func (g *IngestGuard) Stop() {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return
	}
	g.started = false
	g.mu.Unlock()
	close(g.stopCh)
	g.wg.Wait()
}

// Accept validates and throttles one bar, then hands it downstream. A failed
// handoff buffers the bar for retry instead of returning it to the source.
func (g *IngestGuard) Accept(_ context.Context, bar *models.Bar) error {
	if err := validateBar(bar); err != nil {
		g.recordError("ingest_validate")
		return err
	}
	if !g.limiter.Allow(bar.Symbol, float64(g.maxRPS), float64(g.maxRPS)) {
		// throttled; drop silently
		g.recordError("ingest_throttle")
		return nil
	}

	if err := g.sink.Submit(bar); err != nil {
		select {
		case g.bufCh <- bar:
		default:
			g.recordError("ingest_buffer_full")
		}
		return fmt.Errorf("ingest downstream: %w", err)
	}
	return nil
}

func (g *IngestGuard) recordError(kind string) {
	if g.metrics != nil {
		g.metrics.RecordError(kind)
	}
}

func validateBar(b *models.Bar) error {
	if b == nil {
		return fmt.Errorf("bar nil")
	}
	if b.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if b.Timeframe == "" {
		return fmt.Errorf("timeframe empty")
	}
	if b.Timestamp <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if b.High < b.Low {
		return fmt.Errorf("high below low")
	}
	if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Close < 0 || b.Volume < 0 {
		return fmt.Errorf("negative field")
	}
	return nil
}
