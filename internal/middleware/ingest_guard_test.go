package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"BarPulse/internal/domain/models"
)

type captureSink struct {
	mu   sync.Mutex
	bars []*models.Bar
	err  error
}

func (s *captureSink) Submit(bar *models.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.bars = append(s.bars, bar)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bars)
}

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: make(map[string]int)}
}

func (m *countingMetrics) RecordPath(string, string)          {}
func (m *countingMetrics) RecordWrap(string)                  {}
func (m *countingMetrics) RecordStageLatency(string, float64) {}
func (m *countingMetrics) RecordPrediction(string, float64)   {}
func (m *countingMetrics) RecordSLOBreach(string)             {}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) errCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func validBar() *models.Bar {
	return &models.Bar{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		Timestamp: 60,
		Open:      100,
		High:      101,
		Low:       99,
		Close:     100,
		Volume:    5,
	}
}

func TestAcceptPassesValidBar(t *testing.T) {
	sink := &captureSink{}
	g := NewIngestGuard(sink, newCountingMetrics())

	if err := g.Accept(context.Background(), validBar()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("sink received %d bars, want 1", sink.count())
	}
}

func TestAcceptRejectsMalformedBars(t *testing.T) {
	sink := &captureSink{}
	m := newCountingMetrics()
	g := NewIngestGuard(sink, m)

	cases := []struct {
		name string
		bar  *models.Bar
	}{
		{"nil", nil},
		{"no symbol", &models.Bar{Timeframe: "1m", Timestamp: 60, High: 1, Low: 1}},
		{"no timeframe", &models.Bar{Symbol: "BTCUSDT", Timestamp: 60, High: 1, Low: 1}},
		{"zero timestamp", &models.Bar{Symbol: "BTCUSDT", Timeframe: "1m", High: 1, Low: 1}},
		{"high below low", &models.Bar{Symbol: "BTCUSDT", Timeframe: "1m", Timestamp: 60, High: 1, Low: 2}},
		{"negative volume", &models.Bar{Symbol: "BTCUSDT", Timeframe: "1m", Timestamp: 60, High: 2, Low: 1, Volume: -1}},
	}
	for _, tc := range cases {
		if err := g.Accept(context.Background(), tc.bar); err == nil {
			t.Fatalf("%s: expected a validation error", tc.name)
		}
	}
	if sink.count() != 0 {
		t.Fatalf("invalid bars must not reach the sink")
	}
	if m.errCount("ingest_validate") != len(cases) {
		t.Fatalf("ingest_validate = %d, want %d", m.errCount("ingest_validate"), len(cases))
	}
}

func TestAcceptThrottlesPerSymbol(t *testing.T) {
	sink := &captureSink{}
	m := newCountingMetrics()
	g := NewIngestGuard(sink, m, WithMaxRPS(2))

	for i := 0; i < 5; i++ {
		if err := g.Accept(context.Background(), validBar()); err != nil {
			t.Fatalf("throttled accept must not error, got %v", err)
		}
	}
	if sink.count() != 2 {
		t.Fatalf("sink received %d bars, want 2 (burst capacity)", sink.count())
	}
	if m.errCount("ingest_throttle") != 3 {
		t.Fatalf("ingest_throttle = %d, want 3", m.errCount("ingest_throttle"))
	}

	// Another symbol has its own bucket.
	other := validBar()
	other.Symbol = "ETHUSDT"
	if err := g.Accept(context.Background(), other); err != nil {
		t.Fatalf("accept other symbol: %v", err)
	}
	if sink.count() != 3 {
		t.Fatalf("per-symbol throttle leaked across symbols")
	}
}

func TestAcceptBuffersOnDownstreamFailure(t *testing.T) {
	sink := &captureSink{err: errors.New("queue full")}
	m := newCountingMetrics()
	g := NewIngestGuard(sink, m)

	if err := g.Accept(context.Background(), validBar()); err == nil {
		t.Fatalf("downstream failure must surface")
	}
	if len(g.bufCh) != 1 {
		t.Fatalf("failed bar must be buffered, buffered = %d", len(g.bufCh))
	}

	// Once downstream recovers the retry loop drains the buffer.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	g.Start(context.Background())
	defer g.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("buffered bar never retried")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopWaitsForRetryLoop(t *testing.T) {
	sink := &captureSink{err: errors.New("down")}
	m := newCountingMetrics()
	g := NewIngestGuard(sink, m)

	if err := g.Accept(context.Background(), validBar()); err == nil {
		t.Fatalf("downstream failure must surface")
	}
	g.Start(context.Background())

	// Let the retry loop pick the bar up and enter its backoff wait.
	deadline := time.Now().Add(2 * time.Second)
	for m.errCount("ingest_retry") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("retry loop never attempted the buffered bar")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Stop must cut the backoff short and return only after the loop
	// exited, so nothing reaches the sink afterwards.
	done := make(chan struct{})
	go func() {
		g.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return while the retry loop was backing off")
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	before := sink.count()
	time.Sleep(150 * time.Millisecond)
	if sink.count() != before {
		t.Fatalf("retry loop still submitting after Stop returned")
	}
}

func TestBufferOverflowDrops(t *testing.T) {
	sink := &captureSink{err: errors.New("down")}
	m := newCountingMetrics()
	g := NewIngestGuard(sink, m, WithBufferSize(1))

	g.Accept(context.Background(), validBar())
	g.Accept(context.Background(), validBar())

	if m.errCount("ingest_buffer_full") != 1 {
		t.Fatalf("ingest_buffer_full = %d, want 1", m.errCount("ingest_buffer_full"))
	}
}
