package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"BarPulse/internal/domain/models"
	"BarPulse/internal/health"
	"BarPulse/internal/latency"
	"BarPulse/internal/scheduler"
)

func testFactory(t *testing.T, inf *fakeInferencer) PipelineFactory {
	t.Helper()
	return func(symbol string) (*SymbolPipeline, error) {
		gate := health.NewGate(symbol)
		sched := scheduler.New(symbol, gate)
		tracker := latency.NewTracker(latency.WithWarmup(0))
		return NewSymbolPipeline(symbol, testRegistry(t), gate, sched, tracker, inf)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineSpawnsWorkerPerSymbol(t *testing.T) {
	inf := &fakeInferencer{}
	e := NewEngine(testFactory(t, inf))
	e.Start(context.Background())
	defer e.Stop()

	for i := 0; i < 3; i++ {
		bar := feedBar(int64(60*(i+1)), 100)
		if err := e.Submit(bar); err != nil {
			t.Fatalf("submit: %v", err)
		}
		eth := *feedBar(int64(60*(i+1)), 2000)
		eth.Symbol = "ETHUSDT"
		if err := e.Submit(&eth); err != nil {
			t.Fatalf("submit eth: %v", err)
		}
	}

	waitFor(t, func() bool { return inf.callCount() >= 6 }, "all bars processed")

	if len(e.Symbols()) != 2 {
		t.Fatalf("symbols = %v, want two", e.Symbols())
	}
	p, ok := e.Pipeline("BTCUSDT")
	if !ok {
		t.Fatalf("expected a BTCUSDT pipeline")
	}
	waitFor(t, func() bool { return p.LastPrediction() != nil }, "committed prediction")
	if _, ok := e.Pipeline("DOGEUSDT"); ok {
		t.Fatalf("unknown symbol must not have a pipeline")
	}
}

func TestEngineRejectsBadBars(t *testing.T) {
	inf := &fakeInferencer{}
	e := NewEngine(testFactory(t, inf))
	e.Start(context.Background())
	defer e.Stop()

	if err := e.Submit(&models.Bar{Timeframe: "1m", Timestamp: 60}); err == nil {
		t.Fatalf("bar without symbol must be rejected")
	}
	if err := e.Submit(&models.Bar{Symbol: "BTCUSDT", Timeframe: "2m", Timestamp: 60}); err == nil {
		t.Fatalf("unsupported timeframe must be rejected")
	}
	if len(e.Symbols()) != 0 {
		t.Fatalf("rejected bars must not create workers")
	}
}

func TestEngineSubmitBeforeStart(t *testing.T) {
	e := NewEngine(testFactory(t, &fakeInferencer{}))
	if err := e.Submit(feedBar(60, 100)); err == nil {
		t.Fatalf("submit before Start must fail")
	}
}

func TestEngineSubmitAfterStopReturnsError(t *testing.T) {
	inf := &fakeInferencer{}
	e := NewEngine(testFactory(t, inf))
	e.Start(context.Background())

	if err := e.Submit(feedBar(60, 100)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return inf.callCount() >= 1 }, "bar processed")
	e.Stop()

	// The worker's channel is closed; a late bar must bounce, not panic.
	if err := e.Submit(feedBar(120, 101)); err == nil {
		t.Fatalf("submit after Stop must fail")
	}
	if inf.callCount() != 1 {
		t.Fatalf("calls after Stop = %d, want 1", inf.callCount())
	}
}

func TestBarsHandlerSwallowsMalformedPayloads(t *testing.T) {
	inf := &fakeInferencer{}
	e := NewEngine(testFactory(t, inf))
	e.Start(context.Background())
	defer e.Stop()

	h := NewBarsHandler("bars.1m", e)
	if h.Topic() != "bars.1m" {
		t.Fatalf("topic = %s", h.Topic())
	}
	if err := h.Handle(context.Background(), []byte("{not json")); err != nil {
		t.Fatalf("malformed payload must not requeue, got %v", err)
	}
	payload := []byte(`{"symbol":"BTCUSDT","tf":"1m","t":60,"o":99,"h":101,"l":98,"c":100,"v":5}`)
	if err := h.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	waitFor(t, func() bool { return inf.callCount() >= 1 }, "decoded bar processed")
}

type fakeSnapshotStore struct {
	mu          sync.Mutex
	latencies   []models.LatencyRow
	transitions []models.TransitionRow
	rings       []models.RingSnapshotRow
}

func (s *fakeSnapshotStore) Init(context.Context) error   { return nil }
func (s *fakeSnapshotStore) Health(context.Context) error { return nil }
func (s *fakeSnapshotStore) Close() error                 { return nil }

func (s *fakeSnapshotStore) StoreRingSnapshots(_ context.Context, rows []models.RingSnapshotRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rings = append(s.rings, rows...)
	return nil
}

func (s *fakeSnapshotStore) StoreLatencies(_ context.Context, rows []models.LatencyRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, rows...)
	return nil
}

func (s *fakeSnapshotStore) StoreTransitions(_ context.Context, rows []models.TransitionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, rows...)
	return nil
}

func (s *fakeSnapshotStore) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latencies), len(s.transitions), len(s.rings)
}

func TestFlusherDrainsOnStop(t *testing.T) {
	store := &fakeSnapshotStore{}
	f := NewSnapshotFlusher(store, WithFlushInterval(time.Hour))
	f.Start(context.Background())

	f.EnqueueLatency(models.LatencyRow{Symbol: "BTCUSDT", Stage: StageTotal, ElapsedNs: 1000, At: time.Now()})
	f.EnqueueLatency(models.LatencyRow{Symbol: "BTCUSDT", Stage: StageIngest, ElapsedNs: 200, At: time.Now()})
	f.EnqueueTransition(models.TransitionRow{Symbol: "BTCUSDT", From: "fast", To: "slow", Reason: "stale", At: time.Now()})

	f.Stop()
	lat, tr, _ := store.counts()
	if lat != 2 || tr != 1 {
		t.Fatalf("flushed %d latencies %d transitions, want 2/1", lat, tr)
	}
}

func TestFlusherCapturesRingSnapshots(t *testing.T) {
	store := &fakeSnapshotStore{}
	f := NewSnapshotFlusher(store, WithFlushInterval(10*time.Millisecond))
	inf := &fakeInferencer{}
	p, _, _ := testPipeline(t, inf)
	if _, err := p.Process(context.Background(), feedBar(60, 100)); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.Register(p)
	f.Start(context.Background())
	defer f.Stop()

	waitFor(t, func() bool { _, _, rings := store.counts(); return rings > 0 }, "ring snapshot flush")

	store.mu.Lock()
	row := store.rings[0]
	store.mu.Unlock()
	if row.Symbol != "BTCUSDT" || row.Timeframe != "1m" {
		t.Fatalf("snapshot row = %+v", row)
	}
	if row.WriteIndex != 1 || row.WrapCount != 0 || row.LastClose != 100 {
		t.Fatalf("cursor state = %+v, want index 1 wrap 0 close 100", row)
	}
}

func TestFlusherDropsWhenBufferFull(t *testing.T) {
	store := &fakeSnapshotStore{}
	f := NewSnapshotFlusher(store, WithFlushInterval(time.Hour), WithFlusherBuffer(1))

	f.EnqueueLatency(models.LatencyRow{Symbol: "A", Stage: StageTotal})
	f.EnqueueLatency(models.LatencyRow{Symbol: "B", Stage: StageTotal}) // dropped

	f.Start(context.Background())
	f.Stop()
	lat, _, _ := store.counts()
	if lat != 1 {
		t.Fatalf("flushed %d latencies, want 1 (second dropped)", lat)
	}
}
