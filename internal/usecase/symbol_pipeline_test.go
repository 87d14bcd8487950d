package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"BarPulse/internal/domain/models"
	"BarPulse/internal/features"
	"BarPulse/internal/health"
	"BarPulse/internal/latency"
	"BarPulse/internal/scheduler"
)

type fakeInferencer struct {
	mu    sync.Mutex
	calls int
	err   error
	last  *models.FeatureVector
}

func (f *fakeInferencer) Infer(_ context.Context, fv *models.FeatureVector) (*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = fv
	if f.err != nil {
		return nil, f.err
	}
	return &models.Prediction{
		Symbol:     fv.Symbol,
		Timestamp:  fv.Timestamp,
		Value:      42,
		Confidence: 0.9,
		Model:      "fake-v1",
	}, nil
}

func (f *fakeInferencer) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeInferencer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeInferencer) lastVector() *models.FeatureVector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func testRegistry(t *testing.T) *features.Registry {
	t.Helper()
	r, err := features.NewRegistry("v1",
		features.NewSet("1m",
			features.NewEMA("ema_fast", 3),
			features.NewWelfordMean("welford_mean"),
			features.NewWelfordStd("welford_std"),
			features.NewMedian("median", 3),
		),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	r.SetEmergency([]string{"1m_ema_fast", "1m_welford_mean", "1m_welford_std"})
	return r
}

func testPipeline(t *testing.T, inf *fakeInferencer, gateOpts ...health.Option) (*SymbolPipeline, *health.Gate, *scheduler.Scheduler) {
	t.Helper()
	gate := health.NewGate("BTCUSDT", gateOpts...)
	sched := scheduler.New("BTCUSDT", gate)
	tracker := latency.NewTracker(latency.WithWarmup(0))
	p, err := NewSymbolPipeline("BTCUSDT", testRegistry(t), gate, sched, tracker, inf)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return p, gate, sched
}

func feedBar(ts int64, close float32) *models.Bar {
	return &models.Bar{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		Timestamp: ts,
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    1,
	}
}

func TestFirstCycleRunsSlowPath(t *testing.T) {
	inf := &fakeInferencer{}
	p, _, _ := testPipeline(t, inf)

	pred, err := p.Process(context.Background(), feedBar(60, 100))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if pred == nil {
		t.Fatalf("expected a prediction")
	}
	if pred.Path != models.PathSlow {
		t.Fatalf("first cycle path = %s, want slow (cache starts stale)", pred.Path)
	}
	if inf.callCount() != 1 {
		t.Fatalf("inferencer calls = %d, want 1", inf.callCount())
	}
}

func TestSteadyStateRunsFastPath(t *testing.T) {
	inf := &fakeInferencer{}
	p, _, _ := testPipeline(t, inf)

	var pred *models.Prediction
	var err error
	for i := 0; i < 6; i++ {
		pred, err = p.Process(context.Background(), feedBar(int64(60*(i+1)), float32(100+i)))
		if err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if pred.Path != models.PathFast {
		t.Fatalf("steady path = %s, want fast", pred.Path)
	}
	if pred.Degraded {
		t.Fatalf("healthy cycle must not be degraded")
	}

	// After enough bars every column has a value, in declared order.
	inf.mu.Lock()
	fv := inf.last
	inf.mu.Unlock()
	wantCols := []string{"1m_ema_fast", "1m_welford_mean", "1m_welford_std", "1m_median"}
	if fv.Len() != len(wantCols) {
		t.Fatalf("vector columns = %v, want %v", fv.Columns, wantCols)
	}
	for i, c := range wantCols {
		if fv.Columns[i] != c {
			t.Fatalf("column[%d] = %s, want %s", i, fv.Columns[i], c)
		}
	}
	if fv.ContractHash == 0 {
		t.Fatalf("vector must carry the contract hash")
	}
}

func TestOutOfOrderBarRejected(t *testing.T) {
	inf := &fakeInferencer{}
	p, gate, _ := testPipeline(t, inf)

	if _, err := p.Process(context.Background(), feedBar(120, 100)); err != nil {
		t.Fatalf("process: %v", err)
	}
	calls := inf.callCount()

	_, err := p.Process(context.Background(), feedBar(60, 99))
	if !errors.Is(err, models.ErrOutOfOrderBar) {
		t.Fatalf("got %v, want ErrOutOfOrderBar", err)
	}
	if inf.callCount() != calls {
		t.Fatalf("rejected bar must not trigger inference")
	}
	if gate.Status().ErrorScore == 0 {
		t.Fatalf("out-of-order bar must count against health")
	}
}

func TestInferenceTimeoutServesDegradedFallback(t *testing.T) {
	inf := &fakeInferencer{}
	p, gate, _ := testPipeline(t, inf)

	// Prime a good prediction first.
	for i := 0; i < 5; i++ {
		if _, err := p.Process(context.Background(), feedBar(int64(60*(i+1)), 100)); err != nil {
			t.Fatalf("prime %d: %v", i, err)
		}
	}
	good := p.LastPrediction()
	if good == nil {
		t.Fatalf("expected a committed prediction")
	}

	inf.setErr(models.ErrInferenceTimeout)
	pred, err := p.Process(context.Background(), feedBar(600, 101))
	if err != nil {
		t.Fatalf("timeout cycle must not surface an error, got %v", err)
	}
	if !pred.Degraded || pred.Path != models.PathEmergency {
		t.Fatalf("fallback = %+v, want degraded emergency", pred)
	}
	if pred.Value != good.Value {
		t.Fatalf("fallback value = %v, want last good %v", pred.Value, good.Value)
	}
	if pred.Confidence >= good.Confidence {
		t.Fatalf("fallback confidence must be discounted")
	}
	if gate.Status().ErrorScore < 2 {
		t.Fatalf("timeout must record a critical error, score = %v", gate.Status().ErrorScore)
	}
	if p.LastPrediction() != good {
		t.Fatalf("degraded result must not replace the last good prediction")
	}
}

func TestBlockedGateRunsEmergencyWithoutInference(t *testing.T) {
	inf := &fakeInferencer{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p, gate, _ := testPipeline(t, inf, health.WithClock(clock), health.WithCooldown(time.Minute))

	for i := 0; i < 4; i++ {
		if _, err := p.Process(context.Background(), feedBar(int64(60*(i+1)), 100)); err != nil {
			t.Fatalf("prime %d: %v", i, err)
		}
	}
	calls := inf.callCount()

	for i := 0; i < 5; i++ {
		gate.RecordError(models.SeverityWarning)
	}

	pred, err := p.Process(context.Background(), feedBar(600, 101))
	if err != nil {
		t.Fatalf("emergency cycle: %v", err)
	}
	if pred.Path != models.PathEmergency || !pred.Degraded {
		t.Fatalf("blocked gate result = %+v, want degraded emergency", pred)
	}
	if inf.callCount() != calls {
		t.Fatalf("emergency path must not call the model")
	}

	// After the cooldown the gate re-opens; the skipped state advances force
	// one slow recompute before fast resumes.
	now = now.Add(2 * time.Minute)
	pred, err = p.Process(context.Background(), feedBar(660, 102))
	if err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if pred.Path != models.PathSlow {
		t.Fatalf("recovery path = %s, want slow", pred.Path)
	}
	pred, err = p.Process(context.Background(), feedBar(720, 103))
	if err != nil {
		t.Fatalf("steady cycle: %v", err)
	}
	if pred.Path != models.PathFast {
		t.Fatalf("post-recovery path = %s, want fast", pred.Path)
	}
}

// failingFeature succeeds on Init but refuses Advance, simulating a feature
// whose incremental step breaks mid-cycle.
type failingFeature struct {
	fail bool
}

func (f *failingFeature) Name() string              { return "flaky" }
func (f *failingFeature) Lookback() int             { return 1 }
func (f *failingFeature) SupportsIncremental() bool { return true }

func (f *failingFeature) Init(window []models.Bar) (features.State, float32, error) {
	return struct{}{}, window[len(window)-1].Close, nil
}

func (f *failingFeature) Advance(st features.State, bar models.Bar) (float32, features.State, error) {
	if f.fail {
		return 0, nil, errors.New("flaky advance")
	}
	return bar.Close, st, nil
}

func (f *failingFeature) Compute(window []models.Bar) (float32, error) {
	return window[len(window)-1].Close, nil
}

func TestAdvanceFailureServesFallback(t *testing.T) {
	flaky := &failingFeature{}
	r, err := features.NewRegistry("v1",
		features.NewSet("1m", features.NewWelfordMean("welford_mean"), flaky),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	r.SetEmergency([]string{"1m_welford_mean"})

	inf := &fakeInferencer{}
	gate := health.NewGate("BTCUSDT")
	sched := scheduler.New("BTCUSDT", gate)
	tracker := latency.NewTracker(latency.WithWarmup(0))
	p, err := NewSymbolPipeline("BTCUSDT", r, gate, sched, tracker, inf)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := p.Process(context.Background(), feedBar(int64(60*(i+1)), 100)); err != nil {
			t.Fatalf("prime %d: %v", i, err)
		}
	}
	score := gate.Status().ErrorScore

	flaky.fail = true
	pred, err := p.Process(context.Background(), feedBar(600, 101))
	if err != nil {
		t.Fatalf("failure cycle must serve a fallback, got %v", err)
	}
	if !pred.Degraded {
		t.Fatalf("failure cycle result must be degraded")
	}
	if gate.Status().ErrorScore <= score {
		t.Fatalf("compute failure must count against health")
	}

	// The pipeline keeps working once the feature recovers.
	flaky.fail = false
	if _, err := p.Process(context.Background(), feedBar(660, 102)); err != nil {
		t.Fatalf("recovered cycle: %v", err)
	}
}

// The flusher and the status API read ring cursors and the last prediction
// from their own goroutines while the worker is mid-cycle. Run with -race.
func TestStatusReadsDuringProcessing(t *testing.T) {
	inf := &fakeInferencer{}
	p, _, _ := testPipeline(t, inf)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			for _, row := range p.RingSnapshotRows() {
				if row.Symbol != "BTCUSDT" {
					t.Errorf("snapshot symbol = %q", row.Symbol)
					return
				}
			}
			p.LastPrediction()
			p.Health()
			p.Path()
		}
	}()

	for i := 1; i <= 500; i++ {
		if _, err := p.Process(context.Background(), feedBar(int64(60*i), 100+float32(i%7))); err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
	}
	<-done

	if p.LastPrediction() == nil {
		t.Fatalf("expected a committed prediction after processing")
	}
}

// A wrap invalidates cumulative accumulators: the overwriting cycle must run
// the full recompute and rebuild the moments from the retained window only.
func TestRingWrapForcesSlowRecompute(t *testing.T) {
	reg, err := features.NewRegistry("v1",
		features.NewSet("4h",
			features.NewWelfordMean("welford_mean"),
			features.NewWelfordStd("welford_std"),
		),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	reg.SetEmergency([]string{"4h_welford_mean"})

	inf := &fakeInferencer{}
	gate := health.NewGate("BTCUSDT")
	sched := scheduler.New("BTCUSDT", gate)
	tracker := latency.NewTracker(latency.WithWarmup(0))
	p, err := NewSymbolPipeline("BTCUSDT", reg, gate, sched, tracker, inf)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	bar := func(i int) *models.Bar {
		close := 100 + float32(i)
		return &models.Bar{
			Symbol:    "BTCUSDT",
			Timeframe: "4h",
			Timestamp: int64(i) * 14400,
			Open:      close,
			High:      close + 1,
			Low:       close - 1,
			Close:     close,
			Volume:    1,
		}
	}

	// Fill all 48 slots; once the uninitialized columns are repaired the
	// scheduler settles on the fast path.
	var pred *models.Prediction
	for i := 1; i <= 48; i++ {
		if pred, err = p.Process(context.Background(), bar(i)); err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
	}
	if pred.Path != models.PathFast {
		t.Fatalf("path before wrap = %s, want fast", pred.Path)
	}

	// Bar 49 overwrites the oldest slot.
	pred, err = p.Process(context.Background(), bar(49))
	if err != nil {
		t.Fatalf("wrap bar: %v", err)
	}
	if pred.Path != models.PathSlow {
		t.Fatalf("wrap cycle path = %s, want slow", pred.Path)
	}

	// Closes 102..149 remain retained: mean 125.5, sample stddev 14.
	fv := inf.lastVector()
	if fv == nil {
		t.Fatalf("expected an inference call on the wrap cycle")
	}
	checkCol := func(col string, want float32) {
		t.Helper()
		v, ok := fv.Get(col)
		if !ok {
			t.Fatalf("column %s missing from vector", col)
		}
		if v < want-0.01 || v > want+0.01 {
			t.Fatalf("%s = %v, want %v (rebuilt over the retained window)", col, v, want)
		}
	}
	checkCol("4h_welford_mean", 125.5)
	checkCol("4h_welford_std", 14)

	// The repaired accumulators carry the next cycle incrementally.
	if pred, err = p.Process(context.Background(), bar(50)); err != nil {
		t.Fatalf("bar after wrap: %v", err)
	}
	if pred.Path != models.PathFast {
		t.Fatalf("path after repair = %s, want fast", pred.Path)
	}
}
