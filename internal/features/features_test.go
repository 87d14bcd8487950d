package features

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"BarPulse/internal/domain/models"
)

const equivalenceTol = 1e-5

func syntheticBars(n int, seed int64) []models.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]models.Bar, n)
	price := 100.0
	for i := range bars {
		price += rng.Float64()*2 - 1
		high := price + rng.Float64()
		low := price - rng.Float64()
		bars[i] = models.Bar{
			Symbol:    "BTCUSDT",
			Timeframe: "1m",
			Timestamp: int64(1000 + i*60),
			Open:      float32(price),
			High:      float32(high),
			Low:       float32(low),
			Close:     float32(price),
			Volume:    float32(rng.Float64() * 10),
		}
	}
	return bars
}

// Replaying bars one at a time through Advance must land on the same value
// as computing the whole window in one shot.
func TestIncrementalBatchEquivalence(t *testing.T) {
	bars := syntheticBars(120, 7)

	incs := []Incremental{
		NewEMA("ema_fast", 12),
		NewEMA("ema_slow", 26),
		NewATR("atr", 14),
		NewWelfordMean("welford_mean"),
		NewWelfordStd("welford_std"),
	}

	for _, f := range incs {
		seed := f.Lookback()
		st, _, err := f.Init(bars[:seed])
		if err != nil {
			t.Fatalf("%s init: %v", f.Name(), err)
		}
		var incVal float32
		for _, b := range bars[seed:] {
			incVal, st, err = f.Advance(st, b)
			if err != nil {
				t.Fatalf("%s advance: %v", f.Name(), err)
			}
		}

		batchVal, err := f.Compute(bars)
		if err != nil {
			t.Fatalf("%s compute: %v", f.Name(), err)
		}

		if diff := math.Abs(float64(incVal) - float64(batchVal)); diff > equivalenceTol {
			t.Fatalf("%s diverged: incremental=%v batch=%v diff=%v", f.Name(), incVal, batchVal, diff)
		}
	}
}

func TestInsufficientHistory(t *testing.T) {
	bars := syntheticBars(5, 1)

	feats := []Feature{
		NewEMA("ema", 12),
		NewATR("atr", 14),
		NewMedian("median", 20),
	}
	for _, f := range feats {
		if _, err := f.Compute(bars); !errors.Is(err, models.ErrInsufficientHistory) {
			t.Fatalf("%s: got %v, want ErrInsufficientHistory", f.Name(), err)
		}
	}

	if _, _, err := NewWelfordStd("std").Init(bars[:1]); !errors.Is(err, models.ErrInsufficientHistory) {
		t.Fatalf("std over 1 bar: got %v, want ErrInsufficientHistory", err)
	}
}

func TestEMASeedsWithFirstClose(t *testing.T) {
	bars := syntheticBars(1, 2)
	f := NewEMA("ema", 1)
	_, v, err := f.Init(bars)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if v != bars[0].Close {
		t.Fatalf("seed = %v, want first close %v", v, bars[0].Close)
	}
}

func TestWelfordMatchesDirectMoments(t *testing.T) {
	bars := syntheticBars(200, 3)

	var sum float64
	for _, b := range bars {
		sum += float64(b.Close)
	}
	mean := sum / float64(len(bars))
	var ss float64
	for _, b := range bars {
		d := float64(b.Close) - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(bars)-1))

	gotMean, err := NewWelfordMean("mean").Compute(bars)
	if err != nil {
		t.Fatalf("mean: %v", err)
	}
	gotStd, err := NewWelfordStd("std").Compute(bars)
	if err != nil {
		t.Fatalf("std: %v", err)
	}

	if math.Abs(float64(gotMean)-mean) > 1e-4 {
		t.Fatalf("mean = %v, want %v", gotMean, mean)
	}
	if math.Abs(float64(gotStd)-std) > 1e-4 {
		t.Fatalf("std = %v, want %v", gotStd, std)
	}
}

func TestMedianOddAndEven(t *testing.T) {
	mk := func(closes ...float32) []models.Bar {
		bars := make([]models.Bar, len(closes))
		for i, c := range closes {
			bars[i] = models.Bar{Timestamp: int64(i), Close: c}
		}
		return bars
	}

	odd := NewMedian("m", 3)
	v, err := odd.Compute(mk(5, 1, 9))
	if err != nil {
		t.Fatalf("odd: %v", err)
	}
	if v != 5 {
		t.Fatalf("odd median = %v, want 5", v)
	}

	even := NewMedian("m", 4)
	v, err = even.Compute(mk(4, 1, 3, 2))
	if err != nil {
		t.Fatalf("even: %v", err)
	}
	if v != 2.5 {
		t.Fatalf("even median = %v, want 2.5", v)
	}

	if NewMedian("m", 3).SupportsIncremental() {
		t.Fatalf("median must not claim incremental support")
	}
}

func TestRegistryContractHash(t *testing.T) {
	r1, err := DefaultRegistry("v1")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	r2, _ := DefaultRegistry("v1")
	if r1.ContractHash() != r2.ContractHash() {
		t.Fatalf("same registry must hash identically")
	}

	r3, _ := DefaultRegistry("v2")
	if r1.ContractHash() == r3.ContractHash() {
		t.Fatalf("version bump must change the hash")
	}

	// Column order is part of the contract.
	a, _ := NewRegistry("v1",
		NewSet("1m", NewEMA("ema_fast", 12), NewEMA("ema_slow", 26)),
	)
	b, _ := NewRegistry("v1",
		NewSet("1m", NewEMA("ema_slow", 26), NewEMA("ema_fast", 12)),
	)
	if a.ContractHash() == b.ContractHash() {
		t.Fatalf("reordered columns must change the hash")
	}
}

func TestWrapStaleSelection(t *testing.T) {
	r, err := DefaultRegistry("v1")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	stale := r.WrapStale("1m", 480)
	want := map[string]bool{
		"1m_welford_mean": true,
		"1m_welford_std":  true,
	}
	if len(stale) != len(want) {
		t.Fatalf("stale columns = %v, want cumulative features only", stale)
	}
	for _, col := range stale {
		if !want[col] {
			t.Fatalf("unexpected stale column %s", col)
		}
	}

	// A tiny ring puts bounded-lookback features in range of the wrap too.
	stale = r.WrapStale("1m", 10)
	found := false
	for _, col := range stale {
		if col == "1m_ema_fast" {
			found = true
		}
	}
	if !found {
		t.Fatalf("lookback >= capacity must be wrap-stale, got %v", stale)
	}
}

func TestRegistryEmergencySubset(t *testing.T) {
	r, _ := DefaultRegistry("v1")
	em := r.Emergency()
	want := []string{"1m_ema_fast", "1m_welford_mean", "1m_welford_std"}
	if len(em) != len(want) {
		t.Fatalf("emergency = %v, want %v", em, want)
	}
	for i := range want {
		if em[i] != want[i] {
			t.Fatalf("emergency[%d] = %s, want %s", i, em[i], want[i])
		}
	}
}
