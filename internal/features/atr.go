package features

import (
	"fmt"
	"math"

	"BarPulse/internal/domain/models"
)

// ATR is the average true range with Wilder smoothing (alpha = 1/period).
type ATR struct {
	name   string
	period int
}

// ATRState is the serializable accumulator for ATR. PrevClose is carried so
// the next true range can be computed from a single new bar.
type ATRState struct {
	ATR       float64 `json:"atr"`
	PrevClose float64 `json:"prev_close"`
}

func NewATR(name string, period int) *ATR {
	if period <= 0 {
		period = 1
	}
	return &ATR{name: name, period: period}
}

func (a *ATR) Name() string { return a.name }

// Lookback needs one extra bar for the first previous close.
func (a *ATR) Lookback() int             { return a.period + 1 }
func (a *ATR) SupportsIncremental() bool { return true }

func trueRange(b models.Bar, prevClose float64) float64 {
	hl := float64(b.High) - float64(b.Low)
	hc := math.Abs(float64(b.High) - prevClose)
	lc := math.Abs(float64(b.Low) - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

func (a *ATR) Init(window []models.Bar) (State, float32, error) {
	if err := checkLookback(a.name, a.period+1, len(window)); err != nil {
		return nil, 0, err
	}
	// Seed with the simple mean of the first `period` true ranges, then
	// Wilder-smooth the remainder.
	sum := 0.0
	for i := 1; i <= a.period; i++ {
		sum += trueRange(window[i], float64(window[i-1].Close))
	}
	atr := sum / float64(a.period)
	prevClose := float64(window[a.period].Close)
	for _, b := range window[a.period+1:] {
		tr := trueRange(b, prevClose)
		atr += (tr - atr) / float64(a.period)
		prevClose = float64(b.Close)
	}
	return ATRState{ATR: atr, PrevClose: prevClose}, float32(atr), nil
}

func (a *ATR) Advance(st State, bar models.Bar) (float32, State, error) {
	s, ok := st.(ATRState)
	if !ok {
		return 0, nil, fmt.Errorf("%s: unexpected state %T", a.name, st)
	}
	tr := trueRange(bar, s.PrevClose)
	next := s.ATR + (tr-s.ATR)/float64(a.period)
	return float32(next), ATRState{ATR: next, PrevClose: float64(bar.Close)}, nil
}

func (a *ATR) Compute(window []models.Bar) (float32, error) {
	_, v, err := a.Init(window)
	return v, err
}
