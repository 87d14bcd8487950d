package features

import (
	"fmt"

	"BarPulse/internal/domain/models"
)

// EMA is an exponential moving average over close prices with
// alpha = 2 / (period + 1).
type EMA struct {
	name   string
	period int
	alpha  float64
}

// EMAState is the serializable accumulator for EMA.
type EMAState struct {
	EMA float64 `json:"ema"`
}

func NewEMA(name string, period int) *EMA {
	if period <= 0 {
		period = 1
	}
	return &EMA{name: name, period: period, alpha: 2.0 / float64(period+1)}
}

func (e *EMA) Name() string              { return e.name }
func (e *EMA) Lookback() int             { return e.period }
func (e *EMA) SupportsIncremental() bool { return true }

func (e *EMA) Init(window []models.Bar) (State, float32, error) {
	if err := checkLookback(e.name, e.period, len(window)); err != nil {
		return nil, 0, err
	}
	// Seed with the first close, then fold the rest. Replaying the same
	// bars through Advance reproduces this exactly.
	ema := float64(window[0].Close)
	for _, b := range window[1:] {
		ema += e.alpha * (float64(b.Close) - ema)
	}
	return EMAState{EMA: ema}, float32(ema), nil
}

func (e *EMA) Advance(st State, bar models.Bar) (float32, State, error) {
	s, ok := st.(EMAState)
	if !ok {
		return 0, nil, fmt.Errorf("%s: unexpected state %T", e.name, st)
	}
	next := s.EMA + e.alpha*(float64(bar.Close)-s.EMA)
	return float32(next), EMAState{EMA: next}, nil
}

func (e *EMA) Compute(window []models.Bar) (float32, error) {
	_, v, err := e.Init(window)
	return v, err
}
