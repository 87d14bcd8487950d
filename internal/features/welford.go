package features

import (
	"fmt"
	"math"

	"BarPulse/internal/domain/models"
)

// MomentKind selects which running moment a Moments feature emits.
type MomentKind int

const (
	MomentMean MomentKind = iota
	MomentStd
)

// Moments tracks running mean and variance of close prices with Welford's
// online algorithm, avoiding catastrophic cancellation. The accumulator
// covers every retained bar, so a ring wrap invalidates its state.
type Moments struct {
	name string
	kind MomentKind
}

// WelfordState is the serializable accumulator shared by mean and std.
type WelfordState struct {
	Count uint64  `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

func (s WelfordState) add(x float64) WelfordState {
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (x - s.Mean)
	return s
}

func (s WelfordState) std() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.M2 / float64(s.Count-1))
}

// NewWelfordMean builds a running-mean feature over the retained window.
func NewWelfordMean(name string) *Moments {
	return &Moments{name: name, kind: MomentMean}
}

// NewWelfordStd builds a running sample-stddev feature over the retained window.
func NewWelfordStd(name string) *Moments {
	return &Moments{name: name, kind: MomentStd}
}

func (m *Moments) Name() string { return m.name }

func (m *Moments) Lookback() int {
	if m.kind == MomentStd {
		return 2
	}
	return 1
}

func (m *Moments) SupportsIncremental() bool { return true }

// Cumulative reports that the accumulator spans the whole retained window,
// so the bar evicted by a ring wrap is still part of the state.
func (m *Moments) Cumulative() bool { return true }

func (m *Moments) Init(window []models.Bar) (State, float32, error) {
	if err := checkLookback(m.name, m.Lookback(), len(window)); err != nil {
		return nil, 0, err
	}
	st := WelfordState{}
	for _, b := range window {
		st = st.add(float64(b.Close))
	}
	return st, m.value(st), nil
}

func (m *Moments) Advance(st State, bar models.Bar) (float32, State, error) {
	s, ok := st.(WelfordState)
	if !ok {
		return 0, nil, fmt.Errorf("%s: unexpected state %T", m.name, st)
	}
	s = s.add(float64(bar.Close))
	return m.value(s), s, nil
}

func (m *Moments) Compute(window []models.Bar) (float32, error) {
	_, v, err := m.Init(window)
	return v, err
}

func (m *Moments) value(s WelfordState) float32 {
	if m.kind == MomentStd {
		return float32(s.std())
	}
	return float32(s.Mean)
}
