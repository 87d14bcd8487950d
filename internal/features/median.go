package features

import (
	"sort"

	"BarPulse/internal/domain/models"
)

// Median is the rolling median of close prices. Rank statistics cannot be
// advanced one bar at a time, so it always runs on the full-recompute path.
type Median struct {
	name   string
	period int
}

func NewMedian(name string, period int) *Median {
	if period <= 0 {
		period = 1
	}
	return &Median{name: name, period: period}
}

func (m *Median) Name() string              { return m.name }
func (m *Median) Lookback() int             { return m.period }
func (m *Median) SupportsIncremental() bool { return false }

func (m *Median) Compute(window []models.Bar) (float32, error) {
	if err := checkLookback(m.name, m.period, len(window)); err != nil {
		return 0, err
	}
	closes := make([]float64, m.period)
	for i, b := range window[len(window)-m.period:] {
		closes[i] = float64(b.Close)
	}
	sort.Float64s(closes)
	mid := m.period / 2
	if m.period%2 == 1 {
		return float32(closes[mid]), nil
	}
	return float32((closes[mid-1] + closes[mid]) / 2), nil
}
