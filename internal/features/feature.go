// Package features holds the per-timeframe feature calculators. Each feature
// is a standalone value type; the ones that can be advanced one bar at a time
// additionally implement Incremental so the fast path can skip full-window
// recomputation.
package features

import "BarPulse/internal/domain/models"

// State is the opaque accumulator owned by one (timeframe, feature) pair.
// Concrete states are plain serializable structs defined next to their
// feature; callers never look inside.
type State interface{}

// Feature computes a single value from a chronological bar window.
type Feature interface {
	// Name is the stable column name in the feature vector.
	Name() string
	// Lookback is the minimum window length required to produce a value.
	Lookback() int
	// SupportsIncremental reports whether the feature can be advanced one
	// bar at a time. Features returning false are always computed by full
	// recomputation and are never registered with the fast path.
	SupportsIncremental() bool
	// Compute evaluates the feature over the full window.
	Compute(window []models.Bar) (float32, error)
}

// Incremental is the capability contract for features that maintain an O(1)
// per-bar accumulator. Init from a full window followed by Advance over n
// more bars must match Init over the concatenated window within floating
// point tolerance.
type Incremental interface {
	Feature
	// Init builds the accumulator from a full window and returns the
	// feature value over that window.
	Init(window []models.Bar) (State, float32, error)
	// Advance folds one new bar into the accumulator and returns the new
	// feature value together with the successor state. The input state is
	// not mutated.
	Advance(st State, bar models.Bar) (float32, State, error)
}

// Cumulative marks features whose accumulator folds in every retained bar
// rather than a fixed lookback. Their state is invalidated by a ring wrap
// because the evicted bar is still part of it.
type Cumulative interface {
	Cumulative() bool
}

// IsCumulative reports whether f carries a whole-window accumulator.
func IsCumulative(f Feature) bool {
	c, ok := f.(Cumulative)
	return ok && c.Cumulative()
}

func checkLookback(name string, lookback, have int) error {
	if have < lookback {
		return &LookbackError{Feature: name, Need: lookback, Have: have}
	}
	return nil
}

// LookbackError wraps ErrInsufficientHistory with the offending feature.
type LookbackError struct {
	Feature string
	Need    int
	Have    int
}

func (e *LookbackError) Error() string {
	return e.Feature + ": insufficient history"
}

func (e *LookbackError) Unwrap() error { return models.ErrInsufficientHistory }
