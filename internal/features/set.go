package features

import (
	"fmt"
	"hash/fnv"

	domrepo "BarPulse/internal/domain/repository"
)

// Set is the ordered feature list registered for one timeframe.
type Set struct {
	timeframe string
	features  []Feature
}

// NewSet declares the features for a timeframe. Order is part of the
// downstream contract and must not change between releases.
func NewSet(timeframe string, feats ...Feature) *Set {
	return &Set{timeframe: timeframe, features: feats}
}

func (s *Set) Timeframe() string   { return s.timeframe }
func (s *Set) Features() []Feature { return s.features }

// ColumnName builds the vector column for a feature on a timeframe.
func ColumnName(timeframe, feature string) string {
	return timeframe + "_" + feature
}

// Registry holds every registered feature set with a fixed, versioned column
// order shared with the inference collaborator.
type Registry struct {
	version    string
	timeframes []string
	sets       map[string]*Set
	emergency  []string
}

// NewRegistry fixes the declared column order from the given sets.
func NewRegistry(version string, sets ...*Set) (*Registry, error) {
	r := &Registry{version: version, sets: make(map[string]*Set, len(sets))}
	for _, s := range sets {
		if _, dup := r.sets[s.timeframe]; dup {
			return nil, fmt.Errorf("registry: duplicate timeframe %s", s.timeframe)
		}
		r.sets[s.timeframe] = s
		r.timeframes = append(r.timeframes, s.timeframe)
	}
	return r, nil
}

// Timeframes returns the registered timeframes in declared order.
func (r *Registry) Timeframes() []string { return r.timeframes }

// Set returns the feature set for a timeframe (nil if unregistered).
func (r *Registry) Set(timeframe string) *Set { return r.sets[timeframe] }

// Columns returns the full declared column order.
func (r *Registry) Columns() []string {
	var cols []string
	for _, tf := range r.timeframes {
		for _, f := range r.sets[tf].features {
			cols = append(cols, ColumnName(tf, f.Name()))
		}
	}
	return cols
}

// ContractHash is FNV-1a over the version string and the declared column
// order. The inference client refuses vectors whose hash does not match the
// contract it was configured with.
func (r *Registry) ContractHash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(r.version))
	for _, c := range r.Columns() {
		h.Write([]byte{0})
		h.Write([]byte(c))
	}
	return h.Sum64()
}

// SetEmergency declares the fixed minimal column subset served on the
// emergency path.
func (r *Registry) SetEmergency(cols []string) { r.emergency = cols }

// Emergency returns the declared emergency column subset.
func (r *Registry) Emergency() []string { return r.emergency }

// WrapStale returns the columns on a timeframe whose incremental state is
// invalidated by a ring wrap: cumulative accumulators and features whose
// lookback covers the whole ring, where the evicted bar still matters.
func (r *Registry) WrapStale(timeframe string, capacity int) []string {
	s := r.sets[timeframe]
	if s == nil {
		return nil
	}
	var stale []string
	for _, f := range s.features {
		if !f.SupportsIncremental() {
			continue
		}
		if IsCumulative(f) || f.Lookback() >= capacity {
			stale = append(stale, ColumnName(timeframe, f.Name()))
		}
	}
	return stale
}

// DefaultRegistry declares the production feature sets for every supported
// timeframe, plus the emergency subset on the primary timeframe.
func DefaultRegistry(version string) (*Registry, error) {
	var sets []*Set
	for _, tf := range domrepo.AllTimeframes() {
		sets = append(sets, NewSet(string(tf),
			NewEMA("ema_fast", 12),
			NewEMA("ema_slow", 26),
			NewATR("atr", 14),
			NewWelfordMean("welford_mean"),
			NewWelfordStd("welford_std"),
			NewMedian("median", 20),
		))
	}
	r, err := NewRegistry(version, sets...)
	if err != nil {
		return nil, err
	}
	primary := string(domrepo.DefaultTimeframe())
	r.SetEmergency([]string{
		ColumnName(primary, "ema_fast"),
		ColumnName(primary, "welford_mean"),
		ColumnName(primary, "welford_std"),
	})
	return r, nil
}
