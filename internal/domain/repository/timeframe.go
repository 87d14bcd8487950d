package repository

// Timeframe identifies a bar aggregation interval.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
)

// ringCapacities fixes how many bars each timeframe retains.
var ringCapacities = map[Timeframe]int{
	TF1m:  480,
	TF5m:  288,
	TF15m: 192,
	TF1h:  96,
	TF4h:  48,
}

// AllTimeframes returns the supported timeframes, shortest first.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF15m, TF1h, TF4h}
}

// RingCapacity returns the retained bar count for tf (0 if unsupported).
func RingCapacity(tf Timeframe) int { return ringCapacities[tf] }

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := ringCapacities[tf]
	return ok
}

// DefaultTimeframe returns the primary timeframe.
func DefaultTimeframe() Timeframe { return TF1m }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}
