package models

import "time"

// RingSnapshotRow captures a ring store cursor for offline inspection.
type RingSnapshotRow struct {
	Symbol     string
	Timeframe  string
	WriteIndex uint64
	WrapCount  uint64
	OldestTime int64
	NewestTime int64
	LastClose  float32
	At         time.Time
}

// LatencyRow is one recorded stage timing, flushed to the columnar store.
type LatencyRow struct {
	Symbol    string
	Stage     string
	ElapsedNs int64
	CallIndex uint64
	At        time.Time
}

// TransitionRow records one execution-path transition with its reason.
type TransitionRow struct {
	Symbol string
	From   string
	To     string
	Reason string
	At     time.Time
}
