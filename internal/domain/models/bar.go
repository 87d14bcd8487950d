package models

import "time"

// Bar is one OHLCV observation for a (symbol, timeframe) pair.
// Timestamp is epoch seconds; millisecond inputs are normalized at ingestion.
type Bar struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"tf"`
	Timestamp int64   `json:"t"`
	Open      float32 `json:"o"`
	High      float32 `json:"h"`
	Low       float32 `json:"l"`
	Close     float32 `json:"c"`
	Volume    float32 `json:"v"`
}

// Time returns the bar timestamp as time.Time.
func (b Bar) Time() time.Time { return time.Unix(b.Timestamp, 0) }

// WrapEvent is emitted when a ring store's write cursor completes a full
// cycle and begins overwriting its oldest retained bar.
type WrapEvent struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"tf"`
	WrapCount uint64 `json:"wrap_count"`
}
