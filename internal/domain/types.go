// Package domain defines the core value types shared across the engine:
// bars, quotes, gap metadata, and the sentinel errors every component
// reports.
package domain

import "time"

// Bar is one OHLCV interval of one symbol. Timestamps are timezone-aware in
// the exchange timezone; the engine never converts them to UTC.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Quote is a top-of-book quote tick. Quotes are stored and streamed but never
// aggregated into bars.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	BidPrice  float64   `json:"bid_price"`
	BidSize   int64     `json:"bid_size"`
	AskPrice  float64   `json:"ask_price"`
	AskSize   int64     `json:"ask_size"`
}

// GapInfo describes one maximal missing range of bars within an expected
// trading window. Spans never overlap and are sorted by StartTime.
type GapInfo struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	MissingCount int       `json:"missing_count"`
}

// AddedBy records which actor introduced a symbol into the session.
type AddedBy string

const (
	AddedByConfig   AddedBy = "config"
	AddedByStrategy AddedBy = "strategy"
	AddedByScanner  AddedBy = "scanner"
	AddedByAdhoc    AddedBy = "adhoc"
)
