package httpapi

import (
	"github.com/yohannes916/mismartera-sub002/internal/domain"
)

// StatusResponse reports the engine's current session state.
type StatusResponse struct {
	SessionActive bool   `json:"session_active"`
	SessionDate   string `json:"session_date"`
	Symbols       int    `json:"symbols"`
	QueueDepth    int    `json:"queue_depth"`
	StreamPaused  bool   `json:"stream_paused"`
}

// BarsResponse is the payload of GET /api/bars/{symbol}/{interval}.
type BarsResponse struct {
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Bars     []domain.Bar `json:"bars"`
}

// QualityResponse is the payload of GET /api/quality/{symbol}/{interval}.
type QualityResponse struct {
	Symbol   string           `json:"symbol"`
	Interval string           `json:"interval"`
	Quality  float64          `json:"quality"`
	Gaps     []domain.GapInfo `json:"gaps"`
}

// SymbolsResponse lists the symbols currently in the session.
type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}
