// Package session holds the unified session state: per-symbol bar sequences
// for the base and derived intervals, per-interval quality and gap metadata,
// indicator records, and session-level metrics. Data is the single source of
// truth shared by the coordinator, the data processor, the quality manager,
// and external readers; one process-wide read/write lock guards all of it.
package session

import (
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/indicator"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
)

// Metadata records how a symbol entered the session and whether it carries
// the full provisioning the session config demands.
type Metadata struct {
	MeetsSessionConfigRequirements bool           `json:"meets_session_config_requirements"`
	AddedBy                        domain.AddedBy `json:"added_by"`
	AutoProvisioned                bool           `json:"auto_provisioned"`
	AddedAt                        time.Time      `json:"added_at"`
	UpgradedFromAdhoc              bool           `json:"upgraded_from_adhoc"`
}

// Metrics accumulates session-day statistics for one symbol, driven by base
// interval appends. Reset on session roll.
type Metrics struct {
	SessionVolume int64     `json:"session_volume"`
	SessionHigh   float64   `json:"session_high"`
	SessionLow    float64   `json:"session_low"`
	BarCount      int       `json:"bar_count"`
	LastUpdate    time.Time `json:"last_update"`
}

// barIntervalData is the per-(symbol, interval) record. Self-describing:
// every record carries derived, base, quality, and gaps.
type barIntervalData struct {
	derived bool
	base    interval.Interval // the symbol's base interval when derived
	bars    []domain.Bar
	quality float64
	gaps    []domain.GapInfo
	updated bool
	maxBars int // 0 = unbounded; overflow rolls into historical
}

// symbolData is the per-symbol record.
type symbolData struct {
	symbol       string
	baseInterval interval.Interval
	bars         map[string]*barIntervalData // keyed by canonical interval string
	indicators   map[string]*indicator.Data
	metrics      Metrics
	historical   map[string]map[string][]domain.Bar // interval → date → bars
	meta         Metadata
}

// ---------------------------------------------------------------------------
// Snapshot projection (read-only JSON view, spec'd for external analysis)
// ---------------------------------------------------------------------------

// IntervalSnapshot is the JSON view of one (symbol, interval).
type IntervalSnapshot struct {
	Derived bool             `json:"derived"`
	Base    string           `json:"base,omitempty"`
	Quality float64          `json:"quality"`
	Gaps    []domain.GapInfo `json:"gaps,omitempty"`
	Bars    []domain.Bar     `json:"bars"`
}

// SymbolSnapshot is the JSON view of one symbol.
type SymbolSnapshot struct {
	Symbol       string                      `json:"symbol"`
	BaseInterval string                      `json:"base_interval"`
	Metadata     Metadata                    `json:"metadata"`
	Bars         map[string]IntervalSnapshot `json:"bars"`
	Indicators   map[string]indicator.Data   `json:"indicators"`
	Metrics      Metrics                     `json:"metrics"`
}

// Snapshot is the JSON view of the whole session.
type Snapshot struct {
	SessionActive bool                      `json:"session_active"`
	SessionDate   string                    `json:"session_date"`
	Symbols       map[string]SymbolSnapshot `json:"symbols"`
}
