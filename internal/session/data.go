package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/indicator"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
)

// Data is the process-wide session state. All exported methods are safe to
// call from any goroutine; a single RWMutex guards the symbol map and every
// record hanging off it. Critical sections are short: appends, metadata
// writes, and copying snapshots.
//
// There is deliberately no secondary index of active symbols or derived
// intervals anywhere in the engine; consumers query this type each cycle.
type Data struct {
	mu            sync.RWMutex
	symbols       map[string]*symbolData
	sessionActive bool
	sessionDate   time.Time
}

// New creates an empty session.
func New() *Data {
	return &Data{symbols: make(map[string]*symbolData)}
}

// ---------------------------------------------------------------------------
// Structural writes
// ---------------------------------------------------------------------------

// RegisterSymbol creates the per-symbol structure with its base interval.
// The base interval record is created eagerly with derived=false.
func (d *Data) RegisterSymbol(symbol string, base interval.Interval, meta Metadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.symbols[symbol]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSymbol, symbol)
	}
	sd := &symbolData{
		symbol:       symbol,
		baseInterval: base,
		bars:         make(map[string]*barIntervalData),
		indicators:   make(map[string]*indicator.Data),
		historical:   make(map[string]map[string][]domain.Bar),
		meta:         meta,
	}
	sd.bars[base.String()] = &barIntervalData{}
	d.symbols[symbol] = sd
	return nil
}

// AddInterval provisions a derived-interval record for the symbol. Adding
// the base interval again is a no-op; any other interval is marked derived
// from the symbol's base.
func (d *Data) AddInterval(symbol string, iv interval.Interval) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	key := iv.String()
	if _, ok := sd.bars[key]; ok {
		return nil
	}
	sd.bars[key] = &barIntervalData{derived: true, base: sd.baseInterval}
	return nil
}

// SetMaxBars bounds the in-session deque for one (symbol, interval); bars
// beyond the bound roll into the historical map, oldest first.
func (d *Data) SetMaxBars(symbol string, iv interval.Interval, maxBars int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return err
	}
	bid.maxBars = maxBars
	return nil
}

// RemoveSymbol drops the symbol and every per-symbol structure.
func (d *Data) RemoveSymbol(symbol string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.symbols[symbol]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	delete(d.symbols, symbol)
	return nil
}

// Clear drops all symbols. Session teardown between trading days.
func (d *Data) Clear() {
	d.mu.Lock()
	d.symbols = make(map[string]*symbolData)
	d.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Bar appends and reads
// ---------------------------------------------------------------------------

// intervalData returns the record for (symbol, interval); callers hold d.mu.
func (d *Data) intervalData(symbol string, iv interval.Interval) (*barIntervalData, error) {
	sd, ok := d.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	bid, ok := sd.bars[iv.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no interval %s", domain.ErrSymbolNotFound, symbol, iv)
	}
	return bid, nil
}

// AppendBar appends one bar to (symbol, interval) and marks the record
// updated. Timestamps must be strictly increasing per interval; a bar at or
// before the last timestamp is rejected with ErrOutOfOrderBar and the state
// is unchanged. Base-interval appends also update the symbol's session
// metrics.
func (d *Data) AppendBar(symbol string, iv interval.Interval, bar domain.Bar) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	bid, ok := sd.bars[iv.String()]
	if !ok {
		return fmt.Errorf("%w: %s has no interval %s", domain.ErrSymbolNotFound, symbol, iv)
	}

	if n := len(bid.bars); n > 0 && !bar.Timestamp.After(bid.bars[n-1].Timestamp) {
		return fmt.Errorf("%w: %s %s at %s (last %s)", domain.ErrOutOfOrderBar,
			symbol, iv, bar.Timestamp.Format(time.RFC3339), bid.bars[n-1].Timestamp.Format(time.RFC3339))
	}

	bid.bars = append(bid.bars, bar)
	bid.updated = true

	// Bounded growth: overflow rolls into historical, oldest first.
	if bid.maxBars > 0 && len(bid.bars) > bid.maxBars {
		overflow := len(bid.bars) - bid.maxBars
		d.archiveBarsLocked(sd, iv, bid.bars[:overflow])
		bid.bars = bid.bars[overflow:]
	}

	if !bid.derived {
		m := &sd.metrics
		m.SessionVolume += bar.Volume
		if m.BarCount == 0 || bar.High > m.SessionHigh {
			m.SessionHigh = bar.High
		}
		if m.BarCount == 0 || bar.Low < m.SessionLow {
			m.SessionLow = bar.Low
		}
		m.BarCount++
		m.LastUpdate = bar.Timestamp
	}
	return nil
}

// archiveBarsLocked moves bars into the historical map keyed by their
// exchange-local date. Callers hold d.mu.
func (d *Data) archiveBarsLocked(sd *symbolData, iv interval.Interval, bars []domain.Bar) {
	if len(bars) == 0 {
		return
	}
	key := iv.String()
	if sd.historical[key] == nil {
		sd.historical[key] = make(map[string][]domain.Bar)
	}
	for _, b := range bars {
		date := b.Timestamp.Format("2006-01-02")
		sd.historical[key][date] = append(sd.historical[key][date], b)
	}
}

// BarsRef returns the live bar slice for (symbol, interval) without copying.
// Callers must treat it as immutable: bars are append-only and never mutated
// in place, so holding the returned slice is safe. External reads
// (internal=false) return an empty slice while the session is gated
// inactive; internal consumers are unaffected.
func (d *Data) BarsRef(symbol string, iv interval.Interval, internal bool) ([]domain.Bar, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !internal && !d.sessionActive {
		return nil, nil
	}
	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return nil, err
	}
	return bid.bars, nil
}

// Bars returns a filtered copy of the bars for (symbol, interval). A zero
// since means no lower bound; limit <= 0 means no cap. Gating as BarsRef.
func (d *Data) Bars(symbol string, iv interval.Interval, since time.Time, limit int, internal bool) ([]domain.Bar, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !internal && !d.sessionActive {
		return nil, nil
	}
	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return nil, err
	}

	bars := bid.bars
	if !since.IsZero() {
		idx := sort.Search(len(bars), func(i int) bool {
			return !bars[i].Timestamp.Before(since)
		})
		bars = bars[idx:]
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// LastTimestamp returns the timestamp of the newest bar for (symbol,
// interval), or a zero time when the record is empty.
func (d *Data) LastTimestamp(symbol string, iv interval.Interval) (time.Time, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return time.Time{}, err
	}
	if len(bid.bars) == 0 {
		return time.Time{}, nil
	}
	return bid.bars[len(bid.bars)-1].Timestamp, nil
}

// ---------------------------------------------------------------------------
// Updated flags
// ---------------------------------------------------------------------------

// Updated reports the updated flag for (symbol, interval).
func (d *Data) Updated(symbol string, iv interval.Interval) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return false, err
	}
	return bid.updated, nil
}

// ClearUpdated clears the updated flag. The data processor calls it only
// after every derived interval depending on the record has consumed the
// update.
func (d *Data) ClearUpdated(symbol string, iv interval.Interval) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return err
	}
	bid.updated = false
	return nil
}

// ---------------------------------------------------------------------------
// Symbol queries
// ---------------------------------------------------------------------------

// HasSymbol reports whether the symbol is registered.
func (d *Data) HasSymbol(symbol string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.symbols[symbol]
	return ok
}

// ActiveSymbols returns the sorted set of registered symbols. The symbol map
// keys are the only notion of "active" in the engine.
func (d *Data) ActiveSymbols() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.symbols))
	for sym := range d.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// BaseInterval returns the symbol's base interval.
func (d *Data) BaseInterval(symbol string) (interval.Interval, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return interval.Interval{}, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	return sd.baseInterval, nil
}

// Intervals returns every provisioned interval for the symbol, base first,
// derived intervals sorted by canonical string.
func (d *Data) Intervals(symbol string) ([]interval.Interval, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	keys := make([]string, 0, len(sd.bars))
	for k := range sd.bars {
		if k != sd.baseInterval.String() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]interval.Interval, 0, len(sd.bars))
	out = append(out, sd.baseInterval)
	for _, k := range keys {
		out = append(out, interval.MustParse(k))
	}
	return out, nil
}

// SymbolsWithDerived returns, for each symbol that has at least one derived
// interval, the list of derived intervals. The data processor polls this
// every cycle.
func (d *Data) SymbolsWithDerived() map[string][]interval.Interval {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string][]interval.Interval)
	for sym, sd := range d.symbols {
		var derived []interval.Interval
		for key, bid := range sd.bars {
			if bid.derived {
				derived = append(derived, interval.MustParse(key))
			}
		}
		if len(derived) > 0 {
			sort.Slice(derived, func(i, j int) bool { return derived[i].Less(derived[j]) })
			out[sym] = derived
		}
	}
	return out
}

// Meta returns the symbol's metadata.
func (d *Data) Meta(symbol string) (Metadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	return sd.meta, nil
}

// Upgrade marks an adhoc symbol as meeting the session config requirements.
func (d *Data) Upgrade(symbol string, by domain.AddedBy) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	sd.meta.MeetsSessionConfigRequirements = true
	sd.meta.UpgradedFromAdhoc = true
	sd.meta.AddedBy = by
	return nil
}

// Demote clears the session-config flag after a provisioning step failed.
// The symbol keeps operating with whatever structure it already has.
func (d *Data) Demote(symbol string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	sd.meta.MeetsSessionConfigRequirements = false
	return nil
}

// Metrics returns the symbol's session metrics.
func (d *Data) Metrics(symbol string) (Metrics, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return Metrics{}, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	return sd.metrics, nil
}

// ---------------------------------------------------------------------------
// Quality and gaps
// ---------------------------------------------------------------------------

// SetQuality writes the 0-100 quality score for (symbol, interval).
func (d *Data) SetQuality(symbol string, iv interval.Interval, quality float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return err
	}
	bid.quality = quality
	return nil
}

// Quality returns the quality score for (symbol, interval).
func (d *Data) Quality(symbol string, iv interval.Interval) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return 0, err
	}
	return bid.quality, nil
}

// SetGaps replaces the gap list for (symbol, interval).
func (d *Data) SetGaps(symbol string, iv interval.Interval, gaps []domain.GapInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return err
	}
	bid.gaps = gaps
	return nil
}

// Gaps returns a copy of the gap list for (symbol, interval).
func (d *Data) Gaps(symbol string, iv interval.Interval) ([]domain.GapInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	bid, err := d.intervalData(symbol, iv)
	if err != nil {
		return nil, err
	}
	out := make([]domain.GapInfo, len(bid.gaps))
	copy(out, bid.gaps)
	return out, nil
}

// ---------------------------------------------------------------------------
// Indicators
// ---------------------------------------------------------------------------

// SetIndicator writes the indicator record for (symbol, key).
func (d *Data) SetIndicator(symbol, key string, data indicator.Data) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	sd.indicators[key] = &data
	return nil
}

// Indicator returns the indicator record for (symbol, key).
func (d *Data) Indicator(symbol, key string) (indicator.Data, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return indicator.Data{}, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	id, ok := sd.indicators[key]
	if !ok {
		return indicator.Data{}, fmt.Errorf("%w: %s has no indicator %s", domain.ErrSymbolNotFound, symbol, key)
	}
	return *id, nil
}

// IndicatorConfigs returns the configs of every indicator registered for the
// symbol, sorted by key.
func (d *Data) IndicatorConfigs(symbol string) ([]indicator.Config, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	keys := make([]string, 0, len(sd.indicators))
	for k := range sd.indicators {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]indicator.Config, 0, len(keys))
	for _, k := range keys {
		out = append(out, sd.indicators[k].Config)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// ActivateSession opens the session gate for external readers.
func (d *Data) ActivateSession() {
	d.mu.Lock()
	d.sessionActive = true
	d.mu.Unlock()
}

// DeactivateSession closes the session gate; external bar reads return
// empty until reactivated. Internal consumers are unaffected.
func (d *Data) DeactivateSession() {
	d.mu.Lock()
	d.sessionActive = false
	d.mu.Unlock()
}

// SessionActive reports the gate state.
func (d *Data) SessionActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessionActive
}

// SetSessionDate records the trading day this session covers.
func (d *Data) SetSessionDate(date time.Time) {
	d.mu.Lock()
	d.sessionDate = date
	d.mu.Unlock()
}

// SessionDate returns the trading day this session covers.
func (d *Data) SessionDate() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessionDate
}

// RollSession archives the current session's bars into the historical map,
// resets per-symbol metrics, and invalidates indicator values while keeping
// indicator structures. Historical values are never recomputed here. The
// session date advances to newDate.
func (d *Data) RollSession(newDate time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sd := range d.symbols {
		for key, bid := range sd.bars {
			d.archiveBarsLocked(sd, interval.MustParse(key), bid.bars)
			bid.bars = nil
			bid.updated = false
			bid.quality = 0
			bid.gaps = nil
		}
		sd.metrics = Metrics{}
		for _, id := range sd.indicators {
			id.Valid = false
			id.CurrentValue = 0
			id.State = nil
		}
	}
	d.sessionDate = newDate
}

// HistoricalBars returns the archived bars for (symbol, interval, date).
func (d *Data) HistoricalBars(symbol string, iv interval.Interval, date string) ([]domain.Bar, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	byDate, ok := sd.historical[iv.String()]
	if !ok {
		return nil, nil
	}
	bars := byDate[date]
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// HistoricalDates lists the archived dates for (symbol, interval) in
// ascending order.
func (d *Data) HistoricalDates(symbol string, iv interval.Interval) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	byDate := sd.historical[iv.String()]
	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// SeedHistorical loads pre-session historical bars for (symbol, interval),
// grouped by exchange-local date. Used by provisioning's historical step.
func (d *Data) SeedHistorical(symbol string, iv interval.Interval, bars []domain.Bar) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sd, ok := d.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, symbol)
	}
	d.archiveBarsLocked(sd, iv, bars)
	return nil
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// Snapshot builds a deep-copied JSON projection of the session. External
// callers (internal=false) see empty bar lists while the session gate is
// closed; metadata, quality, and indicator records are always projected.
func (d *Data) Snapshot(internal bool) Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := Snapshot{
		SessionActive: d.sessionActive,
		Symbols:       make(map[string]SymbolSnapshot, len(d.symbols)),
	}
	if !d.sessionDate.IsZero() {
		snap.SessionDate = d.sessionDate.Format("2006-01-02")
	}

	gated := !internal && !d.sessionActive
	for sym, sd := range d.symbols {
		ss := SymbolSnapshot{
			Symbol:       sym,
			BaseInterval: sd.baseInterval.String(),
			Metadata:     sd.meta,
			Bars:         make(map[string]IntervalSnapshot, len(sd.bars)),
			Indicators:   make(map[string]indicator.Data, len(sd.indicators)),
			Metrics:      sd.metrics,
		}
		for key, bid := range sd.bars {
			is := IntervalSnapshot{
				Derived: bid.derived,
				Quality: bid.quality,
			}
			if bid.derived {
				is.Base = bid.base.String()
			}
			is.Gaps = append(is.Gaps, bid.gaps...)
			if !gated {
				is.Bars = make([]domain.Bar, len(bid.bars))
				copy(is.Bars, bid.bars)
			} else {
				is.Bars = []domain.Bar{}
			}
			ss.Bars[key] = is
		}
		for key, id := range sd.indicators {
			ss.Indicators[key] = *id
		}
		snap.Symbols[sym] = ss
	}
	return snap
}
