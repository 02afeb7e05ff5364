package processor

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/indicator"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/session"
)

// IndicatorManager owns live indicator instances and mirrors their values
// into the session state. Instances are keyed per symbol by the indicator
// key, so two symbols never share streaming state.
//
// Stateful indicators consume the bar sequence through an internal cursor,
// so the sequence an instance sees must be continuous. Historical warmup
// bars are therefore kept as a prefix per (symbol, interval) and prepended
// to the session bars on every update.
type IndicatorManager struct {
	data *session.Data
	log  *slog.Logger

	mu        sync.Mutex
	instances map[string]map[string]indicator.Indicator // symbol → key → instance
	warmed    map[string][]domain.Bar                   // "symbol|interval" → historical prefix
}

func NewIndicatorManager(data *session.Data, log *slog.Logger) *IndicatorManager {
	if log == nil {
		log = slog.Default()
	}
	return &IndicatorManager{
		data:      data,
		log:       log,
		instances: map[string]map[string]indicator.Indicator{},
		warmed:    map[string][]domain.Bar{},
	}
}

// Register creates an instance for cfg on the symbol and seeds its record in
// the session state. Registering an existing key replaces the instance.
func (m *IndicatorManager) Register(symbol string, cfg indicator.Config) error {
	ind, err := indicator.New(cfg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.instances[symbol] == nil {
		m.instances[symbol] = map[string]indicator.Indicator{}
	}
	m.instances[symbol][cfg.Key()] = ind
	m.mu.Unlock()

	return m.data.SetIndicator(symbol, cfg.Key(), indicator.Data{Config: cfg})
}

// Unregister drops every instance and warmup prefix for the symbol.
func (m *IndicatorManager) Unregister(symbol string) {
	m.mu.Lock()
	delete(m.instances, symbol)
	for key := range m.warmed {
		if strings.HasPrefix(key, symbol+"|") {
			delete(m.warmed, key)
		}
	}
	m.mu.Unlock()
}

// Warmup installs historical bars as the prefix for (symbol, iv) and primes
// the instances so values are valid from the first live bar.
func (m *IndicatorManager) Warmup(symbol string, iv interval.Interval, historical []domain.Bar) error {
	m.mu.Lock()
	m.warmed[symbol+"|"+iv.String()] = append([]domain.Bar(nil), historical...)
	m.mu.Unlock()
	return m.Update(symbol, iv, nil)
}

// Update feeds bars to every instance of the symbol keyed to iv and writes
// the resulting values back into the session state. Session-scoped
// accumulators (warmup of a single bar) never see the historical prefix.
func (m *IndicatorManager) Update(symbol string, iv interval.Interval, bars []domain.Bar) error {
	m.mu.Lock()
	var matched []indicator.Indicator
	for _, ind := range m.instances[symbol] {
		if ind.Config().Interval == iv {
			matched = append(matched, ind)
		}
	}
	prefix := m.warmed[symbol+"|"+iv.String()]
	m.mu.Unlock()

	now := time.Now().UTC()
	for _, ind := range matched {
		feed := bars
		if len(prefix) > 0 && ind.WarmupBars() > 1 {
			feed = make([]domain.Bar, 0, len(prefix)+len(bars))
			feed = append(append(feed, prefix...), bars...)
		}
		value, valid := ind.Update(feed)
		rec := indicator.Data{
			Config:       ind.Config(),
			State:        ind.State(),
			CurrentValue: value,
			Valid:        valid,
			LastUpdated:  now,
		}
		if err := m.data.SetIndicator(symbol, ind.Config().Key(), rec); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets the symbol's instances and drops its warmup prefixes. Called
// at session roll; the coordinator re-warms from fresh historical data.
func (m *IndicatorManager) Reset(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ind := range m.instances[symbol] {
		ind.Reset()
	}
	for key := range m.warmed {
		if strings.HasPrefix(key, symbol+"|") {
			delete(m.warmed, key)
		}
	}
}

// ResetAll resets every symbol's instances and clears all warmup prefixes.
func (m *IndicatorManager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, byKey := range m.instances {
		for _, ind := range byKey {
			ind.Reset()
		}
	}
	m.warmed = map[string][]domain.Bar{}
}
