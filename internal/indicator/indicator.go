// Package indicator implements stateful per-symbol technical indicators and
// the registry that constructs them from configuration. Each indicator
// consumes the bar sequence of one interval and produces a single current
// value plus named state; values are written back into the session by the
// data processor after every bar append.
package indicator

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
)

// Config identifies one indicator instance: name, period, the interval it is
// keyed to, and free-form numeric parameters. Unit denominates the period for
// historical lookback sizing: "weeks" makes a period of 52 mean 52 weeks of
// context, "days" (or empty) leaves the period in bars of the interval.
type Config struct {
	Name     string             `json:"name" yaml:"name"`
	Period   int                `json:"period,omitempty" yaml:"period,omitempty"`
	Interval interval.Interval  `json:"-" yaml:"-"`
	Unit     string             `json:"unit,omitempty" yaml:"unit,omitempty"`
	Params   map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// Key returns the canonical indicator key: <name>_<period>_<interval>.
// Zero-period indicators omit the period segment (vwap_1m, obv_1m, macd_5m).
func (c Config) Key() string {
	if c.Period == 0 {
		return c.Name + "_" + c.Interval.String()
	}
	return c.Name + "_" + strconv.Itoa(c.Period) + "_" + c.Interval.String()
}

// param returns a named parameter or its default.
func (c Config) param(name string, def float64) float64 {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}

// Data is the per-(symbol, key) indicator record embedded in the session
// snapshot.
type Data struct {
	Config       Config             `json:"config"`
	State        map[string]float64 `json:"state,omitempty"`
	CurrentValue float64            `json:"current_value"`
	LastUpdated  time.Time          `json:"last_updated"`
	Valid        bool               `json:"valid"`
}

// Indicator is the behavioural contract. Update observes the full bar
// sequence of the indicator's interval and returns the current value;
// stateful indicators incorporate only bars they have not yet consumed.
// Reset drops values and consumption state but keeps configuration, so the
// same instance survives a session roll.
type Indicator interface {
	Config() Config
	WarmupBars() int
	Update(bars []domain.Bar) (value float64, valid bool)
	State() map[string]float64
	Reset()
}

// Factory constructs an indicator from its config.
type Factory func(Config) (Indicator, error)

var registry = map[string]Factory{}

// Register adds a factory under the given indicator name. Called from
// package init; duplicate names panic.
func Register(name string, f Factory) {
	if _, ok := registry[name]; ok {
		panic("indicator: duplicate registration of " + name)
	}
	registry[name] = f
}

// New constructs the indicator named by cfg.Name.
func New(cfg Config) (Indicator, error) {
	f, ok := registry[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown indicator %q", cfg.Name)
	}
	return f(cfg)
}

// Known reports whether an indicator name is registered.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns the sorted list of registered indicator names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// requirePeriod validates that cfg carries a positive period.
func requirePeriod(cfg Config) error {
	if cfg.Period < 1 {
		return fmt.Errorf("indicator %q requires a positive period, got %d", cfg.Name, cfg.Period)
	}
	return nil
}
