package indicator

import (
	"math"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
)

func init() {
	Register("bollinger", newBollinger)
	Register("high_low", newHighLow)
	Register("swing", newSwing)
}

// ---------------------------------------------------------------------------
// Bollinger bands — middle SMA(N) with upper/lower at ±k standard deviations
// (k defaults to 2). Value is the middle band; upper and lower ride in state.
// ---------------------------------------------------------------------------

type bollinger struct {
	cfg   Config
	k     float64
	bands map[string]float64
}

func newBollinger(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &bollinger{cfg: cfg, k: cfg.param("stddev", 2)}, nil
}

func (b *bollinger) Config() Config  { return b.cfg }
func (b *bollinger) WarmupBars() int { return b.cfg.Period }

func (b *bollinger) Update(bars []domain.Bar) (float64, bool) {
	n := b.cfg.Period
	if len(bars) < n {
		b.bands = nil
		return 0, false
	}
	window := bars[len(bars)-n:]

	sum := 0.0
	for _, bar := range window {
		sum += bar.Close
	}
	mid := sum / float64(n)

	variance := 0.0
	for _, bar := range window {
		d := bar.Close - mid
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(n))

	b.bands = map[string]float64{
		"middle": mid,
		"upper":  mid + b.k*sd,
		"lower":  mid - b.k*sd,
		"stddev": sd,
	}
	return mid, true
}

func (b *bollinger) State() map[string]float64 { return b.bands }
func (b *bollinger) Reset()                    { b.bands = nil }

// ---------------------------------------------------------------------------
// HighLow — highest high and lowest low over the period (e.g. the 52-week
// range as high_low_52_1w). Value is the highest high; the low rides in
// state.
// ---------------------------------------------------------------------------

type highLow struct {
	cfg   Config
	state map[string]float64
}

func newHighLow(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &highLow{cfg: cfg}, nil
}

func (h *highLow) Config() Config  { return h.cfg }
func (h *highLow) WarmupBars() int { return h.cfg.Period }

func (h *highLow) Update(bars []domain.Bar) (float64, bool) {
	n := h.cfg.Period
	if len(bars) < n {
		h.state = nil
		return 0, false
	}
	window := bars[len(bars)-n:]
	high, low := window[0].High, window[0].Low
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	h.state = map[string]float64{"high": high, "low": low}
	return high, true
}

func (h *highLow) State() map[string]float64 { return h.state }
func (h *highLow) Reset()                    { h.state = nil }

// ---------------------------------------------------------------------------
// Swing — most recent confirmed swing high and swing low with N bars on each
// side. A swing high at index i requires bars[i].High to strictly exceed the
// highs of the N bars before and after it, so confirmation lags by N bars
// and warmup is 2N+1.
// ---------------------------------------------------------------------------

type swing struct {
	cfg   Config
	state map[string]float64
}

func newSwing(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &swing{cfg: cfg}, nil
}

func (s *swing) Config() Config  { return s.cfg }
func (s *swing) WarmupBars() int { return 2*s.cfg.Period + 1 }

func (s *swing) Update(bars []domain.Bar) (float64, bool) {
	n := s.cfg.Period
	if len(bars) < 2*n+1 {
		s.state = nil
		return 0, false
	}

	var swingHigh, swingLow float64
	foundHigh, foundLow := false, false
	for i := len(bars) - 1 - n; i >= n && (!foundHigh || !foundLow); i-- {
		if !foundHigh && isSwingHigh(bars, i, n) {
			swingHigh = bars[i].High
			foundHigh = true
		}
		if !foundLow && isSwingLow(bars, i, n) {
			swingLow = bars[i].Low
			foundLow = true
		}
	}
	if !foundHigh && !foundLow {
		s.state = nil
		return 0, false
	}

	s.state = map[string]float64{}
	if foundHigh {
		s.state["swing_high"] = swingHigh
	}
	if foundLow {
		s.state["swing_low"] = swingLow
	}
	return swingHigh, foundHigh
}

func isSwingHigh(bars []domain.Bar, i, n int) bool {
	for j := i - n; j <= i+n; j++ {
		if j != i && bars[j].High >= bars[i].High {
			return false
		}
	}
	return true
}

func isSwingLow(bars []domain.Bar, i, n int) bool {
	for j := i - n; j <= i+n; j++ {
		if j != i && bars[j].Low <= bars[i].Low {
			return false
		}
	}
	return true
}

func (s *swing) State() map[string]float64 { return s.state }
func (s *swing) Reset()                    { s.state = nil }
