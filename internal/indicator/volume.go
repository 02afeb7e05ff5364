package indicator

import (
	"github.com/yohannes916/mismartera-sub002/internal/domain"
)

func init() {
	Register("vwap", newVWAP)
	Register("obv", newOBV)
}

// ---------------------------------------------------------------------------
// VWAP — session volume-weighted average price over typical price
// (H+L+C)/3. Stateful accumulator; Reset at session roll restarts the
// accumulation.
// ---------------------------------------------------------------------------

type vwap struct {
	cfg      Config
	sumPV    float64
	sumV     float64
	consumed int
}

func newVWAP(cfg Config) (Indicator, error) {
	return &vwap{cfg: cfg}, nil
}

func (v *vwap) Config() Config  { return v.cfg }
func (v *vwap) WarmupBars() int { return 1 }

func (v *vwap) Update(bars []domain.Bar) (float64, bool) {
	for _, b := range bars[min(v.consumed, len(bars)):] {
		typical := (b.High + b.Low + b.Close) / 3
		v.sumPV += typical * float64(b.Volume)
		v.sumV += float64(b.Volume)
	}
	v.consumed = len(bars)
	if v.sumV == 0 {
		return 0, false
	}
	return v.sumPV / v.sumV, true
}

func (v *vwap) State() map[string]float64 {
	if v.sumV == 0 {
		return nil
	}
	return map[string]float64{"sum_pv": v.sumPV, "sum_v": v.sumV}
}

func (v *vwap) Reset() {
	v.sumPV, v.sumV, v.consumed = 0, 0, 0
}

// ---------------------------------------------------------------------------
// OBV — on-balance volume. Stateful running total.
// ---------------------------------------------------------------------------

type obv struct {
	cfg       Config
	total     float64
	prevClose float64
	consumed  int
}

func newOBV(cfg Config) (Indicator, error) {
	return &obv{cfg: cfg}, nil
}

func (o *obv) Config() Config  { return o.cfg }
func (o *obv) WarmupBars() int { return 1 }

func (o *obv) Update(bars []domain.Bar) (float64, bool) {
	for _, b := range bars[min(o.consumed, len(bars)):] {
		if o.consumed > 0 || o.prevClose != 0 {
			switch {
			case b.Close > o.prevClose:
				o.total += float64(b.Volume)
			case b.Close < o.prevClose:
				o.total -= float64(b.Volume)
			}
		}
		o.prevClose = b.Close
		o.consumed++
	}
	if o.consumed == 0 {
		return 0, false
	}
	return o.total, true
}

func (o *obv) State() map[string]float64 {
	if o.consumed == 0 {
		return nil
	}
	return map[string]float64{"obv": o.total, "prev_close": o.prevClose}
}

func (o *obv) Reset() {
	o.total, o.prevClose, o.consumed = 0, 0, 0
}
