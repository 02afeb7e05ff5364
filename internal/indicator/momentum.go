package indicator

import (
	"github.com/yohannes916/mismartera-sub002/internal/domain"
)

func init() {
	Register("rsi", newRSI)
	Register("macd", newMACD)
	Register("stoch", newStoch)
}

// ---------------------------------------------------------------------------
// RSI — Wilder's relative strength index. Stateful; needs N+1 bars for the
// first value, then smooths incrementally.
// ---------------------------------------------------------------------------

type rsi struct {
	cfg       Config
	avgGain   float64
	avgLoss   float64
	prevClose float64
	seen      int // bars consumed
	ready     bool
	value     float64
}

func newRSI(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &rsi{cfg: cfg}, nil
}

func (r *rsi) Config() Config  { return r.cfg }
func (r *rsi) WarmupBars() int { return r.cfg.Period + 1 }

func (r *rsi) Update(bars []domain.Bar) (float64, bool) {
	n := r.cfg.Period
	for _, b := range bars[min(r.seen, len(bars)):] {
		if r.seen == 0 {
			r.prevClose = b.Close
			r.seen++
			continue
		}
		delta := b.Close - r.prevClose
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		if r.seen <= n {
			// Accumulate the first N deltas as a plain average.
			r.avgGain += gain / float64(n)
			r.avgLoss += loss / float64(n)
			if r.seen == n {
				r.ready = true
			}
		} else {
			r.avgGain = (r.avgGain*float64(n-1) + gain) / float64(n)
			r.avgLoss = (r.avgLoss*float64(n-1) + loss) / float64(n)
		}
		r.prevClose = b.Close
		r.seen++
	}

	if !r.ready {
		return 0, false
	}
	if r.avgLoss == 0 {
		r.value = 100
	} else {
		rs := r.avgGain / r.avgLoss
		r.value = 100 - 100/(1+rs)
	}
	return r.value, true
}

func (r *rsi) State() map[string]float64 {
	if !r.ready {
		return nil
	}
	return map[string]float64{"avg_gain": r.avgGain, "avg_loss": r.avgLoss}
}

func (r *rsi) Reset() {
	*r = rsi{cfg: r.cfg}
}

// ---------------------------------------------------------------------------
// MACD — moving average convergence divergence. Periods default to 12/26/9,
// overridable via params fast/slow/signal. Value is the MACD line; the
// signal line and histogram are exposed as state. Warmup is the slow period.
// ---------------------------------------------------------------------------

type macd struct {
	cfg      Config
	fast     *emaStream
	slow     *emaStream
	signal   *emaStream
	consumed int
}

func newMACD(cfg Config) (Indicator, error) {
	fast := int(cfg.param("fast", 12))
	slow := int(cfg.param("slow", 26))
	signal := int(cfg.param("signal", 9))
	return &macd{
		cfg:    cfg,
		fast:   newEMAStream(fast),
		slow:   newEMAStream(slow),
		signal: newEMAStream(signal),
	}, nil
}

func (m *macd) Config() Config  { return m.cfg }
func (m *macd) WarmupBars() int { return m.slow.period }

func (m *macd) Update(bars []domain.Bar) (float64, bool) {
	for _, b := range bars[min(m.consumed, len(bars)):] {
		m.fast.push(b.Close)
		m.slow.push(b.Close)
		if m.fast.ready && m.slow.ready {
			m.signal.push(m.fast.value - m.slow.value)
		}
	}
	m.consumed = len(bars)
	if !m.slow.ready {
		return 0, false
	}
	return m.fast.value - m.slow.value, true
}

func (m *macd) State() map[string]float64 {
	if !m.slow.ready {
		return nil
	}
	line := m.fast.value - m.slow.value
	st := map[string]float64{"macd": line}
	if m.signal.ready {
		st["signal"] = m.signal.value
		st["histogram"] = line - m.signal.value
	}
	return st
}

func (m *macd) Reset() {
	m.fast.reset()
	m.slow.reset()
	m.signal.reset()
	m.consumed = 0
}

// ---------------------------------------------------------------------------
// Stochastic oscillator — %K over the period, %D smoothed over `smooth`
// windows (default 3). Value is %K; %D rides in state. Warmup N+smooth.
// ---------------------------------------------------------------------------

type stoch struct {
	cfg    Config
	smooth int
	kd     map[string]float64
}

func newStoch(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &stoch{cfg: cfg, smooth: int(cfg.param("smooth", 3))}, nil
}

func (s *stoch) Config() Config  { return s.cfg }
func (s *stoch) WarmupBars() int { return s.cfg.Period + s.smooth }

// percentK computes %K for the window ending at index end (inclusive).
func (s *stoch) percentK(bars []domain.Bar, end int) float64 {
	n := s.cfg.Period
	window := bars[end-n+1 : end+1]
	high, low := window[0].High, window[0].Low
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	if high == low {
		return 50
	}
	return (bars[end].Close - low) / (high - low) * 100
}

func (s *stoch) Update(bars []domain.Bar) (float64, bool) {
	n := s.cfg.Period
	if len(bars) < n {
		s.kd = nil
		return 0, false
	}

	k := s.percentK(bars, len(bars)-1)

	// %D: average of the last `smooth` %K values that have full windows.
	count := 0
	sum := 0.0
	for end := len(bars) - 1; end >= n-1 && count < s.smooth; end-- {
		sum += s.percentK(bars, end)
		count++
	}
	s.kd = map[string]float64{"k": k}
	if count == s.smooth {
		s.kd["d"] = sum / float64(count)
	}
	return k, true
}

func (s *stoch) State() map[string]float64 { return s.kd }
func (s *stoch) Reset()                    { s.kd = nil }
