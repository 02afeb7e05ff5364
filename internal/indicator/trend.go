package indicator

import (
	"github.com/yohannes916/mismartera-sub002/internal/domain"
)

func init() {
	Register("sma", newSMA)
	Register("ema", newEMA)
	Register("wma", newWMA)
	Register("dema", newDEMA)
	Register("tema", newTEMA)
}

// ---------------------------------------------------------------------------
// SMA — simple moving average of the last N closes. Stateless.
// ---------------------------------------------------------------------------

type sma struct {
	cfg   Config
	value float64
	valid bool
}

func newSMA(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &sma{cfg: cfg}, nil
}

func (s *sma) Config() Config  { return s.cfg }
func (s *sma) WarmupBars() int { return s.cfg.Period }

func (s *sma) Update(bars []domain.Bar) (float64, bool) {
	n := s.cfg.Period
	if len(bars) < n {
		s.valid = false
		return 0, false
	}
	sum := 0.0
	for _, b := range bars[len(bars)-n:] {
		sum += b.Close
	}
	s.value = sum / float64(n)
	s.valid = true
	return s.value, true
}

func (s *sma) State() map[string]float64 { return nil }
func (s *sma) Reset()                    { s.value, s.valid = 0, false }

// ---------------------------------------------------------------------------
// WMA — linearly weighted moving average. Stateless.
// ---------------------------------------------------------------------------

type wma struct {
	cfg Config
}

func newWMA(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &wma{cfg: cfg}, nil
}

func (w *wma) Config() Config  { return w.cfg }
func (w *wma) WarmupBars() int { return w.cfg.Period }

func (w *wma) Update(bars []domain.Bar) (float64, bool) {
	n := w.cfg.Period
	if len(bars) < n {
		return 0, false
	}
	window := bars[len(bars)-n:]
	num, den := 0.0, 0.0
	for i, b := range window {
		weight := float64(i + 1)
		num += b.Close * weight
		den += weight
	}
	return num / den, true
}

func (w *wma) State() map[string]float64 { return nil }
func (w *wma) Reset()                    {}

// ---------------------------------------------------------------------------
// emaStream — incremental EMA over a stream of values, seeded with the SMA
// of the first N values. Shared by ema, dema, tema, and macd.
// ---------------------------------------------------------------------------

type emaStream struct {
	period int
	k      float64
	seen   int
	seed   float64 // running sum while seeding
	value  float64
	ready  bool
}

func newEMAStream(period int) *emaStream {
	return &emaStream{period: period, k: 2.0 / float64(period+1)}
}

func (e *emaStream) push(v float64) {
	e.seen++
	if !e.ready {
		e.seed += v
		if e.seen == e.period {
			e.value = e.seed / float64(e.period)
			e.ready = true
		}
		return
	}
	e.value = v*e.k + e.value*(1-e.k)
}

func (e *emaStream) reset() {
	e.seen, e.seed, e.value, e.ready = 0, 0, 0, false
}

// ---------------------------------------------------------------------------
// EMA — exponential moving average. Stateful: consumes each bar once.
// ---------------------------------------------------------------------------

type ema struct {
	cfg      Config
	stream   *emaStream
	consumed int
}

func newEMA(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &ema{cfg: cfg, stream: newEMAStream(cfg.Period)}, nil
}

func (e *ema) Config() Config  { return e.cfg }
func (e *ema) WarmupBars() int { return e.cfg.Period }

func (e *ema) Update(bars []domain.Bar) (float64, bool) {
	for _, b := range bars[min(e.consumed, len(bars)):] {
		e.stream.push(b.Close)
	}
	e.consumed = len(bars)
	return e.stream.value, e.stream.ready
}

func (e *ema) State() map[string]float64 {
	if !e.stream.ready {
		return nil
	}
	return map[string]float64{"ema": e.stream.value}
}

func (e *ema) Reset() {
	e.stream.reset()
	e.consumed = 0
}

// ---------------------------------------------------------------------------
// DEMA — 2*EMA - EMA(EMA). Warmup 2N.
// ---------------------------------------------------------------------------

type dema struct {
	cfg      Config
	ema1     *emaStream
	ema2     *emaStream
	consumed int
}

func newDEMA(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &dema{cfg: cfg, ema1: newEMAStream(cfg.Period), ema2: newEMAStream(cfg.Period)}, nil
}

func (d *dema) Config() Config  { return d.cfg }
func (d *dema) WarmupBars() int { return 2 * d.cfg.Period }

func (d *dema) Update(bars []domain.Bar) (float64, bool) {
	for _, b := range bars[min(d.consumed, len(bars)):] {
		d.ema1.push(b.Close)
		if d.ema1.ready {
			d.ema2.push(d.ema1.value)
		}
	}
	d.consumed = len(bars)
	if !d.ema2.ready {
		return 0, false
	}
	return 2*d.ema1.value - d.ema2.value, true
}

func (d *dema) State() map[string]float64 {
	if !d.ema2.ready {
		return nil
	}
	return map[string]float64{"ema1": d.ema1.value, "ema2": d.ema2.value}
}

func (d *dema) Reset() {
	d.ema1.reset()
	d.ema2.reset()
	d.consumed = 0
}

// ---------------------------------------------------------------------------
// TEMA — 3*EMA1 - 3*EMA2 + EMA3. Warmup 3N.
// ---------------------------------------------------------------------------

type tema struct {
	cfg      Config
	ema1     *emaStream
	ema2     *emaStream
	ema3     *emaStream
	consumed int
}

func newTEMA(cfg Config) (Indicator, error) {
	if err := requirePeriod(cfg); err != nil {
		return nil, err
	}
	return &tema{
		cfg:  cfg,
		ema1: newEMAStream(cfg.Period),
		ema2: newEMAStream(cfg.Period),
		ema3: newEMAStream(cfg.Period),
	}, nil
}

func (t *tema) Config() Config  { return t.cfg }
func (t *tema) WarmupBars() int { return 3 * t.cfg.Period }

func (t *tema) Update(bars []domain.Bar) (float64, bool) {
	for _, b := range bars[min(t.consumed, len(bars)):] {
		t.ema1.push(b.Close)
		if t.ema1.ready {
			t.ema2.push(t.ema1.value)
		}
		if t.ema2.ready {
			t.ema3.push(t.ema2.value)
		}
	}
	t.consumed = len(bars)
	if !t.ema3.ready {
		return 0, false
	}
	return 3*t.ema1.value - 3*t.ema2.value + t.ema3.value, true
}

func (t *tema) State() map[string]float64 {
	if !t.ema3.ready {
		return nil
	}
	return map[string]float64{"ema1": t.ema1.value, "ema2": t.ema2.value, "ema3": t.ema3.value}
}

func (t *tema) Reset() {
	t.ema1.reset()
	t.ema2.reset()
	t.ema3.reset()
	t.consumed = 0
}
