package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
)

func barsFromCloses(closes ...float64) []domain.Bar {
	base := time.Date(2024, 6, 5, 9, 30, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    100,
		}
	}
	return bars
}

func mustNew(t *testing.T, cfg Config) Indicator {
	t.Helper()
	ind, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%+v): %v", cfg, err)
	}
	return ind
}

func TestConfigKey(t *testing.T) {
	iv5m := interval.MustParse("5m")
	iv1w := interval.MustParse("1w")
	iv1m := interval.MustParse("1m")

	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Name: "sma", Period: 20, Interval: iv5m}, "sma_20_5m"},
		{Config{Name: "high_low", Period: 52, Interval: iv1w}, "high_low_52_1w"},
		{Config{Name: "vwap", Interval: iv1m}, "vwap_1m"},
		{Config{Name: "macd", Interval: iv1m}, "macd_1m"},
	}
	for _, tt := range tests {
		if got := tt.cfg.Key(); got != tt.want {
			t.Errorf("Key(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestRegistryNames(t *testing.T) {
	for _, name := range []string{"sma", "ema", "wma", "dema", "tema", "rsi", "macd", "stoch", "bollinger", "vwap", "obv", "high_low", "swing"} {
		if !Known(name) {
			t.Errorf("indicator %q should be registered", name)
		}
	}
	if Known("nope") {
		t.Error("unknown indicator reported as registered")
	}
	if _, err := New(Config{Name: "nope"}); err == nil {
		t.Error("New with unknown name should fail")
	}
	if _, err := New(Config{Name: "sma", Period: 0}); err == nil {
		t.Error("sma with zero period should fail")
	}
}

func TestWarmupTable(t *testing.T) {
	iv := interval.MustParse("1m")
	tests := []struct {
		cfg  Config
		want int
	}{
		{Config{Name: "sma", Period: 20, Interval: iv}, 20},
		{Config{Name: "ema", Period: 20, Interval: iv}, 20},
		{Config{Name: "wma", Period: 20, Interval: iv}, 20},
		{Config{Name: "dema", Period: 20, Interval: iv}, 40},
		{Config{Name: "tema", Period: 20, Interval: iv}, 60},
		{Config{Name: "rsi", Period: 14, Interval: iv}, 15},
		{Config{Name: "macd", Interval: iv}, 26},
		{Config{Name: "stoch", Period: 14, Interval: iv}, 17},
		{Config{Name: "swing", Period: 5, Interval: iv}, 11},
		{Config{Name: "vwap", Interval: iv}, 1},
		{Config{Name: "obv", Interval: iv}, 1},
		{Config{Name: "high_low", Period: 52, Interval: iv}, 52},
		{Config{Name: "bollinger", Period: 20, Interval: iv}, 20},
	}
	for _, tt := range tests {
		ind := mustNew(t, tt.cfg)
		if got := ind.WarmupBars(); got != tt.want {
			t.Errorf("%s warmup = %d, want %d", tt.cfg.Key(), got, tt.want)
		}
	}
}

func TestSMA(t *testing.T) {
	ind := mustNew(t, Config{Name: "sma", Period: 3, Interval: interval.MustParse("1m")})

	if _, valid := ind.Update(barsFromCloses(1, 2)); valid {
		t.Error("SMA should be invalid before warmup")
	}
	v, valid := ind.Update(barsFromCloses(1, 2, 3, 4))
	if !valid || v != 3 {
		t.Errorf("SMA(3) over [2,3,4] = %v/%v, want 3/true", v, valid)
	}
}

func TestWMA(t *testing.T) {
	ind := mustNew(t, Config{Name: "wma", Period: 3, Interval: interval.MustParse("1m")})
	// (1*1 + 2*2 + 3*3) / 6 = 14/6
	v, valid := ind.Update(barsFromCloses(1, 2, 3))
	if !valid || math.Abs(v-14.0/6.0) > 1e-9 {
		t.Errorf("WMA(3) = %v/%v, want %v", v, valid, 14.0/6.0)
	}
}

func TestEMAIncremental(t *testing.T) {
	ind := mustNew(t, Config{Name: "ema", Period: 3, Interval: interval.MustParse("1m")})

	// Seed: SMA(1,2,3) = 2. Then k = 0.5: EMA = 4*0.5 + 2*0.5 = 3.
	bars := barsFromCloses(1, 2, 3)
	if v, valid := ind.Update(bars); !valid || v != 2 {
		t.Errorf("EMA seed = %v/%v, want 2/true", v, valid)
	}
	bars = barsFromCloses(1, 2, 3, 4)
	if v, valid := ind.Update(bars); !valid || v != 3 {
		t.Errorf("EMA after 4th bar = %v/%v, want 3/true", v, valid)
	}

	// Incremental consumption: calling Update twice with the same slice must
	// not re-apply bars.
	if v, _ := ind.Update(bars); v != 3 {
		t.Errorf("repeated Update changed EMA to %v", v)
	}

	ind.Reset()
	if _, valid := ind.Update(barsFromCloses(5)); valid {
		t.Error("EMA should be invalid right after Reset")
	}
}

func TestRSIExtremes(t *testing.T) {
	up := mustNew(t, Config{Name: "rsi", Period: 2, Interval: interval.MustParse("1m")})
	v, valid := up.Update(barsFromCloses(1, 2, 3))
	if !valid || v != 100 {
		t.Errorf("RSI all-gains = %v/%v, want 100/true", v, valid)
	}

	down := mustNew(t, Config{Name: "rsi", Period: 2, Interval: interval.MustParse("1m")})
	v, valid = down.Update(barsFromCloses(3, 2, 1))
	if !valid || v != 0 {
		t.Errorf("RSI all-losses = %v/%v, want 0/true", v, valid)
	}

	short := mustNew(t, Config{Name: "rsi", Period: 14, Interval: interval.MustParse("1m")})
	if _, valid := short.Update(barsFromCloses(1, 2, 3)); valid {
		t.Error("RSI(14) should be invalid with 3 bars")
	}
}

func TestMACD(t *testing.T) {
	ind := mustNew(t, Config{
		Name:     "macd",
		Interval: interval.MustParse("1m"),
		Params:   map[string]float64{"fast": 2, "slow": 3, "signal": 2},
	})

	if _, valid := ind.Update(barsFromCloses(1, 2)); valid {
		t.Error("MACD invalid before slow period filled")
	}
	v, valid := ind.Update(barsFromCloses(1, 2, 3, 4, 5))
	if !valid {
		t.Fatal("MACD should be valid after 5 bars")
	}
	// In a steady uptrend the fast EMA leads the slow EMA.
	if v <= 0 {
		t.Errorf("MACD line in uptrend = %v, want > 0", v)
	}
	st := ind.State()
	if _, ok := st["signal"]; !ok {
		t.Errorf("MACD state missing signal line: %v", st)
	}
}

func TestStochastic(t *testing.T) {
	ind := mustNew(t, Config{Name: "stoch", Period: 3, Interval: interval.MustParse("1m")})

	// Closing at the top of the range: %K near 100.
	v, valid := ind.Update(barsFromCloses(1, 2, 3, 4, 5, 6))
	if !valid {
		t.Fatal("stoch should be valid")
	}
	if v < 80 {
		t.Errorf("stoch %%K at range top = %v, want high", v)
	}
	if _, ok := ind.State()["d"]; !ok {
		t.Errorf("stoch state missing %%D: %v", ind.State())
	}
}

func TestBollinger(t *testing.T) {
	ind := mustNew(t, Config{Name: "bollinger", Period: 4, Interval: interval.MustParse("1m")})
	v, valid := ind.Update(barsFromCloses(2, 2, 2, 2))
	if !valid || v != 2 {
		t.Errorf("bollinger middle = %v/%v, want 2/true", v, valid)
	}
	st := ind.State()
	if st["upper"] != 2 || st["lower"] != 2 {
		t.Errorf("zero-variance bands should collapse to middle: %v", st)
	}
}

func TestVWAP(t *testing.T) {
	ind := mustNew(t, Config{Name: "vwap", Interval: interval.MustParse("1m")})

	bars := []domain.Bar{
		{High: 11, Low: 9, Close: 10, Volume: 100},
		{High: 21, Low: 19, Close: 20, Volume: 300},
	}
	v, valid := ind.Update(bars)
	if !valid {
		t.Fatal("VWAP should be valid after one bar")
	}
	want := (10.0*100 + 20.0*300) / 400
	if math.Abs(v-want) > 1e-9 {
		t.Errorf("VWAP = %v, want %v", v, want)
	}

	ind.Reset()
	if _, valid := ind.Update(nil); valid {
		t.Error("VWAP invalid after Reset with no bars")
	}
}

func TestOBV(t *testing.T) {
	ind := mustNew(t, Config{Name: "obv", Interval: interval.MustParse("1m")})
	// up +100, down -100, up +100 → +100.
	v, valid := ind.Update(barsFromCloses(10, 11, 10, 12))
	if !valid || v != 100 {
		t.Errorf("OBV = %v/%v, want 100/true", v, valid)
	}
}

func TestHighLow(t *testing.T) {
	ind := mustNew(t, Config{Name: "high_low", Period: 3, Interval: interval.MustParse("1m")})
	v, valid := ind.Update(barsFromCloses(1, 5, 3, 4))
	if !valid {
		t.Fatal("high_low should be valid")
	}
	// Window is [5,3,4] with High = close+0.5.
	if v != 5.5 {
		t.Errorf("high_low high = %v, want 5.5", v)
	}
	if got := ind.State()["low"]; got != 2.5 {
		t.Errorf("high_low low = %v, want 2.5", got)
	}
}

func TestSwing(t *testing.T) {
	ind := mustNew(t, Config{Name: "swing", Period: 1, Interval: interval.MustParse("1m")})
	// Closes 1,3,2,4,3: highs 1.5,3.5,2.5,4.5,3.5. Swing highs with N=1 at
	// index 1 (3.5 > 1.5, 2.5) and index 3 (4.5 > 2.5, 3.5); most recent is
	// 4.5.
	v, valid := ind.Update(barsFromCloses(1, 3, 2, 4, 3))
	if !valid || v != 4.5 {
		t.Errorf("swing high = %v/%v, want 4.5/true", v, valid)
	}
}
