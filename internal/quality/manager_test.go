package quality

import (
	"context"
	"testing"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/calendar"
	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/session"
)

var (
	iv1m = interval.MustParse("1m")
	iv5m = interval.MustParse("5m")
	iv1d = interval.MustParse("1d")
)

func newFixture(t *testing.T, base interval.Interval) (*Manager, *session.Data, *calendar.SimService) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 6, 5, 9, 30, 0, 0, loc)
	cal := calendar.NewSimService(loc, start)

	data := session.New()
	if err := data.RegisterSymbol("AAPL", base, session.Metadata{AddedBy: domain.AddedByConfig}); err != nil {
		t.Fatal(err)
	}
	data.ActivateSession()

	m := NewManager(data, cal, Config{QueueSize: 8, Throttle: time.Hour}, nil)
	return m, data, cal
}

func appendMinuteBars(t *testing.T, data *session.Data, loc *time.Location, minutes ...int) time.Time {
	t.Helper()
	var last time.Time
	for _, min := range minutes {
		ts := time.Date(2024, 6, 5, 9, 30, 0, 0, loc).Add(time.Duration(min) * time.Minute)
		b := domain.Bar{Symbol: "AAPL", Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000}
		if err := data.AppendBar("AAPL", iv1m, b); err != nil {
			t.Fatalf("AppendBar(+%dm): %v", min, err)
		}
		last = ts
	}
	return last
}

func TestIntradayFullQuality(t *testing.T) {
	m, data, cal := newFixture(t, iv1m)
	last := appendMinuteBars(t, data, cal.Location(), 0, 1, 2)

	if err := m.Compute("AAPL", iv1m, last); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	q, err := data.Quality("AAPL", iv1m)
	if err != nil || q != 100 {
		t.Errorf("quality = %v, %v; want 100", q, err)
	}
	gaps, _ := data.Gaps("AAPL", iv1m)
	if len(gaps) != 0 {
		t.Errorf("gaps = %v, want none", gaps)
	}
}

func TestIntradayGapDetection(t *testing.T) {
	m, data, cal := newFixture(t, iv1m)
	// Bars at 09:30, 09:31, then 09:35: three missing (32, 33, 34).
	last := appendMinuteBars(t, data, cal.Location(), 0, 1, 5)

	if err := m.Compute("AAPL", iv1m, last); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	q, _ := data.Quality("AAPL", iv1m)
	want := 3.0 / 6.0 * 100
	if q != want {
		t.Errorf("quality = %v, want %v", q, want)
	}

	gaps, _ := data.Gaps("AAPL", iv1m)
	if len(gaps) != 1 {
		t.Fatalf("gaps = %v, want one range", gaps)
	}
	g := gaps[0]
	loc := cal.Location()
	if g.MissingCount != 3 {
		t.Errorf("missing = %d, want 3", g.MissingCount)
	}
	if !g.StartTime.Equal(time.Date(2024, 6, 5, 9, 32, 0, 0, loc)) {
		t.Errorf("gap start = %v", g.StartTime)
	}
	if !g.EndTime.Equal(time.Date(2024, 6, 5, 9, 34, 0, 0, loc)) {
		t.Errorf("gap end = %v", g.EndTime)
	}
}

func TestIntradayLeadingGap(t *testing.T) {
	m, data, cal := newFixture(t, iv1m)
	// First bar at 09:32: two missing from the open.
	last := appendMinuteBars(t, data, cal.Location(), 2, 3)

	if err := m.Compute("AAPL", iv1m, last); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	gaps, _ := data.Gaps("AAPL", iv1m)
	if len(gaps) != 1 || gaps[0].MissingCount != 2 {
		t.Fatalf("gaps = %v, want leading gap of 2", gaps)
	}
	if !gaps[0].StartTime.Equal(time.Date(2024, 6, 5, 9, 30, 0, 0, cal.Location())) {
		t.Errorf("leading gap must start at the open, got %v", gaps[0].StartTime)
	}
	q, _ := data.Quality("AAPL", iv1m)
	if q != 50 {
		t.Errorf("quality = %v, want 50", q)
	}
}

func TestDerivedInheritsBaseQuality(t *testing.T) {
	m, data, cal := newFixture(t, iv1m)
	if err := data.AddInterval("AAPL", iv5m); err != nil {
		t.Fatal(err)
	}
	last := appendMinuteBars(t, data, cal.Location(), 0, 1, 5)

	if err := m.Compute("AAPL", iv1m, last); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	qBase, _ := data.Quality("AAPL", iv1m)
	qDerived, _ := data.Quality("AAPL", iv5m)
	if qDerived != qBase {
		t.Errorf("derived quality = %v, base = %v; must match", qDerived, qBase)
	}
}

func TestDailyTradingDaySemantics(t *testing.T) {
	m, data, cal := newFixture(t, iv1d)
	loc := cal.Location()
	// Wed 5th, Thu 6th missing, Fri 7th present. Weekend skipped, Mon 10th.
	for _, day := range []int{5, 7, 10} {
		b := domain.Bar{
			Symbol:    "AAPL",
			Timestamp: time.Date(2024, 6, day, 16, 0, 0, 0, loc),
			Open:      100, High: 101, Low: 99, Close: 100, Volume: 1,
		}
		if err := data.AppendBar("AAPL", iv1d, b); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.Compute("AAPL", iv1d, time.Date(2024, 6, 10, 16, 0, 0, 0, loc)); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	q, _ := data.Quality("AAPL", iv1d)
	// 3 of 4 trading days (5, 6, 7, 10) present.
	if q != 75 {
		t.Errorf("daily quality = %v, want 75", q)
	}
	gaps, _ := data.Gaps("AAPL", iv1d)
	if len(gaps) != 1 || gaps[0].MissingCount != 1 {
		t.Fatalf("daily gaps = %v, want one missing trading day", gaps)
	}
	if gaps[0].StartTime.Day() != 6 {
		t.Errorf("gap day = %v, want June 6", gaps[0].StartTime)
	}
}

func TestNotifyFiltersAndBounds(t *testing.T) {
	m, _, _ := newFixture(t, iv1m)

	if m.Notify(Notification{Symbol: "AAPL", Interval: iv5m}) {
		t.Error("derived interval notification must be rejected")
	}
	if m.Notify(Notification{Symbol: "AAPL", Interval: interval.MustParse("quotes")}) {
		t.Error("quotes notification must be rejected")
	}

	// Queue holds 8; further notifications drop instead of blocking.
	for i := 0; i < 8; i++ {
		if !m.Notify(Notification{Symbol: "AAPL", Interval: iv1m}) {
			t.Fatalf("notification %d should have been accepted", i)
		}
	}
	if m.Notify(Notification{Symbol: "AAPL", Interval: iv1m}) {
		t.Error("notification beyond queue capacity should drop")
	}
}

func TestRunDrainsQueue(t *testing.T) {
	m, data, cal := newFixture(t, iv1m)
	last := appendMinuteBars(t, data, cal.Location(), 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	if !m.Notify(Notification{Symbol: "AAPL", Interval: iv1m, Timestamp: last}) {
		t.Fatal("notify failed")
	}

	deadline := time.After(2 * time.Second)
	for {
		q, err := data.Quality("AAPL", iv1m)
		if err == nil && q == 100 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("quality not computed by Run loop, q=%v", q)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestFailedGapsLiveRetryState(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	cal := calendar.NewSimService(loc, time.Date(2024, 6, 5, 9, 30, 0, 0, loc))
	data := session.New()
	if err := data.RegisterSymbol("AAPL", iv1m, session.Metadata{}); err != nil {
		t.Fatal(err)
	}
	data.ActivateSession()
	m := NewManager(data, cal, Config{Live: true}, nil)

	last := appendMinuteBars(t, data, loc, 0, 5)
	if err := m.Compute("AAPL", iv1m, last); err != nil {
		t.Fatal(err)
	}
	failed := m.FailedGaps()
	if len(failed["AAPL|1m"]) != 1 {
		t.Fatalf("failed gaps = %v, want one for AAPL|1m", failed)
	}
	m.ClearFailedGaps("AAPL|1m")
	if len(m.FailedGaps()) != 0 {
		t.Error("ClearFailedGaps should drop the record")
	}
}
