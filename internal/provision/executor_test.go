package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/analyzer"
	"github.com/yohannes916/mismartera-sub002/internal/calendar"
	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/event"
	"github.com/yohannes916/mismartera-sub002/internal/indicator"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/processor"
	"github.com/yohannes916/mismartera-sub002/internal/session"
)

var (
	iv1m = interval.MustParse("1m")
	iv5m = interval.MustParse("5m")
)

// fakeSource serves generated minute bars for known symbols and reports no
// data for anything else.
type fakeSource struct {
	known map[string]bool
}

func (f *fakeSource) HasData(_ context.Context, symbol string, _ interval.Interval, _, _ time.Time) (bool, error) {
	return f.known[symbol], nil
}

func (f *fakeSource) LoadHistoricalBars(_ context.Context, symbol string, iv interval.Interval, start, end time.Time) ([]domain.Bar, error) {
	if !f.known[symbol] {
		return nil, nil
	}
	var bars []domain.Bar
	for i := 0; i < 30; i++ {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      100, High: 101, Low: 99, Close: 100 + float64(i)*0.01, Volume: 100,
		})
	}
	return bars, nil
}

func (f *fakeSource) ReadBars(ctx context.Context, iv interval.Interval, symbol string, start, end time.Time) ([]domain.Bar, error) {
	return f.LoadHistoricalBars(ctx, symbol, iv, start, end)
}

func (f *fakeSource) WriteBars(context.Context, []domain.Bar, interval.Interval, string) error {
	return nil
}

func newFixture(t *testing.T, known ...string) (*Executor, *session.Data, *event.Bus) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	cal := calendar.NewSimService(loc, time.Date(2024, 6, 5, 9, 30, 0, 0, loc))

	data := session.New()
	src := &fakeSource{known: map[string]bool{}}
	for _, s := range known {
		src.known[s] = true
	}
	bus := event.NewBus()
	im := processor.NewIndicatorManager(data, nil)
	return NewExecutor(data, src, cal, im, bus, nil), data, bus
}

func plan(t *testing.T, streams ...string) analyzer.Plan {
	t.Helper()
	ivs := make([]interval.Interval, len(streams))
	for i, s := range streams {
		ivs[i] = interval.MustParse(s)
	}
	p, err := analyzer.Analyze(analyzer.Request{Streams: ivs})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBatchDropsFailedSymbolAndContinues(t *testing.T) {
	e, data, bus := newFixture(t, "AAPL", "MSFT")
	_, events := bus.Subscribe(16)

	asOf := time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)
	admitted, err := e.ProvisionBatch(context.Background(),
		[]string{"AAPL", "INVALID", "MSFT"}, plan(t, "1m", "5m"), nil, nil, domain.AddedByConfig, asOf)
	if err != nil {
		t.Fatalf("ProvisionBatch: %v", err)
	}
	if len(admitted) != 2 {
		t.Fatalf("admitted = %v, want AAPL and MSFT", admitted)
	}
	if data.HasSymbol("INVALID") {
		t.Error("failed symbol must be absent from session data")
	}
	if !data.HasSymbol("AAPL") || !data.HasSymbol("MSFT") {
		t.Error("surviving symbols must be provisioned")
	}

	var sawFailure bool
	for i := 0; i < 16; i++ {
		select {
		case evt := <-events:
			if evt.Type == event.SymbolFailed && evt.Symbol == "INVALID" {
				sawFailure = true
			}
		default:
		}
	}
	if !sawFailure {
		t.Error("SymbolFailed event for INVALID not emitted")
	}
}

func TestBatchAllFailed(t *testing.T) {
	e, _, _ := newFixture(t)
	asOf := time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)
	_, err := e.ProvisionBatch(context.Background(),
		[]string{"A", "B"}, plan(t, "1m"), nil, nil, domain.AddedByConfig, asOf)
	if !errors.Is(err, domain.ErrAllSymbolsFailed) {
		t.Errorf("all-failed batch error = %v, want ErrAllSymbolsFailed", err)
	}
}

func TestAdhocBarAutoProvisions(t *testing.T) {
	e, data, _ := newFixture(t)

	bar := domain.Bar{
		Symbol:    "TSLA",
		Timestamp: time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC),
		Open:      200, High: 201, Low: 199, Close: 200.5, Volume: 500,
	}
	if err := e.ProvisionAdhocBar(context.Background(), "TSLA", iv1m, bar); err != nil {
		t.Fatalf("ProvisionAdhocBar: %v", err)
	}

	meta, err := data.Meta("TSLA")
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta.MeetsSessionConfigRequirements {
		t.Error("adhoc symbol must not meet session config requirements")
	}
	if meta.AddedBy != domain.AddedByAdhoc || !meta.AutoProvisioned {
		t.Errorf("adhoc metadata = %+v", meta)
	}
	bars, _ := data.BarsRef("TSLA", iv1m, true)
	if len(bars) != 1 {
		t.Errorf("adhoc bar count = %d, want 1", len(bars))
	}
}

func TestAdhocUpgradePreservesBars(t *testing.T) {
	e, data, _ := newFixture(t, "TSLA")

	loc, _ := time.LoadLocation("America/New_York")
	at1200 := time.Date(2024, 6, 5, 12, 0, 0, 0, loc)
	bar := domain.Bar{Symbol: "TSLA", Timestamp: at1200, Open: 200, High: 201, Low: 199, Close: 200.5, Volume: 500}
	if err := e.ProvisionAdhocBar(context.Background(), "TSLA", iv1m, bar); err != nil {
		t.Fatal(err)
	}

	// Strategy requests the full add five minutes later.
	asOf := at1200.Add(5 * time.Minute)
	sessionInd := []indicator.Config{{Name: "sma", Period: 20, Interval: iv1m}}
	admitted, err := e.ProvisionBatch(context.Background(),
		[]string{"TSLA"}, plan(t, "1m", "5m"), sessionInd, nil, domain.AddedByStrategy, asOf)
	if err != nil || len(admitted) != 1 {
		t.Fatalf("upgrade batch = %v, %v", admitted, err)
	}

	meta, _ := data.Meta("TSLA")
	if !meta.MeetsSessionConfigRequirements || !meta.UpgradedFromAdhoc {
		t.Errorf("upgrade metadata = %+v", meta)
	}
	if meta.AddedBy != domain.AddedByStrategy {
		t.Errorf("added_by after upgrade = %s, want strategy", meta.AddedBy)
	}

	// The pre-existing noon bar survives the upgrade.
	bars, _ := data.BarsRef("TSLA", iv1m, true)
	if len(bars) != 1 || !bars[0].Timestamp.Equal(at1200) {
		t.Errorf("bars after upgrade = %v, noon bar must be preserved", bars)
	}

	// The missing derived interval and indicator were filled in.
	ivs, _ := data.Intervals("TSLA")
	if len(ivs) != 2 {
		t.Errorf("intervals after upgrade = %v, want base + 5m", ivs)
	}
	if _, err := data.Indicator("TSLA", "sma_20_1m"); err != nil {
		t.Errorf("indicator not registered on upgrade: %v", err)
	}
}

func TestAlreadyProvisionedShortCircuits(t *testing.T) {
	e, _, _ := newFixture(t, "AAPL")
	asOf := time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)

	if _, err := e.ProvisionBatch(context.Background(),
		[]string{"AAPL"}, plan(t, "1m"), nil, nil, domain.AddedByConfig, asOf); err != nil {
		t.Fatal(err)
	}
	// Second add of the same fully-provisioned symbol is a no-op, not an
	// error.
	admitted, err := e.ProvisionBatch(context.Background(),
		[]string{"AAPL"}, plan(t, "1m"), nil, nil, domain.AddedByStrategy, asOf)
	if err != nil || len(admitted) != 1 {
		t.Errorf("repeat add = %v, %v; want short-circuit success", admitted, err)
	}
}

func TestHistoricalLoadSeedsWarmup(t *testing.T) {
	e, data, _ := newFixture(t, "AAPL")
	asOf := time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)

	p, err := analyzer.Analyze(analyzer.Request{
		Streams: []interval.Interval{iv1m},
		Session: []indicator.Config{{Name: "sma", Period: 20, Interval: iv1m}},
	})
	if err != nil {
		t.Fatal(err)
	}
	admitted, err := e.ProvisionBatch(context.Background(), []string{"AAPL"}, p,
		[]indicator.Config{{Name: "sma", Period: 20, Interval: iv1m}}, nil, domain.AddedByConfig, asOf)
	if err != nil || len(admitted) != 1 {
		t.Fatalf("batch = %v, %v", admitted, err)
	}

	dates, err := data.HistoricalDates("AAPL", iv1m)
	if err != nil || len(dates) == 0 {
		t.Fatalf("historical dates = %v, %v; want seeded history", dates, err)
	}
	rec, err := data.Indicator("AAPL", "sma_20_1m")
	if err != nil {
		t.Fatalf("Indicator: %v", err)
	}
	if !rec.Valid {
		t.Error("sma should be valid after a 30-bar warmup replay")
	}
}
