package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
)

func etLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("loading ET timezone: %v", err)
	}
	return loc
}

func TestLayoutPaths(t *testing.T) {
	loc := etLoc(t)
	l := NewLayout("/data", "US_EQUITY", loc)
	ts := time.Date(2024, 6, 5, 9, 30, 0, 0, loc)

	// Sub-daily interval → daily file.
	got := l.BarPath(interval.MustParse("1m"), "aapl", ts)
	want := filepath.Join("/data", "US_EQUITY", "bars", "1m", "AAPL", "2024", "06", "05.parquet")
	if got != want {
		t.Errorf("BarPath 1m mismatch:\n  got  %s\n  want %s", got, want)
	}

	// Daily interval → yearly file.
	got = l.BarPath(interval.MustParse("1d"), "AAPL", ts)
	want = filepath.Join("/data", "US_EQUITY", "bars", "1d", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("BarPath 1d mismatch:\n  got  %s\n  want %s", got, want)
	}

	// Weekly interval → yearly file.
	got = l.BarPath(interval.MustParse("1w"), "AAPL", ts)
	want = filepath.Join("/data", "US_EQUITY", "bars", "1w", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("BarPath 1w mismatch:\n  got  %s\n  want %s", got, want)
	}

	// Quotes → daily file.
	got = l.QuotePath("msft", ts)
	want = filepath.Join("/data", "US_EQUITY", "quotes", "MSFT", "2024", "06", "05.parquet")
	if got != want {
		t.Errorf("QuotePath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestLayoutExchangeLocalDayGrouping(t *testing.T) {
	loc := etLoc(t)
	l := NewLayout("/data", "US_EQUITY", loc)

	// 2024-06-05 20:30 ET is 2024-06-06 00:30 UTC. The file must be grouped
	// under the ET day, not the UTC day.
	ts := time.Date(2024, 6, 6, 0, 30, 0, 0, time.UTC)
	got := l.BarPath(interval.MustParse("1m"), "AAPL", ts)
	want := filepath.Join("/data", "US_EQUITY", "bars", "1m", "AAPL", "2024", "06", "05.parquet")
	if got != want {
		t.Errorf("exchange-local grouping mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestLayoutBarPaths(t *testing.T) {
	loc := etLoc(t)
	l := NewLayout("/data", "US_EQUITY", loc)

	start := time.Date(2024, 6, 5, 9, 30, 0, 0, loc)
	end := time.Date(2024, 6, 7, 16, 0, 0, 0, loc)

	daily := l.BarPaths(interval.MustParse("1m"), "AAPL", start, end)
	if len(daily) != 3 {
		t.Fatalf("BarPaths 1m returned %d paths, want 3", len(daily))
	}

	yearly := l.BarPaths(interval.MustParse("1d"), "AAPL",
		time.Date(2023, 11, 1, 0, 0, 0, 0, loc), end)
	if len(yearly) != 2 {
		t.Fatalf("BarPaths 1d returned %d paths, want 2 (2023, 2024)", len(yearly))
	}
}

func TestParquetSourceWriteReadBars(t *testing.T) {
	loc := etLoc(t)
	src := NewParquetSource(NewLayout(t.TempDir(), "US_EQUITY", loc))
	ctx := context.Background()
	iv := interval.MustParse("1m")

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 5, 9, 30, 0, 0, loc), Open: 185, High: 186.5, Low: 184, Close: 185.5, Volume: 1000},
		{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 5, 9, 31, 0, 0, loc), Open: 185.5, High: 187, Low: 185, Close: 186, Volume: 800},
		{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 6, 9, 30, 0, 0, loc), Open: 186, High: 188, Low: 186, Close: 187.5, Volume: 1200},
	}

	if err := src.WriteBars(ctx, bars, iv, "AAPL"); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := src.ReadBars(ctx, iv, "AAPL",
		time.Date(2024, 6, 5, 0, 0, 0, 0, loc),
		time.Date(2024, 6, 6, 23, 59, 0, 0, loc))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadBars returned %d bars, want 3", len(got))
	}
	for i := range bars {
		if !got[i].Timestamp.Equal(bars[i].Timestamp) {
			t.Errorf("bar %d timestamp = %v, want %v", i, got[i].Timestamp, bars[i].Timestamp)
		}
		if got[i].Open != bars[i].Open || got[i].High != bars[i].High ||
			got[i].Low != bars[i].Low || got[i].Close != bars[i].Close ||
			got[i].Volume != bars[i].Volume {
			t.Errorf("bar %d round-trip mismatch: got %+v want %+v", i, got[i], bars[i])
		}
	}

	// Window filter: only the first day.
	got, err = src.ReadBars(ctx, iv, "AAPL",
		time.Date(2024, 6, 5, 0, 0, 0, 0, loc),
		time.Date(2024, 6, 5, 23, 59, 0, 0, loc))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("windowed ReadBars returned %d bars, want 2", len(got))
	}
}

func TestParquetSourceMergeOnRewrite(t *testing.T) {
	loc := etLoc(t)
	src := NewParquetSource(NewLayout(t.TempDir(), "US_EQUITY", loc))
	ctx := context.Background()
	iv := interval.MustParse("1d")

	first := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 5, 0, 0, 0, 0, loc), Close: 185},
	}
	second := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 5, 0, 0, 0, 0, loc), Close: 186}, // same day, new value wins
		{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 6, 0, 0, 0, 0, loc), Close: 187},
	}

	if err := src.WriteBars(ctx, first, iv, "AAPL"); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	if err := src.WriteBars(ctx, second, iv, "AAPL"); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := src.ReadBars(ctx, iv, "AAPL",
		time.Date(2024, 1, 1, 0, 0, 0, 0, loc),
		time.Date(2024, 12, 31, 0, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("merged read returned %d bars, want 2", len(got))
	}
	if got[0].Close != 186 {
		t.Errorf("merge should prefer incoming record: Close = %v, want 186", got[0].Close)
	}
}

func TestParquetSourceHasData(t *testing.T) {
	loc := etLoc(t)
	src := NewParquetSource(NewLayout(t.TempDir(), "US_EQUITY", loc))
	ctx := context.Background()
	iv := interval.MustParse("1m")
	day := time.Date(2024, 6, 5, 0, 0, 0, 0, loc)

	ok, err := src.HasData(ctx, "AAPL", iv, day, day.Add(24*time.Hour))
	if err != nil || ok {
		t.Errorf("HasData on empty store = %v, %v; want false, nil", ok, err)
	}

	bars := []domain.Bar{{Symbol: "AAPL", Timestamp: day.Add(9*time.Hour + 30*time.Minute), Close: 1}}
	if err := src.WriteBars(ctx, bars, iv, "AAPL"); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	ok, err = src.HasData(ctx, "AAPL", iv, day, day.Add(24*time.Hour))
	if err != nil || !ok {
		t.Errorf("HasData after write = %v, %v; want true, nil", ok, err)
	}
}

func TestSQLiteJournal(t *testing.T) {
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		err := j.AppendEvent(ctx, EventRow{
			RunID:  "run-1",
			Seq:    int64(i),
			Time:   now,
			Type:   "phase_start",
			Detail: "phase 2",
		})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := j.ListEvents(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("ListEvents returned %d rows, want 3", len(events))
	}
	if events[0].Seq != 0 || events[2].Seq != 2 {
		t.Errorf("events not ordered by seq: %+v", events)
	}

	qrows := []QualityRow{
		{RunID: "run-1", Date: "2024-06-05", Symbol: "AAPL", Interval: "1m", Quality: 100, GapCount: 0},
		{RunID: "run-1", Date: "2024-06-05", Symbol: "AAPL", Interval: "5m", Quality: 100, GapCount: 0},
	}
	if err := j.WriteQualitySummary(ctx, qrows); err != nil {
		t.Fatalf("WriteQualitySummary: %v", err)
	}

	got, err := j.QualitySummary(ctx, "run-1", "2024-06-05")
	if err != nil {
		t.Fatalf("QualitySummary: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("QualitySummary returned %d rows, want 2", len(got))
	}
	if got[0].Interval != "1m" || got[0].Quality != 100 {
		t.Errorf("unexpected quality row: %+v", got[0])
	}
}
