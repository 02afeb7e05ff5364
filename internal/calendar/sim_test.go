package calendar

import (
	"testing"
	"time"
)

func nyLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("loading ET timezone: %v", err)
	}
	return loc
}

func TestSimServiceVirtualClock(t *testing.T) {
	loc := nyLoc(t)
	start := time.Date(2024, 6, 10, 9, 30, 0, 0, loc)
	svc := NewSimService(loc, start)

	if !svc.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", svc.Now(), start)
	}

	next := start.Add(time.Minute)
	svc.SetVirtualTime(next)
	if !svc.Now().Equal(next) {
		t.Errorf("Now() after SetVirtualTime = %v, want %v", svc.Now(), next)
	}
}

func TestSimServiceTradingDays(t *testing.T) {
	loc := nyLoc(t)
	svc := NewSimService(loc, time.Date(2024, 6, 10, 0, 0, 0, 0, loc))

	// 2024-06-10 is a Monday, 2024-06-08 a Saturday.
	if !svc.IsTradingDay(time.Date(2024, 6, 10, 12, 0, 0, 0, loc)) {
		t.Error("Monday should be a trading day")
	}
	if svc.IsTradingDay(time.Date(2024, 6, 8, 12, 0, 0, 0, loc)) {
		t.Error("Saturday should not be a trading day")
	}

	holiday := time.Date(2024, 6, 19, 0, 0, 0, 0, loc) // Juneteenth, a Wednesday
	svc.AddHoliday(holiday)
	if svc.IsTradingDay(holiday) {
		t.Error("holiday should not be a trading day")
	}

	// Mon 2024-06-17 through Fri 2024-06-21 minus the Wednesday holiday.
	got := svc.CountTradingDays(
		time.Date(2024, 6, 17, 0, 0, 0, 0, loc),
		time.Date(2024, 6, 21, 0, 0, 0, 0, loc),
	)
	if got != 4 {
		t.Errorf("CountTradingDays = %d, want 4", got)
	}

	// Next trading day after the Tuesday skips the holiday to Thursday.
	next := svc.NextTradingDay(time.Date(2024, 6, 18, 15, 0, 0, 0, loc))
	want := time.Date(2024, 6, 20, 0, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("NextTradingDay = %v, want %v", next, want)
	}
}

func TestSimServiceMarketHours(t *testing.T) {
	loc := nyLoc(t)
	svc := NewSimService(loc, time.Date(2024, 6, 10, 0, 0, 0, 0, loc))

	open, closeT, ok := svc.MarketHours(time.Date(2024, 6, 10, 12, 0, 0, 0, loc))
	if !ok {
		t.Fatal("expected market hours on a Monday")
	}
	if open.Hour() != 9 || open.Minute() != 30 {
		t.Errorf("open = %v, want 09:30", open)
	}
	if closeT.Hour() != 16 || closeT.Minute() != 0 {
		t.Errorf("close = %v, want 16:00", closeT)
	}

	early := time.Date(2024, 11, 29, 0, 0, 0, 0, loc) // day after Thanksgiving
	svc.AddEarlyClose(early)
	sess, ok := svc.Session(early)
	if !ok {
		t.Fatal("early-close day is still a trading day")
	}
	if !sess.IsEarlyClose || sess.RegularClose.Hour() != 13 {
		t.Errorf("early close session = %+v, want 13:00 close", sess)
	}

	if _, _, ok := svc.MarketHours(time.Date(2024, 6, 9, 0, 0, 0, 0, loc)); ok {
		t.Error("no market hours expected on a Sunday")
	}
}
