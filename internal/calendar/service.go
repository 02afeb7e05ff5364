// Package calendar provides the time service consumed by the engine: the
// current virtual or wall clock, trading-day arithmetic, and exchange-local
// market hours. The engine never constructs zoned datetimes itself; every
// timestamp flows through a Service.
package calendar

import "time"

// TradingSession describes one exchange trading day.
type TradingSession struct {
	RegularOpen  time.Time
	RegularClose time.Time
	IsHoliday    bool
	IsEarlyClose bool
}

// Service is the time and calendar contract. Backtest implementations run a
// virtual clock advanced by the coordinator; live implementations follow wall
// time.
type Service interface {
	// Now returns the current time: virtual in backtest, wall in live.
	Now() time.Time

	// SetVirtualTime advances the virtual clock. Live implementations ignore
	// it.
	SetVirtualTime(t time.Time)

	// Session returns the trading session for the exchange-local date of t,
	// or false when the date is not a trading day.
	Session(t time.Time) (TradingSession, bool)

	// IsTradingDay reports whether the exchange-local date of t is a trading
	// day.
	IsTradingDay(t time.Time) bool

	// CountTradingDays counts trading days in [a, b] inclusive.
	CountTradingDays(a, b time.Time) int

	// NextTradingDay returns the first trading day strictly after t.
	NextTradingDay(t time.Time) time.Time

	// MarketHours returns the session open and close datetimes in the
	// exchange timezone, or false when the date is not a trading day.
	MarketHours(t time.Time) (open, close time.Time, ok bool)

	// Location returns the exchange timezone.
	Location() *time.Location
}

// LocationFor maps an exchange group to its timezone. The exchange group is
// also the root directory of the Parquet layout.
func LocationFor(exchangeGroup string) (*time.Location, error) {
	switch exchangeGroup {
	case "CN_EQUITY":
		return time.LoadLocation("Asia/Shanghai")
	default:
		// US_EQUITY and anything unrecognised: NYSE hours.
		return time.LoadLocation("America/New_York")
	}
}
