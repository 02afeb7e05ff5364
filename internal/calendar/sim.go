package calendar

import (
	"sync"
	"time"
)

// SimService is the backtest Service: a mutex-guarded virtual clock over a
// weekday calendar with injectable holidays and early closes. Regular hours
// are 9:30-16:00 exchange-local; early closes end at 13:00.
type SimService struct {
	loc *time.Location

	mu      sync.Mutex
	virtual time.Time

	holidays    map[string]bool // "2006-01-02" keys, exchange-local dates
	earlyCloses map[string]bool
}

var _ Service = (*SimService)(nil)

// NewSimService creates a SimService in the given timezone with the virtual
// clock at start.
func NewSimService(loc *time.Location, start time.Time) *SimService {
	return &SimService{
		loc:         loc,
		virtual:     start.In(loc),
		holidays:    make(map[string]bool),
		earlyCloses: make(map[string]bool),
	}
}

// AddHoliday marks an exchange-local date as a full-day holiday.
func (s *SimService) AddHoliday(date time.Time) {
	s.holidays[date.In(s.loc).Format("2006-01-02")] = true
}

// AddEarlyClose marks an exchange-local date as a 13:00 early close.
func (s *SimService) AddEarlyClose(date time.Time) {
	s.earlyCloses[date.In(s.loc).Format("2006-01-02")] = true
}

// Now returns the current virtual time.
func (s *SimService) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.virtual
}

// SetVirtualTime advances the virtual clock.
func (s *SimService) SetVirtualTime(t time.Time) {
	s.mu.Lock()
	s.virtual = t.In(s.loc)
	s.mu.Unlock()
}

// IsTradingDay reports whether the exchange-local date of t is a weekday and
// not a holiday.
func (s *SimService) IsTradingDay(t time.Time) bool {
	lt := t.In(s.loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !s.holidays[lt.Format("2006-01-02")]
}

// Session returns the trading session for the exchange-local date of t.
func (s *SimService) Session(t time.Time) (TradingSession, bool) {
	lt := t.In(s.loc)
	key := lt.Format("2006-01-02")
	if s.holidays[key] {
		return TradingSession{IsHoliday: true}, false
	}
	if !s.IsTradingDay(lt) {
		return TradingSession{}, false
	}

	open := time.Date(lt.Year(), lt.Month(), lt.Day(), 9, 30, 0, 0, s.loc)
	closeH, closeM := 16, 0
	early := s.earlyCloses[key]
	if early {
		closeH, closeM = 13, 0
	}
	return TradingSession{
		RegularOpen:  open,
		RegularClose: time.Date(lt.Year(), lt.Month(), lt.Day(), closeH, closeM, 0, 0, s.loc),
		IsEarlyClose: early,
	}, true
}

// MarketHours returns the open and close datetimes for the date of t.
func (s *SimService) MarketHours(t time.Time) (time.Time, time.Time, bool) {
	sess, ok := s.Session(t)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return sess.RegularOpen, sess.RegularClose, true
}

// CountTradingDays counts trading days in [a, b] inclusive.
func (s *SimService) CountTradingDays(a, b time.Time) int {
	la, lb := a.In(s.loc), b.In(s.loc)
	if lb.Before(la) {
		return 0
	}
	n := 0
	for d := time.Date(la.Year(), la.Month(), la.Day(), 0, 0, 0, 0, s.loc); !d.After(lb); d = d.AddDate(0, 0, 1) {
		if s.IsTradingDay(d) {
			n++
		}
	}
	return n
}

// NextTradingDay returns the first trading day strictly after t.
func (s *SimService) NextTradingDay(t time.Time) time.Time {
	lt := t.In(s.loc)
	d := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc)
	for {
		d = d.AddDate(0, 0, 1)
		if s.IsTradingDay(d) {
			return d
		}
	}
}

// Location returns the exchange timezone.
func (s *SimService) Location() *time.Location { return s.loc }
