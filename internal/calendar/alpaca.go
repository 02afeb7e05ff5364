package calendar

import (
	"fmt"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// AlpacaService is the live Service. Now follows wall time in the exchange
// timezone; trading days and market hours come from the Alpaca trading
// calendar API, cached per date range.
type AlpacaService struct {
	client *alpaca.Client
	loc    *time.Location

	mu   sync.Mutex
	days map[string]TradingSession // "2006-01-02" → session
}

var _ Service = (*AlpacaService)(nil)

// NewAlpacaService creates an AlpacaService with the given credentials. The
// base URL is the live trading API, which hosts the calendar endpoint.
func NewAlpacaService(apiKey, apiSecret, baseURL string, loc *time.Location) *AlpacaService {
	return &AlpacaService{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		loc:  loc,
		days: make(map[string]TradingSession),
	}
}

// Preload fetches and caches the trading calendar for [start, end].
func (s *AlpacaService) Preload(start, end time.Time) error {
	days, err := s.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return fmt.Errorf("GetCalendar: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, day := range days {
		date, err := time.ParseInLocation("2006-01-02", day.Date, s.loc)
		if err != nil {
			continue
		}
		open, errO := time.ParseInLocation("15:04", day.Open, s.loc)
		closeT, errC := time.ParseInLocation("15:04", day.Close, s.loc)
		if errO != nil || errC != nil {
			continue
		}
		sess := TradingSession{
			RegularOpen:  time.Date(date.Year(), date.Month(), date.Day(), open.Hour(), open.Minute(), 0, 0, s.loc),
			RegularClose: time.Date(date.Year(), date.Month(), date.Day(), closeT.Hour(), closeT.Minute(), 0, 0, s.loc),
		}
		sess.IsEarlyClose = closeT.Hour() < 16
		s.days[day.Date] = sess
	}
	return nil
}

func (s *AlpacaService) session(t time.Time) (TradingSession, bool) {
	key := t.In(s.loc).Format("2006-01-02")

	s.mu.Lock()
	sess, ok := s.days[key]
	s.mu.Unlock()
	if ok {
		return sess, true
	}

	// Cache miss: fetch a week around the date and retry once.
	if err := s.Preload(t.AddDate(0, 0, -1), t.AddDate(0, 0, 7)); err != nil {
		return TradingSession{}, false
	}
	s.mu.Lock()
	sess, ok = s.days[key]
	s.mu.Unlock()
	return sess, ok
}

// Now returns the wall clock in the exchange timezone.
func (s *AlpacaService) Now() time.Time { return time.Now().In(s.loc) }

// SetVirtualTime is a no-op in live mode.
func (s *AlpacaService) SetVirtualTime(time.Time) {}

// Session returns the trading session for the exchange-local date of t.
func (s *AlpacaService) Session(t time.Time) (TradingSession, bool) {
	return s.session(t)
}

// IsTradingDay reports whether the exchange-local date of t is on the Alpaca
// trading calendar.
func (s *AlpacaService) IsTradingDay(t time.Time) bool {
	_, ok := s.session(t)
	return ok
}

// MarketHours returns the session open and close for the date of t.
func (s *AlpacaService) MarketHours(t time.Time) (time.Time, time.Time, bool) {
	sess, ok := s.session(t)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return sess.RegularOpen, sess.RegularClose, true
}

// CountTradingDays counts calendar-listed trading days in [a, b] inclusive.
func (s *AlpacaService) CountTradingDays(a, b time.Time) int {
	la, lb := a.In(s.loc), b.In(s.loc)
	n := 0
	for d := time.Date(la.Year(), la.Month(), la.Day(), 0, 0, 0, 0, s.loc); !d.After(lb); d = d.AddDate(0, 0, 1) {
		if s.IsTradingDay(d) {
			n++
		}
	}
	return n
}

// NextTradingDay returns the first trading day strictly after t.
func (s *AlpacaService) NextTradingDay(t time.Time) time.Time {
	lt := t.In(s.loc)
	d := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc)
	for i := 0; i < 30; i++ {
		d = d.AddDate(0, 0, 1)
		if s.IsTradingDay(d) {
			return d
		}
	}
	return d
}

// Location returns the exchange timezone.
func (s *AlpacaService) Location() *time.Location { return s.loc }
