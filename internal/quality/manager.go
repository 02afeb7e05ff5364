// Package quality scores per-(symbol, interval) data completeness and
// detects gaps. The coordinator notifies the manager after base-interval
// appends through a small bounded queue; scores and gap ranges are written
// back into the session state, and derived intervals inherit the quality of
// their base.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/calendar"
	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/session"
)

// Notification asks for a recompute of one (symbol, interval) as of a bar
// timestamp. Only base intervals are notified; derived intervals are updated
// by propagation.
type Notification struct {
	Symbol    string
	Interval  interval.Interval
	Timestamp time.Time
}

// Manager computes quality scores and gap ranges.
type Manager struct {
	data *session.Data
	cal  calendar.Service
	log  *slog.Logger

	queue    chan Notification
	throttle time.Duration
	live     bool

	mu         sync.Mutex
	lastCalc   map[string]time.Time
	failedGaps map[string][]domain.GapInfo
}

// Config for the manager. QueueSize and Throttle fall back to small defaults
// when zero.
type Config struct {
	QueueSize int
	Throttle  time.Duration
	Live      bool
}

func NewManager(data *session.Data, cal calendar.Service, cfg Config, log *slog.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		data:       data,
		cal:        cal,
		log:        log,
		queue:      make(chan Notification, cfg.QueueSize),
		throttle:   cfg.Throttle,
		live:       cfg.Live,
		lastCalc:   map[string]time.Time{},
		failedGaps: map[string][]domain.GapInfo{},
	}
}

// Notify enqueues a recompute request. Non-blocking: a full queue drops the
// request (a later append will trigger another). Non-base intervals are
// rejected since derived quality is inherited, never computed.
func (m *Manager) Notify(n Notification) bool {
	if !n.Interval.IsBase() || n.Interval.IsQuotes() {
		return false
	}
	select {
	case m.queue <- n:
		return true
	default:
		return false
	}
}

// Run drains the notification queue until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-m.queue:
			if m.throttled(n) {
				continue
			}
			if err := m.Compute(n.Symbol, n.Interval, n.Timestamp); err != nil {
				m.log.Warn("quality compute failed",
					"symbol", n.Symbol, "interval", n.Interval.String(), "err", err)
			}
		}
	}
}

func (m *Manager) throttled(n Notification) bool {
	key := n.Symbol + "|" + n.Interval.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if last, ok := m.lastCalc[key]; ok && now.Sub(last) < m.throttle {
		return true
	}
	m.lastCalc[key] = now
	return false
}

// Compute scores one (symbol, interval) as of the given virtual time and
// writes quality and gaps into the session state. It then propagates the
// score to every derived interval of the symbol whose source is this one.
func (m *Manager) Compute(symbol string, iv interval.Interval, asOf time.Time) error {
	bars, err := m.data.BarsRef(symbol, iv, true)
	if err != nil {
		return err
	}

	var (
		quality float64
		gaps    []domain.GapInfo
	)
	switch {
	case iv.IsSubDaily():
		quality, gaps = m.scoreIntraday(iv, bars, asOf)
	case iv.Unit == interval.UnitDay:
		quality, gaps = m.scoreDaily(bars)
	case iv.Unit == interval.UnitWeek:
		quality = m.scoreWeekly(bars)
	default:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInterval, iv)
	}

	if err := m.data.SetQuality(symbol, iv, quality); err != nil {
		return err
	}
	if err := m.data.SetGaps(symbol, iv, gaps); err != nil {
		return err
	}
	if m.live {
		m.recordFailedGaps(symbol, iv, gaps)
	}

	return m.propagate(symbol, iv, quality)
}

// propagate copies the base score onto derived intervals. A derived bar only
// exists when its source period was complete, so the derived series can never
// be better or worse than its base.
func (m *Manager) propagate(symbol string, base interval.Interval, quality float64) error {
	ivs, err := m.data.Intervals(symbol)
	if err != nil {
		return err
	}
	for _, iv := range ivs {
		if iv == base {
			continue
		}
		if err := m.data.SetQuality(symbol, iv, quality); err != nil {
			return err
		}
	}
	return nil
}

// scoreIntraday compares actual bars against the count expected between the
// session open and asOf (capped at the regular close).
func (m *Manager) scoreIntraday(iv interval.Interval, bars []domain.Bar, asOf time.Time) (float64, []domain.GapInfo) {
	if len(bars) == 0 {
		return 0, nil
	}
	period := time.Duration(iv.Seconds()) * time.Second
	loc := m.cal.Location()
	day := bars[0].Timestamp.In(loc)

	sess, ok := m.cal.Session(day)
	if !ok {
		return 0, nil
	}

	end := asOf
	lastLabel := sess.RegularClose.Add(-period)
	if end.After(lastLabel) {
		end = lastLabel
	}
	if end.Before(sess.RegularOpen) {
		return 0, nil
	}
	expected := int(end.Sub(sess.RegularOpen)/period) + 1
	if expected <= 0 {
		return 0, nil
	}

	actual := len(bars)
	quality := float64(actual) / float64(expected) * 100
	if quality > 100 {
		quality = 100
	}

	var gaps []domain.GapInfo
	if first := bars[0].Timestamp; first.After(sess.RegularOpen) {
		missing := int(first.Sub(sess.RegularOpen) / period)
		if missing > 0 {
			gaps = append(gaps, domain.GapInfo{
				StartTime:    sess.RegularOpen,
				EndTime:      first.Add(-period),
				MissingCount: missing,
			})
		}
	}
	for i := 1; i < len(bars); i++ {
		delta := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		if delta <= period {
			continue
		}
		missing := int(delta/period) - 1
		gaps = append(gaps, domain.GapInfo{
			StartTime:    bars[i-1].Timestamp.Add(period),
			EndTime:      bars[i].Timestamp.Add(-period),
			MissingCount: missing,
		})
	}
	return quality, gaps
}

// scoreDaily treats quality as trading-day coverage over the span of the
// series; gaps are runs of missing trading days.
func (m *Manager) scoreDaily(bars []domain.Bar) (float64, []domain.GapInfo) {
	if len(bars) == 0 {
		return 0, nil
	}
	loc := m.cal.Location()
	first := bars[0].Timestamp.In(loc)
	last := bars[len(bars)-1].Timestamp.In(loc)

	expected := m.cal.CountTradingDays(first, last)
	if expected <= 0 {
		return 0, nil
	}
	quality := float64(len(bars)) / float64(expected) * 100
	if quality > 100 {
		quality = 100
	}

	have := make(map[string]bool, len(bars))
	for _, b := range bars {
		have[b.Timestamp.In(loc).Format("2006-01-02")] = true
	}
	var (
		gaps     []domain.GapInfo
		gapStart time.Time
		gapN     int
	)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if !m.cal.IsTradingDay(d) {
			continue
		}
		if have[d.Format("2006-01-02")] {
			if gapN > 0 {
				gaps = append(gaps, domain.GapInfo{
					StartTime:    gapStart,
					EndTime:      d.AddDate(0, 0, -1),
					MissingCount: gapN,
				})
				gapN = 0
			}
			continue
		}
		if gapN == 0 {
			gapStart = d
		}
		gapN++
	}
	if gapN > 0 {
		gaps = append(gaps, domain.GapInfo{
			StartTime:    gapStart,
			EndTime:      last,
			MissingCount: gapN,
		})
	}
	return quality, gaps
}

// scoreWeekly counts a week as expected when it contains any trading day.
func (m *Manager) scoreWeekly(bars []domain.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	loc := m.cal.Location()
	first := weekStart(bars[0].Timestamp.In(loc))
	last := weekStart(bars[len(bars)-1].Timestamp.In(loc))

	expected := 0
	for w := first; !w.After(last); w = w.AddDate(0, 0, 7) {
		for d := 0; d < 7; d++ {
			if m.cal.IsTradingDay(w.AddDate(0, 0, d)) {
				expected++
				break
			}
		}
	}
	if expected <= 0 {
		return 0
	}
	quality := float64(len(bars)) / float64(expected) * 100
	if quality > 100 {
		quality = 100
	}
	return quality
}

// weekStart truncates t to Monday 00:00 in its own location.
func weekStart(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func (m *Manager) recordFailedGaps(symbol string, iv interval.Interval, gaps []domain.GapInfo) {
	key := symbol + "|" + iv.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(gaps) == 0 {
		delete(m.failedGaps, key)
		return
	}
	m.failedGaps[key] = append([]domain.GapInfo(nil), gaps...)
}

// FailedGaps returns the live-mode retry state: gaps still open per
// "symbol|interval" key. The stream layer uses this to schedule backfills.
func (m *Manager) FailedGaps() map[string][]domain.GapInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]domain.GapInfo, len(m.failedGaps))
	for k, v := range m.failedGaps {
		out[k] = append([]domain.GapInfo(nil), v...)
	}
	return out
}

// ClearFailedGaps drops the retry record for one key after a successful
// backfill.
func (m *Manager) ClearFailedGaps(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failedGaps, key)
}
