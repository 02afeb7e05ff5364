// Package coordinator drives the session. It owns the per-(symbol, interval)
// bar queues, the virtual clock, pending mid-session adds, and lag-driven
// session gating. Backtests run the six-phase day lifecycle in a loop; live
// mode feeds the same chronological drain from a streaming transport.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yohannes916/mismartera-sub002/internal/analyzer"
	"github.com/yohannes916/mismartera-sub002/internal/calendar"
	"github.com/yohannes916/mismartera-sub002/internal/config"
	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/event"
	"github.com/yohannes916/mismartera-sub002/internal/indicator"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/metrics"
	"github.com/yohannes916/mismartera-sub002/internal/processor"
	"github.com/yohannes916/mismartera-sub002/internal/provision"
	"github.com/yohannes916/mismartera-sub002/internal/quality"
	"github.com/yohannes916/mismartera-sub002/internal/session"
	"github.com/yohannes916/mismartera-sub002/internal/store"
)

// pendingAdd is a mid-session full add awaiting the next safe point.
type pendingAdd struct {
	symbol  string
	addedBy domain.AddedBy
}

// Coordinator runs one session (backtest window or live day).
type Coordinator struct {
	sessCfg config.Session
	data    *session.Data
	cal     calendar.Service
	source  store.DataSource
	proc    *processor.DataProcessor
	ind     *processor.IndicatorManager
	qm      *quality.Manager
	exec    *provision.Executor
	bus     *event.Bus
	journal *store.SQLiteJournal
	log     *slog.Logger

	runID string
	plan  analyzer.Plan

	sessionInd    []indicator.Config
	historicalInd []indicator.Config

	mu            sync.Mutex
	queues        map[string]*barQueue
	pending       []pendingAdd
	streamPaused  bool
	checkCounters map[string]int
	lagged        map[string]bool
	gatedByLag    bool

	// quiescence is the settle time under the stream_paused gate before
	// mid-session provisioning runs. Shortened in tests.
	quiescence time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a coordinator. The journal may be nil (no persistence of
// events). Phase 0 stream validation happens here: an invalid stream set
// fails construction.
func New(
	sessCfg config.Session,
	data *session.Data,
	cal calendar.Service,
	source store.DataSource,
	proc *processor.DataProcessor,
	ind *processor.IndicatorManager,
	qm *quality.Manager,
	exec *provision.Executor,
	bus *event.Bus,
	journal *store.SQLiteJournal,
	log *slog.Logger,
) (*Coordinator, error) {
	if log == nil {
		log = slog.Default()
	}

	sessionInd, err := indicatorConfigs(sessCfg.Data.Indicators.Session)
	if err != nil {
		return nil, err
	}
	historicalInd, err := indicatorConfigs(sessCfg.Data.Indicators.Historical)
	if err != nil {
		return nil, err
	}

	streams, _, err := analyzer.ParseStreams(sessCfg.Data.Streams)
	if err != nil {
		return nil, err
	}
	req := analyzer.Request{
		Streams:    streams,
		Session:    sessionInd,
		Historical: historicalInd,
	}
	if h := sessCfg.Data.Historical; h != nil && h.Enabled {
		req.TrailingDays = h.TrailingDays
		for _, s := range h.Intervals {
			iv, err := interval.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("historical interval %s: %w", s, err)
			}
			req.TrailingIntervals = append(req.TrailingIntervals, iv)
		}
	}
	plan, err := analyzer.Analyze(req)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		sessCfg:       sessCfg,
		data:          data,
		cal:           cal,
		source:        source,
		proc:          proc,
		ind:           ind,
		qm:            qm,
		exec:          exec,
		bus:           bus,
		journal:       journal,
		log:           log,
		runID:         uuid.NewString(),
		plan:          plan,
		sessionInd:    sessionInd,
		historicalInd: historicalInd,
		queues:        map[string]*barQueue{},
		checkCounters: map[string]int{},
		lagged:        map[string]bool{},
		quiescence:    100 * time.Millisecond,
		stop:          make(chan struct{}),
	}
	exec.QualityHook = func(symbol string, iv interval.Interval, asOf time.Time) error {
		return qm.Compute(symbol, iv, asOf)
	}
	return c, nil
}

// RunID identifies this run in logs and the journal.
func (c *Coordinator) RunID() string { return c.runID }

// Plan exposes the Phase 0 analysis result.
func (c *Coordinator) Plan() analyzer.Plan { return c.plan }

// Stop requests loop exit at the next iteration boundary. Safe to call more
// than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Coordinator) stopped(ctx context.Context) bool {
	select {
	case <-c.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run executes the backtest window day by day. Live mode uses RunDay with a
// streaming feeder instead.
func (c *Coordinator) Run(ctx context.Context) error {
	bt := c.sessCfg.Backtest
	if bt == nil {
		return errors.New("coordinator: backtest run without backtest_config")
	}
	loc := c.cal.Location()
	start, err := time.ParseInLocation("2006-01-02", bt.StartDate, loc)
	if err != nil {
		return fmt.Errorf("coordinator: start_date: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02", bt.EndDate, loc)
	if err != nil {
		return fmt.Errorf("coordinator: end_date: %w", err)
	}

	if c.journal != nil {
		go c.journalEvents(ctx)
	}

	c.log.Info("backtest starting",
		"run_id", c.runID,
		"start", bt.StartDate, "end", bt.EndDate,
		"base_interval", c.plan.BaseInterval.String())

	for day := start; !day.After(end); day = c.cal.NextTradingDay(day) {
		if c.stopped(ctx) {
			break
		}
		if !c.cal.IsTradingDay(day) {
			continue
		}
		if err := c.RunDay(ctx, day); err != nil {
			if errors.Is(err, domain.ErrAllSymbolsFailed) {
				// Retry on the next trading day.
				c.log.Error("session start failed, advancing", "day", day.Format("2006-01-02"), "err", err)
				continue
			}
			return err
		}
	}
	c.emit(event.SessionEnd, "", "run complete")
	return nil
}

// RunLive executes one live trading day. Same lifecycle as RunDay, except
// the streaming phase waits for feed bars instead of ending when the queues
// drain, and the day closes at the exchange close. startFeed is launched
// once provisioning succeeds and receives the admitted symbols.
func (c *Coordinator) RunLive(ctx context.Context, startFeed func(ctx context.Context, symbols []string) error) error {
	day := c.cal.Now()
	dayStr := day.Format("2006-01-02")
	if !c.cal.IsTradingDay(day) {
		return fmt.Errorf("coordinator: %s is not a trading day", dayStr)
	}
	_, close, ok := c.cal.MarketHours(day)
	if !ok {
		return fmt.Errorf("coordinator: no market hours for %s", dayStr)
	}

	if c.journal != nil {
		go c.journalEvents(ctx)
	}

	c.emit(event.PhaseStart, "", "teardown "+dayStr)
	c.teardown()
	c.data.SetSessionDate(day)
	c.data.ActivateSession()
	metrics.SessionActive.Set(1)
	c.emit(event.SessionActivated, "", dayStr)

	c.emit(event.PhaseStart, "", "initialization")
	admitted, err := c.exec.ProvisionBatch(ctx, c.sessCfg.Data.Symbols, c.plan,
		c.sessionInd, c.historicalInd, domain.AddedByConfig, day)
	if err != nil {
		return err
	}
	c.emit(event.PhaseComplete, "", "initialization")

	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()
	go func() {
		if err := startFeed(feedCtx, admitted); err != nil && feedCtx.Err() == nil {
			c.log.Error("feed stopped", "err", err)
		}
	}()

	c.emit(event.PhaseStart, "", "streaming")
	for !c.stopped(ctx) && c.cal.Now().Before(close) {
		c.drain(ctx)
		select {
		case <-time.After(250 * time.Millisecond):
		case <-c.stop:
		case <-ctx.Done():
		}
	}
	cancelFeed()
	c.drain(ctx)
	c.emit(event.PhaseComplete, "", "streaming")

	c.closeDay(ctx, day)
	c.emit(event.SessionEnd, "", dayStr)
	return nil
}

// RunDay executes Phases 1-4 for one trading day.
func (c *Coordinator) RunDay(ctx context.Context, day time.Time) error {
	dayStr := day.Format("2006-01-02")

	// Phase 1: teardown. No cross-session persistence of symbols.
	c.emit(event.PhaseStart, "", "teardown "+dayStr)
	c.teardown()
	open, _, ok := c.cal.MarketHours(day)
	if !ok {
		return fmt.Errorf("coordinator: %s is not a trading day", dayStr)
	}
	c.cal.SetVirtualTime(open)
	c.data.SetSessionDate(day)
	c.data.ActivateSession()
	metrics.SessionActive.Set(1)
	c.emit(event.SessionActivated, "", dayStr)

	// Phase 2: initialization from config.
	c.emit(event.PhaseStart, "", "initialization")
	admitted, err := c.exec.ProvisionBatch(ctx, c.sessCfg.Data.Symbols, c.plan,
		c.sessionInd, c.historicalInd, domain.AddedByConfig, day)
	if err != nil {
		return err
	}
	for _, symbol := range admitted {
		if err := c.loadSessionQueue(ctx, symbol, day, time.Time{}); err != nil {
			c.log.Error("session queue load failed", "symbol", symbol, "err", err)
		}
	}
	c.emit(event.PhaseComplete, "", "initialization")

	// Phase 3: chronological streaming.
	c.emit(event.PhaseStart, "", "streaming")
	c.drain(ctx)
	c.emit(event.PhaseComplete, "", "streaming")

	// Phase 4: session end.
	c.closeDay(ctx, day)
	return nil
}

// teardown clears all per-day state.
func (c *Coordinator) teardown() {
	for _, symbol := range c.data.ActiveSymbols() {
		c.ind.Unregister(symbol)
	}
	c.data.Clear()
	c.proc.ResetCursors()

	c.mu.Lock()
	c.queues = map[string]*barQueue{}
	c.pending = nil
	c.checkCounters = map[string]int{}
	c.lagged = map[string]bool{}
	c.gatedByLag = false
	c.streamPaused = false
	c.mu.Unlock()
}

// loadSessionQueue fills the symbol's base-interval queue with the session
// day's bars from the data source. A non-zero after skips bars at or before
// it, so mid-session reloads enqueue only what the symbol has not already
// appended.
func (c *Coordinator) loadSessionQueue(ctx context.Context, symbol string, day, after time.Time) error {
	open, close, ok := c.cal.MarketHours(day)
	if !ok {
		return nil
	}
	bars, err := c.source.LoadHistoricalBars(ctx, symbol, c.plan.BaseInterval, open, close)
	if err != nil {
		return err
	}
	for _, b := range bars {
		if !after.IsZero() && !b.Timestamp.After(after) {
			continue
		}
		c.EnqueueBar(symbol, c.plan.BaseInterval, b)
	}
	return nil
}

// drain is the chronological streaming loop. Each iteration processes all
// pending symbol adds, pops every queue head at the earliest timestamp,
// derives, and checks lag. Empty queues end the day in zero iterations.
//
// Loop invariant: the stream_paused gate is entered before the next
// timestamp is selected, never in the middle of one; bars at the current
// timestamp are fully drained first.
func (c *Coordinator) drain(ctx context.Context) {
	var lastVirtual time.Time
	for {
		if c.stopped(ctx) {
			return
		}
		c.processPending(ctx)

		t, ok := c.earliestHead()
		if !ok {
			return
		}
		// The virtual clock never regresses: a backlogged symbol drains at
		// the current clock, which is what produces its lag.
		if t.After(c.cal.Now()) {
			c.cal.SetVirtualTime(t)
		}

		processed := c.processBarsAt(t)
		c.proc.Cycle(false)
		c.checkLag(processed)
		c.speedDelay(lastVirtual, t)
		lastVirtual = t
	}
}

// processBarsAt pops every queue head with the given timestamp and appends
// the bars. Returns the processed bars keyed by symbol for lag checks.
func (c *Coordinator) processBarsAt(t time.Time) map[string]domain.Bar {
	c.mu.Lock()
	type popped struct {
		symbol string
		iv     interval.Interval
		bar    domain.Bar
	}
	var pops []popped
	for _, q := range c.queues {
		for {
			head, ok := q.peek()
			if !ok || !head.Timestamp.Equal(t) {
				break
			}
			q.pop()
			pops = append(pops, popped{q.symbol, q.iv, head})
		}
	}
	c.mu.Unlock()

	processed := make(map[string]domain.Bar, len(pops))
	for _, p := range pops {
		if err := c.data.AppendBar(p.symbol, p.iv, p.bar); err != nil {
			if errors.Is(err, domain.ErrOutOfOrderBar) {
				metrics.OutOfOrderBarsTotal.WithLabelValues(p.symbol, p.iv.String()).Inc()
				c.log.Error("out-of-order bar dropped",
					"symbol", p.symbol, "interval", p.iv.String(), "ts", p.bar.Timestamp)
				continue
			}
			c.log.Error("append failed", "symbol", p.symbol, "err", err)
			continue
		}
		metrics.BarsAppendedTotal.WithLabelValues(p.symbol, p.iv.String()).Inc()
		processed[p.symbol] = p.bar
		c.qm.Notify(quality.Notification{Symbol: p.symbol, Interval: p.iv, Timestamp: p.bar.Timestamp})
	}
	return processed
}

// checkLag runs the per-symbol counter checks. The modulo test happens
// before the increment, so a symbol's very first bar triggers a check.
func (c *Coordinator) checkLag(processed map[string]domain.Bar) {
	threshold := time.Duration(c.sessCfg.Data.Streaming.CatchupThresholdSeconds) * time.Second
	every := c.sessCfg.Data.Streaming.CatchupCheckInterval
	if every <= 0 {
		every = 10
	}
	now := c.cal.Now()

	c.mu.Lock()
	for symbol, bar := range processed {
		count := c.checkCounters[symbol]
		if count%every == 0 {
			lag := now.Sub(bar.Timestamp)
			metrics.LagSeconds.WithLabelValues(symbol).Set(lag.Seconds())
			if lag > threshold {
				c.lagged[symbol] = true
			} else {
				delete(c.lagged, symbol)
			}
		}
		c.checkCounters[symbol] = count + 1
	}
	laggedCount := len(c.lagged)
	anyLag := laggedCount > 0
	wasGated := c.gatedByLag
	c.gatedByLag = anyLag
	c.mu.Unlock()

	switch {
	case anyLag && !wasGated:
		c.data.DeactivateSession()
		metrics.SessionActive.Set(0)
		c.emit(event.LagDetected, "", fmt.Sprintf("%d symbols behind", laggedCount))
		c.emit(event.SessionDeactivated, "", "lag")
	case !anyLag && wasGated:
		c.data.ActivateSession()
		metrics.SessionActive.Set(1)
		c.emit(event.LagCleared, "", "")
		c.emit(event.SessionActivated, "", "catchup")
	}
}

// speedDelay sleeps in clock-driven mode: 60/multiplier seconds per minute
// of virtual advance. Data-driven mode (multiplier 0) never sleeps.
func (c *Coordinator) speedDelay(from, to time.Time) {
	bt := c.sessCfg.Backtest
	if bt == nil || bt.SpeedMultiplier <= 0 || from.IsZero() {
		return
	}
	advance := to.Sub(from)
	if advance <= 0 {
		return
	}
	sleep := time.Duration(float64(advance) / bt.SpeedMultiplier)
	if sleep < time.Millisecond {
		return
	}
	select {
	case <-time.After(sleep):
	case <-c.stop:
	}
}

// closeDay is Phase 4: gate external reads, flush trailing derived buckets,
// final quality pass, persist summaries, roll into historical.
func (c *Coordinator) closeDay(ctx context.Context, day time.Time) {
	dayStr := day.Format("2006-01-02")
	c.emit(event.PhaseStart, "", "session_end "+dayStr)

	c.data.DeactivateSession()
	metrics.SessionActive.Set(0)
	c.proc.Cycle(true)

	for _, symbol := range c.data.ActiveSymbols() {
		base, err := c.data.BaseInterval(symbol)
		if err != nil {
			continue
		}
		if err := c.qm.Compute(symbol, base, c.cal.Now()); err != nil {
			c.log.Warn("final quality pass failed", "symbol", symbol, "err", err)
		}
	}
	c.persistQuality(ctx, dayStr)

	c.data.RollSession(c.cal.NextTradingDay(day))
	c.proc.ResetCursors()
	for _, symbol := range c.data.ActiveSymbols() {
		c.ind.Reset(symbol)
	}

	c.emit(event.SessionDeactivated, "", "day close")
	c.emit(event.SessionRolled, "", dayStr)
	c.emit(event.PhaseComplete, "", "session_end "+dayStr)
}

func (c *Coordinator) persistQuality(ctx context.Context, dayStr string) {
	if c.journal == nil {
		return
	}
	var rows []store.QualityRow
	for _, symbol := range c.data.ActiveSymbols() {
		ivs, err := c.data.Intervals(symbol)
		if err != nil {
			continue
		}
		for _, iv := range ivs {
			q, err := c.data.Quality(symbol, iv)
			if err != nil {
				continue
			}
			gaps, _ := c.data.Gaps(symbol, iv)
			rows = append(rows, store.QualityRow{
				RunID:    c.runID,
				Date:     dayStr,
				Symbol:   symbol,
				Interval: iv.String(),
				Quality:  q,
				GapCount: len(gaps),
			})
		}
	}
	if len(rows) == 0 {
		return
	}
	if err := c.journal.WriteQualitySummary(ctx, rows); err != nil {
		c.log.Warn("quality summary persist failed", "err", err)
	}
}

// journalEvents mirrors bus events into the SQLite journal.
func (c *Coordinator) journalEvents(ctx context.Context) {
	id, ch := c.bus.Subscribe(1024)
	defer c.bus.Unsubscribe(id)
	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			seq++
			row := store.EventRow{
				RunID:  c.runID,
				Seq:    seq,
				Time:   evt.Timestamp,
				Type:   string(evt.Type),
				Symbol: evt.Symbol,
				Detail: evt.Detail,
			}
			if err := c.journal.AppendEvent(ctx, row); err != nil {
				c.log.Warn("journal append failed", "err", err)
			}
		}
	}
}

func (c *Coordinator) emit(t event.Type, symbol, detail string) {
	if c.bus != nil {
		c.bus.Emit(t, symbol, detail)
	}
}

// indicatorConfigs converts config specs into typed indicator configs.
func indicatorConfigs(specs []config.IndicatorSpec) ([]indicator.Config, error) {
	out := make([]indicator.Config, 0, len(specs))
	for _, spec := range specs {
		iv, err := interval.Parse(spec.Interval)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", spec.Name, err)
		}
		out = append(out, indicator.Config{
			Name:     spec.Name,
			Period:   spec.Period,
			Interval: iv,
			Unit:     spec.Unit,
			Params:   spec.Params,
		})
	}
	return out, nil
}
