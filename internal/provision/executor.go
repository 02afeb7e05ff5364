// Package provision implements the three-phase add pattern shared by
// pre-session config loading and mid-session additions: requirement
// analysis, per-symbol validation, then provisioning and loading. Adhoc
// additions take a shortened path that skips historical data and quality.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/analyzer"
	"github.com/yohannes916/mismartera-sub002/internal/calendar"
	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/event"
	"github.com/yohannes916/mismartera-sub002/internal/indicator"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/metrics"
	"github.com/yohannes916/mismartera-sub002/internal/processor"
	"github.com/yohannes916/mismartera-sub002/internal/session"
	"github.com/yohannes916/mismartera-sub002/internal/store"
)

// Step is one provisioning action. Steps run in declaration order.
type Step string

const (
	StepCreateSymbol      Step = "create_symbol"
	StepUpgradeSymbol     Step = "upgrade_symbol"
	StepAddIntervals      Step = "add_intervals"
	StepLoadHistorical    Step = "load_historical"
	StepLoadSession       Step = "load_session"
	StepRegisterIndicator Step = "register_indicator"
	StepComputeWarmup     Step = "compute_warmup"
	StepComputeQuality    Step = "compute_quality"
)

// Requirements is the Phase A record: everything needed to validate and
// provision one symbol.
type Requirements struct {
	Operation string
	Source    domain.AddedBy
	Symbol    string

	BaseInterval      interval.Interval
	RequiredIntervals []interval.Interval

	NeedsHistorical bool
	HistoricalDays  int

	SessionIndicators    []indicator.Config
	HistoricalIndicators []indicator.Config

	Steps              []Step
	MeetsSessionConfig bool
}

// Executor wires validation and provisioning against the session state.
type Executor struct {
	data   *session.Data
	source store.DataSource
	cal    calendar.Service
	ind    *processor.IndicatorManager
	bus    *event.Bus
	log    *slog.Logger

	// QualityHook runs the compute_quality step. Injected by the coordinator
	// so the executor does not depend on the quality manager directly.
	QualityHook func(symbol string, iv interval.Interval, asOf time.Time) error
}

func NewExecutor(data *session.Data, source store.DataSource, cal calendar.Service, ind *processor.IndicatorManager, bus *event.Bus, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{data: data, source: source, cal: cal, ind: ind, bus: bus, log: log}
}

// BuildFull is Phase A for a full (config or strategy) add: requirements from
// the analyzed plan, with the complete step list.
func BuildFull(symbol string, plan analyzer.Plan, source domain.AddedBy) Requirements {
	req := Requirements{
		Operation:          "add_symbol",
		Source:             source,
		Symbol:             symbol,
		BaseInterval:       plan.BaseInterval,
		RequiredIntervals:  plan.RequiredIntervals,
		NeedsHistorical:    plan.MaxLookbackDays() > 0,
		HistoricalDays:     plan.MaxLookbackDays(),
		MeetsSessionConfig: true,
	}
	req.Steps = []Step{StepCreateSymbol, StepAddIntervals}
	if req.NeedsHistorical {
		req.Steps = append(req.Steps, StepLoadHistorical)
	}
	req.Steps = append(req.Steps, StepLoadSession, StepRegisterIndicator, StepComputeWarmup, StepComputeQuality)
	return req
}

// BuildAdhoc is Phase A for a minimal adhoc structure: the requested interval
// only, no historical, no quality.
func BuildAdhoc(symbol string, iv interval.Interval) Requirements {
	return Requirements{
		Operation:         "adhoc",
		Source:            domain.AddedByAdhoc,
		Symbol:            symbol,
		BaseInterval:      iv.Base(),
		RequiredIntervals: []interval.Interval{iv},
		Steps:             []Step{StepCreateSymbol, StepAddIntervals},
	}
}

// Validate is Phase B for one symbol. A nil error admits the symbol; the
// returned Requirements may differ from the input (create becomes upgrade
// when the symbol already exists as adhoc).
func (e *Executor) Validate(ctx context.Context, req Requirements, asOf time.Time) (Requirements, error) {
	if e.data.HasSymbol(req.Symbol) {
		meta, err := e.data.Meta(req.Symbol)
		if err != nil {
			return req, err
		}
		if meta.MeetsSessionConfigRequirements {
			// Already fully provisioned: nothing to do.
			req.Steps = nil
			return req, nil
		}
		if req.MeetsSessionConfig {
			// Present as adhoc, caller wants full: fill in place.
			req.Steps = replaceStep(req.Steps, StepCreateSymbol, StepUpgradeSymbol)
		} else {
			return req, fmt.Errorf("%s: already active: %w", req.Symbol, domain.ErrDuplicateSymbol)
		}
	}

	if req.MeetsSessionConfig {
		start := asOf.AddDate(0, 0, -1)
		ok, err := e.source.HasData(ctx, req.Symbol, req.BaseInterval, start, asOf)
		if err != nil {
			return req, fmt.Errorf("%s: source probe: %w", req.Symbol, err)
		}
		if !ok {
			return req, fmt.Errorf("%s: no data in source: %w", req.Symbol, domain.ErrValidationFailed)
		}
	}

	for _, iv := range req.RequiredIntervals {
		if _, derivable := iv.Source(); !derivable && iv != req.BaseInterval {
			return req, fmt.Errorf("%s: interval %s not derivable from %s: %w",
				req.Symbol, iv, req.BaseInterval, domain.ErrValidationFailed)
		}
	}

	if req.NeedsHistorical {
		start := asOf.AddDate(0, 0, -req.HistoricalDays)
		ok, err := e.source.HasData(ctx, req.Symbol, req.BaseInterval, start, asOf.AddDate(0, 0, -1))
		if err != nil {
			return req, fmt.Errorf("%s: historical probe: %w", req.Symbol, err)
		}
		if !ok {
			return req, fmt.Errorf("%s: no_historical_data: %w", req.Symbol, domain.ErrValidationFailed)
		}
	}

	return req, nil
}

// Provision is Phase C: run the steps in order. A failed step after the
// symbol exists demotes it to minimal instead of removing it.
func (e *Executor) Provision(ctx context.Context, req Requirements, asOf time.Time) error {
	for _, step := range req.Steps {
		if err := e.runStep(ctx, step, req, asOf); err != nil {
			if step == StepCreateSymbol || step == StepUpgradeSymbol {
				return err
			}
			e.log.Error("provisioning step failed, demoting symbol",
				"symbol", req.Symbol, "step", string(step), "err", err)
			e.demote(req.Symbol)
			return nil
		}
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, step Step, req Requirements, asOf time.Time) error {
	switch step {
	case StepCreateSymbol:
		return e.data.RegisterSymbol(req.Symbol, req.BaseInterval, session.Metadata{
			MeetsSessionConfigRequirements: req.MeetsSessionConfig,
			AddedBy:                        req.Source,
			AutoProvisioned:                req.Operation == "adhoc",
			AddedAt:                        e.cal.Now(),
		})

	case StepUpgradeSymbol:
		return e.data.Upgrade(req.Symbol, req.Source)

	case StepAddIntervals:
		for _, iv := range req.RequiredIntervals {
			if iv == req.BaseInterval {
				continue
			}
			if err := e.data.AddInterval(req.Symbol, iv); err != nil {
				return err
			}
		}
		return nil

	case StepLoadHistorical:
		return e.loadHistorical(ctx, req, asOf)

	case StepLoadSession:
		// Session-day bars enter through the coordinator queues; nothing to
		// preload here in live mode. Backtest queue loading happens in the
		// coordinator because it owns the queues.
		return nil

	case StepRegisterIndicator:
		for _, cfg := range append(req.SessionIndicators, req.HistoricalIndicators...) {
			if err := e.ind.Register(req.Symbol, cfg); err != nil {
				return err
			}
		}
		return nil

	case StepComputeWarmup:
		return e.computeWarmup(req)

	case StepComputeQuality:
		if e.QualityHook == nil {
			return nil
		}
		return e.QualityHook(req.Symbol, req.BaseInterval, asOf)
	}
	return fmt.Errorf("unknown provisioning step %q", step)
}

func (e *Executor) loadHistorical(ctx context.Context, req Requirements, asOf time.Time) error {
	start := asOf.AddDate(0, 0, -req.HistoricalDays)
	end := asOf.AddDate(0, 0, -1)
	for _, iv := range req.RequiredIntervals {
		bars, err := e.source.LoadHistoricalBars(ctx, req.Symbol, iv, start, end)
		if err != nil {
			return fmt.Errorf("load historical %s: %w", iv, err)
		}
		if len(bars) == 0 {
			continue
		}
		if err := e.data.SeedHistorical(req.Symbol, iv, bars); err != nil {
			return err
		}
	}
	return nil
}

// computeWarmup replays each indicator's historical window so the session
// starts with valid values where enough history exists.
func (e *Executor) computeWarmup(req Requirements) error {
	byInterval := map[interval.Interval][]indicator.Config{}
	for _, cfg := range append(req.SessionIndicators, req.HistoricalIndicators...) {
		byInterval[cfg.Interval] = append(byInterval[cfg.Interval], cfg)
	}
	for iv := range byInterval {
		bars := e.historicalSequence(req.Symbol, iv)
		if len(bars) == 0 {
			continue
		}
		if err := e.ind.Warmup(req.Symbol, iv, bars); err != nil {
			return err
		}
	}
	return nil
}

// historicalSequence flattens the per-date historical map into one ordered
// slice for an interval.
func (e *Executor) historicalSequence(symbol string, iv interval.Interval) []domain.Bar {
	dates, err := e.data.HistoricalDates(symbol, iv)
	if err != nil {
		return nil
	}
	var out []domain.Bar
	for _, date := range dates {
		bars, err := e.data.HistoricalBars(symbol, iv, date)
		if err != nil {
			continue
		}
		out = append(out, bars...)
	}
	return out
}

func (e *Executor) demote(symbol string) {
	if err := e.data.Demote(symbol); err != nil {
		e.log.Warn("demote failed", "symbol", symbol, "err", err)
	}
}

// ProvisionBatch validates and provisions a set of symbols sharing one plan.
// Per-symbol failures drop that symbol and continue; if every symbol fails
// the batch fails with ErrAllSymbolsFailed.
func (e *Executor) ProvisionBatch(ctx context.Context, symbols []string, plan analyzer.Plan, sessionInd, historicalInd []indicator.Config, source domain.AddedBy, asOf time.Time) ([]string, error) {
	var admitted []string
	for _, symbol := range symbols {
		req := BuildFull(symbol, plan, source)
		req.SessionIndicators = sessionInd
		req.HistoricalIndicators = historicalInd

		validated, err := e.Validate(ctx, req, asOf)
		if err != nil {
			e.log.Error("symbol validation failed", "symbol", symbol, "err", err)
			e.emit(event.SymbolFailed, symbol, err.Error())
			continue
		}
		if err := e.Provision(ctx, validated, asOf); err != nil {
			e.log.Error("symbol provisioning failed", "symbol", symbol, "err", err)
			e.emit(event.SymbolFailed, symbol, err.Error())
			continue
		}
		admitted = append(admitted, symbol)
		metrics.ProvisionedSymbols.WithLabelValues(string(source)).Inc()
		if isUpgrade(validated.Steps) {
			e.emit(event.SymbolUpgraded, symbol, "")
		} else {
			e.emit(event.SymbolAdded, symbol, "")
		}
	}
	if len(admitted) == 0 && len(symbols) > 0 {
		return nil, fmt.Errorf("all %d symbols failed provisioning: %w", len(symbols), domain.ErrAllSymbolsFailed)
	}
	return admitted, nil
}

// ProvisionAdhocBar auto-provisions a minimal structure when needed and
// appends the bar. It never pauses the stream.
func (e *Executor) ProvisionAdhocBar(ctx context.Context, symbol string, iv interval.Interval, bar domain.Bar) error {
	if !e.data.HasSymbol(symbol) {
		req := BuildAdhoc(symbol, iv)
		if err := e.Provision(ctx, req, e.cal.Now()); err != nil {
			return err
		}
		metrics.ProvisionedSymbols.WithLabelValues(string(domain.AddedByAdhoc)).Inc()
		e.emit(event.SymbolAdded, symbol, "adhoc")
	}
	base, err := e.data.BaseInterval(symbol)
	if err != nil {
		return err
	}
	if iv != base {
		if err := e.data.AddInterval(symbol, iv); err != nil {
			return err
		}
	}
	return e.data.AppendBar(symbol, iv, bar)
}

// ProvisionAdhocIndicator registers one indicator, auto-provisioning the
// symbol minimally when absent.
func (e *Executor) ProvisionAdhocIndicator(ctx context.Context, symbol string, cfg indicator.Config) error {
	if !e.data.HasSymbol(symbol) {
		req := BuildAdhoc(symbol, cfg.Interval)
		if err := e.Provision(ctx, req, e.cal.Now()); err != nil {
			return err
		}
		e.emit(event.SymbolAdded, symbol, "adhoc")
	}
	return e.ind.Register(symbol, cfg)
}

func (e *Executor) emit(t event.Type, symbol, detail string) {
	if e.bus != nil {
		e.bus.Emit(t, symbol, detail)
	}
}

func replaceStep(steps []Step, from, to Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		if s == from {
			s = to
		}
		out[i] = s
	}
	return out
}

func isUpgrade(steps []Step) bool {
	for _, s := range steps {
		if s == StepUpgradeSymbol {
			return true
		}
	}
	return false
}
