// Package processor fills derived intervals from base bars and keeps
// indicators current. The coordinator invokes a derivation cycle after each
// timestamp batch drains; the cycle aggregates complete periods into derived
// bars and feeds every affected interval's bars to the indicator manager.
package processor

import (
	"log/slog"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/calendar"
	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/metrics"
	"github.com/yohannes916/mismartera-sub002/internal/session"
)

// DataProcessor derives coarser intervals from streamed base bars.
type DataProcessor struct {
	data *session.Data
	cal  calendar.Service
	ind  *IndicatorManager
	log  *slog.Logger

	// cursors tracks, per "symbol|derived", how many base bars have been
	// consumed. The base updated flag clears only after every derived
	// interval of the symbol has caught up. Cursors are touched only from
	// the coordinator's streaming goroutine.
	cursors map[string]int
}

func NewDataProcessor(data *session.Data, cal calendar.Service, ind *IndicatorManager, log *slog.Logger) *DataProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &DataProcessor{
		data:    data,
		cal:     cal,
		ind:     ind,
		log:     log,
		cursors: map[string]int{},
	}
}

// Cycle runs one derivation pass over every symbol with derived intervals.
// With flush=true (session close) the still-open trailing period is emitted
// even though no bar of the next period has arrived.
func (p *DataProcessor) Cycle(flush bool) {
	withDerived := p.data.SymbolsWithDerived()
	for _, symbol := range p.data.ActiveSymbols() {
		derived := withDerived[symbol]
		base, err := p.data.BaseInterval(symbol)
		if err != nil {
			continue
		}
		updated, err := p.data.Updated(symbol, base)
		if err != nil || (!updated && !flush) {
			continue
		}

		baseBars, err := p.data.BarsRef(symbol, base, true)
		if err != nil {
			continue
		}

		consumedAll := true
		for _, iv := range derived {
			if !p.deriveOne(symbol, iv, baseBars, flush) {
				consumedAll = false
			}
		}
		if consumedAll && updated {
			if err := p.data.ClearUpdated(symbol, base); err != nil {
				p.log.Warn("clear updated failed", "symbol", symbol, "err", err)
			}
		}

		// Base-interval indicators see every new bar as it lands.
		p.updateIndicators(symbol, base, baseBars)
	}
}

// deriveOne aggregates base bars into iv for one symbol. Returns true when
// the cursor reached the end of the base sequence.
func (p *DataProcessor) deriveOne(symbol string, iv interval.Interval, baseBars []domain.Bar, flush bool) bool {
	key := symbol + "|" + iv.String()
	cursor := p.cursors[key]
	if cursor > len(baseBars) {
		// Session rolled underneath us.
		cursor = 0
	}

	pending := baseBars[cursor:]
	emitted := false
	for len(pending) > 0 {
		bucket := p.bucketStart(iv, pending[0].Timestamp)
		n := 0
		for n < len(pending) && p.bucketStart(iv, pending[n].Timestamp).Equal(bucket) {
			n++
		}
		complete := n < len(pending) || flush
		if !complete {
			break
		}

		bar := aggregate(symbol, bucket, pending[:n])
		if err := p.data.AppendBar(symbol, iv, bar); err != nil {
			p.log.Warn("derived append rejected",
				"symbol", symbol, "interval", iv.String(), "err", err)
		} else {
			emitted = true
			metrics.DerivedBarsTotal.WithLabelValues(symbol, iv.String()).Inc()
		}
		cursor += n
		pending = pending[n:]
	}
	p.cursors[key] = cursor

	if emitted {
		if bars, err := p.data.BarsRef(symbol, iv, true); err == nil {
			p.updateIndicators(symbol, iv, bars)
		}
	}
	return len(pending) == 0
}

// bucketStart maps a base bar timestamp to the start of its derived period.
// Sub-daily buckets are fixed-width from midnight; daily and weekly buckets
// follow the exchange-local calendar.
func (p *DataProcessor) bucketStart(iv interval.Interval, ts time.Time) time.Time {
	loc := p.cal.Location()
	lt := ts.In(loc)
	switch {
	case iv.IsSubDaily():
		midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
		period := time.Duration(iv.Seconds()) * time.Second
		return midnight.Add(lt.Sub(midnight) / period * period)
	case iv.Unit == interval.UnitWeek:
		day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	}
}

// aggregate collapses one bucket of source bars: open first, high max, low
// min, close last, volume summed.
func aggregate(symbol string, bucket time.Time, src []domain.Bar) domain.Bar {
	out := domain.Bar{
		Symbol:    symbol,
		Timestamp: bucket,
		Open:      src[0].Open,
		High:      src[0].High,
		Low:       src[0].Low,
		Close:     src[len(src)-1].Close,
	}
	for _, b := range src {
		if b.High > out.High {
			out.High = b.High
		}
		if b.Low < out.Low {
			out.Low = b.Low
		}
		out.Volume += b.Volume
	}
	return out
}

func (p *DataProcessor) updateIndicators(symbol string, iv interval.Interval, bars []domain.Bar) {
	if p.ind == nil {
		return
	}
	if err := p.ind.Update(symbol, iv, bars); err != nil {
		p.log.Warn("indicator update failed",
			"symbol", symbol, "interval", iv.String(), "err", err)
	}
}

// ResetCursors drops all consumption state. Called on session roll, when the
// bar sequences restart from empty.
func (p *DataProcessor) ResetCursors() {
	p.cursors = map[string]int{}
}
