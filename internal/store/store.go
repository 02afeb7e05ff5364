// Package store persists and retrieves market data. Bars and quotes live in
// Parquet files laid out by interval granularity and exchange-local day; the
// session journal lives in SQLite.
package store

import (
	"context"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
)

// DataSource is the storage contract the engine consumes. The coordinator
// loads session-day and historical bars through it; the provisioning
// executor probes it for coverage before admitting a symbol.
type DataSource interface {
	// LoadHistoricalBars returns bars for the symbol and interval within
	// [start, end], ordered by timestamp.
	LoadHistoricalBars(ctx context.Context, symbol string, iv interval.Interval, start, end time.Time) ([]domain.Bar, error)

	// ReadBars is the raw read of the on-disk layout for one interval.
	ReadBars(ctx context.Context, iv interval.Interval, symbol string, start, end time.Time) ([]domain.Bar, error)

	// WriteBars persists bars for one (symbol, interval), merging with any
	// existing file contents.
	WriteBars(ctx context.Context, bars []domain.Bar, iv interval.Interval, symbol string) error

	// HasData reports whether any bars exist for the symbol and interval
	// within [start, end].
	HasData(ctx context.Context, symbol string, iv interval.Interval, start, end time.Time) (bool, error)
}

// QuoteSource persists and retrieves top-of-book quote ticks.
type QuoteSource interface {
	// WriteQuotes persists quotes for one symbol, merging by timestamp.
	WriteQuotes(ctx context.Context, quotes []domain.Quote, symbol string) error

	// ReadQuotes returns quotes for the symbol within [start, end].
	ReadQuotes(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, error)
}
