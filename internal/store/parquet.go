package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
)

// Compile-time interface checks.
var _ DataSource = (*ParquetSource)(nil)
var _ QuoteSource = (*ParquetSource)(nil)

// ParquetSource implements DataSource and QuoteSource using Parquet files on
// disk, laid out per Layout.
type ParquetSource struct {
	layout *Layout
}

// NewParquetSource creates a ParquetSource over the given layout.
func NewParquetSource(layout *Layout) *ParquetSource {
	return &ParquetSource{layout: layout}
}

// Layout returns the path rules this source writes and reads.
func (s *ParquetSource) Layout() *Layout { return s.layout }

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for OHLCV bars. Timestamps are Unix ms of
// the exchange-local instant; readers rehydrate them into the exchange
// timezone.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// QuoteRecord is the Parquet schema for top-of-book quotes.
type QuoteRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	BidPrice  float64 `parquet:"bid_price"`
	BidSize   int64   `parquet:"bid_size"`
	AskPrice  float64 `parquet:"ask_price"`
	AskSize   int64   `parquet:"ask_size"`
}

// ---------------------------------------------------------------------------
// DataSource implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars for one (symbol, interval), grouped into day or year
// files per the layout and merged with existing file contents.
func (s *ParquetSource) WriteBars(_ context.Context, bars []domain.Bar, iv interval.Interval, symbol string) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[string][]BarRecord)
	for _, b := range bars {
		path := s.layout.BarPath(iv, symbol, b.Timestamp)
		groups[path] = append(groups[path], BarRecord{
			Symbol:    symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for path, records := range groups {
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%s: %w", symbol, iv, err)
		}
	}
	return nil
}

// ReadBars reads bars for the symbol and interval within [start, end],
// ordered by timestamp.
func (s *ParquetSource) ReadBars(_ context.Context, iv interval.Interval, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for _, path := range s.layout.BarPaths(iv, symbol, start, end) {
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			// File doesn't exist for this day/year — skip.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).In(s.layout.Loc)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			})
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// LoadHistoricalBars is ReadBars; the Parquet source holds no remote data.
func (s *ParquetSource) LoadHistoricalBars(ctx context.Context, symbol string, iv interval.Interval, start, end time.Time) ([]domain.Bar, error) {
	return s.ReadBars(ctx, iv, symbol, start, end)
}

// HasData reports whether any bar file covering [start, end] exists and is
// non-empty for the symbol and interval.
func (s *ParquetSource) HasData(_ context.Context, symbol string, iv interval.Interval, start, end time.Time) (bool, error) {
	for _, path := range s.layout.BarPaths(iv, symbol, start, end) {
		info, err := os.Stat(path)
		if err == nil && info.Size() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ListSymbols lists all symbols that have bar data for the given interval.
func (s *ParquetSource) ListSymbols(_ context.Context, iv interval.Interval) ([]string, error) {
	dir := filepath.Join(s.layout.DataDir, s.layout.ExchangeGroup, "bars", iv.String())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// QuoteSource implementation
// ---------------------------------------------------------------------------

// WriteQuotes writes quotes for one symbol into exchange-local day files.
func (s *ParquetSource) WriteQuotes(_ context.Context, quotes []domain.Quote, symbol string) error {
	if len(quotes) == 0 {
		return nil
	}

	groups := make(map[string][]QuoteRecord)
	for _, q := range quotes {
		path := s.layout.QuotePath(symbol, q.Timestamp)
		groups[path] = append(groups[path], QuoteRecord{
			Symbol:    symbol,
			Timestamp: q.Timestamp.UnixMilli(),
			BidPrice:  q.BidPrice,
			BidSize:   q.BidSize,
			AskPrice:  q.AskPrice,
			AskSize:   q.AskSize,
		})
	}

	for path, records := range groups {
		existing, _ := readParquetFile[QuoteRecord](path)
		merged := mergeQuoteRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing quotes for %s: %w", symbol, err)
		}
	}
	return nil
}

// ReadQuotes reads quotes for the symbol within [start, end].
func (s *ParquetSource) ReadQuotes(_ context.Context, symbol string, start, end time.Time) ([]domain.Quote, error) {
	var quotes []domain.Quote
	ls, le := start.In(s.layout.Loc), end.In(s.layout.Loc)
	for d := time.Date(ls.Year(), ls.Month(), ls.Day(), 0, 0, 0, 0, s.layout.Loc); !d.After(le); d = d.AddDate(0, 0, 1) {
		records, err := readParquetFile[QuoteRecord](s.layout.QuotePath(symbol, d))
		if err != nil {
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).In(s.layout.Loc)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			quotes = append(quotes, domain.Quote{
				Symbol:    r.Symbol,
				Timestamp: ts,
				BidPrice:  r.BidPrice,
				BidSize:   r.BidSize,
				AskPrice:  r.AskPrice,
				AskSize:   r.AskSize,
			})
		}
	}
	return quotes, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// mergeQuoteRecords deduplicates quote records by (symbol, timestamp),
// preferring new records over existing ones. Results are sorted by timestamp.
func mergeQuoteRecords(existing, incoming []QuoteRecord) []QuoteRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]QuoteRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]QuoteRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
