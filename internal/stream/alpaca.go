// Package stream connects the engine to the Alpaca market-data feed: a
// WebSocket streamer that pushes live bars and quotes into the session, and
// a caching source that backfills historical bars through the REST API.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/store"
	"github.com/yohannes916/mismartera-sub002/internal/util"
)

// barFetcher is the REST surface the caching source needs. Satisfied by
// *AlpacaFetcher; tests substitute a fake.
type barFetcher interface {
	FetchBars(ctx context.Context, symbol string, iv interval.Interval, start, end time.Time) ([]domain.Bar, error)
}

// AlpacaFetcher pulls historical bars from the Alpaca market-data REST API,
// with retries and a client-side rate limit.
type AlpacaFetcher struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	loc     *time.Location
	feed    marketdata.Feed
	log     *slog.Logger
}

// NewAlpacaFetcher creates a fetcher with the given credentials. Bars are
// returned in loc, the exchange timezone. rateLimitPerMin bounds REST calls;
// Alpaca's free tier allows 200/min.
func NewAlpacaFetcher(apiKey, apiSecret, dataURL string, loc *time.Location, rateLimitPerMin int) *AlpacaFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaFetcher{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiter(rateLimitPerMin),
		loc:     loc,
		feed:    marketdata.SIP,
		log:     slog.Default().With("component", "alpaca-fetcher"),
	}
}

// timeframeFor maps a base interval onto an Alpaca bar timeframe. Second
// bars are not served by the REST API.
func timeframeFor(iv interval.Interval) (marketdata.TimeFrame, error) {
	switch iv.Unit {
	case interval.UnitMinute:
		return marketdata.NewTimeFrame(iv.Count, marketdata.Min), nil
	case interval.UnitDay:
		return marketdata.NewTimeFrame(iv.Count, marketdata.Day), nil
	case interval.UnitWeek:
		return marketdata.NewTimeFrame(iv.Count, marketdata.Week), nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("interval %s: %w", iv, domain.ErrInvalidInterval)
	}
}

// FetchBars retrieves bars for [start, end] ordered by timestamp. Transient
// API failures are retried three times with backoff.
func (f *AlpacaFetcher) FetchBars(ctx context.Context, symbol string, iv interval.Interval, start, end time.Time) ([]domain.Bar, error) {
	tf, err := timeframeFor(iv)
	if err != nil {
		return nil, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []marketdata.Bar
	err = util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var ferr error
		raw, ferr = f.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
			Feed:      f.feed,
		})
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s %s: %w", symbol, iv, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: ab.Timestamp.In(f.loc),
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
		})
	}
	return bars, nil
}

// CachedSource layers the Alpaca REST API over the local Parquet store.
// Reads hit disk first; misses are fetched once and persisted so the next
// session day finds them locally.
type CachedSource struct {
	local   *store.ParquetSource
	fetcher barFetcher
	log     *slog.Logger
}

var _ store.DataSource = (*CachedSource)(nil)

// NewCachedSource wraps local with fetch-on-miss through f.
func NewCachedSource(local *store.ParquetSource, f barFetcher) *CachedSource {
	return &CachedSource{
		local:   local,
		fetcher: f,
		log:     slog.Default().With("component", "cached-source"),
	}
}

// LoadHistoricalBars serves from disk when coverage exists, otherwise pulls
// the window from Alpaca and persists it before returning.
func (s *CachedSource) LoadHistoricalBars(ctx context.Context, symbol string, iv interval.Interval, start, end time.Time) ([]domain.Bar, error) {
	has, err := s.local.HasData(ctx, symbol, iv, start, end)
	if err != nil {
		return nil, err
	}
	if has {
		return s.local.LoadHistoricalBars(ctx, symbol, iv, start, end)
	}

	bars, err := s.fetcher.FetchBars(ctx, symbol, iv, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}
	if err := s.local.WriteBars(ctx, bars, iv, symbol); err != nil {
		s.log.Error("cache write failed", "symbol", symbol, "interval", iv.String(), "err", err)
	}
	return bars, nil
}

// ReadBars reads the local layout only; remote data is never consulted.
func (s *CachedSource) ReadBars(ctx context.Context, iv interval.Interval, symbol string, start, end time.Time) ([]domain.Bar, error) {
	return s.local.ReadBars(ctx, iv, symbol, start, end)
}

// WriteBars persists to the local layout.
func (s *CachedSource) WriteBars(ctx context.Context, bars []domain.Bar, iv interval.Interval, symbol string) error {
	return s.local.WriteBars(ctx, bars, iv, symbol)
}

// HasData reports local coverage, falling back to a remote probe when the
// disk has nothing for the window.
func (s *CachedSource) HasData(ctx context.Context, symbol string, iv interval.Interval, start, end time.Time) (bool, error) {
	has, err := s.local.HasData(ctx, symbol, iv, start, end)
	if err != nil || has {
		return has, err
	}
	bars, err := s.fetcher.FetchBars(ctx, symbol, iv, start, end)
	if err != nil {
		return false, err
	}
	return len(bars) > 0, nil
}
