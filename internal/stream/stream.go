package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	mdstream "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/store"
)

// BarSink receives live bars in arrival order. The coordinator's queue API
// satisfies this.
type BarSink interface {
	EnqueueBar(symbol string, iv interval.Interval, bar domain.Bar)
}

// Streamer subscribes to the Alpaca real-time feed and forwards minute bars
// into the sink. Quotes, when subscribed, are buffered and flushed to the
// quote store in batches.
type Streamer struct {
	apiKey    string
	apiSecret string
	loc       *time.Location
	sink      BarSink
	quotes    store.QuoteSource
	log       *slog.Logger

	mu       sync.Mutex
	quoteBuf map[string][]domain.Quote
}

// quoteFlushSize is the per-symbol buffer length that triggers a write.
const quoteFlushSize = 500

// minuteIv is the only bar granularity Alpaca streams; coarser intervals are
// derived downstream.
var minuteIv = interval.MustParse("1m")

// NewStreamer creates a live streamer for the given credentials. quotes may
// be nil when the session requests no quote stream.
func NewStreamer(apiKey, apiSecret string, loc *time.Location, sink BarSink, quotes store.QuoteSource) *Streamer {
	return &Streamer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		loc:       loc,
		sink:      sink,
		quotes:    quotes,
		quoteBuf:  make(map[string][]domain.Quote),
		log:       slog.Default().With("component", "streamer"),
	}
}

// Run connects to the feed, subscribes for the symbols, and blocks until ctx
// is cancelled. The client reconnects with backoff on transient errors.
func (s *Streamer) Run(ctx context.Context, symbols []string, withQuotes bool) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to stream")
	}

	client := mdstream.NewStocksClient(
		marketdata.SIP,
		mdstream.WithCredentials(s.apiKey, s.apiSecret),
		mdstream.WithReconnectSettings(0, time.Second),
	)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}

	if err := client.SubscribeToBars(s.handleBar, symbols...); err != nil {
		return fmt.Errorf("subscribe bars: %w", err)
	}
	if withQuotes && s.quotes != nil {
		if err := client.SubscribeToQuotes(s.handleQuote, symbols...); err != nil {
			return fmt.Errorf("subscribe quotes: %w", err)
		}
	}
	s.log.Info("stream connected", "symbols", len(symbols), "quotes", withQuotes)

	select {
	case <-ctx.Done():
	case err := <-client.Terminated():
		if err != nil {
			return fmt.Errorf("stream terminated: %w", err)
		}
	}
	s.flushQuotes(context.WithoutCancel(ctx))
	return ctx.Err()
}

func (s *Streamer) handleBar(b mdstream.Bar) {
	s.sink.EnqueueBar(b.Symbol, minuteIv, domain.Bar{
		Symbol:    b.Symbol,
		Timestamp: b.Timestamp.In(s.loc),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    int64(b.Volume),
	})
}

func (s *Streamer) handleQuote(q mdstream.Quote) {
	s.mu.Lock()
	s.quoteBuf[q.Symbol] = append(s.quoteBuf[q.Symbol], domain.Quote{
		Symbol:    q.Symbol,
		Timestamp: q.Timestamp.In(s.loc),
		BidPrice:  q.BidPrice,
		BidSize:   int64(q.BidSize),
		AskPrice:  q.AskPrice,
		AskSize:   int64(q.AskSize),
	})
	full := len(s.quoteBuf[q.Symbol]) >= quoteFlushSize
	s.mu.Unlock()

	if full {
		s.flushQuotes(context.Background())
	}
}

// flushQuotes writes and clears every symbol buffer that has content.
func (s *Streamer) flushQuotes(ctx context.Context) {
	if s.quotes == nil {
		return
	}
	s.mu.Lock()
	pending := s.quoteBuf
	s.quoteBuf = make(map[string][]domain.Quote)
	s.mu.Unlock()

	for symbol, batch := range pending {
		if len(batch) == 0 {
			continue
		}
		if err := s.quotes.WriteQuotes(ctx, batch, symbol); err != nil {
			s.log.Error("quote flush failed", "symbol", symbol, "count", len(batch), "err", err)
		}
	}
}
