package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/event"
	"github.com/yohannes916/mismartera-sub002/internal/indicator"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/quality"
)

// barQueue is one (symbol, interval) FIFO. Popped entries advance a head
// index; the backing slice is dropped wholesale at teardown.
type barQueue struct {
	symbol string
	iv     interval.Interval
	bars   []domain.Bar
	head   int
}

func (q *barQueue) peek() (domain.Bar, bool) {
	if q.head >= len(q.bars) {
		return domain.Bar{}, false
	}
	return q.bars[q.head], true
}

func (q *barQueue) pop() {
	q.head++
}

func (q *barQueue) push(b domain.Bar) {
	q.bars = append(q.bars, b)
}

// EnqueueBar appends a bar to the (symbol, interval) queue, creating the
// queue on first use. Live streamers and the backtest loader both feed
// through here.
func (c *Coordinator) EnqueueBar(symbol string, iv interval.Interval, bar domain.Bar) {
	key := symbol + "|" + iv.String()
	c.mu.Lock()
	q, ok := c.queues[key]
	if !ok {
		q = &barQueue{symbol: symbol, iv: iv}
		c.queues[key] = q
	}
	q.push(bar)
	c.mu.Unlock()
}

// earliestHead returns the minimum timestamp over all queue heads, or false
// when every queue is drained.
func (c *Coordinator) earliestHead() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		earliest time.Time
		found    bool
	)
	for _, q := range c.queues {
		head, ok := q.peek()
		if !ok {
			continue
		}
		if !found || head.Timestamp.Before(earliest) {
			earliest = head.Timestamp
			found = true
		}
	}
	return earliest, found
}

// QueueDepth reports the remaining bars across all queues.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.queues {
		n += len(q.bars) - q.head
	}
	return n
}

// ---------------------------------------------------------------------------
// Mid-session add API
// ---------------------------------------------------------------------------

// AddSymbol queues a full provisioning of the symbol at the next safe point
// in the streaming loop. Idempotent while pending.
func (c *Coordinator) AddSymbol(symbol string, addedBy domain.AddedBy) error {
	if meta, err := c.data.Meta(symbol); err == nil && meta.MeetsSessionConfigRequirements {
		return fmt.Errorf("%s: %w", symbol, domain.ErrDuplicateSymbol)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		if p.symbol == symbol {
			return nil
		}
	}
	c.pending = append(c.pending, pendingAdd{symbol: symbol, addedBy: addedBy})
	return nil
}

// AddBar is the adhoc single-bar path: auto-provisions a minimal structure
// when needed and appends without pausing the stream.
func (c *Coordinator) AddBar(ctx context.Context, symbol string, iv interval.Interval, bar domain.Bar) error {
	if err := c.exec.ProvisionAdhocBar(ctx, symbol, iv, bar); err != nil {
		return err
	}
	c.qm.Notify(quality.Notification{Symbol: symbol, Interval: iv, Timestamp: bar.Timestamp})
	return nil
}

// AddIndicator registers one indicator mid-session without pausing the
// stream.
func (c *Coordinator) AddIndicator(ctx context.Context, symbol string, cfg indicator.Config) error {
	return c.exec.ProvisionAdhocIndicator(ctx, symbol, cfg)
}

// RemoveSymbol drops the symbol from session state, its queues, and any
// pending add.
func (c *Coordinator) RemoveSymbol(symbol string) error {
	if err := c.data.RemoveSymbol(symbol); err != nil {
		return err
	}
	c.ind.Unregister(symbol)

	c.mu.Lock()
	for key, q := range c.queues {
		if q.symbol == symbol {
			delete(c.queues, key)
		}
	}
	for i, p := range c.pending {
		if p.symbol == symbol {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	delete(c.checkCounters, symbol)
	delete(c.lagged, symbol)
	c.mu.Unlock()
	return nil
}

// StreamPaused reports whether the provisioning gate is currently held.
func (c *Coordinator) StreamPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamPaused
}

// processPending provisions queued full adds under the stream_paused gate.
// Runs at the top of the streaming iteration, before the next timestamp is
// selected.
func (c *Coordinator) processPending(ctx context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = nil
	c.streamPaused = true
	c.mu.Unlock()

	// Quiescence: let in-flight consumers settle before structural changes.
	select {
	case <-time.After(c.quiescence):
	case <-c.stop:
	}

	now := c.cal.Now()
	for _, p := range batch {
		admitted, err := c.exec.ProvisionBatch(ctx, []string{p.symbol}, c.plan,
			c.sessionInd, c.historicalInd, p.addedBy, now)
		if err != nil || len(admitted) == 0 {
			c.log.Error("mid-session add failed", "symbol", p.symbol, "err", err)
			continue
		}
		// Backfill the session day so the symbol catches up through the
		// normal drain (and trips lag gating while behind). Bars the symbol
		// already holds, such as an adhoc append that triggered the add, are
		// excluded from the reload.
		day := c.data.SessionDate()
		if day.IsZero() {
			day = now
		}
		var after time.Time
		if last, err := c.data.LastTimestamp(p.symbol, c.plan.BaseInterval); err == nil {
			after = last
		}
		if err := c.loadSessionQueue(ctx, p.symbol, day, after); err != nil {
			c.log.Error("mid-session queue load failed", "symbol", p.symbol, "err", err)
		}
	}

	c.mu.Lock()
	c.streamPaused = false
	c.mu.Unlock()
	c.emit(event.PhaseComplete, "", "pending_symbols")
}
