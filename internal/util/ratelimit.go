package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces calls to an upstream API. A single-token bucket refills
// at the configured per-minute rate; Wait consumes a token, sleeping out the
// remaining refill time when the bucket is empty.
type RateLimiter struct {
	mu     sync.Mutex
	perSec float64
	avail  float64
	last   time.Time
}

// NewRateLimiter allows perMinute operations per minute. A rate of zero or
// less disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perSec: float64(perMinute) / 60,
		avail:  1,
		last:   time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		if rl.perSec <= 0 {
			rl.mu.Unlock()
			return nil
		}
		now := time.Now()
		rl.avail += now.Sub(rl.last).Seconds() * rl.perSec
		if rl.avail > 1 {
			rl.avail = 1
		}
		rl.last = now
		if rl.avail >= 1 {
			rl.avail--
			rl.mu.Unlock()
			return nil
		}
		deficit := (1 - rl.avail) / rl.perSec
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(deficit * float64(time.Second))):
		}
	}
}
