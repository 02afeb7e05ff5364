package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}
	if bar.Volume != 0 {
		t.Error("expected zero Volume for zero-value Bar")
	}

	// Verify Quote can be instantiated with zero values.
	quote := Quote{}
	if quote.BidPrice != 0 || quote.AskPrice != 0 {
		t.Error("expected zero prices for zero-value Quote")
	}

	// Verify enum constants are defined correctly.
	if AddedByConfig != "config" || AddedByAdhoc != "adhoc" {
		t.Error("AddedBy constants have unexpected values")
	}

	// Verify structs can be constructed with real values.
	now := time.Now()
	gap := GapInfo{
		StartTime:    now,
		EndTime:      now.Add(5 * time.Minute),
		MissingCount: 5,
	}
	if gap.MissingCount != 5 {
		t.Errorf("gap.MissingCount = %d, want 5", gap.MissingCount)
	}
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("appending bar for AAPL: %w", ErrOutOfOrderBar)
	if !errors.Is(wrapped, ErrOutOfOrderBar) {
		t.Error("wrapped error should match ErrOutOfOrderBar")
	}
	if errors.Is(wrapped, ErrSymbolNotFound) {
		t.Error("wrapped error should not match ErrSymbolNotFound")
	}
}
