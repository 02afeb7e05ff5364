// Package interval parses and classifies bar interval strings such as "1m",
// "5m", "1d", "52w". Hourly intervals are rejected; callers use minute
// multiples instead. The sentinel "quotes" denotes the non-bar quote stream.
package interval

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
)

// Unit is the time unit of an interval.
type Unit byte

const (
	UnitSecond Unit = 's'
	UnitMinute Unit = 'm'
	UnitDay    Unit = 'd'
	UnitWeek   Unit = 'w'
	// UnitQuotes marks the "quotes" sentinel, which is not a bar interval.
	UnitQuotes Unit = 'q'
)

// Quotes is the canonical sentinel for the quote stream.
const Quotes = "quotes"

var intervalRe = regexp.MustCompile(`^(\d+)([smdwh])$`)

// Interval is a parsed, validated interval string.
type Interval struct {
	Count int
	Unit  Unit
}

// Parse parses a canonical interval string. It accepts "quotes" as the quote
// sentinel and rejects hourly intervals with a hint to use minute multiples.
func Parse(s string) (Interval, error) {
	if s == Quotes {
		return Interval{Unit: UnitQuotes}, nil
	}

	m := intervalRe.FindStringSubmatch(s)
	if m == nil {
		return Interval{}, fmt.Errorf("%w: %q", domain.ErrInvalidInterval, s)
	}
	if m[2] == "h" {
		return Interval{}, fmt.Errorf("%w: %q: hourly intervals are not supported, use minute intervals (60m, 120m, ...)", domain.ErrInvalidInterval, s)
	}

	count, err := strconv.Atoi(m[1])
	if err != nil || count < 1 {
		return Interval{}, fmt.Errorf("%w: %q", domain.ErrInvalidInterval, s)
	}

	return Interval{Count: count, Unit: Unit(m[2][0])}, nil
}

// MustParse parses s and panics on failure. For tests and literals.
func MustParse(s string) Interval {
	iv, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return iv
}

// String returns the canonical string form.
func (iv Interval) String() string {
	if iv.Unit == UnitQuotes {
		return Quotes
	}
	return strconv.Itoa(iv.Count) + string(iv.Unit)
}

// IsQuotes reports whether this is the quote sentinel.
func (iv Interval) IsQuotes() bool { return iv.Unit == UnitQuotes }

// IsZero reports whether the interval is unset.
func (iv Interval) IsZero() bool { return iv.Count == 0 && iv.Unit == 0 }

// Seconds returns the nominal interval length in seconds. Weeks assume seven
// calendar days; trading-day semantics are applied by the quality engine, not
// here.
func (iv Interval) Seconds() int64 {
	switch iv.Unit {
	case UnitSecond:
		return int64(iv.Count)
	case UnitMinute:
		return int64(iv.Count) * 60
	case UnitDay:
		return int64(iv.Count) * 86400
	case UnitWeek:
		return int64(iv.Count) * 7 * 86400
	}
	return 0
}

// IsBase reports whether this interval is one of the streamable bases
// (1s, 1m, 1d, 1w).
func (iv Interval) IsBase() bool {
	return iv.Count == 1 && iv.Unit != UnitQuotes
}

// IsSubDaily reports whether the interval is finer than one day. Sub-daily
// intervals are stored in daily Parquet files; daily and coarser intervals in
// yearly files.
func (iv Interval) IsSubDaily() bool {
	return iv.Unit == UnitSecond || iv.Unit == UnitMinute
}

// Base returns the base interval of this interval's unit: Ns→1s, Nm→1m,
// Nd→1d, Nw→1w.
func (iv Interval) Base() Interval {
	return Interval{Count: 1, Unit: iv.Unit}
}

// Source returns the interval this one aggregates from, and false when the
// interval must itself be streamed (1s and 1m have no source). The chain is
// Ns←1s, Nm←1m, Nd←1d (N>1), 1d←1m, Nw←1w (N>1), 1w←1d.
func (iv Interval) Source() (Interval, bool) {
	switch {
	case iv.Unit == UnitQuotes:
		return Interval{}, false
	case iv.Count > 1:
		return iv.Base(), true
	case iv.Unit == UnitDay:
		return Interval{Count: 1, Unit: UnitMinute}, true
	case iv.Unit == UnitWeek:
		return Interval{Count: 1, Unit: UnitDay}, true
	}
	return Interval{}, false
}

// basePriority orders the streamable bases finest-first: 1s < 1m < 1d < 1w.
func basePriority(u Unit) int {
	switch u {
	case UnitSecond:
		return 0
	case UnitMinute:
		return 1
	case UnitDay:
		return 2
	case UnitWeek:
		return 3
	}
	return 4
}

// Less orders intervals by base priority, then by count. Used to pick the
// minimum streamed base for a set of requested intervals.
func (iv Interval) Less(other Interval) bool {
	if basePriority(iv.Unit) != basePriority(other.Unit) {
		return basePriority(iv.Unit) < basePriority(other.Unit)
	}
	return iv.Count < other.Count
}

// MinBase returns the finest base interval required to derive every interval
// in the set. Quote sentinels are ignored; the boolean is false when the set
// contains no bar intervals.
func MinBase(intervals []Interval) (Interval, bool) {
	var base Interval
	found := false
	for _, iv := range intervals {
		if iv.IsQuotes() {
			continue
		}
		// Walk to the streamed root: 5d needs 1d streamed only when days are
		// the base; 1d itself aggregates from 1m, so days and weeks resolve
		// transitively to the finest unit that must be streamed.
		b := iv.Base()
		if !found || b.Less(base) {
			base = b
			found = true
		}
	}
	return base, found
}
