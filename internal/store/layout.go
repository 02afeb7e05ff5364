package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/interval"
)

// Layout encodes the file-path rules of the Parquet store. Sub-daily
// intervals produce one file per exchange-local trading day; daily and
// coarser intervals produce one file per year. Day grouping uses the
// exchange-local date, never the UTC date, so one trading day is always one
// file even when the session crosses a UTC midnight.
type Layout struct {
	DataDir       string
	ExchangeGroup string
	Loc           *time.Location
}

// NewLayout creates a Layout rooted at dataDir for the given exchange group.
func NewLayout(dataDir, exchangeGroup string, loc *time.Location) *Layout {
	return &Layout{DataDir: dataDir, ExchangeGroup: exchangeGroup, Loc: loc}
}

// BarPath returns the file path holding the bar at time t.
//
//	sub-daily: <dataDir>/<group>/bars/<interval>/<SYMBOL>/<YYYY>/<MM>/<DD>.parquet
//	daily+:    <dataDir>/<group>/bars/<interval>/<SYMBOL>/<YYYY>.parquet
func (l *Layout) BarPath(iv interval.Interval, symbol string, t time.Time) string {
	lt := t.In(l.Loc)
	base := filepath.Join(l.DataDir, l.ExchangeGroup, "bars", iv.String(), strings.ToUpper(symbol))
	if iv.IsSubDaily() {
		return filepath.Join(base,
			fmt.Sprintf("%04d", lt.Year()),
			fmt.Sprintf("%02d", int(lt.Month())),
			fmt.Sprintf("%02d.parquet", lt.Day()))
	}
	return filepath.Join(base, fmt.Sprintf("%04d.parquet", lt.Year()))
}

// QuotePath returns the file path holding the quote at time t.
//
//	<dataDir>/<group>/quotes/<SYMBOL>/<YYYY>/<MM>/<DD>.parquet
func (l *Layout) QuotePath(symbol string, t time.Time) string {
	lt := t.In(l.Loc)
	return filepath.Join(l.DataDir, l.ExchangeGroup, "quotes", strings.ToUpper(symbol),
		fmt.Sprintf("%04d", lt.Year()),
		fmt.Sprintf("%02d", int(lt.Month())),
		fmt.Sprintf("%02d.parquet", lt.Day()))
}

// BarPaths returns the distinct file paths covering [start, end] for the
// interval, in chronological order.
func (l *Layout) BarPaths(iv interval.Interval, symbol string, start, end time.Time) []string {
	ls, le := start.In(l.Loc), end.In(l.Loc)
	if le.Before(ls) {
		return nil
	}

	var paths []string
	if iv.IsSubDaily() {
		for d := time.Date(ls.Year(), ls.Month(), ls.Day(), 0, 0, 0, 0, l.Loc); !d.After(le); d = d.AddDate(0, 0, 1) {
			paths = append(paths, l.BarPath(iv, symbol, d))
		}
		return paths
	}
	for year := ls.Year(); year <= le.Year(); year++ {
		paths = append(paths, l.BarPath(iv, symbol, time.Date(year, 1, 1, 0, 0, 0, 0, l.Loc)))
	}
	return paths
}
