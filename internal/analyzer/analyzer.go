// Package analyzer turns a requested set of streams and indicators into a
// provisioning plan: the minimal base interval to stream, the intervals to
// derive from it, and the historical lookback needed to warm indicators up.
package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/indicator"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
)

// Request is the raw ask: bar streams plus indicator descriptors split into
// session (computed live) and historical (context loaded at session start).
// TrailingDays asks for that many calendar days of historical context
// regardless of indicator warmups, on TrailingIntervals (every required
// interval when the list is empty).
type Request struct {
	Streams    []interval.Interval
	Session    []indicator.Config
	Historical []indicator.Config

	TrailingDays      int
	TrailingIntervals []interval.Interval
}

// Plan is the analyzed result. LookbackDays is keyed by canonical interval
// string and holds calendar days, already padded for weekends and holidays.
type Plan struct {
	BaseInterval       interval.Interval
	RequiredIntervals  []interval.Interval
	DerivableIntervals []interval.Interval
	ImplicitAdditions  []interval.Interval
	LookbackDays       map[string]int
	Reasons            []string
}

// MaxLookbackDays returns the largest lookback across all intervals, the
// window the historical loader actually has to cover.
func (p Plan) MaxLookbackDays() int {
	max := 0
	for _, d := range p.LookbackDays {
		if d > max {
			max = d
		}
	}
	return max
}

// ParseStreams converts configured stream strings into intervals, dropping
// the quotes sentinel. Hourly and malformed strings fail here with the parse
// error so the caller sees the "use minute intervals" hint verbatim.
func ParseStreams(streams []string) ([]interval.Interval, bool, error) {
	var (
		ivs    []interval.Interval
		quotes bool
	)
	for _, s := range streams {
		if s == "quotes" {
			quotes = true
			continue
		}
		iv, err := interval.Parse(s)
		if err != nil {
			return nil, false, err
		}
		ivs = append(ivs, iv)
	}
	return ivs, quotes, nil
}

// Analyze computes the provisioning plan for one symbol (or, pre-session, for
// the whole configuration since every config symbol shares the same request).
func Analyze(req Request) (Plan, error) {
	plan := Plan{LookbackDays: map[string]int{}}

	// Union the requested streams with the intervals indicators imply.
	required := map[string]interval.Interval{}
	for _, iv := range req.Streams {
		if iv.IsQuotes() || iv.IsZero() {
			continue
		}
		required[iv.String()] = iv
	}
	streamed := len(required)

	indicators := make([]indicator.Config, 0, len(req.Session)+len(req.Historical))
	indicators = append(indicators, req.Session...)
	indicators = append(indicators, req.Historical...)
	for _, cfg := range indicators {
		if cfg.Interval.IsZero() {
			return Plan{}, fmt.Errorf("indicator %s: missing interval: %w", cfg.Name, domain.ErrInvalidInterval)
		}
		key := cfg.Interval.String()
		if _, ok := required[key]; !ok {
			required[key] = cfg.Interval
			plan.ImplicitAdditions = append(plan.ImplicitAdditions, cfg.Interval)
			plan.Reasons = append(plan.Reasons,
				fmt.Sprintf("indicator %s implies interval %s", cfg.Key(), key))
		}
	}

	for _, iv := range req.TrailingIntervals {
		if iv.IsQuotes() || iv.IsZero() {
			continue
		}
		key := iv.String()
		if _, ok := required[key]; !ok {
			required[key] = iv
			plan.ImplicitAdditions = append(plan.ImplicitAdditions, iv)
			plan.Reasons = append(plan.Reasons,
				fmt.Sprintf("historical config implies interval %s", key))
		}
	}

	if len(required) == 0 {
		if streamed == 0 && len(indicators) == 0 {
			return Plan{}, fmt.Errorf("no bar streams or indicators requested: %w", domain.ErrNoBarIntervals)
		}
		return Plan{}, domain.ErrNoBarIntervals
	}

	for _, iv := range required {
		plan.RequiredIntervals = append(plan.RequiredIntervals, iv)
	}
	sort.Slice(plan.RequiredIntervals, func(i, j int) bool {
		return plan.RequiredIntervals[i].Less(plan.RequiredIntervals[j])
	})
	sort.Slice(plan.ImplicitAdditions, func(i, j int) bool {
		return plan.ImplicitAdditions[i].Less(plan.ImplicitAdditions[j])
	})

	// The base to stream is the minimum of the per-interval bases by priority
	// 1s < 1m < 1d < 1w.
	base, ok := interval.MinBase(plan.RequiredIntervals)
	if !ok {
		return Plan{}, domain.ErrNoBarIntervals
	}
	plan.BaseInterval = base
	plan.Reasons = append(plan.Reasons,
		fmt.Sprintf("base interval %s covers %s", base, intervalList(plan.RequiredIntervals)))

	// Everything except the base itself gets derived.
	for _, iv := range plan.RequiredIntervals {
		if iv == base {
			continue
		}
		plan.DerivableIntervals = append(plan.DerivableIntervals, iv)
	}

	// Lookback per interval: the widest warmup of any indicator on it,
	// translated to calendar days.
	for _, cfg := range indicators {
		ind, err := indicator.New(cfg)
		if err != nil {
			return Plan{}, fmt.Errorf("indicator %s: %w", cfg.Key(), err)
		}
		days := lookbackDays(cfg.Interval, ind.WarmupBars(), cfg.Unit)
		key := cfg.Interval.String()
		if days > plan.LookbackDays[key] {
			plan.LookbackDays[key] = days
			plan.Reasons = append(plan.Reasons,
				fmt.Sprintf("indicator %s needs %d warmup bars on %s, lookback %d calendar days",
					cfg.Key(), ind.WarmupBars(), key, days))
		}
	}

	// Trailing context from the historical config applies on top of the
	// indicator-derived lookbacks.
	if req.TrailingDays > 0 {
		targets := req.TrailingIntervals
		if len(targets) == 0 {
			targets = plan.RequiredIntervals
		}
		for _, iv := range targets {
			if iv.IsQuotes() || iv.IsZero() {
				continue
			}
			key := iv.String()
			if req.TrailingDays > plan.LookbackDays[key] {
				plan.LookbackDays[key] = req.TrailingDays
				plan.Reasons = append(plan.Reasons,
					fmt.Sprintf("historical config requests %d trailing days on %s", req.TrailingDays, key))
			}
		}
	}

	return plan, nil
}

// barsPerTradingDay is how many bars of iv fit in a regular 6.5h session.
// Only meaningful for sub-daily intervals.
func barsPerTradingDay(iv interval.Interval) float64 {
	const sessionSeconds = 390 * 60
	return sessionSeconds / float64(iv.Seconds())
}

// lookbackDays converts a warmup bar count into calendar days with a
// conservative weekend and holiday buffer. unit is the indicator's period
// denomination: "weeks" sizes the window in weeks no matter which bar
// interval feeds the indicator.
func lookbackDays(iv interval.Interval, warmupBars int, unit string) int {
	if warmupBars <= 0 {
		return 0
	}
	var days float64
	switch {
	case unit == "weeks":
		days = float64(warmupBars) * 7 * 1.1
	case iv.IsSubDaily():
		days = float64(warmupBars) / barsPerTradingDay(iv) * 1.5
	case iv.Unit == interval.UnitWeek:
		days = float64(warmupBars*iv.Count) * 7 * 1.1
	default:
		days = float64(warmupBars*iv.Count) * 1.5
	}
	d := int(math.Ceil(days))
	if d < 1 {
		d = 1
	}
	return d
}

func intervalList(ivs []interval.Interval) string {
	s := ""
	for i, iv := range ivs {
		if i > 0 {
			s += ","
		}
		s += iv.String()
	}
	return s
}
