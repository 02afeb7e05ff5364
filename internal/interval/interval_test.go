package interval

import (
	"errors"
	"strings"
	"testing"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in        string
		wantCount int
		wantUnit  Unit
		wantErr   bool
	}{
		{"1s", 1, UnitSecond, false},
		{"30s", 30, UnitSecond, false},
		{"1m", 1, UnitMinute, false},
		{"5m", 5, UnitMinute, false},
		{"390m", 390, UnitMinute, false},
		{"1d", 1, UnitDay, false},
		{"5d", 5, UnitDay, false},
		{"1w", 1, UnitWeek, false},
		{"52w", 52, UnitWeek, false},
		{"quotes", 0, UnitQuotes, false},
		{"1h", 0, 0, true},
		{"4h", 0, 0, true},
		{"m", 0, 0, true},
		{"5", 0, 0, true},
		{"5M", 0, 0, true},
		{"-5m", 0, 0, true},
		{"0x5m", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		iv, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %v", tt.in, iv)
			} else if !errors.Is(err, domain.ErrInvalidInterval) {
				t.Errorf("Parse(%q): error %v should wrap ErrInvalidInterval", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tt.in, err)
			continue
		}
		if iv.Count != tt.wantCount || iv.Unit != tt.wantUnit {
			t.Errorf("Parse(%q) = {%d %c}, want {%d %c}", tt.in, iv.Count, iv.Unit, tt.wantCount, tt.wantUnit)
		}
	}
}

func TestParseHourlyHint(t *testing.T) {
	_, err := Parse("1h")
	if err == nil {
		t.Fatal("expected error for 1h")
	}
	if !strings.Contains(err.Error(), "60m") {
		t.Errorf("hourly rejection should suggest minute intervals, got: %v", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"1s", "5m", "1d", "52w", "quotes"} {
		iv := MustParse(s)
		if iv.String() != s {
			t.Errorf("MustParse(%q).String() = %q", s, iv.String())
		}
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1s", 1},
		{"30s", 30},
		{"1m", 60},
		{"5m", 300},
		{"1d", 86400},
		{"1w", 604800},
		{"quotes", 0},
	}
	for _, tt := range tests {
		if got := MustParse(tt.in).Seconds(); got != tt.want {
			t.Errorf("%s.Seconds() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSource(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		streamed bool // true when the interval has no aggregation source
	}{
		{"1s", "", true},
		{"1m", "", true},
		{"30s", "1s", false},
		{"5m", "1m", false},
		{"1d", "1m", false},
		{"5d", "1d", false},
		{"1w", "1d", false},
		{"52w", "1w", false},
	}
	for _, tt := range tests {
		src, ok := MustParse(tt.in).Source()
		if tt.streamed {
			if ok {
				t.Errorf("%s.Source() = %s, want none", tt.in, src)
			}
			continue
		}
		if !ok || src.String() != tt.want {
			t.Errorf("%s.Source() = %s/%v, want %s", tt.in, src, ok, tt.want)
		}
	}
}

func TestIsBaseAndSubDaily(t *testing.T) {
	if !MustParse("1m").IsBase() || MustParse("5m").IsBase() {
		t.Error("IsBase should hold for 1m only")
	}
	if !MustParse("1d").IsBase() {
		t.Error("1d is a base interval")
	}
	if !MustParse("30s").IsSubDaily() || !MustParse("5m").IsSubDaily() {
		t.Error("seconds and minutes are sub-daily")
	}
	if MustParse("1d").IsSubDaily() || MustParse("1w").IsSubDaily() {
		t.Error("days and weeks are not sub-daily")
	}
}

func TestMinBase(t *testing.T) {
	tests := []struct {
		in   []string
		want string
		ok   bool
	}{
		{[]string{"1m", "5m", "1d", "1w"}, "1m", true},
		{[]string{"1d", "1w"}, "1d", true},
		{[]string{"52w"}, "1w", true},
		{[]string{"30s", "5m"}, "1s", true},
		{[]string{"quotes"}, "", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		ivs := make([]Interval, len(tt.in))
		for i, s := range tt.in {
			ivs[i] = MustParse(s)
		}
		base, ok := MinBase(ivs)
		if ok != tt.ok {
			t.Errorf("MinBase(%v) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && base.String() != tt.want {
			t.Errorf("MinBase(%v) = %s, want %s", tt.in, base, tt.want)
		}
	}
}
