package ratelimit

import (
	"testing"
	"time"

	"github.com/helioscrm/helios/internal/model"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestResetStale(t *testing.T) {
	base := mustTime(t, "2026-03-14T10:30:00Z")

	tests := []struct {
		name       string
		now        time.Time
		wantMinute int
		wantHour   int
		wantDay    int
		wantMonth  int
	}{
		{"same minute", base.Add(30 * time.Second), 5, 5, 5, 5},
		{"next minute", base.Add(time.Minute), 0, 5, 5, 5},
		{"next hour", base.Add(time.Hour), 0, 0, 5, 5},
		{"next day", base.Add(24 * time.Hour), 0, 0, 0, 5},
		{"next month", base.AddDate(0, 1, 0), 0, 0, 0, 0},
		{"exactly 24h apart shares no hour bucket", base.Add(24 * time.Hour), 0, 0, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := model.UsageStats{
				MinuteCount: 5, HourCount: 5, DayCount: 5, MonthCount: 5,
				TotalCount:  100,
				LastResetAt: base,
			}
			ResetStale(&usage, tt.now)

			if usage.MinuteCount != tt.wantMinute {
				t.Errorf("minute: got %d, want %d", usage.MinuteCount, tt.wantMinute)
			}
			if usage.HourCount != tt.wantHour {
				t.Errorf("hour: got %d, want %d", usage.HourCount, tt.wantHour)
			}
			if usage.DayCount != tt.wantDay {
				t.Errorf("day: got %d, want %d", usage.DayCount, tt.wantDay)
			}
			if usage.MonthCount != tt.wantMonth {
				t.Errorf("month: got %d, want %d", usage.MonthCount, tt.wantMonth)
			}
			if usage.TotalCount != 100 {
				t.Errorf("total must survive resets: got %d", usage.TotalCount)
			}
		})
	}
}

func TestResetStaleZeroValue(t *testing.T) {
	now := mustTime(t, "2026-03-14T10:30:00Z")
	usage := model.UsageStats{MinuteCount: 3}

	if reset := ResetStale(&usage, now); reset {
		t.Error("zero LastResetAt must not count as a reset")
	}
	if usage.MinuteCount != 3 {
		t.Errorf("counter changed on zero LastResetAt: %d", usage.MinuteCount)
	}
	if !usage.LastResetAt.Equal(now) {
		t.Errorf("LastResetAt not initialised: %v", usage.LastResetAt)
	}
}

func TestEvaluateOrder(t *testing.T) {
	limits := model.RateLimit{PerMinute: 10, PerHour: 100, PerDay: 1000, PerMonth: 10000}

	tests := []struct {
		name    string
		usage   model.UsageStats
		allowed bool
		window  Window
	}{
		{"all under", model.UsageStats{MinuteCount: 9, HourCount: 99, DayCount: 999, MonthCount: 9999}, true, ""},
		{"minute hit", model.UsageStats{MinuteCount: 10}, false, WindowMinute},
		{"hour hit", model.UsageStats{MinuteCount: 5, HourCount: 100}, false, WindowHour},
		{"day hit", model.UsageStats{HourCount: 50, DayCount: 1000}, false, WindowDay},
		{"month hit", model.UsageStats{DayCount: 500, MonthCount: 10000}, false, WindowMonth},
		{"minute reported before hour", model.UsageStats{MinuteCount: 10, HourCount: 100}, false, WindowMinute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, window := Evaluate(tt.usage, limits)
			if allowed != tt.allowed || window != tt.window {
				t.Errorf("Evaluate = (%v, %q), want (%v, %q)", allowed, window, tt.allowed, tt.window)
			}
		})
	}
}

func TestEvaluateUnlimited(t *testing.T) {
	usage := model.UsageStats{MinuteCount: 1 << 20, HourCount: 1 << 20}
	allowed, _ := Evaluate(usage, model.RateLimit{})
	if !allowed {
		t.Error("zero ceilings must be unlimited")
	}
}

func TestRecord(t *testing.T) {
	now := mustTime(t, "2026-03-14T10:30:00Z")
	usage := model.UsageStats{MinuteCount: 1, HourCount: 2, DayCount: 3, MonthCount: 4, TotalCount: 5}

	Record(&usage, now)

	if usage.MinuteCount != 2 || usage.HourCount != 3 || usage.DayCount != 4 || usage.MonthCount != 5 {
		t.Errorf("counters not incremented by exactly one: %+v", usage)
	}
	if usage.TotalCount != 6 {
		t.Errorf("total: got %d, want 6", usage.TotalCount)
	}
	if usage.LastRequestAt == nil || !usage.LastRequestAt.Equal(now) {
		t.Errorf("LastRequestAt not stamped: %v", usage.LastRequestAt)
	}
}
