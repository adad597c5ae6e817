// Package ratelimit implements the multi-window quota arithmetic for API
// keys. The functions are pure: they take counters and a clock value and
// return updated counters, so callers can apply them inside whatever atomic
// update primitive their store provides.
package ratelimit

import (
	"time"

	"github.com/helioscrm/helios/internal/model"
)

// Window names the time bucket whose ceiling was exceeded.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
	WindowMonth  Window = "month"
)

// ResetStale zeroes every counter whose fixed window boundary has been
// crossed between usage.LastResetAt and now, and stamps LastResetAt when any
// reset happened. Windows are aligned to clock boundaries (start of minute,
// hour, day, month) and compared as full instants, so two requests a day
// apart never share an "hour" bucket. The trade-off holds for every window
// including the minute one: a burst that straddles a clock boundary can
// briefly see up to twice the per-minute ceiling.
//
// Returns true if any counter was reset.
func ResetStale(usage *model.UsageStats, now time.Time) bool {
	last := usage.LastResetAt
	if last.IsZero() {
		usage.LastResetAt = now
		return false
	}

	reset := false
	if !now.Truncate(time.Minute).Equal(last.Truncate(time.Minute)) {
		usage.MinuteCount = 0
		reset = true
	}
	if !now.Truncate(time.Hour).Equal(last.Truncate(time.Hour)) {
		usage.HourCount = 0
		reset = true
	}
	if !startOfDay(now).Equal(startOfDay(last)) {
		usage.DayCount = 0
		reset = true
	}
	if !startOfMonth(now).Equal(startOfMonth(last)) {
		usage.MonthCount = 0
		reset = true
	}
	if reset {
		usage.LastResetAt = now
	}
	return reset
}

// Evaluate checks the counters against the ceilings, minute first, and
// reports the first violated window. A ceiling of zero or less is unlimited.
func Evaluate(usage model.UsageStats, limits model.RateLimit) (allowed bool, violated Window) {
	switch {
	case limits.PerMinute > 0 && usage.MinuteCount >= limits.PerMinute:
		return false, WindowMinute
	case limits.PerHour > 0 && usage.HourCount >= limits.PerHour:
		return false, WindowHour
	case limits.PerDay > 0 && usage.DayCount >= limits.PerDay:
		return false, WindowDay
	case limits.PerMonth > 0 && usage.MonthCount >= limits.PerMonth:
		return false, WindowMonth
	}
	return true, ""
}

// Record increments every counter by exactly one and stamps the request
// time. Callers must only invoke it after Evaluate allowed the request.
func Record(usage *model.UsageStats, now time.Time) {
	usage.MinuteCount++
	usage.HourCount++
	usage.DayCount++
	usage.MonthCount++
	usage.TotalCount++
	usage.LastRequestAt = &now
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
