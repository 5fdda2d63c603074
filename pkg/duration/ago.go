// Package duration provides human-friendly relative time formatting.
package duration

import (
	"fmt"
	"time"
)

// Common duration constants for human-friendly units.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day  // Approximate
	Year  = 365 * Day // Approximate
)

// Ago renders the time elapsed since t as a coarse human-friendly string.
// Zero times and times in the future render as "unknown" and "just now".
//
// Examples:
//
//	Ago(now.Add(-30 * time.Second))  // "just now"
//	Ago(now.Add(-3 * time.Hour))     // "3 hours ago"
//	Ago(now.Add(-40 * Day))          // "1 month ago"
func Ago(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	elapsed := time.Since(t)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return plural(int(elapsed.Minutes()), "minute")
	case elapsed < Day:
		return plural(int(elapsed.Hours()), "hour")
	case elapsed < Week:
		return plural(int(elapsed/Day), "day")
	case elapsed < Month:
		return plural(int(elapsed/Week), "week")
	case elapsed < Year:
		return plural(int(elapsed/Month), "month")
	default:
		return plural(int(elapsed/Year), "year")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
