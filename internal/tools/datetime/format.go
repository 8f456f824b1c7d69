package datetime

import (
	"fmt"
	"strings"
	"time"
)

// HourFormat selects 12 or 24 hour clock display.
type HourFormat string

const (
	Hour12 HourFormat = "12"
	Hour24 HourFormat = "24"
)

// ParseHourFormat accepts "12" or "24"; anything else yields def.
func ParseHourFormat(s string, def HourFormat) HourFormat {
	switch strings.TrimSpace(s) {
	case "12":
		return Hour12
	case "24":
		return Hour24
	default:
		return def
	}
}

// LoadZone resolves an IANA zone name. Empty means UTC.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", name)
	}
	return loc, nil
}

// OrdinalSuffix returns the English ordinal suffix for a day number.
// Examples: 1 -> "st", 2 -> "nd", 3 -> "rd", 4 -> "th", 11 -> "th", 21 -> "st"
func OrdinalSuffix(day int) string {
	if n := day % 100; n >= 11 && n <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// FormatHuman renders t in loc like "Friday, January 24th, 2025 - 14:30"
// or "Friday, January 24th, 2025 - 2:30 PM".
func FormatHuman(t time.Time, loc *time.Location, format HourFormat) string {
	local := t.In(loc)
	clock := local.Format("15:04")
	if format == Hour12 {
		clock = local.Format("3:04 PM")
	}
	return fmt.Sprintf("%s, %s %d%s, %d - %s",
		local.Weekday(), local.Month(), local.Day(), OrdinalSuffix(local.Day()), local.Year(), clock)
}

type relativeUnit struct {
	size     time.Duration
	singular string
	plural   string
}

var relativeUnits = []relativeUnit{
	{365 * 24 * time.Hour, "year", "years"},
	{30 * 24 * time.Hour, "month", "months"},
	{7 * 24 * time.Hour, "week", "weeks"},
	{24 * time.Hour, "day", "days"},
	{time.Hour, "hour", "hours"},
	{time.Minute, "minute", "minutes"},
}

// FormatRelative describes t relative to now: "just now", "5 minutes ago",
// "yesterday", "in 2 hours", "tomorrow".
func FormatRelative(t, now time.Time) string {
	diff := now.Sub(t)
	future := diff < 0
	if future {
		diff = -diff
	}
	if diff < time.Minute {
		if future {
			return "in a moment"
		}
		return "just now"
	}

	for _, unit := range relativeUnits {
		n := int64(diff / unit.size)
		if n < 1 {
			continue
		}
		if unit.size == 24*time.Hour && n == 1 {
			if future {
				return "tomorrow"
			}
			return "yesterday"
		}
		label := unit.plural
		if n == 1 {
			label = unit.singular
		}
		if future {
			return fmt.Sprintf("in %d %s", n, label)
		}
		return fmt.Sprintf("%d %s ago", n, label)
	}
	return "just now"
}
