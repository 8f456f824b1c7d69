package cron

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/parrot/pkg/models"
)

var (
	// ErrNotFound indicates no job has the id.
	ErrNotFound = errors.New("job not found")

	// ErrPastDate indicates a one-shot date that is not in the future.
	ErrPastDate = errors.New("past_date")

	// ErrInvalidSchedule indicates an expression that is neither a date nor cron.
	ErrInvalidSchedule = errors.New("invalid_schedule")

	// ErrInvalidTimezone indicates an unknown IANA zone name.
	ErrInvalidTimezone = errors.New("invalid_timezone")

	// ErrInvalidArguments indicates a missing name, message or owner.
	ErrInvalidArguments = errors.New("invalid_arguments")
)

// cronParser supports both standard (5-field) and extended (6-field with seconds) cron expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// isoLiteral matches YYYY-MM-DD with an optional [T ]HH:MM[:SS] and an
// optional Z or ±HH:MM offset.
var isoLiteral = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(?:[T ](\d{2}:\d{2})(:\d{2})?)?(Z|[+-]\d{2}:\d{2})?$`)

// Schedule is a validated schedule expression.
type Schedule struct {
	Kind     models.ScheduleKind
	Expr     string
	Location *time.Location

	// At is the firing time of a one-shot schedule.
	At time.Time

	cron cron.Schedule
}

// IsOneShot reports whether the expression is a date literal.
func IsOneShot(expr string) bool {
	return isoLiteral.MatchString(strings.TrimSpace(expr))
}

// LoadLocation resolves a timezone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// ParseSchedule classifies and validates expr. A date literal is one-shot
// and is interpreted in timezone unless it carries an offset; anything else
// must parse as cron. ParseSchedule does not check that a one-shot date is
// in the future; see ValidateFuture.
func ParseSchedule(expr, timezone string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("%w: schedule is required", ErrInvalidSchedule)
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return Schedule{}, err
	}

	if m := isoLiteral.FindStringSubmatch(expr); m != nil {
		at, err := parseLiteral(m, loc)
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: %s", ErrInvalidSchedule, expr)
		}
		return Schedule{Kind: models.ScheduleOneShot, Expr: expr, Location: loc, At: at}, nil
	}

	spec := expr
	if !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
		spec = "CRON_TZ=" + loc.String() + " " + spec
	}
	parsed, err := cronParser.Parse(spec)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return Schedule{Kind: models.ScheduleRecurring, Expr: expr, Location: loc, cron: parsed}, nil
}

func parseLiteral(m []string, loc *time.Location) (time.Time, error) {
	date, hm, sec, offset := m[1], m[2], m[3], m[4]
	if hm == "" {
		hm = "00:00"
	}
	if sec == "" {
		sec = ":00"
	}
	value := date + "T" + hm + sec
	if offset != "" {
		return time.Parse("2006-01-02T15:04:05Z07:00", value+offset)
	}
	return time.ParseInLocation("2006-01-02T15:04:05", value, loc)
}

// ValidateFuture rejects one-shot schedules not strictly after now.
func (s Schedule) ValidateFuture(now time.Time) error {
	if s.Kind == models.ScheduleOneShot && !s.At.After(now) {
		return fmt.Errorf("%w: %s is not in the future", ErrPastDate, s.At.Format(time.RFC3339))
	}
	return nil
}

// Next returns the next firing strictly after now, or the zero time when
// a one-shot schedule has passed.
func (s Schedule) Next(now time.Time) time.Time {
	if s.Kind == models.ScheduleOneShot {
		if s.At.After(now) {
			return s.At
		}
		return time.Time{}
	}
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Next(now)
}
