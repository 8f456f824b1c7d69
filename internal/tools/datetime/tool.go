// Package datetime implements the datetime tool and the human time
// formatting shared with chat command replies.
package datetime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/parrot/internal/agent"
)

// Args are the datetime parameters.
type Args struct {
	Action       string `json:"action,omitempty" jsonschema:"enum=now,enum=convert" jsonschema_description:"now (default) or convert"`
	Timezone     string `json:"timezone,omitempty" jsonschema_description:"IANA timezone for now, e.g. Europe/Paris (default: the configured zone)"`
	Time         string `json:"time,omitempty" jsonschema_description:"Time to convert: RFC 3339, 'YYYY-MM-DD HH:MM' or 'HH:MM' (today)"`
	FromTimezone string `json:"from_timezone,omitempty" jsonschema_description:"Zone the time is expressed in (default: UTC)"`
	ToTimezone   string `json:"to_timezone,omitempty" jsonschema_description:"Zone to convert into"`
	Format       string `json:"format,omitempty" jsonschema:"enum=12,enum=24" jsonschema_description:"Clock format for the human readable field"`
}

// Moment is one instant rendered in one zone.
type Moment struct {
	Timezone  string `json:"timezone"`
	ISO       string `json:"iso"`
	Human     string `json:"human"`
	Weekday   string `json:"weekday"`
	UTCOffset string `json:"utc_offset"`
	Unix      int64  `json:"unix"`
}

// Tool is the datetime catalog entry.
type Tool struct {
	defaultZone   *time.Location
	defaultFormat HourFormat
	now           func() time.Time
}

// NewTool creates the tool. zone is the default for "now"; an unknown zone
// falls back to UTC.
func NewTool(zone string, format HourFormat) *Tool {
	loc, err := LoadZone(zone)
	if err != nil {
		loc = time.UTC
	}
	if format != Hour12 {
		format = Hour24
	}
	return &Tool{defaultZone: loc, defaultFormat: format, now: time.Now}
}

func (t *Tool) Name() string { return "datetime" }

func (t *Tool) Description() string {
	return "Get the current date and time in a timezone, or convert a time between timezones."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[Args]() }

func (t *Tool) ConcurrentSafe() bool { return true }

func (t *Tool) Execute(_ context.Context, raw json.RawMessage, _ *agent.Invocation) (string, error) {
	var args Args
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", agent.Errorf(agent.ToolErrorInvalidArguments, "invalid parameters: %v", err)
		}
	}
	format := ParseHourFormat(args.Format, t.defaultFormat)

	switch strings.ToLower(strings.TrimSpace(args.Action)) {
	case "", "now":
		loc := t.defaultZone
		if strings.TrimSpace(args.Timezone) != "" {
			var err error
			if loc, err = LoadZone(args.Timezone); err != nil {
				return "", agent.NewToolError(agent.ToolErrorInvalidArguments, err.Error())
			}
		}
		return encode(moment(t.now(), loc, format))

	case "convert":
		from, err := LoadZone(args.FromTimezone)
		if err != nil {
			return "", agent.NewToolError(agent.ToolErrorInvalidArguments, err.Error())
		}
		if strings.TrimSpace(args.ToTimezone) == "" {
			return "", agent.NewToolError(agent.ToolErrorInvalidArguments, "to_timezone is required")
		}
		to, err := LoadZone(args.ToTimezone)
		if err != nil {
			return "", agent.NewToolError(agent.ToolErrorInvalidArguments, err.Error())
		}
		instant := t.now()
		if strings.TrimSpace(args.Time) != "" {
			if instant, err = parseTime(args.Time, from, t.now()); err != nil {
				return "", agent.NewToolError(agent.ToolErrorInvalidArguments, err.Error())
			}
		}
		return encode(map[string]Moment{
			"from": moment(instant, from, format),
			"to":   moment(instant, to, format),
		})

	default:
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "unknown action %q", args.Action)
	}
}

var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTime reads s as an absolute instant, a wall time in loc, or a
// clock time on today's date in loc.
func parseTime(s string, loc *time.Location, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	for _, layout := range []string{"15:04", "3:04PM", "3:04 PM", "3PM", "3 PM"} {
		if clock, err := time.Parse(layout, strings.ToUpper(s)); err == nil {
			today := now.In(loc)
			return time.Date(today.Year(), today.Month(), today.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func moment(t time.Time, loc *time.Location, format HourFormat) Moment {
	local := t.In(loc)
	return Moment{
		Timezone:  loc.String(),
		ISO:       local.Format(time.RFC3339),
		Human:     FormatHuman(local, loc, format),
		Weekday:   local.Weekday().String(),
		UTCOffset: local.Format("-07:00"),
		Unix:      local.Unix(),
	}
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
