// Package datetime exposes current-time, timezone conversion, and duration
// tools. It needs no credentials and is always healthy.
package datetime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// Connector provides date and time tools.
type Connector struct {
	now func() time.Time
}

// New creates the datetime connector.
func New() *Connector {
	return &Connector{now: time.Now}
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "datetime" }

// HealthCheck implements connectors.Connector. The clock is always up.
func (c *Connector) HealthCheck(ctx context.Context) error { return nil }

type nowParams struct {
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA timezone name, e.g. Europe/Berlin. Defaults to UTC."`
}

type convertParams struct {
	Time         string `json:"time" jsonschema_description:"Time to convert, RFC 3339 format"`
	FromTimezone string `json:"from_timezone,omitempty" jsonschema_description:"Source IANA timezone if the time has no offset"`
	ToTimezone   string `json:"to_timezone" jsonschema_description:"Target IANA timezone"`
}

type diffParams struct {
	Start string `json:"start" jsonschema_description:"Start time, RFC 3339 format"`
	End   string `json:"end" jsonschema_description:"End time, RFC 3339 format"`
}

type timeResult struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
	Unix     int64  `json:"unix"`
}

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "datetime_now",
			Description: "Get the current date and time, optionally in a specific timezone.",
			Parameters:  tools.ParamsSchema(nowParams{}),
			Call:        c.callNow,
		},
		{
			Name:        "datetime_convert",
			Description: "Convert a time from one timezone to another.",
			Parameters:  tools.ParamsSchema(convertParams{}),
			Call:        c.callConvert,
		},
		{
			Name:        "datetime_diff",
			Description: "Compute the duration between two times.",
			Parameters:  tools.ParamsSchema(diffParams{}),
			Call:        c.callDiff,
		},
	}
}

func (c *Connector) callNow(ctx context.Context, args json.RawMessage) (any, error) {
	var params nowParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}

	loc := time.UTC
	if params.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(params.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", params.Timezone)
		}
	}

	t := c.now().In(loc)
	return timeResult{
		Time:     t.Format(time.RFC3339),
		Timezone: loc.String(),
		Weekday:  t.Weekday().String(),
		Unix:     t.Unix(),
	}, nil
}

func (c *Connector) callConvert(ctx context.Context, args json.RawMessage) (any, error) {
	var params convertParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if params.ToTimezone == "" {
		return nil, fmt.Errorf("to_timezone is required")
	}

	to, err := time.LoadLocation(params.ToTimezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", params.ToTimezone)
	}

	t, err := parseTime(params.Time, params.FromTimezone)
	if err != nil {
		return nil, err
	}

	t = t.In(to)
	return timeResult{
		Time:     t.Format(time.RFC3339),
		Timezone: to.String(),
		Weekday:  t.Weekday().String(),
		Unix:     t.Unix(),
	}, nil
}

func (c *Connector) callDiff(ctx context.Context, args json.RawMessage) (any, error) {
	var params diffParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}

	start, err := parseTime(params.Start, "")
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := parseTime(params.End, "")
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	d := end.Sub(start)
	return map[string]any{
		"duration": d.String(),
		"seconds":  int64(d.Seconds()),
		"days":     d.Hours() / 24,
	}, nil
}

// parseTime accepts RFC 3339 first, then a few common layouts. An explicit
// from timezone overrides the layout's zone only when the layout carries none.
func parseTime(value, fromTZ string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}

	loc := time.UTC
	if fromTZ != "" {
		var err error
		loc, err = time.LoadLocation(fromTZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown timezone %q", fromTZ)
		}
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (use RFC 3339)", value)
}
