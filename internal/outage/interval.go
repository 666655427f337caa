// Package outage holds the value types of an interruption schedule and the
// parser for the textual window list published by the schedule source.
package outage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidClock    = errors.New("invalid clock time")
	ErrInvalidDate     = errors.New("invalid date")
	ErrMissingHyphen   = errors.New("window has no hyphen")
	ErrEmptyWindow     = errors.New("window start equals end")
	ErrUnknownDayLabel = errors.New("unknown day")
)

// ClockTime is an hour:minute pair on a 24-hour scale.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (single-digit hours accepted).
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || len(ms) != 2 || hs == "" || len(hs) > 2 || !allDigits(hs) || !allDigits(ms) {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("%w: hour in %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("%w: minute in %q", ErrInvalidClock, s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// allDigits rejects the signs and spaces strconv.Atoi would otherwise accept.
func allDigits(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool { return r < '0' || r > '9' })
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Minutes returns minutes since midnight.
func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

// Interval is one interruption window. Start != End; End may be earlier than
// Start for windows that run past midnight.
type Interval struct {
	Start ClockTime
	End   ClockTime
}

func (iv Interval) String() string { return iv.Start.String() + " - " + iv.End.String() }

// Overnight reports whether the window wraps past midnight.
func (iv Interval) Overnight() bool { return iv.End.Minutes() < iv.Start.Minutes() }

// Date is a civil calendar date in the source's local convention.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "02.01.2006"

// ParseDate parses "DD.MM.YYYY".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%02d.%02d.%04d", d.Day, int(d.Month), d.Year)
}

// At combines the date with a clock time in loc.
func (d Date) At(c ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

// Day selects today or tomorrow relative to the source's local clock.
type Day int

const (
	Today Day = iota
	Tomorrow
)

func (d Day) String() string {
	if d == Tomorrow {
		return "tomorrow"
	}
	return "today"
}

// ParseDay accepts "today" / "tomorrow".
func ParseDay(s string) (Day, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "today":
		return Today, nil
	case "tomorrow":
		return Tomorrow, nil
	default:
		return Today, fmt.Errorf("%w: %q", ErrUnknownDayLabel, s)
	}
}

// Resolve maps the day label onto a calendar date using now in loc.
func (d Day) Resolve(now time.Time, loc *time.Location) Date {
	if loc != nil {
		now = now.In(loc)
	}
	today := DateOf(now)
	if d == Tomorrow {
		return today.AddDays(1)
	}
	return today
}
