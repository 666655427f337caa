package outage

import (
	"fmt"
	"regexp"
	"strings"
)

// windowSep splits the column text into windows: the source renders its table
// cells as plain text with runs of two or more spaces between windows.
var windowSep = regexp.MustCompile(` {2,}`)

// SkippedWindow is a fragment that could not be parsed as a window.
type SkippedWindow struct {
	Raw string
	Err error
}

// ParseResult is the outcome of ParseReport.
type ParseResult struct {
	Intervals []Interval
	Skipped   []SkippedWindow
}

// Parse returns the well-formed windows of raw in input order.
// Malformed windows are dropped; the call never fails.
func Parse(raw string) []Interval {
	return ParseReport(raw).Intervals
}

// ParseReport is Parse plus the list of dropped fragments.
func ParseReport(raw string) ParseResult {
	res := ParseResult{Intervals: []Interval{}}
	if strings.TrimSpace(raw) == "" {
		return res
	}
	for _, frag := range windowSep.Split(raw, -1) {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			continue
		}
		iv, err := parseWindow(frag)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedWindow{Raw: frag, Err: err})
			continue
		}
		res.Intervals = append(res.Intervals, iv)
	}
	return res
}

func parseWindow(s string) (Interval, error) {
	startRaw, endRaw, ok := strings.Cut(s, "-")
	if !ok {
		return Interval{}, fmt.Errorf("%w: %q", ErrMissingHyphen, s)
	}
	start, err := ParseClock(startRaw)
	if err != nil {
		return Interval{}, fmt.Errorf("start: %w", err)
	}
	end, err := ParseClock(endRaw)
	if err != nil {
		return Interval{}, fmt.Errorf("end: %w", err)
	}
	if start == end {
		return Interval{}, fmt.Errorf("%w: %q", ErrEmptyWindow, s)
	}
	return Interval{Start: start, End: end}, nil
}

// Format renders intervals back into the source's textual layout.
func Format(ivs []Interval) string {
	parts := make([]string, 0, len(ivs))
	for _, iv := range ivs {
		parts = append(parts, iv.String())
	}
	return strings.Join(parts, "  ")
}
