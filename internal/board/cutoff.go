package board

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	relativeRe = regexp.MustCompile(`^(\d+)\s*(분|시간|일)\s*전$`)
	monthDayRe = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.?$`)
)

// absoluteLayouts are the date shapes the boards are known to render.
// Anything else falls through to dateparse.
var absoluteLayouts = []string{
	"2006.01.02 15:04",
	"2006.01.02",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CutoffPolicy decides whether an item's timestamp falls outside the crawl
// window. The cutoff instant and the "now" reference for relative dates are
// both fixed at construction so a session's admission decisions are
// reproducible no matter how long it runs.
type CutoffPolicy struct {
	cutoff time.Time
	now    time.Time
	loc    *time.Location
}

// NewCutoffPolicy builds a policy whose cutoff is now-window, with both
// instants anchored in loc.
func NewCutoffPolicy(window time.Duration, clock Clock, loc *time.Location) *CutoffPolicy {
	now := clock.Now().In(loc)
	return &CutoffPolicy{
		cutoff: now.Add(-window),
		now:    now,
		loc:    loc,
	}
}

// Cutoff returns the session's cutoff instant.
func (p *CutoffPolicy) Cutoff() time.Time {
	return p.cutoff
}

// IsBeforeCutoff reports whether raw parses to an instant strictly older
// than the cutoff. A parse error means the caller should skip the item and
// keep going, never stop pagination.
func (p *CutoffPolicy) IsBeforeCutoff(raw string) (bool, error) {
	ts, err := p.Parse(raw)
	if err != nil {
		return false, err
	}
	return ts.Before(p.cutoff), nil
}

// Parse normalizes a site-native timestamp to an absolute instant in the
// policy's location. Supported shapes: relative ("N분 전", "N시간 전",
// "N일 전", "오늘", "어제"), bare month.day with inferred year, and the
// absolute layouts above.
func (p *CutoffPolicy) Parse(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("relative timestamp %q: %w", raw, err)
		}
		switch m[2] {
		case "분":
			return p.now.Add(-time.Duration(n) * time.Minute), nil
		case "시간":
			return p.now.Add(-time.Duration(n) * time.Hour), nil
		default:
			return p.now.AddDate(0, 0, -n), nil
		}
	}

	switch s {
	case "오늘":
		return p.now, nil
	case "어제":
		return p.now.AddDate(0, 0, -1), nil
	}

	if m := monthDayRe.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return time.Time{}, fmt.Errorf("month.day timestamp %q out of range", raw)
		}
		ts := time.Date(p.now.Year(), time.Month(month), day, 0, 0, 0, 0, p.loc)
		// The boards omit the year on older posts. A date that lands in the
		// future relative to now is taken to be from last year.
		if ts.After(p.now) {
			ts = ts.AddDate(-1, 0, 0)
		}
		return ts, nil
	}

	for _, layout := range absoluteLayouts {
		if ts, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return ts, nil
		}
	}

	ts, err := dateparse.ParseIn(s, p.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable timestamp %q: %w", raw, err)
	}
	return ts, nil
}
