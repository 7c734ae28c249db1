package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"
)

// Schedule yields the next trigger time strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

type clock struct {
	hour, minute int
}

// Daily fires at fixed wall-clock times every day in one timezone.
type Daily struct {
	times []clock
	loc   *time.Location
}

// NewDaily parses HH:MM times. Duplicates are dropped and the list is sorted.
func NewDaily(times []string, loc *time.Location) (*Daily, error) {
	if loc == nil {
		return nil, fmt.Errorf("timezone is required")
	}
	seen := make(map[clock]bool)
	var clocks []clock
	for _, raw := range times {
		t, err := time.Parse("15:04", strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid time %q: expected HH:MM", raw)
		}
		c := clock{t.Hour(), t.Minute()}
		if !seen[c] {
			seen[c] = true
			clocks = append(clocks, c)
		}
	}
	if len(clocks) == 0 {
		return nil, fmt.Errorf("at least one time is required")
	}
	sort.Slice(clocks, func(i, j int) bool {
		if clocks[i].hour != clocks[j].hour {
			return clocks[i].hour < clocks[j].hour
		}
		return clocks[i].minute < clocks[j].minute
	})
	return &Daily{times: clocks, loc: loc}, nil
}

func (d *Daily) Next(after time.Time) time.Time {
	local := after.In(d.loc)
	y, m, day := local.Date()
	for _, c := range d.times {
		candidate := time.Date(y, m, day, c.hour, c.minute, 0, 0, d.loc)
		if candidate.After(after) {
			return candidate
		}
	}
	first := d.times[0]
	return time.Date(y, m, day+1, first.hour, first.minute, 0, 0, d.loc)
}

func (d *Daily) String() string {
	parts := make([]string, len(d.times))
	for i, c := range d.times {
		parts[i] = fmt.Sprintf("%02d:%02d", c.hour, c.minute)
	}
	return fmt.Sprintf("daily at %s (%s)", strings.Join(parts, ", "), d.loc)
}

// Interval fires at a fixed period.
type Interval struct {
	Every time.Duration
}

func (i Interval) Next(after time.Time) time.Time {
	return after.Add(i.Every)
}

func (i Interval) String() string {
	return fmt.Sprintf("every %s", i.Every)
}

// Parse builds a schedule from configuration. A positive interval takes
// precedence over times.
func Parse(times []string, interval time.Duration, timezone string) (Schedule, error) {
	if interval > 0 {
		return Interval{Every: interval}, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return NewDaily(times, loc)
}
