// Package cronexpr parses 5-field cron expressions and computes the next
// qualifying instant. The grammar is deliberately small: each field accepts
// `*`, `*/n`, single values, inclusive ranges `a-b`, and comma lists of
// values and ranges. Names, `@` aliases, and POSIX day-of-week/day-of-month
// union semantics are out of scope; all five fields must match.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field describes one position of the expression for parsing and errors.
type field struct {
	name string
	min  int
	max  int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// Schedule is a parsed cron expression. It is immutable after Parse and
// safe for concurrent use.
type Schedule struct {
	expr    string
	minute  map[int]bool
	hour    map[int]bool
	day     map[int]bool
	month   map[int]bool
	weekday map[int]bool
}

// Parse parses a 5-field cron expression. Errors name the offending field.
func Parse(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("expected 5 fields (minute hour day month weekday), got %d", len(parts))
	}

	sets := [5]map[int]bool{}
	for i, f := range fields {
		set, err := parseField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", f.name, parts[i], err)
		}
		sets[i] = set
	}

	return &Schedule{
		expr:    expr,
		minute:  sets[0],
		hour:    sets[1],
		day:     sets[2],
		month:   sets[3],
		weekday: sets[4],
	}, nil
}

// Validate reports whether expr is a well-formed 5-field expression.
// It is total: any input yields either nil or a descriptive error.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// parseField expands one field into the set of matching values.
func parseField(part string, min, max int) (map[int]bool, error) {
	values := make(map[int]bool)

	for _, token := range strings.Split(part, ",") {
		switch {
		case token == "*":
			for i := min; i <= max; i++ {
				values[i] = true
			}

		case strings.HasPrefix(token, "*/"):
			step, err := strconv.Atoi(token[2:])
			if err != nil || step < 1 {
				return nil, fmt.Errorf("invalid step %q", token)
			}
			for i := min; i <= max; i += step {
				values[i] = true
			}

		case strings.Contains(token, "-"):
			bounds := strings.Split(token, "-")
			if len(bounds) != 2 {
				return nil, fmt.Errorf("invalid range %q", token)
			}
			start, err1 := strconv.Atoi(bounds[0])
			end, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil || start > end || start < min || end > max {
				return nil, fmt.Errorf("invalid range %q", token)
			}
			for i := start; i <= end; i++ {
				values[i] = true
			}

		default:
			num, err := strconv.Atoi(token)
			if err != nil || num < min || num > max {
				return nil, fmt.Errorf("invalid value %q", token)
			}
			values[num] = true
		}
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("empty field")
	}
	return values, nil
}

// matches reports whether t satisfies every field of the schedule.
func (s *Schedule) matches(t time.Time) bool {
	return s.month[int(t.Month())] &&
		s.day[t.Day()] &&
		s.weekday[int(t.Weekday())] &&
		s.hour[t.Hour()] &&
		s.minute[t.Minute()]
}

// searchHorizon bounds the Next scan. Four years covers every reachable
// combination including Feb 29; anything still unmatched is unsatisfiable
// (e.g. "0 0 31 2 *").
const searchHorizon = 4 * 366 * 24 * time.Hour

// Next returns the earliest instant strictly after from that satisfies the
// schedule, at minute resolution, in from's location. If from itself
// satisfies the schedule the following occurrence is returned. The zero
// time is returned for unsatisfiable schedules.
func (s *Schedule) Next(from time.Time) time.Time {
	// Advance to the next whole minute past from.
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.Add(searchHorizon)

	for t.Before(limit) {
		if !s.month[int(t.Month())] {
			// Jump to the first minute of the next month.
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !s.day[t.Day()] || !s.weekday[int(t.Weekday())] {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !s.hour[t.Hour()] {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if !s.minute[t.Minute()] {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

// NextInLocation parses expr, loads tz, and computes the next occurrence
// after from evaluated in that timezone. This is the entry point the poller
// uses to advance a job's watermark.
func NextInLocation(expr, tz string, from time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	next := sched.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("expression %q has no future occurrence", expr)
	}
	return next, nil
}
