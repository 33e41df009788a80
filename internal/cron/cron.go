// Package cron parses 5-field crontab expressions and computes next-run
// times. The supported grammar per field is '*', a literal, 'a-b' ranges,
// '*/n' and 'a-b/n' steps, and comma lists of those. Next-run computation
// scans forward minute by minute with a one-year bound, which is exact for
// this grammar and keeps the algorithm auditable.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression.
type Schedule struct {
	minute     fieldSet
	hour       fieldSet
	dayOfMonth fieldSet
	month      fieldSet
	dayOfWeek  fieldSet

	// restrictedDOM/restrictedDOW track whether the day fields were given
	// as anything other than a '*'-prefixed entry ('*' and '*/n' both count
	// as unrestricted, as in Vixie cron). When both are restricted, a day
	// matches if either field matches (conventional cron OR semantics).
	restrictedDOM bool
	restrictedDOW bool
}

type fieldSet [60]bool

func (f *fieldSet) contains(n int) bool { return f[n] }

type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7}, // 7 is accepted as an alias for Sunday (0)
}

// Parse parses a 5-field cron expression.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	s := &Schedule{}
	targets := [5]*fieldSet{&s.minute, &s.hour, &s.dayOfMonth, &s.month, &s.dayOfWeek}

	for i, text := range fields {
		spec := fieldSpecs[i]
		if err := parseField(text, spec, targets[i]); err != nil {
			return nil, fmt.Errorf("%s field %q: %w", spec.name, text, err)
		}
	}

	s.restrictedDOM = !strings.HasPrefix(fields[2], "*")
	s.restrictedDOW = !strings.HasPrefix(fields[4], "*")

	// Fold day-of-week 7 into 0.
	if s.dayOfWeek.contains(7) {
		s.dayOfWeek[0] = true
	}

	return s, nil
}

func parseField(text string, spec fieldSpec, out *fieldSet) error {
	for _, part := range strings.Split(text, ",") {
		if part == "" {
			return fmt.Errorf("empty list element")
		}
		if err := parsePart(part, spec, out); err != nil {
			return err
		}
	}
	return nil
}

func parsePart(part string, spec fieldSpec, out *fieldSet) error {
	rangeText, stepText, hasStep := strings.Cut(part, "/")

	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepText)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step %q", stepText)
		}
		step = n
	}

	lo, hi := spec.min, spec.max
	switch {
	case rangeText == "*":
		// full range
	case strings.Contains(rangeText, "-"):
		loText, hiText, _ := strings.Cut(rangeText, "-")
		var err error
		if lo, err = parseValue(loText, spec); err != nil {
			return err
		}
		if hi, err = parseValue(hiText, spec); err != nil {
			return err
		}
		if lo > hi {
			return fmt.Errorf("range %d-%d is inverted", lo, hi)
		}
	default:
		n, err := parseValue(rangeText, spec)
		if err != nil {
			return err
		}
		lo, hi = n, n
		if hasStep {
			// "n/step" means "start at n" in classic cron
			hi = spec.max
		}
	}

	for v := lo; v <= hi; v += step {
		out[v] = true
	}
	return nil
}

func parseValue(text string, spec fieldSpec) (int, error) {
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", text)
	}
	if n < spec.min || n > spec.max {
		return 0, fmt.Errorf("value %d out of range %d-%d", n, spec.min, spec.max)
	}
	return n, nil
}

// nextRunBound limits the forward scan. No 5-field expression with at least
// one matching day can go a full year without firing.
const nextRunBound = 366 * 24 * 60

// Next returns the first time strictly after t at which the schedule fires,
// or the zero time if none exists within one year.
func (s *Schedule) Next(t time.Time) time.Time {
	// Advance to the next whole minute; a schedule never fires twice in
	// the minute it was computed from.
	cur := t.Truncate(time.Minute).Add(time.Minute)

	for i := 0; i < nextRunBound; i++ {
		if s.matches(cur) {
			return cur
		}
		cur = cur.Add(time.Minute)
	}
	return time.Time{}
}

func (s *Schedule) matches(t time.Time) bool {
	if !s.minute.contains(t.Minute()) || !s.hour.contains(t.Hour()) || !s.month.contains(int(t.Month())) {
		return false
	}
	domMatch := s.dayOfMonth.contains(t.Day())
	dowMatch := s.dayOfWeek.contains(int(t.Weekday()))
	if s.restrictedDOM && s.restrictedDOW {
		return domMatch || dowMatch
	}
	return domMatch && dowMatch
}
