package schedule

import (
	"fmt"
	"time"

	"github.com/roach88/subtrackr/internal/date"
)

// NextRenewal returns the first renewal strictly after from.
//
// The anchor is the first occurrence of the cycle, so the result is never
// before anchor. When from is before the anchor the anchor-phase first
// occurrence is returned.
func NextRenewal(c Cycle, anchor, from date.Date) (date.Date, error) {
	if err := c.Validate(); err != nil {
		return date.Date{}, err
	}
	if anchor.IsZero() {
		return date.Date{}, fmt.Errorf("%w: anchor date is required", ErrInvalidCycle)
	}

	first := firstOccurrence(c, anchor)
	if from.Before(first) {
		return first, nil
	}

	switch c.Kind {
	case Monthly:
		next := date.Clamp(from.Year(), from.Month(), c.DayOfMonth)
		if !next.After(from) {
			y, m := addMonth(from.Year(), from.Month())
			next = date.Clamp(y, m, c.DayOfMonth)
		}
		return next, nil
	case Yearly:
		next := date.Clamp(from.Year(), c.Month, c.Day)
		if !next.After(from) {
			next = date.Clamp(from.Year()+1, c.Month, c.Day)
		}
		return next, nil
	default:
		n := c.intervalDays()
		k := from.Sub(first)/n + 1
		return first.AddDays(k * n), nil
	}
}

// Renewals returns every renewal in (after, through], in ascending order.
func Renewals(c Cycle, anchor, after, through date.Date) ([]date.Date, error) {
	var out []date.Date
	cur := after
	for {
		next, err := NextRenewal(c, anchor, cur)
		if err != nil {
			return nil, err
		}
		if !next.After(cur) {
			return nil, fmt.Errorf("%w: renewal %s does not advance past %s", ErrInvalidCycle, next, cur)
		}
		if next.After(through) {
			return out, nil
		}
		out = append(out, next)
		cur = next
	}
}

// firstOccurrence is the earliest renewal on or after anchor.
func firstOccurrence(c Cycle, anchor date.Date) date.Date {
	switch c.Kind {
	case Monthly:
		d := date.Clamp(anchor.Year(), anchor.Month(), c.DayOfMonth)
		if d.Before(anchor) {
			y, m := addMonth(anchor.Year(), anchor.Month())
			d = date.Clamp(y, m, c.DayOfMonth)
		}
		return d
	case Yearly:
		d := date.Clamp(anchor.Year(), c.Month, c.Day)
		if d.Before(anchor) {
			d = date.Clamp(anchor.Year()+1, c.Month, c.Day)
		}
		return d
	}
	return anchor
}

func addMonth(y int, m time.Month) (int, time.Month) {
	if m == time.December {
		return y + 1, time.January
	}
	return y, m + 1
}
