// Package date provides a day-granularity calendar date.
//
// Renewal computations never depend on wall-clock time of day or time zones;
// a Date is the same value on every device.
package date

import (
	"encoding/json"
	"fmt"
	"time"
)

// Layout is the ISO-8601 write format.
const Layout = "2006-01-02"

// readLayout also accepts single-digit month and day ("2026-1-5").
const readLayout = "2006-1-2"

// Date is a calendar date with day-level granularity. The zero value is "no date".
type Date struct {
	y int
	m time.Month
	d int
}

// New returns a normalized Date; out-of-range days roll over like time.Date.
func New(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	y, m, dd := t.Date()
	return Date{y, m, dd}
}

// FromTime returns the calendar date of t in t's location.
func FromTime(t time.Time) Date {
	return New(t.Date())
}

// Today returns the current date in the local time zone.
func Today() Date { return FromTime(time.Now()) }

// Parse parses "YYYY-MM-DD" (single-digit month/day accepted).
func Parse(s string) (Date, error) {
	t, err := time.Parse(readLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, want format %q: %w", s, Layout, err)
	}
	return FromTime(t), nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d Date) Year() int         { return d.y }
func (d Date) Month() time.Month { return d.m }
func (d Date) Day() int          { return d.d }
func (d Date) IsZero() bool      { return d.y == 0 && d.m == 0 && d.d == 0 }

// Time returns midnight of d in loc (UTC when loc is nil).
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return New(d.y, d.m, d.d+n) }

// Sub returns the number of days from x to d. It counts whole days from
// Unix seconds, so spans longer than a time.Duration still come out exact.
func (d Date) Sub(x Date) int {
	return int((d.Time(time.UTC).Unix() - x.Time(time.UTC).Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60

func (d Date) Before(x Date) bool { return d.Compare(x) < 0 }
func (d Date) After(x Date) bool  { return d.Compare(x) > 0 }

// Compare returns -1, 0 or +1.
func (d Date) Compare(x Date) int {
	switch {
	case d.y != x.y:
		return cmpInt(d.y, x.y)
	case d.m != x.m:
		return cmpInt(int(d.m), int(x.m))
	default:
		return cmpInt(d.d, x.d)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// String formats d as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time(time.UTC).Format(Layout)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Clamp returns the date for day in (year, month), clamped to the month's last day.
func Clamp(year int, month time.Month, day int) Date {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return Date{year, month, day}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText and UnmarshalText let YAML and CUE catalogs carry plain dates.
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
