package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidCycle is returned for billing cycles that cannot produce renewals.
var ErrInvalidCycle = errors.New("invalid billing cycle")

// Kind tags the billing cycle variant.
type Kind string

const (
	Daily   Kind = "daily"
	Weekly  Kind = "weekly"
	Monthly Kind = "monthly"
	Yearly  Kind = "yearly"
	Custom  Kind = "custom"
)

// MaxIntervalDays bounds Custom cycles at one hundred years.
const MaxIntervalDays = 36525

// Cycle is a billing cycle. Only the fields of its Kind are meaningful:
//
//	Daily, Weekly          no parameters
//	Monthly(DayOfMonth)    1..31, clamped to month length
//	Yearly(Month, Day)     month 1..12, day 1..31, clamped to month length
//	Custom(IntervalDays)   1..MaxIntervalDays
type Cycle struct {
	Kind         Kind       `json:"kind" yaml:"kind"`
	DayOfMonth   int        `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
	Month        time.Month `json:"month,omitempty" yaml:"month,omitempty"`
	Day          int        `json:"day,omitempty" yaml:"day,omitempty"`
	IntervalDays int        `json:"interval_days,omitempty" yaml:"interval_days,omitempty"`
}

func DailyCycle() Cycle { return Cycle{Kind: Daily} }
func WeeklyCycle() Cycle { return Cycle{Kind: Weekly} }
func MonthlyCycle(dayOfMonth int) Cycle { return Cycle{Kind: Monthly, DayOfMonth: dayOfMonth} }
func YearlyCycle(m time.Month, day int) Cycle { return Cycle{Kind: Yearly, Month: m, Day: day} }
func CustomCycle(intervalDays int) Cycle { return Cycle{Kind: Custom, IntervalDays: intervalDays} }

// Validate returns ErrInvalidCycle (wrapped with the reason) for unusable cycles.
func (c Cycle) Validate() error {
	switch c.Kind {
	case Daily, Weekly:
		return nil
	case Monthly:
		if c.DayOfMonth < 1 || c.DayOfMonth > 31 {
			return fmt.Errorf("%w: day of month %d outside [1,31]", ErrInvalidCycle, c.DayOfMonth)
		}
	case Yearly:
		if c.Month < time.January || c.Month > time.December {
			return fmt.Errorf("%w: month %d outside [1,12]", ErrInvalidCycle, int(c.Month))
		}
		if c.Day < 1 || c.Day > 31 {
			return fmt.Errorf("%w: day %d outside [1,31]", ErrInvalidCycle, c.Day)
		}
	case Custom:
		if c.IntervalDays <= 0 {
			return fmt.Errorf("%w: interval %d days must be positive", ErrInvalidCycle, c.IntervalDays)
		}
		if c.IntervalDays > MaxIntervalDays {
			return fmt.Errorf("%w: interval %d days exceeds %d", ErrInvalidCycle, c.IntervalDays, MaxIntervalDays)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCycle, c.Kind)
	}
	return nil
}

// intervalDays returns the fixed period of day-based cycles, 0 otherwise.
func (c Cycle) intervalDays() int {
	switch c.Kind {
	case Daily:
		return 1
	case Weekly:
		return 7
	case Custom:
		return c.IntervalDays
	}
	return 0
}

// String renders the cycle in the form accepted by ParseCycle.
func (c Cycle) String() string {
	switch c.Kind {
	case Monthly:
		return fmt.Sprintf("monthly:%d", c.DayOfMonth)
	case Yearly:
		return fmt.Sprintf("yearly:%02d-%02d", int(c.Month), c.Day)
	case Custom:
		return fmt.Sprintf("custom:%d", c.IntervalDays)
	}
	return string(c.Kind)
}

// ParseCycle parses "daily", "weekly", "monthly:15", "yearly:03-14" or "custom:10".
// The result is validated.
func ParseCycle(s string) (Cycle, error) {
	kind, arg, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	var c Cycle
	switch Kind(kind) {
	case Daily, Weekly:
		c = Cycle{Kind: Kind(kind)}
	case Monthly:
		day, err := strconv.Atoi(arg)
		if err != nil {
			return Cycle{}, fmt.Errorf("%w: monthly needs a day, got %q", ErrInvalidCycle, s)
		}
		c = MonthlyCycle(day)
	case Yearly:
		ms, ds, ok := strings.Cut(arg, "-")
		m, errM := strconv.Atoi(ms)
		d, errD := strconv.Atoi(ds)
		if !ok || errM != nil || errD != nil {
			return Cycle{}, fmt.Errorf("%w: yearly needs MM-DD, got %q", ErrInvalidCycle, s)
		}
		c = YearlyCycle(time.Month(m), d)
	case Custom:
		n, err := strconv.Atoi(arg)
		if err != nil {
			return Cycle{}, fmt.Errorf("%w: custom needs a day count, got %q", ErrInvalidCycle, s)
		}
		c = CustomCycle(n)
	default:
		return Cycle{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidCycle, kind)
	}
	if err := c.Validate(); err != nil {
		return Cycle{}, err
	}
	return c, nil
}

var (
	daysPerYear   = decimal.RequireFromString("365.25")
	monthsPerYear = decimal.NewFromInt(12)
)

// MonthlyFactor returns how many times per average month the cycle bills.
// Daily and day-interval cycles use a 365.25-day year.
func (c Cycle) MonthlyFactor() (decimal.Decimal, error) {
	if err := c.Validate(); err != nil {
		return decimal.Zero, err
	}
	switch c.Kind {
	case Monthly:
		return decimal.NewFromInt(1), nil
	case Yearly:
		return decimal.NewFromInt(1).Div(monthsPerYear), nil
	}
	perYear := daysPerYear.Div(decimal.NewFromInt(int64(c.intervalDays())))
	return perYear.Div(monthsPerYear), nil
}
