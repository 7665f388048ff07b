package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RateProvider returns how many units of `to` one unit of `from` buys.
// Rate sourcing is external; providers only answer from data they were given.
type RateProvider interface {
	Rate(from, to string) (decimal.Decimal, error)
}

// StaticRates is a RateProvider over a fixed table quoted against Base:
// one unit of Base buys Rates[code] units of code.
type StaticRates struct {
	Base  string
	Rates map[string]decimal.Decimal
}

// NewStaticRates builds a table from string quotes, e.g. {"EUR": "0.92"}.
func NewStaticRates(base string, quotes map[string]string) (*StaticRates, error) {
	base, err := normalizeCode(base)
	if err != nil {
		return nil, err
	}
	r := &StaticRates{Base: base, Rates: make(map[string]decimal.Decimal, len(quotes))}
	for code, q := range quotes {
		c, err := normalizeCode(code)
		if err != nil {
			return nil, err
		}
		v, err := decimal.NewFromString(strings.TrimSpace(q))
		if err != nil {
			return nil, fmt.Errorf("rate %s: %w", c, err)
		}
		if !v.IsPositive() {
			return nil, fmt.Errorf("rate %s must be positive, got %s", c, v)
		}
		r.Rates[c] = v
	}
	return r, nil
}

func (r *StaticRates) quote(code string) (decimal.Decimal, bool) {
	if code == r.Base {
		return decimal.NewFromInt(1), true
	}
	v, ok := r.Rates[code]
	return v, ok
}

// Rate implements RateProvider.
func (r *StaticRates) Rate(from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r == nil {
		return decimal.Zero, fmt.Errorf("%w: %s -> %s", ErrNoRate, from, to)
	}
	f, okF := r.quote(from)
	t, okT := r.quote(to)
	if !okF || !okT {
		return decimal.Zero, fmt.Errorf("%w: %s -> %s", ErrNoRate, from, to)
	}
	return t.Div(f), nil
}

// Convert expresses m in currency `to` using rates.
func Convert(m Money, to string, rates RateProvider) (Money, error) {
	code, err := normalizeCode(to)
	if err != nil {
		return Money{}, err
	}
	if m.currency == code {
		return m, nil
	}
	if rates == nil {
		return Money{}, fmt.Errorf("%w: %s -> %s", ErrNoRate, m.currency, code)
	}
	rate, err := rates.Rate(m.currency, code)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Mul(rate), currency: code}, nil
}

// Compare compares a and b, converting b into a's currency when they differ.
func Compare(a, b Money, rates RateProvider) (int, error) {
	conv, err := Convert(b, a.currency, rates)
	if err != nil {
		return 0, err
	}
	return a.amount.Cmp(conv.amount), nil
}

// Sum adds values after converting each into currency `to`. The result is rounded
// to the target currency's minor unit.
func Sum(values []Money, to string, rates RateProvider) (Money, error) {
	total, err := Zero(to)
	if err != nil {
		return Money{}, err
	}
	for _, v := range values {
		conv, err := Convert(v, total.currency, rates)
		if err != nil {
			return Money{}, err
		}
		total.amount = total.amount.Add(conv.amount)
	}
	return total.Round(), nil
}
