// Package money provides fixed-point monetary values tagged with an ISO 4217
// currency code.
//
// Amounts are exact decimals (github.com/shopspring/decimal). Currency metadata
// such as fraction digits and display templates comes from
// github.com/Rhymond/go-money. Values in different currencies never mix
// implicitly: arithmetic across currencies goes through a RateProvider.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCurrency is returned for codes that are not ISO 4217 currencies.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrCurrencyMismatch is returned by same-currency arithmetic on different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrNoRate is returned when a RateProvider cannot convert between two currencies.
	ErrNoRate = errors.New("no exchange rate")
)

// Money is an exact amount in a single currency. The zero value is invalid.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New returns m = amount in currency. The code is upper-cased and validated.
func New(amount decimal.Decimal, currency string) (Money, error) {
	code, err := normalizeCode(currency)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: amount, currency: code}, nil
}

// Parse parses a decimal string such as "9.99".
func Parse(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return New(d, currency)
}

// MustParse is like Parse but panics on error.
func MustParse(amount, currency string) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err.Error())
	}
	return m
}

// Zero returns a zero amount in currency.
func Zero(currency string) (Money, error) {
	return New(decimal.Zero, currency)
}

func normalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || gomoney.GetCurrency(code) == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return code, nil
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsNegative() bool        { return m.amount.IsNegative() }
func (m Money) IsValid() bool           { return m.currency != "" }

// Equal reports whether m and n have the same currency and numerically equal amounts.
func (m Money) Equal(n Money) bool {
	return m.currency == n.currency && m.amount.Equal(n.amount)
}

// Fraction returns the number of minor-unit digits of m's currency.
func (m Money) Fraction() int {
	if c := gomoney.GetCurrency(m.currency); c != nil {
		return c.Fraction
	}
	return 2
}

// Round rounds m to its currency's minor unit.
func (m Money) Round() Money {
	return Money{amount: m.amount.Round(int32(m.Fraction())), currency: m.currency}
}

// InMinorUnits reports whether m needs no digits beyond its currency's minor unit.
func (m Money) InMinorUnits() bool {
	return m.amount.Equal(m.amount.Round(int32(m.Fraction())))
}

// Add returns m+n. Both must share a currency.
func (m Money) Add(n Money) (Money, error) {
	if m.currency != n.currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.currency, n.currency)
	}
	return Money{amount: m.amount.Add(n.amount), currency: m.currency}, nil
}

// Sub returns m-n. Both must share a currency.
func (m Money) Sub(n Money) (Money, error) {
	if m.currency != n.currency {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrCurrencyMismatch, m.currency, n.currency)
	}
	return Money{amount: m.amount.Sub(n.amount), currency: m.currency}, nil
}

// Mul scales m by factor, keeping full precision.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// Cmp compares m and n, which must share a currency.
func (m Money) Cmp(n Money) (int, error) {
	if m.currency != n.currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, n.currency)
	}
	return m.amount.Cmp(n.amount), nil
}

// String formats m with its currency's display template, e.g. "$9.99".
func (m Money) String() string {
	if !m.IsValid() {
		return m.amount.String()
	}
	c := gomoney.GetCurrency(m.currency)
	minor := m.amount.Shift(int32(c.Fraction)).Round(0).IntPart()
	return c.Formatter().Format(minor)
}

// StringFixed formats the bare amount with the currency's fraction digits ("9.99").
func (m Money) StringFixed() string {
	return m.amount.StringFixed(int32(m.Fraction()))
}

type moneyJSON struct {
	Amount   string `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// MarshalJSON encodes the amount as a string so no precision is lost.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.String(), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
