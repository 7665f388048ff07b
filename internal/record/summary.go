package record

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/subtrackr/internal/money"
)

// Summary totals the recurring spend of active records in one currency.
type Summary struct {
	Currency string      `json:"currency"`
	Active   int         `json:"active"`
	Paused   int         `json:"paused"`
	Monthly  money.Money `json:"monthly"`
	Yearly   money.Money `json:"yearly"`
}

// Summarize converts each active record's monthly cost into currency and
// sums them. Paused and cancelled records are counted but cost nothing;
// tombstones are ignored.
func Summarize(records []Record, currency string, rates money.RateProvider) (Summary, error) {
	var monthly []money.Money
	s := Summary{Currency: currency}
	for _, r := range records {
		if r.Deleted() {
			continue
		}
		switch r.Status {
		case Paused:
			s.Paused++
			continue
		case Cancelled:
			continue
		}
		m, err := r.MonthlyCost()
		if err != nil {
			return Summary{}, fmt.Errorf("summarize %s: %w", r.ID, err)
		}
		monthly = append(monthly, m)
		s.Active++
	}

	total, err := money.Sum(monthly, currency, rates)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	s.Currency = total.Currency()
	s.Monthly = total
	s.Yearly = total.Mul(decimal.NewFromInt(12)).Round()
	return s, nil
}
