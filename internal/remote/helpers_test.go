package remote

import (
	"time"

	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/schedule"
	"github.com/roach88/subtrackr/internal/testutil"
)

// envelope builds a live envelope whose groups are all at (clock, origin).
func envelope(id, amount string, clock int64, origin string) record.Envelope {
	v := record.Version{Clock: clock, Origin: origin}
	return record.Wrap(record.Record{
		ID:       id,
		Name:     "Sub " + id,
		Cost:     money.MustParse(amount, "USD"),
		Cycle:    schedule.MonthlyCycle(15),
		Anchor:   date.New(2026, time.January, 15),
		Status:   record.Active,
		Versions: record.Versions{Details: v, Billing: v, Status: v},
	})
}

func newTestMemory() *Memory {
	return NewMemory(WithTokens(testutil.NewSeqTokens("r")))
}
