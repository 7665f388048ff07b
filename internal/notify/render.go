package notify

import (
	"fmt"
	"io"
)

// Render writes one line per reminder:
//
//	2026-03-12 09:00 UTC  sub-1  Streaming  renews 2026-03-15  3 days before  9.99 USD
func Render(w io.Writer, reminders []Reminder) error {
	for _, r := range reminders {
		_, err := fmt.Fprintf(w, "%s  %s  %s  renews %s  %s  %s %s\n",
			r.FireAt.Format("2006-01-02 15:04 MST"),
			r.RecordID,
			r.Name,
			r.Renewal,
			LeadText(r.LeadDays),
			r.Cost.StringFixed(),
			r.Cost.Currency(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// LeadText describes a lead time: "on the day", "1 day before", "3 days before".
func LeadText(days int) string {
	switch days {
	case 0:
		return "on the day"
	case 1:
		return "1 day before"
	}
	return fmt.Sprintf("%d days before", days)
}
