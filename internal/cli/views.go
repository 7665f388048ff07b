package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/subtrackr/internal/notify"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/store"
)

// DueOutput is one row of the due command.
type DueOutput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Cost        string `json:"cost"`
	NextRenewal string `json:"next_renewal"`
	InDays      int    `json:"in_days"`
}

// NewDueCommand creates the due command.
func NewDueCommand(rootOpts *RootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List active subscriptions renewing soon",
		Long: `List active subscriptions renewing from today up to, but not including,
today plus --days.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return newApp(rootOpts, cmd).out.Fail(fmt.Errorf("%w: --days must be at least 1", ErrInvalidInput))
			}
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				today := a.today()
				due, err := st.ListDueBefore(cmd.Context(), today.AddDays(days))
				if err != nil {
					return err
				}
				rows := make([]DueOutput, 0, len(due))
				for _, d := range due {
					rows = append(rows, DueOutput{
						ID:          d.Record.ID,
						Name:        d.Record.Name,
						Cost:        formatMoney(d.Record.Cost),
						NextRenewal: d.NextRenewal.String(),
						InDays:      d.NextRenewal.Sub(today),
					})
				}
				return a.out.Result(rows, func(w io.Writer) {
					if len(rows) == 0 {
						fmt.Fprintf(w, "Nothing renews in the next %d days.\n", days)
						return
					}
					t := newTable(w, table.Row{"Renews", "In", "ID", "Name", "Cost"}, 2, 5)
					for _, r := range rows {
						t.AppendRow(table.Row{r.NextRenewal, fmt.Sprintf("%dd", r.InDays), r.ID, r.Name, r.Cost})
					}
					t.Render()
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "look-ahead in days")
	return cmd
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show renewal reminders due in the coming days",
		Long: `Show the reminders that fire in the next --days, using the reminder
lead days, time of day, time zone and muted ids from the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return newApp(rootOpts, cmd).out.Fail(fmt.Errorf("%w: --days must be at least 1", ErrInvalidInput))
			}
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				prefs, err := a.cfg.ReminderPreferences()
				if err != nil {
					return fmt.Errorf("%w: %w", errConfig, err)
				}
				recs, err := st.List(cmd.Context(), store.ListOptions{Statuses: []record.Status{record.Active}})
				if err != nil {
					return err
				}
				reminders := notify.Plan(recs, prefs, notify.Next(a.opts.Now(), time.Duration(days)*24*time.Hour))
				if reminders == nil {
					reminders = []notify.Reminder{}
				}
				return a.out.Result(reminders, func(w io.Writer) {
					if len(reminders) == 0 {
						fmt.Fprintf(w, "No reminders in the next %d days.\n", days)
						return
					}
					notify.Render(w, reminders)
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 14, "planning window in days")
	return cmd
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show total monthly and yearly spend",
		Long: `Show the monthly and yearly spend of active subscriptions, converted to
one currency with the configured exchange rates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				if currency == "" {
					currency = a.cfg.Currency.Home
				}
				rates, err := a.cfg.Rates()
				if err != nil {
					return fmt.Errorf("%w: %w", errConfig, err)
				}
				recs, err := st.List(cmd.Context(), store.ListOptions{})
				if err != nil {
					return err
				}
				sum, err := record.Summarize(recs, currency, rates)
				if err != nil {
					return fmt.Errorf("%w: %w", ErrInvalidInput, err)
				}
				return a.out.Result(sum, func(w io.Writer) {
					t := newTable(w, table.Row{"Active", "Paused", "Monthly", "Yearly"}, 3, 4)
					t.AppendRow(table.Row{sum.Active, sum.Paused, formatMoney(sum.Monthly), formatMoney(sum.Yearly)})
					t.Render()
				})
			})
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "report currency (default: home currency)")
	return cmd
}
