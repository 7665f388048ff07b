package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/schedule"
	"github.com/roach88/subtrackr/internal/store"
)

// RecordOutput is a record plus the derived fields shown to users.
type RecordOutput struct {
	record.Record
	NextRenewal string `json:"next_renewal,omitempty"`
	Monthly     string `json:"monthly,omitempty"`
}

func newRecordOutput(r record.Record, today date.Date) RecordOutput {
	out := RecordOutput{Record: r}
	// A renewal falling today is still upcoming.
	if next, err := r.NextRenewal(today.AddDays(-1)); err == nil {
		out.NextRenewal = next.String()
	}
	if m, err := r.MonthlyCost(); err == nil {
		out.Monthly = formatMoney(m.Round())
	}
	return out
}

// recordFlags are the editable fields shared by add and edit.
type recordFlags struct {
	ID       string
	Name     string
	Notes    string
	Cost     string
	Currency string
	Cycle    string
	Anchor   string
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Name, "name", "", "display name")
	cmd.Flags().StringVar(&f.Notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&f.Cost, "cost", "", `amount per cycle, e.g. "9.99"`)
	cmd.Flags().StringVar(&f.Currency, "currency", "", "ISO 4217 code (default: home currency)")
	cmd.Flags().StringVar(&f.Cycle, "cycle", "", "daily, weekly, monthly:DAY, yearly:MM-DD or custom:DAYS")
	cmd.Flags().StringVar(&f.Anchor, "anchor", "", "first billing date YYYY-MM-DD (default: today)")
}

func parseCost(amount, currency string) (money.Money, error) {
	m, err := money.Parse(amount, currency)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: --cost: %w", ErrInvalidInput, err)
	}
	return m, nil
}

func parseAnchor(s string) (date.Date, error) {
	d, err := date.Parse(s)
	if err != nil {
		return date.Date{}, fmt.Errorf("%w: --anchor: %w", ErrInvalidInput, err)
	}
	return d, nil
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	f := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Track a new subscription",
		Long: `Track a new subscription on this device.

Examples:
  subtrackr add --name Streaming --cost 9.99 --cycle monthly:15 --anchor 2026-01-15
  subtrackr add --name Cloud --cost 99 --currency EUR --cycle yearly:03-20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				return runAdd(cmd.Context(), a, st, f)
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.ID, "id", "", "record id (default: generated)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("cost")
	cmd.MarkFlagRequired("cycle")
	return cmd
}

func runAdd(ctx context.Context, a *app, st *store.Store, f *recordFlags) error {
	currency := f.Currency
	if currency == "" {
		currency = a.cfg.Currency.Home
	}
	cost, err := parseCost(f.Cost, currency)
	if err != nil {
		return err
	}
	cycle, err := schedule.ParseCycle(f.Cycle)
	if err != nil {
		return err
	}
	anchor := a.today()
	if f.Anchor != "" {
		if anchor, err = parseAnchor(f.Anchor); err != nil {
			return err
		}
	}

	r, err := st.Create(ctx, record.Record{
		ID:     strings.TrimSpace(f.ID),
		Name:   strings.TrimSpace(f.Name),
		Notes:  f.Notes,
		Cost:   cost,
		Cycle:  cycle,
		Anchor: anchor,
	})
	if err != nil {
		return err
	}
	a.log.Info().Str("id", r.ID).Str("name", r.Name).Msg("subscription added")

	out := newRecordOutput(r, a.today())
	return a.out.Result(out, func(w io.Writer) {
		fmt.Fprintf(w, "Added %s (%s), next renewal %s\n", r.Name, r.ID, out.NextRenewal)
	})
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	Statuses []string
	All      bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				return runList(cmd.Context(), a, st, opts)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "only these statuses (active, paused, cancelled)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include deleted records")
	return cmd
}

func runList(ctx context.Context, a *app, st *store.Store, opts *ListOptions) error {
	lo := store.ListOptions{IncludeDeleted: opts.All}
	for _, s := range opts.Statuses {
		status, err := record.ParseStatus(s)
		if err != nil {
			return fmt.Errorf("%w: --status: %w", ErrInvalidInput, err)
		}
		lo.Statuses = append(lo.Statuses, status)
	}

	recs, err := st.List(ctx, lo)
	if err != nil {
		return err
	}
	today := a.today()
	rows := make([]RecordOutput, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, newRecordOutput(r, today))
	}

	return a.out.Result(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintln(w, "No subscriptions.")
			return
		}
		t := newTable(w, table.Row{"ID", "Name", "Status", "Cost", "Cycle", "Next renewal", "Monthly"}, 4, 7)
		for _, r := range rows {
			status := string(r.Status)
			if r.Deleted() {
				status = "deleted"
			}
			t.AppendRow(table.Row{r.ID, r.Name, status, formatMoney(r.Cost), r.Cycle.String(), r.NextRenewal, r.Monthly})
		}
		t.Render()
	})
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				r, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printRecord(a, newRecordOutput(r, a.today()))
			})
		},
	}
}

func printRecord(a *app, r RecordOutput) error {
	return a.out.Result(r, func(w io.Writer) {
		t := newTable(w, table.Row{"Field", "Value"})
		t.AppendRows([]table.Row{
			{"ID", r.ID},
			{"Name", r.Name},
			{"Status", string(r.Status)},
			{"Cost", formatMoney(r.Cost)},
			{"Cycle", r.Cycle.String()},
			{"Anchor", r.Anchor.String()},
			{"Next renewal", r.NextRenewal},
			{"Monthly", r.Monthly},
		})
		if r.Notes != "" {
			t.AppendRow(table.Row{"Notes", r.Notes})
		}
		t.Render()
	})
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	f := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a subscription",
		Long: `Change fields of a subscription. Only the flags given are changed.

Examples:
  subtrackr edit 0191c7e4 --cost 12.99
  subtrackr edit 0191c7e4 --name "Streaming Plus" --notes "family plan"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				return runEdit(cmd, a, st, args[0], f)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func runEdit(cmd *cobra.Command, a *app, st *store.Store, id string, f *recordFlags) error {
	changed := cmd.Flags().Changed
	if !changed("name") && !changed("notes") && !changed("cost") && !changed("currency") &&
		!changed("cycle") && !changed("anchor") {
		return fmt.Errorf("%w: nothing to change", ErrInvalidInput)
	}

	r, err := st.Update(cmd.Context(), id, func(r *record.Record) error {
		if changed("name") {
			r.Name = strings.TrimSpace(f.Name)
		}
		if changed("notes") {
			r.Notes = f.Notes
		}
		if changed("cost") || changed("currency") {
			amount, currency := r.Cost.Amount().String(), r.Cost.Currency()
			if changed("cost") {
				amount = f.Cost
			}
			if changed("currency") {
				currency = f.Currency
			}
			cost, err := parseCost(amount, currency)
			if err != nil {
				return err
			}
			r.Cost = cost
		}
		if changed("cycle") {
			cycle, err := schedule.ParseCycle(f.Cycle)
			if err != nil {
				return err
			}
			r.Cycle = cycle
		}
		if changed("anchor") {
			anchor, err := parseAnchor(f.Anchor)
			if err != nil {
				return err
			}
			r.Anchor = anchor
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.log.Info().Str("id", r.ID).Int64("clock", r.Clock()).Msg("subscription edited")
	return printRecord(a, newRecordOutput(r, a.today()))
}

// NewStatusCommands creates pause, resume and cancel.
func NewStatusCommands(rootOpts *RootOptions) []*cobra.Command {
	mk := func(use, short string, to record.Status) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
					r, err := st.SetStatus(cmd.Context(), args[0], to)
					if err != nil {
						return err
					}
					a.log.Info().Str("id", r.ID).Str("status", string(to)).Msg("status changed")
					return a.out.Result(newRecordOutput(r, a.today()), func(w io.Writer) {
						fmt.Fprintf(w, "%s is now %s\n", r.Name, r.Status)
					})
				})
			},
		}
	}
	return []*cobra.Command{
		mk("pause", "Pause reminders and spend for a subscription", record.Paused),
		mk("resume", "Make a subscription active again", record.Active),
		mk("cancel", "Mark a subscription cancelled", record.Cancelled),
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a subscription on every device",
		Long: `Delete a subscription. The deletion is kept as a tombstone so it
propagates to other devices on the next sync.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				if err := st.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.log.Info().Str("id", args[0]).Msg("subscription deleted")
				return a.out.Result(map[string]string{"id": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted %s\n", args[0])
				})
			})
		},
	}
}
