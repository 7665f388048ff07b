package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/subtrackr/internal/catalog"
	"github.com/roach88/subtrackr/internal/store"
)

// ImportResult reports what an import did.
type ImportResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
	DryRun  bool     `json:"dry_run,omitempty"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <catalog>",
		Short: "Import subscriptions from a CUE or YAML catalog",
		Long: `Import subscriptions from a catalog file (.cue, .yaml, .yml) or a CUE
package directory. Every entry is validated before anything is written.
Entries without an id use their catalog key as id, so importing the same
catalog again skips what is already tracked.

Example catalog (YAML):
  subscription:
    netflix:
      id: sub-netflix
      name: Netflix
      cost: {amount: "15.49", currency: USD}
      cycle: monthly:3
      anchor: 2026-01-03`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				return runImport(cmd.Context(), a, st, args[0], dryRun)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate without writing")
	return cmd
}

func runImport(ctx context.Context, a *app, st *store.Store, path string, dryRun bool) error {
	entries, err := catalog.Load(path)
	if err != nil {
		return err
	}
	recs, err := catalog.Records(entries)
	if err != nil {
		return err
	}
	a.out.VerboseLog("Loaded %d entries from %s", len(entries), path)

	res := ImportResult{Created: []string{}, Skipped: []string{}, DryRun: dryRun}
	for i, r := range recs {
		if r.ID == "" {
			r.ID = entries[i].Key
		}
		if dryRun {
			res.Created = append(res.Created, entries[i].Key)
			continue
		}
		created, err := st.Create(ctx, r)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			res.Skipped = append(res.Skipped, entries[i].Key)
			continue
		case err != nil:
			return fmt.Errorf("import %s: %w", entries[i].Key, err)
		}
		res.Created = append(res.Created, entries[i].Key)
		a.log.Debug().Str("key", entries[i].Key).Str("id", created.ID).Msg("imported")
	}
	a.log.Info().Int("created", len(res.Created)).Int("skipped", len(res.Skipped)).Msg("catalog imported")

	return a.out.Result(res, func(w io.Writer) {
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Fprintf(w, "%s %d subscription(s), skipped %d existing\n", verb, len(res.Created), len(res.Skipped))
	})
}
