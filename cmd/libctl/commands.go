package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"library-lending/pkg/app"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/session"
	"library-lending/pkg/sweep"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "libctl",
		Short:        "Maintenance commands for the lending service",
		SilenceUsage: true,
	}
	root.AddCommand(
		newSeedCmd(open),
		newBooksCmd(open),
		newSweepCmd(open),
		newTokenCmd(open),
	)
	return root
}

func newSeedCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo catalog; titles already present are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, release, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			n, err := app.Seed(cmd.Context(), a.Ledger, app.Catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d of %d titles\n", n, len(app.Catalog))
			return nil
		},
	}
}

func newBooksCmd(open opener) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List catalog titles with their copy counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, release, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			books, err := a.Ledger.List(cmd.Context(), category)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tAVAILABLE\tTOTAL\tSTATUS")
			for _, b := range books {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", b.ID, b.Title, b.Category, b.AvailableCopies, b.TotalCopies, b.Status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list titles in this category")
	return cmd
}

type sweepResult struct {
	PatronID string       `json:"patronId"`
	Report   sweep.Report `json:"report"`
	Error    string       `json:"error,omitempty"`
}

func newSweepCmd(open opener) *cobra.Command {
	var (
		patrons []string
		all     bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the loan sweep for one or more patrons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && len(patrons) == 0 {
				return fmt.Errorf("either --patron or --all is required")
			}
			ctx := cmd.Context()
			a, release, err := open(ctx)
			if err != nil {
				return err
			}
			defer release()

			if all {
				patrons, err = patronsWithLoans(cmd, a)
				if err != nil {
					return err
				}
			}

			var (
				results []sweepResult
				failed  int
			)
			for _, id := range patrons {
				sess := session.Session{PatronID: id, Name: id, Role: session.RolePatron}
				rep, err := a.Sweeper().RunOnce(ctx, sess)
				res := sweepResult{PatronID: id, Report: rep}
				if err != nil {
					res.Error = err.Error()
					failed++
				}
				results = append(results, res)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PATRON\tCHECKED\tDUE_SOON\tOVERDUE\tREMINDERS\tERROR")
				for _, r := range results {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", r.PatronID, r.Report.Checked, r.Report.DueSoon, r.Report.Overdue, r.Report.Reminders, r.Error)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("sweep failed for %d of %d patrons", failed, len(patrons))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&patrons, "patron", nil, "patron id to sweep (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "sweep every patron with an active or overdue loan")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print reports as JSON")
	cmd.MarkFlagsMutuallyExclusive("patron", "all")
	return cmd
}

func patronsWithLoans(cmd *cobra.Command, a *app.App) ([]string, error) {
	recs, err := a.Service.Records().ListByStatus(cmd.Context(), lifecycle.StatusActive, lifecycle.StatusOverdue)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range recs {
		if _, ok := seen[r.PatronID]; ok {
			continue
		}
		seen[r.PatronID] = struct{}{}
		ids = append(ids, r.PatronID)
	}
	sort.Strings(ids)
	return ids, nil
}

func newTokenCmd(open opener) *cobra.Command {
	var (
		patron string
		name   string
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess := session.Session{PatronID: patron, Name: name, Role: session.Role(role)}
			if !sess.Role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			a, release, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			tok, err := a.Issuer.Issue(sess)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&patron, "patron", "", "patron id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(session.RolePatron), "patron or librarian")
	_ = cmd.MarkFlagRequired("patron")
	return cmd
}
