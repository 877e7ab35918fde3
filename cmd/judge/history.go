package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/courtside/internal/adapters/persist"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.persister(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			if p.Name() == persist.BackendNone {
				return errors.New("history is disabled; set persist_backend to sqlite or postgrest")
			}
			if limit <= 0 {
				return fmt.Errorf("limit must be positive, got %d", limit)
			}

			results, err := p.History(cmd.Context(), userID, limit)
			if err != nil {
				return ctx.userError(err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "no analyses stored")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"When", "ID", "Sport", "Events", "Success", "Line acc."},
				historyRows(results, time.Now()),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Owner of the results")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the results as JSON")
	return cmd
}
