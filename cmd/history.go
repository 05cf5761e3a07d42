package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/verifin/recon-cli/internal/model"
)

var (
	historyLimit int
	historyDirty bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored discrepancy checks, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "history", true)
		if err != nil {
			return err
		}
		defer env.Close()

		items, err := env.Store.ListDiscrepancies(ctx, model.DiscrepancyFilter{
			DirtyOnly: historyDirty,
			Limit:     historyLimit,
		})
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), items)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max results")
	historyCmd.Flags().BoolVar(&historyDirty, "dirty", false, "only checks that found discrepancies")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(w io.Writer, items []model.Discrepancy) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No discrepancy checks found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tDESCRIPTION") //nolint:errcheck
	for _, d := range items {
		status := "clean"
		if !d.Clean {
			status = fmt.Sprintf("%d discrepancies", len(d.Report.Discrepancies()))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.CreatedAt.Format("2006-01-02 15:04"), status, d.Description) //nolint:errcheck
	}
	return tw.Flush()
}
