package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/fetcher"
	"github.com/verifin/recon-cli/internal/reconcile"
	"github.com/verifin/recon-cli/internal/summarize"
)

var (
	reconcileInvoice   string
	reconcilePO        string
	reconcileFormat    string
	reconcileSummarize bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare one invoice record against one purchase-order record",
	Long: `Reads an invoice and a purchase order from record files (.json, .csv,
.xlsx or .xml; the first record of each file is used) and prints the
discrepancy report. Nothing is written to the database.

Examples:
  recon-cli reconcile --invoice inv.json --po po.json
  recon-cli reconcile --invoice inv.csv --po po.xlsx --format json --summarize`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if reconcileFormat != "text" && reconcileFormat != "json" {
			return eris.Errorf("unsupported format %q (want text or json)", reconcileFormat)
		}

		env, err := initEnv(ctx, "reconcile", false)
		if err != nil {
			return err
		}
		defer env.Close()

		inv, err := loadFirstRecord(ctx, reconcileInvoice)
		if err != nil {
			return err
		}
		po, err := loadFirstRecord(ctx, reconcilePO)
		if err != nil {
			return err
		}

		var summarizer summarize.Summarizer
		if reconcileSummarize {
			summarizer = env.Summarizer
		}
		cmp, err := reconcile.Compare(ctx, env.Engine, summarizer, inv, po)
		if err != nil {
			return err
		}
		return writeComparison(cmd.OutOrStdout(), cmp, reconcileFormat)
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileInvoice, "invoice", "", "invoice record file (required)")
	reconcileCmd.Flags().StringVar(&reconcilePO, "po", "", "purchase order record file (required)")
	reconcileCmd.Flags().StringVar(&reconcileFormat, "format", "text", "output format: text or json")
	reconcileCmd.Flags().BoolVar(&reconcileSummarize, "summarize", false, "add a natural-language summary")
	_ = reconcileCmd.MarkFlagRequired("invoice")
	_ = reconcileCmd.MarkFlagRequired("po")
	rootCmd.AddCommand(reconcileCmd)
}

func loadFirstRecord(ctx context.Context, path string) (discrepancy.Record, error) {
	recs, err := fetcher.LoadRecords(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "load %s", path)
	}
	if len(recs) == 0 {
		return nil, eris.Errorf("no records in %s", path)
	}
	return recs[0], nil
}

func writeComparison(w io.Writer, cmp *reconcile.Comparison, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cmp)
	}

	if _, err := fmt.Fprintln(w, cmp.Text); err != nil {
		return err
	}
	if cmp.Summary != "" {
		if _, err := fmt.Fprintf(w, "\n%s\n", cmp.Summary); err != nil {
			return err
		}
	}
	return nil
}
