package main

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verifin/recon-cli/internal/reconcile"
)

var (
	detectInvoiceID string
	detectPOID      string
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Check stored documents for discrepancies",
	Long: `Compares the latest stored invoice with the latest stored purchase
order, or an explicit pair given by --invoice-id and --po-id, stores the
result and prints its summary.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if (detectInvoiceID == "") != (detectPOID == "") {
			return eris.New("--invoice-id and --po-id must be given together")
		}

		env, err := initEnv(ctx, "detect", true)
		if err != nil {
			return err
		}
		defer env.Close()

		var res *reconcile.Result
		if detectInvoiceID != "" {
			res, err = env.Reconcile.Detect(ctx, detectInvoiceID, detectPOID)
		} else {
			res, err = env.Reconcile.DetectLatest(ctx)
		}
		if errors.Is(err, reconcile.ErrNoDocuments) {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), reconcile.ErrNoDocuments.Error())
			return err
		}
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Discrepancy.Summary)
		return err
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectInvoiceID, "invoice-id", "", "stored invoice ID")
	detectCmd.Flags().StringVar(&detectPOID, "po-id", "", "stored purchase order ID")
	rootCmd.AddCommand(detectCmd)
}
