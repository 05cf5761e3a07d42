package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/fetcher"
	"github.com/verifin/recon-cli/internal/reconcile"
	"github.com/verifin/recon-cli/internal/summarize"
)

var (
	batchPairs       string
	batchConcurrency int
	batchOutput      string
	batchSummarize   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Reconcile many invoice/PO pairs from a pairs file",
	Long: `Reads explicit invoice/PO pairs from a JSON, CSV or XLSX file and
reconciles them concurrently. Results are written as a JSON array in input
order.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batchConcurrency > 0 {
			cfg.Batch.Concurrency = batchConcurrency
		}
		env, err := initEnv(ctx, "batch", false)
		if err != nil {
			return err
		}
		defer env.Close()

		pairs, err := fetcher.LoadPairs(ctx, batchPairs)
		if err != nil {
			return eris.Wrap(err, "batch: load pairs")
		}

		var summarizer summarize.Summarizer
		if batchSummarize {
			summarizer = env.Summarizer
		}
		results, err := processBatch(ctx, pairs, cfg.Batch.Concurrency, func(ctx context.Context, p fetcher.Pair) (*reconcile.Comparison, error) {
			return reconcile.Compare(ctx, env.Engine, summarizer, p.Invoice, p.PO)
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if batchOutput != "" {
			f, err := os.Create(batchOutput)
			if err != nil {
				return eris.Wrap(err, "batch: create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return writeBatchResults(out, results)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchPairs, "pairs", "", "pairs file: .json, .csv or .xlsx (required)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "pairs reconciled in parallel (default from config)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "write results to this file instead of stdout")
	batchCmd.Flags().BoolVar(&batchSummarize, "summarize", false, "add a natural-language summary per pair")
	_ = batchCmd.MarkFlagRequired("pairs")
	rootCmd.AddCommand(batchCmd)
}

// batchResult is one line of batch output.
type batchResult struct {
	ID      string              `json:"id"`
	Clean   bool                `json:"clean"`
	Text    string              `json:"text,omitempty"`
	Summary string              `json:"summary,omitempty"`
	Report  *discrepancy.Report `json:"report,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// compareFunc is the callback signature for reconciling one pair.
type compareFunc func(ctx context.Context, p fetcher.Pair) (*reconcile.Comparison, error)

// processBatch reconciles pairs concurrently. A failing pair is recorded in
// its result and never aborts the batch.
func processBatch(ctx context.Context, pairs []fetcher.Pair, concurrency int, compare compareFunc) ([]batchResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	zap.L().Info("processing batch",
		zap.Int("pairs", len(pairs)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]batchResult, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var clean, dirty, failed atomic.Int64

	for i, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := batchResult{ID: pair.ID}
			cmp, err := compare(gctx, pair)
			if err != nil {
				failed.Add(1)
				res.Error = err.Error()
				zap.L().Error("batch: pair failed", zap.String("pair", pair.ID), zap.Error(err))
				results[i] = res
				return nil
			}

			res.Clean = cmp.Report.Clean()
			res.Text = cmp.Text
			res.Summary = cmp.Summary
			res.Report = &cmp.Report
			if res.Clean {
				clean.Add(1)
			} else {
				dirty.Add(1)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("clean", clean.Load()),
		zap.Int64("with_discrepancies", dirty.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, nil
}

func writeBatchResults(w io.Writer, results []batchResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(results), "batch: write results")
}
