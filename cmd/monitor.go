package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/verifin/recon-cli/internal/monitoring"
)

var monitorWatch bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Report reconciliation health and send threshold alerts",
	Long: `Collects discrepancy and ingestion metrics over the configured lookback
window, evaluates alert thresholds and posts any alerts to the configured
webhook. With --watch it keeps checking on the configured interval.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "monitor", true)
		if err != nil {
			return err
		}
		defer env.Close()

		checker := newChecker(env)
		if monitorWatch {
			checker.Run(ctx)
			return nil
		}

		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return err
		}
		return printMonitor(cmd.OutOrStdout(), snap, alerts)
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorWatch, "watch", false, "keep checking until interrupted")
	rootCmd.AddCommand(monitorCmd)
}

func newChecker(env *appEnv) *monitoring.Checker {
	collector := monitoring.NewCollector(env.Store, env.Breakers.States)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitor), cfg.Monitor)
}

func printMonitor(w io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return err
	}
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "No alerts.")
		return err
	}
	for _, a := range alerts {
		if _, err := fmt.Fprintf(w, "[%s] %s: %s\n", a.Severity, a.Type, a.Message); err != nil {
			return err
		}
	}
	return nil
}
