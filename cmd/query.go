package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var queryShowSQL bool

var queryCmd = &cobra.Command{
	Use:   `query "<request>"`,
	Short: "Ask a free-form audit question about stored documents",
	Long: `Has the model write a read-only SQL query for the request, runs it
and prints a plain-language summary of the rows.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "query", true)
		if err != nil {
			return err
		}
		defer env.Close()

		audit := env.Auditor.Run(ctx, strings.Join(args, " "))

		out := cmd.OutOrStdout()
		if queryShowSQL {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(audit)
		}
		_, err = fmt.Fprintln(out, audit.Summary)
		return err
	},
}

func init() {
	queryCmd.Flags().BoolVar(&queryShowSQL, "show-sql", false, "print the generated SQL and rows as JSON")
	rootCmd.AddCommand(queryCmd)
}
