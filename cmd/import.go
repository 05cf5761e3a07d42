package main

import (
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/fetcher"
	"github.com/verifin/recon-cli/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import <invoice|po> <records-file>",
	Short: "Bulk load pre-extracted records into the database",
	Long: `Loads already-extracted invoice or purchase order records from a
.json, .csv, .xlsx or .xml file and stores each as a document, skipping
OCR and field extraction.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := model.ParseDocumentKind(args[0])
		if err != nil {
			return err
		}

		records, err := fetcher.LoadRecords(ctx, args[1])
		if err != nil {
			return eris.Wrap(err, "import records")
		}

		env, err := initEnv(ctx, "import", true)
		if err != nil {
			return err
		}
		defer env.Close()

		docs := recordsToDocuments(kind, filepath.Base(args[1]), records)
		n, err := env.Store.SaveDocuments(ctx, docs)
		if err != nil {
			return eris.Wrap(err, "import records")
		}

		zap.L().Info("import complete",
			zap.String("kind", string(kind)),
			zap.Int("imported", n),
			zap.String("file", args[1]),
		)
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d %s records\n", n, kind)
		return err
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

// recordsToDocuments names each document after its source file and row.
func recordsToDocuments(kind model.DocumentKind, source string, records []map[string]any) []*model.Document {
	docs := make([]*model.Document, 0, len(records))
	for i, rec := range records {
		docs = append(docs, &model.Document{
			Kind:     kind,
			Filename: fmt.Sprintf("%s#%d", source, i+1),
			Fields:   rec,
		})
	}
	return docs
}
