package main

import (
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <invoice|po> <file|url>",
	Short: "OCR a document, extract its fields and store it",
	Long: `Extracts text from a PDF, image or text file, asks the model for the
document's fields and stores the result. Remote documents (http, https or
ftp URLs) are downloaded into the upload directory first. Re-ingesting the
same file returns the stored document.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := model.ParseDocumentKind(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "ingest", true)
		if err != nil {
			return err
		}
		defer env.Close()

		path, err := env.Sources.Fetch(ctx, args[1], filepath.Join(cfg.Server.UploadDir, kind.Table()))
		if err != nil {
			return eris.Wrap(err, "ingest: fetch document")
		}

		res, err := env.Ingestor.Ingest(ctx, kind, filepath.Base(path), path)
		if err != nil {
			return err
		}

		zap.L().Info("ingest complete",
			zap.String("kind", string(kind)),
			zap.String("id", res.Document.ID),
			zap.Bool("duplicate", res.Duplicate),
		)
		_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Document.ID)
		return err
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
