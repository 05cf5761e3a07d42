// Package ingest runs an uploaded document through text extraction and
// field extraction and stores the result.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/extract"
	"github.com/verifin/recon-cli/internal/model"
	"github.com/verifin/recon-cli/internal/ocr"
	"github.com/verifin/recon-cli/internal/store"
)

// Result is the outcome of one ingest.
type Result struct {
	Document *model.Document `json:"document"`
	// Duplicate is set when the same file was already stored for this kind.
	Duplicate bool `json:"duplicate"`
}

// Ingestor wires OCR, field extraction and persistence.
type Ingestor struct {
	text   ocr.Extractor
	fields extract.FieldExtractor
	store  store.Store
}

// New creates an Ingestor.
func New(text ocr.Extractor, fields extract.FieldExtractor, st store.Store) *Ingestor {
	return &Ingestor{text: text, fields: fields, store: st}
}

// Ingest stores the document at path as kind. filename is the name shown to
// users (the upload's original name); it defaults to path's base name.
// Re-ingesting identical bytes returns the stored document without calling
// OCR or the model again.
func (i *Ingestor) Ingest(ctx context.Context, kind model.DocumentKind, filename, path string) (*Result, error) {
	if filename == "" {
		filename = filepath.Base(path)
	}
	log := zap.L().With(zap.String("kind", string(kind)), zap.String("file", filename))

	hash, err := HashFile(path)
	if err != nil {
		return nil, err
	}

	existing, err := i.store.FindDocumentByHash(ctx, kind, hash)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: lookup hash")
	}
	if existing != nil {
		log.Info("ingest: already stored", zap.String("id", existing.ID))
		return &Result{Document: existing, Duplicate: true}, nil
	}

	start := time.Now()
	text, err := i.text.ExtractText(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: extract text from %s", filename)
	}

	fields, err := i.fields.Extract(ctx, kind, text)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: extract fields from %s", filename)
	}

	doc := &model.Document{
		Kind:     kind,
		Filename: filename,
		FileHash: hash,
		RawText:  text,
		Fields:   fields,
	}
	if err := i.store.SaveDocument(ctx, doc); err != nil {
		return nil, eris.Wrapf(err, "ingest: save %s", filename)
	}

	log.Info("ingest: stored document",
		zap.String("id", doc.ID),
		zap.Int("text_chars", len(text)),
		zap.Int("fields", len(fields)),
		zap.Bool("unparsed", doc.Unparsed()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{Document: doc}, nil
}

// HashFile returns the hex sha256 of the file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "ingest: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
