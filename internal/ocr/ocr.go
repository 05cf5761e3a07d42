// Package ocr turns uploaded invoice and purchase-order files into plain text.
package ocr

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verifin/recon-cli/internal/config"
	"github.com/verifin/recon-cli/internal/resilience"
)

// Extractor extracts text content from a document file.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

var (
	pdfExts   = []string{".pdf"}
	imageExts = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp"}
	textExts  = []string{".txt", ".md", ".json", ".csv"}
)

// Router dispatches to an Extractor by lower-cased file extension.
type Router struct {
	byExt map[string]Extractor
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{byExt: make(map[string]Extractor)}
}

// Handle registers ext for each of exts. Later registrations win.
func (r *Router) Handle(ext Extractor, exts ...string) *Router {
	for _, e := range exts {
		r.byExt[strings.ToLower(e)] = ext
	}
	return r
}

// Supports reports whether path has a registered extension.
func (r *Router) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions lists the registered extensions, sorted.
func (r *Router) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for e := range r.byExt {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// ExtractText implements Extractor.
func (r *Router) ExtractText(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return "", eris.Errorf("ocr: unsupported file type %q (supported: %s)", ext, strings.Join(r.Extensions(), ", "))
	}
	text, err := e.ExtractText(ctx, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// NewExtractor builds the Router for the configured provider. policy wraps
// calls to the Mistral API and is ignored for local tools.
func NewExtractor(cfg config.OCRConfig, policy resilience.Policy) (*Router, error) {
	r := NewRouter().Handle(PlainText{}, textExts...)

	switch cfg.Provider {
	case "local", "":
		tess := NewTesseract(cfg.TesseractPath)
		pdf := Fallback{NewPdfToText(cfg.PdfToTextPath), NewScannedPDF(cfg.PdfToPpmPath, tess)}
		r.Handle(pdf, pdfExts...).Handle(tess, imageExts...)
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_key")
		}
		m := NewMistralOCR(cfg.MistralKey, cfg.MistralModel, policy)
		r.Handle(m, pdfExts...).Handle(m, imageExts...)
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
	return r, nil
}

// Fallback tries each extractor in order and returns the first non-blank
// text. Errors from earlier extractors are only returned when every one fails.
type Fallback []Extractor

// ExtractText implements Extractor.
func (f Fallback) ExtractText(ctx context.Context, path string) (string, error) {
	var firstErr error
	for _, e := range f {
		text, err := e.ExtractText(ctx, path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", nil
}
