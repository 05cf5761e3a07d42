package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PdfToText extracts embedded text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext -layout on the given PDF and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, path string) (string, error) {
	out, err := run(ctx, p.binPath, "-layout", path, "-")
	if err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext %s", path)
	}
	return out, nil
}

// ScannedPDF rasterizes each PDF page with pdftoppm and runs the images
// through tesseract. Used for scans with no embedded text layer.
type ScannedPDF struct {
	binPath string
	ocr     *Tesseract
}

// NewScannedPDF creates a ScannedPDF extractor. If binPath is empty, "pdftoppm" is used.
func NewScannedPDF(binPath string, ocr *Tesseract) *ScannedPDF {
	if binPath == "" {
		binPath = "pdftoppm"
	}
	return &ScannedPDF{binPath: binPath, ocr: ocr}
}

// ExtractText implements Extractor.
func (s *ScannedPDF) ExtractText(ctx context.Context, path string) (string, error) {
	dir, err := os.MkdirTemp("", "recon-ocr-*")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create page dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	if _, err := run(ctx, s.binPath, "-r", "300", "-png", path, filepath.Join(dir, "page")); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftoppm %s", path)
	}

	pages, err := filepath.Glob(filepath.Join(dir, "page*.png"))
	if err != nil {
		return "", eris.Wrap(err, "ocr: list pages")
	}
	sort.Strings(pages)

	zap.L().Debug("ocr: no embedded text, using page OCR",
		zap.String("file", filepath.Base(path)),
		zap.Int("pages", len(pages)),
	)

	texts := make([]string, 0, len(pages))
	for _, page := range pages {
		text, err := s.ocr.ExtractText(ctx, page)
		if err != nil {
			return "", err
		}
		texts = append(texts, strings.TrimSpace(text))
	}
	return strings.Join(texts, "\n\n"), nil
}

func run(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "%s failed: %s", filepath.Base(bin), strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
