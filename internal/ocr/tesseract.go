package ocr

import (
	"context"

	"github.com/rotisserie/eris"
)

// Tesseract extracts text from images using the tesseract CLI.
type Tesseract struct {
	binPath string
}

// NewTesseract creates a Tesseract extractor. If binPath is empty, "tesseract" is used.
func NewTesseract(binPath string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	return &Tesseract{binPath: binPath}
}

// ExtractText runs tesseract on the image and returns stdout.
func (t *Tesseract) ExtractText(ctx context.Context, path string) (string, error) {
	out, err := run(ctx, t.binPath, path, "stdout")
	if err != nil {
		return "", eris.Wrapf(err, "ocr: tesseract %s", path)
	}
	return out, nil
}
