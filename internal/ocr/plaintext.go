package ocr

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

const maxPlainTextBytes = 4 << 20

// PlainText reads text-like uploads as-is.
type PlainText struct{}

// ExtractText implements Extractor.
func (PlainText) ExtractText(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(f, maxPlainTextBytes))
	if err != nil {
		return "", eris.Wrapf(err, "ocr: read %s", path)
	}
	return string(data), nil
}
