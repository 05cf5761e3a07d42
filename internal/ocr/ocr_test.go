package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifin/recon-cli/internal/config"
	"github.com/verifin/recon-cli/internal/resilience"
)

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), mode))
	return p
}

func fakeBin(t *testing.T, name, script string) string {
	t.Helper()
	return writeFile(t, t.TempDir(), name, "#!/bin/sh\n"+script+"\n", 0o755)
}

func testPolicy() resilience.Policy {
	return resilience.Policy{
		Service: "mistral",
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}
}

func TestNewExtractor_Local(t *testing.T) {
	r, err := NewExtractor(config.OCRConfig{Provider: "local"}, testPolicy())
	require.NoError(t, err)
	assert.True(t, r.Supports("scan.PDF"))
	assert.True(t, r.Supports("photo.jpeg"))
	assert.True(t, r.Supports("notes.txt"))
	assert.False(t, r.Supports("archive.zip"))
	assert.IsType(t, Fallback{}, r.byExt[".pdf"])
	assert.IsType(t, &Tesseract{}, r.byExt[".png"])
}

func TestNewExtractor_DefaultsToLocal(t *testing.T) {
	r, err := NewExtractor(config.OCRConfig{}, testPolicy())
	require.NoError(t, err)
	assert.IsType(t, &Tesseract{}, r.byExt[".jpg"])
}

func TestNewExtractor_Mistral(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "mistral"}, testPolicy())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires ocr.mistral_key")

	r, err := NewExtractor(config.OCRConfig{Provider: "mistral", MistralKey: "k"}, testPolicy())
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, r.byExt[".pdf"])
	assert.IsType(t, &MistralOCR{}, r.byExt[".png"])
	assert.IsType(t, PlainText{}, r.byExt[".json"])
}

func TestNewExtractor_UnknownProvider(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "textract"}, testPolicy())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "textract"`)
}

func TestRouter_UnsupportedExtension(t *testing.T) {
	r := NewRouter().Handle(PlainText{}, ".txt")
	_, err := r.ExtractText(context.Background(), "invoice.docx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported file type ".docx"`)
	assert.Contains(t, err.Error(), ".txt")
}

func TestRouter_TrimsOutput(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "invoice.TXT", "\n  Invoice INV-1 \n\n", 0o644)

	text, err := NewRouter().Handle(PlainText{}, ".txt").ExtractText(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "Invoice INV-1", text)
}

func TestPlainText_Missing(t *testing.T) {
	_, err := PlainText{}.ExtractText(context.Background(), "/nonexistent/file.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr: open")
}

func TestPdfToText_DefaultBin(t *testing.T) {
	assert.Equal(t, "pdftotext", NewPdfToText("").binPath)
	assert.Equal(t, "/opt/pdftotext", NewPdfToText("/opt/pdftotext").binPath)
	assert.Equal(t, "pdftoppm", NewScannedPDF("", nil).binPath)
	assert.Equal(t, "tesseract", NewTesseract("").binPath)
}

func TestPdfToText_Success(t *testing.T) {
	bin := fakeBin(t, "pdftotext", `echo "Invoice Number: INV-1001"`)
	text, err := NewPdfToText(bin).ExtractText(context.Background(), "/tmp/invoice.pdf")
	require.NoError(t, err)
	assert.Contains(t, text, "INV-1001")
}

func TestPdfToText_Failure(t *testing.T) {
	bin := fakeBin(t, "pdftotext", `echo "Syntax Error: broken xref" >&2; exit 1`)
	_, err := NewPdfToText(bin).ExtractText(context.Background(), "/tmp/invoice.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
	assert.Contains(t, err.Error(), "broken xref")
}

func TestPdfToText_BinaryNotFound(t *testing.T) {
	_, err := NewPdfToText("/nonexistent/pdftotext").ExtractText(context.Background(), "/tmp/x.pdf")
	require.Error(t, err)
}

func TestTesseract_Success(t *testing.T) {
	// tesseract <image> stdout
	bin := fakeBin(t, "tesseract", `[ "$2" = "stdout" ] || exit 2; echo "PO Number: PO-77 from $1"`)
	text, err := NewTesseract(bin).ExtractText(context.Background(), "/tmp/po.png")
	require.NoError(t, err)
	assert.Contains(t, text, "PO Number: PO-77 from /tmp/po.png")
}

func TestScannedPDF_OCRsEachPage(t *testing.T) {
	// pdftoppm -r 300 -png <pdf> <prefix>
	ppm := fakeBin(t, "pdftoppm", `prefix="$5"; echo 1 > "$prefix-1.png"; echo 2 > "$prefix-2.png"`)
	tess := fakeBin(t, "tesseract", `echo "text of $(basename "$1")"`)

	text, err := NewScannedPDF(ppm, NewTesseract(tess)).ExtractText(context.Background(), "/tmp/scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "text of page-1.png\n\ntext of page-2.png", text)
}

func TestScannedPDF_RasterizeFailure(t *testing.T) {
	ppm := fakeBin(t, "pdftoppm", `exit 1`)
	_, err := NewScannedPDF(ppm, NewTesseract("tesseract")).ExtractText(context.Background(), "/tmp/scan.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr: pdftoppm")
}

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) ExtractText(context.Context, string) (string, error) {
	return s.text, s.err
}

func TestFallback(t *testing.T) {
	ctx := context.Background()

	text, err := Fallback{stubExtractor{text: "embedded"}, stubExtractor{text: "ocr"}}.ExtractText(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "embedded", text)

	text, err = Fallback{stubExtractor{text: " \n\f"}, stubExtractor{text: "ocr"}}.ExtractText(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "ocr", text)

	text, err = Fallback{stubExtractor{err: errors.New("no pdftotext")}, stubExtractor{text: "ocr"}}.ExtractText(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "ocr", text)

	_, err = Fallback{stubExtractor{err: errors.New("first")}, stubExtractor{err: errors.New("second")}}.ExtractText(ctx, "a.pdf")
	require.Error(t, err)
	assert.Equal(t, "first", err.Error())

	text, err = Fallback{stubExtractor{}, stubExtractor{}}.ExtractText(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func newTestMistral(url string) *MistralOCR {
	m := NewMistralOCR("test-key", "test-model", testPolicy())
	m.endpoint = url
	return m
}

func TestMistralOCR_DefaultModel(t *testing.T) {
	m := NewMistralOCR("key", "", testPolicy())
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func TestMistralOCR_PDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")
		assert.Empty(t, req.Document.ImageURL)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{ //nolint:errcheck
			{Index: 0, Markdown: "# Invoice INV-1"},
			{Index: 1, Markdown: "Total: $1,200.00"},
		}})
	}))
	defer srv.Close()

	p := writeFile(t, t.TempDir(), "invoice.pdf", "%PDF-1.4 test", 0o644)
	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "# Invoice INV-1\n\nTotal: $1,200.00", text)
}

func TestMistralOCR_Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image_url", req.Document.Type)
		assert.Contains(t, req.Document.ImageURL, "data:image/png;base64,")

		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{{Markdown: "PO-9"}}}) //nolint:errcheck
	}))
	defer srv.Close()

	p := writeFile(t, t.TempDir(), "po.png", "\x89PNG", 0o644)
	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "PO-9", text)
}

func TestMistralOCR_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{{Markdown: "ok"}}}) //nolint:errcheck
	}))
	defer srv.Close()

	p := writeFile(t, t.TempDir(), "invoice.pdf", "%PDF", 0o644)
	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMistralOCR_PermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	p := writeFile(t, t.TempDir(), "invoice.pdf", "%PDF", 0o644)
	_, err := newTestMistral(srv.URL).ExtractText(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestMistralOCR_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{invalid json`))
	}))
	defer srv.Close()

	p := writeFile(t, t.TempDir(), "invoice.pdf", "%PDF", 0o644)
	_, err := newTestMistral(srv.URL).ExtractText(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal mistral response")
}

func TestMistralOCR_FileNotFound(t *testing.T) {
	_, err := NewMistralOCR("key", "", testPolicy()).ExtractText(context.Background(), "/nonexistent/file.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr: read")
}
