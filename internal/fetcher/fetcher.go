// Package fetcher brings invoice and purchase-order data into the pipeline:
// remote documents over HTTP or FTP, and pre-extracted records from JSON,
// CSV, XLSX and XML files.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher retrieves a remote document.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Sources routes a document reference to the fetcher for its scheme.
type Sources struct {
	HTTP Fetcher
	FTP  Fetcher
}

// IsRemote reports whether ref names an http, https or ftp URL.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// Fetch makes ref available as a local file. Local paths are returned
// unchanged; URLs are downloaded into dir under their base name.
func (s Sources) Fetch(ctx context.Context, ref, dir string) (string, error) {
	if !IsRemote(ref) {
		if _, err := os.Stat(ref); err != nil {
			return "", eris.Wrapf(err, "fetcher: stat %s", ref)
		}
		return ref, nil
	}

	u, _ := url.Parse(ref)
	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "ftp":
		f = s.FTP
	default:
		f = s.HTTP
	}
	if f == nil {
		return "", eris.Errorf("fetcher: no fetcher configured for %s", u.Scheme)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "fetcher: create %s", dir)
	}
	dest := filepath.Join(dir, SafeName(path.Base(u.Path)))

	n, err := DownloadToFile(ctx, f, ref, dest)
	if err != nil {
		return "", err
	}
	zap.L().Info("fetcher: downloaded", zap.String("url", ref), zap.String("path", dest), zap.Int64("bytes", n))
	return dest, nil
}

// DownloadToFile fetches rawURL with f and writes it to dest. Returns bytes
// written. A partial file is removed on failure.
func DownloadToFile(ctx context.Context, f Fetcher, rawURL, dest string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}

	n, err := io.Copy(file, body)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dest)
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName reduces an uploaded or remote file name to a safe base name.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "document"
	}
	return name
}
