package store

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/verifin/recon-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Dialect names the SQL flavour a store speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// QueryResult holds the rows of an ad-hoc read-only query.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Store defines the persistence interface for documents and discrepancy results.
type Store interface {
	// Documents
	SaveDocument(ctx context.Context, doc *model.Document) error
	SaveDocuments(ctx context.Context, docs []*model.Document) (int, error)
	GetDocument(ctx context.Context, kind model.DocumentKind, id string) (*model.Document, error)
	LatestDocument(ctx context.Context, kind model.DocumentKind) (*model.Document, error)
	FindDocumentByHash(ctx context.Context, kind model.DocumentKind, hash string) (*model.Document, error)
	ListDocuments(ctx context.Context, kind model.DocumentKind, limit int) ([]model.Document, error)

	// Discrepancies
	SaveDiscrepancy(ctx context.Context, d *model.Discrepancy) error
	GetDiscrepancy(ctx context.Context, id string) (*model.Discrepancy, error)
	ListDiscrepancies(ctx context.Context, filter model.DiscrepancyFilter) ([]model.Discrepancy, error)

	// Ad-hoc reads
	QueryReadOnly(ctx context.Context, query string) (*QueryResult, error)
	Dialect() Dialect

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func checkKind(kind model.DocumentKind) error {
	switch kind {
	case model.KindInvoice, model.KindPO:
		return nil
	}
	return eris.Errorf("store: unknown document kind %q", kind)
}

// decodeFields keeps numbers as json.Number so stored amounts round-trip
// without float rounding.
func decodeFields(data []byte, out *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}
