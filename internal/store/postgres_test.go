package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var docColumns = []string{"id", "filename", "file_hash", "raw_text", "parsed_data", "created_at"}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, filename, .* FROM invoice_data WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDocument(context.Background(), model.KindInvoice, "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM po_data ORDER BY created_at DESC, seq DESC LIMIT 1`).
		WillReturnRows(pgxmock.NewRows(docColumns).
			AddRow("po-1", "po.pdf", "h1", "text", []byte(`{"purchase_order_id":"PO-9","total_value":1200.50}`), at))

	doc, err := s.LatestDocument(context.Background(), model.KindPO)
	require.NoError(t, err)
	assert.Equal(t, "po-1", doc.ID)
	assert.Equal(t, model.KindPO, doc.Kind)
	assert.Equal(t, "PO-9", doc.Fields["purchase_order_id"])
	assert.Equal(t, json.Number("1200.50"), doc.Fields["total_value"])
	assert.Equal(t, at, doc.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestDocument_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM invoice_data ORDER BY`).WillReturnError(pgx.ErrNoRows)

	_, err := s.LatestDocument(context.Background(), model.KindInvoice)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindDocumentByHash_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM invoice_data WHERE file_hash = \$1`).
		WithArgs("abc123").
		WillReturnError(pgx.ErrNoRows)

	doc, err := s.FindDocumentByHash(context.Background(), model.KindInvoice, "abc123")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO po_data`).
		WithArgs(pgxmock.AnyArg(), "po.pdf", "h1", "", []byte(`{"vendor":"Acme"}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	doc := &model.Document{Kind: model.KindPO, Filename: "po.pdf", FileHash: "h1", Fields: map[string]any{"vendor": "Acme"}}
	require.NoError(t, s.SaveDocument(context.Background(), doc))
	assert.NotEmpty(t, doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDocuments_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"invoice_data"}, docColumns).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"po_data"}, docColumns).WillReturnResult(1)
	mock.ExpectCommit()

	docs := []*model.Document{
		{Kind: model.KindPO, Filename: "p1"},
		{Kind: model.KindInvoice, Filename: "i1"},
		{Kind: model.KindInvoice, Filename: "i2"},
	}
	n, err := s.SaveDocuments(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, d := range docs {
		assert.NotEmpty(t, d.ID)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDocuments_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"invoice_data"}, docColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.SaveDocuments(context.Background(), []*model.Document{{Kind: model.KindInvoice, Filename: "i1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy invoice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDiscrepancy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO discrepancy_data`).
		WithArgs(pgxmock.AnyArg(), "inv-1", "po-1", discrepancy.CleanMessage, true, pgxmock.AnyArg(), "ok", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	report := discrepancy.New().Build(
		discrepancy.Record{"purchase_order_reference": "PO-1", "vendor": "A", "total_amount": 1, "invoice_date": "2024-01-01"},
		discrepancy.Record{"purchase_order_id": "PO-1", "vendor": "a", "total_value": 1, "order_date": "2024-01-01"},
	)
	d := model.NewDiscrepancy("inv-1", "po-1", report, "ok")
	require.NoError(t, s.SaveDiscrepancy(context.Background(), d))
	assert.NotEmpty(t, d.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDiscrepancies_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM discrepancy_data WHERE true AND invoice_id = \$1 AND NOT clean ORDER BY created_at DESC, seq DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("inv-1", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "invoice_id", "po_id", "description", "clean", "report", "summary", "created_at"}).
			AddRow("d1", "inv-1", "po-1", "- vendor: Invoice = a, PO = b", false, []byte(`{"entries":[]}`), "", at))

	out, err := s.ListDiscrepancies(context.Background(), model.DiscrepancyFilter{
		InvoiceID: "inv-1",
		DirtyOnly: true,
		Limit:     5,
		Offset:    10,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0].ID)
	assert.False(t, out[0].Clean)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDiscrepancy_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM discrepancy_data WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDiscrepancy(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryReadOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectExec(`SET LOCAL statement_timeout`).WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(`SELECT parsed_data->>'vendor' AS vendor FROM invoice_data`).
		WillReturnRows(pgxmock.NewRows([]string{"vendor"}).AddRow("Acme").AddRow("Globex"))
	mock.ExpectRollback()

	res, err := s.QueryReadOnly(context.Background(), `SELECT parsed_data->>'vendor' AS vendor FROM invoice_data;`)
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Globex", res.Rows[1]["vendor"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryReadOnly_RejectsBeforeTouchingDB(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.QueryReadOnly(context.Background(), `DROP TABLE invoice_data`)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS invoice_data`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.Equal(t, DialectPostgres, s.Dialect())
	assert.NoError(t, mock.ExpectationsWereMet())
}
