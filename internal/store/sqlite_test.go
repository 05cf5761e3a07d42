package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleInvoice(name string, at time.Time) *model.Document {
	return &model.Document{
		Kind:     model.KindInvoice,
		Filename: name,
		FileHash: "hash-" + name,
		RawText:  "INVOICE " + name,
		Fields: map[string]any{
			"invoice_number":           "INV-" + name,
			"vendor":                   "Acme Corp",
			"purchase_order_reference": "PO-9",
			"total_amount":             1200.00,
			"invoice_date":             "2024-03-01",
		},
		CreatedAt: at,
	}
}

func samplePO(name string, at time.Time) *model.Document {
	return &model.Document{
		Kind:     model.KindPO,
		Filename: name,
		FileHash: "hash-" + name,
		Fields: map[string]any{
			"purchase_order_id": "PO-9",
			"vendor":            "ACME corp",
			"total_value":       "1,200.00",
			"order_date":        "2024-02-28",
		},
		CreatedAt: at,
	}
}

// --- Documents ---

func TestSQLite_Document_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc := sampleInvoice("a.pdf", time.Time{})
	require.NoError(t, st.SaveDocument(ctx, doc))
	assert.NotEmpty(t, doc.ID)
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := st.GetDocument(ctx, model.KindInvoice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, model.KindInvoice, got.Kind)
	assert.Equal(t, "a.pdf", got.Filename)
	assert.Equal(t, "hash-a.pdf", got.FileHash)
	assert.Equal(t, "INVOICE a.pdf", got.RawText)
	assert.Equal(t, "Acme Corp", got.Fields["vendor"])
	assert.Equal(t, json.Number("1200"), got.Fields["total_amount"])
	assert.WithinDuration(t, doc.CreatedAt, got.CreatedAt, time.Second)
}

func TestSQLite_Document_KindsAreSeparate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	inv := sampleInvoice("a.pdf", time.Time{})
	require.NoError(t, st.SaveDocument(ctx, inv))

	_, err := st.GetDocument(ctx, model.KindPO, inv.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Document_UnknownKind(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SaveDocument(context.Background(), &model.Document{Kind: "receipt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown document kind")
}

func TestSQLite_LatestDocument(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older := samplePO("old.pdf", base)
	newer := samplePO("new.pdf", base.Add(time.Hour))
	require.NoError(t, st.SaveDocument(ctx, newer))
	require.NoError(t, st.SaveDocument(ctx, older))

	got, err := st.LatestDocument(ctx, model.KindPO)
	require.NoError(t, err)
	assert.Equal(t, "new.pdf", got.Filename)
}

func TestSQLite_LatestDocument_TieBreaksOnInsertOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.SaveDocument(ctx, sampleInvoice("first.pdf", at)))
	require.NoError(t, st.SaveDocument(ctx, sampleInvoice("second.pdf", at)))

	got, err := st.LatestDocument(ctx, model.KindInvoice)
	require.NoError(t, err)
	assert.Equal(t, "second.pdf", got.Filename)
}

func TestSQLite_LatestDocument_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.LatestDocument(context.Background(), model.KindInvoice)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_FindDocumentByHash(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc := sampleInvoice("a.pdf", time.Time{})
	require.NoError(t, st.SaveDocument(ctx, doc))

	got, err := st.FindDocumentByHash(ctx, model.KindInvoice, "hash-a.pdf")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.ID, got.ID)

	missing, err := st.FindDocumentByHash(ctx, model.KindPO, "hash-a.pdf")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_SaveDocuments_Bulk(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	docs := []*model.Document{
		sampleInvoice("1.json", base),
		samplePO("2.json", base.Add(time.Minute)),
		sampleInvoice("3.json", base.Add(2*time.Minute)),
	}
	n, err := st.SaveDocuments(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	invoices, err := st.ListDocuments(ctx, model.KindInvoice, 0)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "3.json", invoices[0].Filename)
	assert.Equal(t, "1.json", invoices[1].Filename)

	pos, err := st.ListDocuments(ctx, model.KindPO, 10)
	require.NoError(t, err)
	assert.Len(t, pos, 1)
}

func TestSQLite_SaveDocuments_RollsBackOnError(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	dup := sampleInvoice("dup.json", time.Time{})
	dup.ID = "fixed-id"
	again := sampleInvoice("dup2.json", time.Time{})
	again.ID = "fixed-id"

	_, err := st.SaveDocuments(ctx, []*model.Document{dup, again})
	require.Error(t, err)

	docs, err := st.ListDocuments(ctx, model.KindInvoice, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSQLite_SaveDocuments_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.SaveDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Discrepancies ---

func saveSamplePair(t *testing.T, st *SQLiteStore) (*model.Document, *model.Document) {
	t.Helper()
	ctx := context.Background()
	inv := sampleInvoice("inv.pdf", time.Time{})
	po := samplePO("po.pdf", time.Time{})
	require.NoError(t, st.SaveDocument(ctx, inv))
	require.NoError(t, st.SaveDocument(ctx, po))
	return inv, po
}

func TestSQLite_Discrepancy_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	inv, po := saveSamplePair(t, st)

	report := discrepancy.New().Build(inv.Record(), po.Record())
	require.True(t, report.Clean())

	d := model.NewDiscrepancy(inv.ID, po.ID, report, "match")
	require.NoError(t, st.SaveDiscrepancy(ctx, d))
	require.NotEmpty(t, d.ID)

	got, err := st.GetDiscrepancy(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.InvoiceID)
	assert.Equal(t, po.ID, got.POID)
	assert.True(t, got.Clean)
	assert.Equal(t, discrepancy.CleanMessage, got.Description)
	assert.Equal(t, "match", got.Summary)
	assert.Equal(t, report, got.Report)
}

func TestSQLite_Discrepancy_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetDiscrepancy(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Discrepancy_RequiresDocuments(t *testing.T) {
	st := newTestSQLiteStore(t)

	d := model.NewDiscrepancy("no-invoice", "no-po", discrepancy.Report{}, "")
	assert.Error(t, st.SaveDiscrepancy(context.Background(), d))
}

func TestSQLite_ListDiscrepancies_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	inv, po := saveSamplePair(t, st)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	clean := discrepancy.New().Build(inv.Record(), po.Record())
	dirty := discrepancy.New().Build(inv.Record(), discrepancy.Record{"purchase_order_id": "PO-1"})

	for i, rep := range []discrepancy.Report{clean, dirty, dirty} {
		d := model.NewDiscrepancy(inv.ID, po.ID, rep, "")
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.SaveDiscrepancy(ctx, d))
	}

	all, err := st.ListDiscrepancies(ctx, model.DiscrepancyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.True(t, all[2].Clean, "newest first")

	onlyDirty, err := st.ListDiscrepancies(ctx, model.DiscrepancyFilter{DirtyOnly: true})
	require.NoError(t, err)
	assert.Len(t, onlyDirty, 2)
	for _, d := range onlyDirty {
		assert.False(t, d.Clean)
	}

	limited, err := st.ListDiscrepancies(ctx, model.DiscrepancyFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, all[1].ID, limited[0].ID)

	byInvoice, err := st.ListDiscrepancies(ctx, model.DiscrepancyFilter{InvoiceID: "other"})
	require.NoError(t, err)
	assert.Empty(t, byInvoice)
}

// --- Read-only queries ---

func TestSQLite_QueryReadOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	saveSamplePair(t, st)

	res, err := st.QueryReadOnly(ctx, `SELECT json_extract(parsed_data, '$.vendor') AS vendor, filename FROM invoice_data;`)
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor", "filename"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Acme Corp", res.Rows[0]["vendor"])
	assert.Equal(t, "inv.pdf", res.Rows[0]["filename"])
}

func TestSQLite_QueryReadOnly_RejectsWrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	saveSamplePair(t, st)

	_, err := st.QueryReadOnly(ctx, `DELETE FROM invoice_data`)
	require.Error(t, err)

	docs, err := st.ListDocuments(ctx, model.KindInvoice, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSQLite_QueryReadOnly_ConnectionStaysWritable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	st.db.SetMaxOpenConns(1)

	_, err := st.QueryReadOnly(ctx, `SELECT 1 AS one`)
	require.NoError(t, err)

	require.NoError(t, st.SaveDocument(ctx, sampleInvoice("after.pdf", time.Time{})))
}

func TestSQLite_QueryReadOnly_BadSQL(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.QueryReadOnly(context.Background(), `SELECT * FROM no_such_table`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only query")
}

func TestSQLite_Dialect(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.Equal(t, DialectSQLite, st.Dialect())
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}
