package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/model"
	"github.com/verifin/recon-cli/internal/store"
	"github.com/verifin/recon-cli/internal/summarize"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func saveDoc(t *testing.T, st store.Store, kind model.DocumentKind, name string, at time.Time, fields map[string]any) *model.Document {
	t.Helper()
	doc := &model.Document{Kind: kind, Filename: name, FileHash: name, Fields: fields, CreatedAt: at}
	require.NoError(t, st.SaveDocument(context.Background(), doc))
	return doc
}

var (
	t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	invoiceFields = map[string]any{
		"invoice_number":           "INV-1001",
		"vendor":                   "Acme Corp",
		"purchase_order_reference": "PO-9",
		"total_amount":             "1,200.00",
		"invoice_date":             "2024-03-01",
	}
	poFields = map[string]any{
		"purchase_order_id": "PO-9",
		"vendor":            "ACME CORP",
		"total_value":       1200,
		"order_date":        "2024-02-28",
	}
)

func TestDetectLatest_NoDocuments(t *testing.T) {
	svc := NewService(newStore(t), discrepancy.New(), nil)
	_, err := svc.DetectLatest(context.Background())
	require.ErrorIs(t, err, ErrNoDocuments)
	assert.Equal(t, "No invoice or PO found in the database. Please upload both first.", err.Error())
}

func TestDetectLatest_MissingPO(t *testing.T) {
	st := newStore(t)
	saveDoc(t, st, model.KindInvoice, "inv.pdf", t0, invoiceFields)

	_, err := NewService(st, discrepancy.New(), nil).DetectLatest(context.Background())
	require.ErrorIs(t, err, ErrNoDocuments)
}

func TestDetectLatest_CleanPair(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	inv := saveDoc(t, st, model.KindInvoice, "inv.pdf", t0, invoiceFields)
	po := saveDoc(t, st, model.KindPO, "po.pdf", t0, poFields)

	res, err := NewService(st, discrepancy.New(), summarize.TemplateSummarizer{}).DetectLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, res.Invoice.ID)
	assert.Equal(t, po.ID, res.PO.ID)
	assert.True(t, res.Discrepancy.Clean)
	assert.Equal(t, summarize.PerfectMatch, res.Discrepancy.Summary)
	assert.Equal(t, "Invoice inv.pdf vs PO po.pdf", res.Discrepancy.Description)

	stored, err := st.GetDiscrepancy(ctx, res.Discrepancy.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, stored.InvoiceID)
	assert.Equal(t, po.ID, stored.POID)
	assert.True(t, stored.Report.Clean())
}

func TestDetectLatest_UsesNewestDocuments(t *testing.T) {
	st := newStore(t)
	saveDoc(t, st, model.KindInvoice, "old.pdf", t0, invoiceFields)
	newer := map[string]any{
		"purchase_order_reference": "PO-9",
		"vendor":                   "Acme Corp",
		"total_amount":             "1,500.00",
		"invoice_date":             "2024-03-01",
	}
	latest := saveDoc(t, st, model.KindInvoice, "new.pdf", t0.Add(time.Hour), newer)
	saveDoc(t, st, model.KindPO, "po.pdf", t0, poFields)

	res, err := NewService(st, discrepancy.New(), nil).DetectLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, latest.ID, res.Invoice.ID)
	assert.False(t, res.Discrepancy.Clean)
	assert.Equal(t,
		"Invoice and PO do not match. Fields with discrepancies:\n- total_amount: Invoice = 1,500.00, PO = 1200",
		res.Discrepancy.Summary,
	)
}

func TestDetect_ExplicitPair(t *testing.T) {
	st := newStore(t)
	inv := saveDoc(t, st, model.KindInvoice, "inv.pdf", t0, invoiceFields)
	po := saveDoc(t, st, model.KindPO, "po.pdf", t0, poFields)
	saveDoc(t, st, model.KindPO, "other.pdf", t0.Add(time.Hour), map[string]any{"purchase_order_id": "PO-10"})

	res, err := NewService(st, discrepancy.New(), nil).Detect(context.Background(), inv.ID, po.ID)
	require.NoError(t, err)
	assert.Equal(t, po.ID, res.PO.ID)
	assert.True(t, res.Discrepancy.Clean)

	list, err := st.ListDiscrepancies(context.Background(), model.DiscrepancyFilter{POID: po.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDetect_UnknownID(t *testing.T) {
	st := newStore(t)
	po := saveDoc(t, st, model.KindPO, "po.pdf", t0, poFields)

	_, err := NewService(st, discrepancy.New(), nil).Detect(context.Background(), "missing", po.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, summarize.Input) (string, error) {
	return "", errors.New("boom")
}

func TestDetect_SummaryErrorIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	inv := saveDoc(t, st, model.KindInvoice, "inv.pdf", t0, invoiceFields)
	po := saveDoc(t, st, model.KindPO, "po.pdf", t0, poFields)

	_, err := NewService(st, discrepancy.New(), failingSummarizer{}).Detect(ctx, inv.ID, po.ID)
	require.Error(t, err)

	list, err := st.ListDiscrepancies(ctx, model.DiscrepancyFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCompare(t *testing.T) {
	svc := NewService(newStore(t), discrepancy.New(), nil)
	c, err := svc.Compare(context.Background(),
		discrepancy.Record{"purchase_order_reference": "PO-1", "vendor": "Acme"},
		discrepancy.Record{"purchase_order_id": "PO-1", "vendor": "Globex"},
	)
	require.NoError(t, err)
	assert.False(t, c.Report.Clean())
	assert.Contains(t, c.Text, "- vendor: Invoice = Acme, PO = Globex")
	assert.Contains(t, c.Summary, "Invoice and PO do not match.")
}

func TestCompare_NoSummarizer(t *testing.T) {
	c, err := Compare(context.Background(), discrepancy.New(), nil, discrepancy.Record(invoiceFields), discrepancy.Record(poFields))
	require.NoError(t, err)
	assert.Equal(t, discrepancy.CleanMessage, c.Text)
	assert.Empty(t, c.Summary)
}
