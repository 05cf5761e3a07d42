// Package reconcile pairs stored invoices with purchase orders, runs the
// discrepancy engine and records the outcome.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/model"
	"github.com/verifin/recon-cli/internal/store"
	"github.com/verifin/recon-cli/internal/summarize"
)

// ErrNoDocuments is returned when either side of the latest pair is missing.
// Its message is shown to users as-is.
var ErrNoDocuments = eris.New("No invoice or PO found in the database. Please upload both first.") //nolint:staticcheck

// Result is a persisted check of one invoice against one purchase order.
type Result struct {
	Invoice     *model.Document    `json:"invoice"`
	PO          *model.Document    `json:"po"`
	Discrepancy *model.Discrepancy `json:"discrepancy"`
}

// Comparison is an unpersisted check of two in-memory records.
type Comparison struct {
	Report  discrepancy.Report `json:"report"`
	Text    string             `json:"text"`
	Summary string             `json:"summary"`
}

// Service runs checks against the store.
type Service struct {
	store      store.Store
	engine     *discrepancy.Engine
	summarizer summarize.Summarizer
}

// NewService creates a Service. A nil summarizer uses the template summary.
func NewService(st store.Store, engine *discrepancy.Engine, summarizer summarize.Summarizer) *Service {
	if summarizer == nil {
		summarizer = summarize.TemplateSummarizer{}
	}
	return &Service{store: st, engine: engine, summarizer: summarizer}
}

// DetectLatest checks the most recently uploaded invoice against the most
// recently uploaded purchase order.
func (s *Service) DetectLatest(ctx context.Context) (*Result, error) {
	inv, err := s.latest(ctx, model.KindInvoice)
	if err != nil {
		return nil, err
	}
	po, err := s.latest(ctx, model.KindPO)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, inv, po)
}

func (s *Service) latest(ctx context.Context, kind model.DocumentKind) (*model.Document, error) {
	doc, err := s.store.LatestDocument(ctx, kind)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoDocuments
	}
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: latest %s", kind)
	}
	return doc, nil
}

// Detect checks an explicit invoice/PO pair.
func (s *Service) Detect(ctx context.Context, invoiceID, poID string) (*Result, error) {
	inv, err := s.store.GetDocument(ctx, model.KindInvoice, invoiceID)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: load invoice %s", invoiceID)
	}
	po, err := s.store.GetDocument(ctx, model.KindPO, poID)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: load po %s", poID)
	}
	return s.check(ctx, inv, po)
}

func (s *Service) check(ctx context.Context, inv, po *model.Document) (*Result, error) {
	report := s.engine.Build(inv.Record(), po.Record())

	summary, err := s.summarizer.Summarize(ctx, summarize.Input{
		InvoiceName: inv.Filename,
		POName:      po.Filename,
		Report:      report,
	})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: summarize")
	}

	d := model.NewDiscrepancy(inv.ID, po.ID, report, summary)
	d.Description = fmt.Sprintf("Invoice %s vs PO %s", inv.Filename, po.Filename)
	if err := s.store.SaveDiscrepancy(ctx, d); err != nil {
		return nil, eris.Wrap(err, "reconcile: save discrepancy")
	}

	zap.L().Info("reconcile: checked pair",
		zap.String("discrepancy_id", d.ID),
		zap.String("invoice_id", inv.ID),
		zap.String("po_id", po.ID),
		zap.Bool("clean", d.Clean),
		zap.Int("discrepancies", len(report.Discrepancies())),
	)
	return &Result{Invoice: inv, PO: po, Discrepancy: d}, nil
}

// Compare checks two in-memory records without touching the store.
func (s *Service) Compare(ctx context.Context, invoice, po discrepancy.Record) (*Comparison, error) {
	return Compare(ctx, s.engine, s.summarizer, invoice, po)
}

// Compare is Service.Compare for callers without a store.
func Compare(ctx context.Context, engine *discrepancy.Engine, summarizer summarize.Summarizer, invoice, po discrepancy.Record) (*Comparison, error) {
	report := engine.Build(invoice, po)
	c := &Comparison{Report: report, Text: report.Text()}
	if summarizer == nil {
		return c, nil
	}
	summary, err := summarizer.Summarize(ctx, summarize.Input{Report: report})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: summarize")
	}
	c.Summary = summary
	return c, nil
}
