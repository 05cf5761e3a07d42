package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verifin/recon-cli/internal/discrepancy"
)

// DocumentKind identifies which side of a reconciliation a document is on.
type DocumentKind string

const (
	KindInvoice DocumentKind = "invoice"
	KindPO      DocumentKind = "po"
)

// Kinds returns every document kind in reconciliation order.
func Kinds() []DocumentKind { return []DocumentKind{KindInvoice, KindPO} }

// ParseDocumentKind accepts "invoice", "po" and "purchase_order" in any case.
func ParseDocumentKind(s string) (DocumentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invoice", "invoices":
		return KindInvoice, nil
	case "po", "pos", "purchase_order", "purchase-order":
		return KindPO, nil
	}
	return "", eris.Errorf("model: unknown document kind %q", s)
}

// Table is the table holding documents of this kind.
func (k DocumentKind) Table() string {
	if k == KindPO {
		return "po_data"
	}
	return "invoice_data"
}

// Side maps the kind onto the engine's side.
func (k DocumentKind) Side() discrepancy.Side {
	if k == KindPO {
		return discrepancy.PO
	}
	return discrepancy.Invoice
}

// Label is the human readable name used in messages.
func (k DocumentKind) Label() string {
	if k == KindPO {
		return "purchase order"
	}
	return "invoice"
}

// Document is an uploaded invoice or purchase order with the fields
// extracted from it.
type Document struct {
	ID        string         `json:"id"`
	Kind      DocumentKind   `json:"kind"`
	Filename  string         `json:"filename"`
	FileHash  string         `json:"file_hash,omitempty"`
	RawText   string         `json:"raw_text,omitempty"`
	Fields    map[string]any `json:"parsed_data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Record exposes the extracted fields to the discrepancy engine.
func (d *Document) Record() discrepancy.Record {
	if d == nil {
		return nil
	}
	return discrepancy.Record(d.Fields)
}

// Unparsed reports whether field extraction fell back to raw text.
func (d *Document) Unparsed() bool {
	if d == nil || len(d.Fields) != 1 {
		return false
	}
	_, ok := d.Fields[RawParsedKey]
	return ok
}

// RawParsedKey holds model output that could not be decoded as JSON.
const RawParsedKey = "raw_parsed"
