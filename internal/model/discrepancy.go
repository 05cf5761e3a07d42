package model

import (
	"time"

	"github.com/verifin/recon-cli/internal/discrepancy"
)

// Discrepancy is a persisted comparison of one invoice against one
// purchase order.
type Discrepancy struct {
	ID          string             `json:"id"`
	InvoiceID   string             `json:"invoice_id"`
	POID        string             `json:"po_id"`
	Description string             `json:"description"`
	Clean       bool               `json:"clean"`
	Report      discrepancy.Report `json:"report"`
	Summary     string             `json:"summary"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewDiscrepancy builds an unsaved record from an engine report.
func NewDiscrepancy(invoiceID, poID string, report discrepancy.Report, summary string) *Discrepancy {
	return &Discrepancy{
		InvoiceID:   invoiceID,
		POID:        poID,
		Description: report.Text(),
		Clean:       report.Clean(),
		Report:      report,
		Summary:     summary,
	}
}

// DiscrepancyFilter narrows ListDiscrepancies. Zero values mean no filter.
type DiscrepancyFilter struct {
	InvoiceID string
	POID      string
	DirtyOnly bool
	Limit     int
	Offset    int
}
