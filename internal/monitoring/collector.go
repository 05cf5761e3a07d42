// Package monitoring watches stored discrepancy checks and alerts when the
// share of failing invoice/PO pairs, unparsed uploads or open upstream
// circuits crosses configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/model"
)

// maxScan bounds how many rows one collection reads per table.
const maxScan = 10000

// MetricsSnapshot holds a point-in-time view of reconciliation health.
type MetricsSnapshot struct {
	// Checks within the lookback window.
	ChecksTotal int     `json:"checks_total"`
	ChecksClean int     `json:"checks_clean"`
	ChecksDirty int     `json:"checks_dirty"`
	DirtyRate   float64 `json:"dirty_rate"`

	// Mismatches counts mismatched attributes; Indeterminate counts entries
	// that could not be compared (missing or unparseable values).
	Mismatches    map[string]int `json:"mismatches"`
	Indeterminate int            `json:"indeterminate"`

	// Documents within the lookback window.
	InvoicesIngested int `json:"invoices_ingested"`
	POsIngested      int `json:"pos_ingested"`
	Unparsed         int `json:"unparsed"`

	OpenCircuits []string `json:"open_circuits,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the subset of store.Store the collector reads.
type Source interface {
	ListDiscrepancies(ctx context.Context, filter model.DiscrepancyFilter) ([]model.Discrepancy, error)
	ListDocuments(ctx context.Context, kind model.DocumentKind, limit int) ([]model.Document, error)
}

// Collector gathers metrics from the store and the circuit breakers.
type Collector struct {
	source   Source
	circuits func() map[string]string
}

// NewCollector creates a new metrics collector. circuits may be nil.
func NewCollector(source Source, circuits func() map[string]string) *Collector {
	return &Collector{source: source, circuits: circuits}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		Mismatches:    make(map[string]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	checks, err := c.source.ListDiscrepancies(ctx, model.DiscrepancyFilter{Limit: maxScan})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list discrepancies")
	}
	for _, d := range checks {
		if d.CreatedAt.Before(cutoff) {
			continue
		}
		snap.ChecksTotal++
		if d.Clean {
			snap.ChecksClean++
		} else {
			snap.ChecksDirty++
		}
		for _, e := range d.Report.Discrepancies() {
			switch e.Kind {
			case discrepancy.Mismatch:
				snap.Mismatches[e.Attribute.String()]++
			case discrepancy.Indeterminate:
				snap.Indeterminate++
			}
		}
	}
	if snap.ChecksTotal > 0 {
		snap.DirtyRate = float64(snap.ChecksDirty) / float64(snap.ChecksTotal)
	}

	for _, kind := range model.Kinds() {
		docs, err := c.source.ListDocuments(ctx, kind, maxScan)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list %s documents", kind)
		}
		for i := range docs {
			if docs[i].CreatedAt.Before(cutoff) {
				continue
			}
			if kind == model.KindInvoice {
				snap.InvoicesIngested++
			} else {
				snap.POsIngested++
			}
			if docs[i].Unparsed() {
				snap.Unparsed++
			}
		}
	}

	if c.circuits != nil {
		for name, state := range c.circuits() {
			if state == "open" {
				snap.OpenCircuits = append(snap.OpenCircuits, name)
			}
		}
	}

	return snap, nil
}
