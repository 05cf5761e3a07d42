package discrepancy

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Verdict kinds.
type Kind string

const (
	Match         Kind = "match"
	Mismatch      Kind = "mismatch"
	Indeterminate Kind = "indeterminate"
)

// Indeterminate reasons and the placeholder shown for an absent side.
const (
	ReasonBothMissing    = "both missing"
	ReasonOneSideMissing = "one side missing"
	MissingLabel         = "missing"
)

const (
	DefaultDateWindowDays = 5
)

// DefaultAmountTolerance is the largest difference between totals that still
// counts as a match, in currency units.
var DefaultAmountTolerance = decimal.New(1, -2)

// Verdict is the outcome of comparing one attribute across both records.
type Verdict struct {
	Kind     Kind                    `json:"verdict"`
	Reason   string                  `json:"reason,omitempty"`
	Invoice  string                  `json:"invoice"`
	PO       string                  `json:"po"`
	Failures []*NormalizationFailure `json:"failures,omitempty"`
}

// Operand is one side of a comparison: what was resolved and how it
// normalized.
type Operand struct {
	Present bool
	Raw     string
	Value   Normalized
	Failure *NormalizationFailure
}

func (o Operand) usable() bool {
	return o.Present && o.Failure == nil
}

// label is the text shown for this side in a verdict. Unparseable values
// keep their raw text.
func (o Operand) label() string {
	if !o.Present {
		return MissingLabel
	}
	return o.Raw
}

// Comparator applies the per-attribute equality and tolerance rules.
type Comparator struct {
	tolerance  decimal.Decimal
	windowDays int
}

// NewComparator creates a Comparator. A negative tolerance or window is
// replaced with the default.
func NewComparator(tolerance decimal.Decimal, windowDays int) *Comparator {
	if tolerance.IsNegative() {
		tolerance = DefaultAmountTolerance
	}
	if windowDays < 0 {
		windowDays = DefaultDateWindowDays
	}
	return &Comparator{tolerance: tolerance, windowDays: windowDays}
}

// Compare decides whether the invoice and PO operands agree on attr.
func (c *Comparator) Compare(attr Attribute, inv, po Operand) Verdict {
	v := Verdict{Invoice: inv.label(), PO: po.label()}
	for _, f := range []*NormalizationFailure{inv.Failure, po.Failure} {
		if f != nil {
			v.Failures = append(v.Failures, f)
		}
	}

	switch {
	case !inv.usable() && !po.usable():
		v.Kind, v.Reason = Indeterminate, ReasonBothMissing
		return v
	case !inv.usable() || !po.usable():
		v.Kind, v.Reason = Indeterminate, ReasonOneSideMissing
		return v
	}

	if c.equal(attr, inv.Value, po.Value) {
		v.Kind = Match
	} else {
		v.Kind = Mismatch
	}
	return v
}

func (c *Comparator) equal(attr Attribute, a, b Normalized) bool {
	switch attr {
	case TotalAmount:
		return a.Amount.Sub(b.Amount).Abs().LessThanOrEqual(c.tolerance)
	case Date:
		return daysApart(a.Date, b.Date) <= c.windowDays
	default:
		return a.Text == b.Text
	}
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	if d < 0 {
		// Sub saturated at the minimum duration.
		return math.MaxInt
	}
	return int(d / (24 * time.Hour))
}
