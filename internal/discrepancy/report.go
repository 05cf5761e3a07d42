package discrepancy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanMessage is the flattened text of a report with no discrepancies.
const CleanMessage = "No discrepancies found!"

// Entry pairs an attribute with its verdict.
type Entry struct {
	Attribute Attribute `json:"attribute"`
	Verdict
}

// Report holds one entry per attribute in canonical order.
type Report struct {
	Entries []Entry `json:"entries"`
}

// Clean reports whether every attribute matched.
func (r Report) Clean() bool {
	for _, e := range r.Entries {
		if e.Kind != Match {
			return false
		}
	}
	return len(r.Entries) > 0
}

// Get returns the verdict for attr.
func (r Report) Get(attr Attribute) (Verdict, bool) {
	for _, e := range r.Entries {
		if e.Attribute == attr {
			return e.Verdict, true
		}
	}
	return Verdict{}, false
}

// Discrepancies returns the entries that are not a Match.
func (r Report) Discrepancies() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Kind != Match {
			out = append(out, e)
		}
	}
	return out
}

// Text flattens the report to one line per non-matching attribute, or
// CleanMessage when there are none.
func (r Report) Text() string {
	if r.Clean() {
		return CleanMessage
	}
	lines := make([]string, 0, len(r.Entries))
	for _, e := range r.Discrepancies() {
		lines = append(lines, e.Line())
	}
	return strings.Join(lines, "\n")
}

// Line renders a single entry as "- attribute: Invoice = x, PO = y".
func (e Entry) Line() string {
	line := fmt.Sprintf("- %s: Invoice = %s, PO = %s", e.Attribute, e.Invoice, e.PO)
	if e.Kind == Indeterminate {
		line += " (" + e.Reason + ")"
	}
	return line
}

// MarshalJSON includes the derived clean flag alongside the entries.
func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Entries []Entry `json:"entries"`
		Clean   bool    `json:"clean"`
	}{Entries: r.Entries, Clean: r.Clean()})
}
