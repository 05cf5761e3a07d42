// Package discrepancy compares an invoice record against a purchase order
// record, attribute by attribute, and reports where the two agree.
package discrepancy

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Record is one side's extracted field mapping. Values are JSON-like scalars.
type Record map[string]any

// Attribute is a reconciled concept independent of field naming.
type Attribute int

const (
	ReferenceID Attribute = iota
	Vendor
	TotalAmount
	Date
)

var attributeNames = [...]string{
	ReferenceID: "reference_id",
	Vendor:      "vendor",
	TotalAmount: "total_amount",
	Date:        "date",
}

// Attributes returns every attribute in report order.
func Attributes() []Attribute {
	return []Attribute{ReferenceID, Vendor, TotalAmount, Date}
}

func (a Attribute) String() string {
	if a < 0 || int(a) >= len(attributeNames) {
		return "unknown"
	}
	return attributeNames[a]
}

// ParseAttribute maps a name such as "total_amount" back to its Attribute.
func ParseAttribute(name string) (Attribute, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, n := range attributeNames {
		if n == key {
			return Attribute(i), nil
		}
	}
	return 0, eris.Errorf("discrepancy: unknown attribute %q", name)
}

func (a Attribute) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Attribute) UnmarshalText(text []byte) error {
	parsed, err := ParseAttribute(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Side identifies which document a record came from.
type Side int

const (
	Invoice Side = iota
	PO
)

func (s Side) String() string {
	if s == PO {
		return "po"
	}
	return "invoice"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "invoice":
		*s = Invoice
	case "po":
		*s = PO
	default:
		return eris.Errorf("discrepancy: unknown side %q", string(text))
	}
	return nil
}
