package discrepancy

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// AliasSet holds the field names that may carry an attribute, per side,
// in priority order.
type AliasSet struct {
	Invoice []string `yaml:"invoice"`
	PO      []string `yaml:"po"`
}

// For returns the alias list for the given side.
func (s AliasSet) For(side Side) []string {
	if side == PO {
		return s.PO
	}
	return s.Invoice
}

// AliasTable maps every attribute to its alias set.
type AliasTable map[Attribute]AliasSet

// DefaultAliases returns a fresh copy of the built-in alias table.
//
// On the invoice side the PO cross-reference is preferred over the invoice's
// own number, which only serves as a fallback document identifier.
func DefaultAliases() AliasTable {
	return AliasTable{
		ReferenceID: {
			Invoice: []string{"purchase_order_reference", "po_reference", "po_number", "invoice_number"},
			PO:      []string{"purchase_order_id", "po_number", "purchase_order_number", "purchase_order_reference"},
		},
		Vendor: {
			Invoice: []string{"vendor", "vendor_name", "supplier", "supplier_name"},
			PO:      []string{"vendor", "vendor_name", "supplier", "supplier_name"},
		},
		TotalAmount: {
			Invoice: []string{"total_amount", "invoice_total", "amount_due", "total", "total_value"},
			PO:      []string{"total_value", "po_total", "order_total", "total", "total_amount"},
		},
		Date: {
			Invoice: []string{"invoice_date", "issue_date", "date"},
			PO:      []string{"order_date", "po_date", "purchase_order_date", "date"},
		},
	}
}

// Clone returns a deep copy of the table.
func (t AliasTable) Clone() AliasTable {
	out := make(AliasTable, len(t))
	for attr, set := range t {
		out[attr] = AliasSet{
			Invoice: append([]string(nil), set.Invoice...),
			PO:      append([]string(nil), set.PO...),
		}
	}
	return out
}

// Merge returns a copy of t where every non-empty side list in over replaces
// the corresponding list in t.
func (t AliasTable) Merge(over AliasTable) AliasTable {
	out := t.Clone()
	for attr, set := range over {
		cur := out[attr]
		if len(set.Invoice) > 0 {
			cur.Invoice = append([]string(nil), set.Invoice...)
		}
		if len(set.PO) > 0 {
			cur.PO = append([]string(nil), set.PO...)
		}
		out[attr] = cur
	}
	return out
}

// LoadAliases reads an alias override file. The file has a top-level
// "aliases" key mapping attribute names to invoice/po lists:
//
//	aliases:
//	  reference_id:
//	    invoice: [purchase_order_reference, invoice_number]
//	    po: [purchase_order_id]
func LoadAliases(path string) (AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "discrepancy: read alias file %s", path)
	}

	var wrapper struct {
		Aliases map[string]AliasSet `yaml:"aliases"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "discrepancy: parse alias file")
	}

	table := make(AliasTable, len(wrapper.Aliases))
	for name, set := range wrapper.Aliases {
		attr, err := ParseAttribute(name)
		if err != nil {
			return nil, err
		}
		table[attr] = set
	}
	return table, nil
}
