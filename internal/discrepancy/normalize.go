package discrepancy

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultDateLayouts are tried in order until one parses.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"2006/01/02",
	"02/01/2006",
	time.RFC3339,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// Normalized is the comparable form of a resolved value. Only the field
// matching the attribute's kind is set.
type Normalized struct {
	Text   string
	Amount decimal.Decimal
	Date   time.Time
}

// NormalizationFailure records a value that was present but could not be
// parsed. The raw text is kept so reports can show what was unreadable.
type NormalizationFailure struct {
	Attribute Attribute `json:"attribute"`
	Side      Side      `json:"side"`
	Field     string    `json:"field,omitempty"`
	Raw       string    `json:"raw"`
	Reason    string    `json:"reason"`
}

func (f *NormalizationFailure) Error() string {
	return fmt.Sprintf("discrepancy: %s %s %q: %s", f.Side, f.Attribute, f.Raw, f.Reason)
}

// Normalizer converts raw values into comparable form.
type Normalizer struct {
	layouts []string
}

// NewNormalizer creates a Normalizer. With no layouts, DefaultDateLayouts is used.
func NewNormalizer(layouts ...string) *Normalizer {
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	return &Normalizer{layouts: append([]string(nil), layouts...)}
}

// Normalize converts raw into the comparable form for attr. Failures are
// returned as *NormalizationFailure with Side and Field left for the caller.
func (n *Normalizer) Normalize(attr Attribute, raw any) (Normalized, error) {
	text, _ := renderScalar(raw)
	switch attr {
	case TotalAmount:
		amount, err := parseAmount(raw)
		if err != nil {
			return Normalized{}, &NormalizationFailure{Attribute: attr, Raw: text, Reason: err.Error()}
		}
		return Normalized{Amount: amount}, nil
	case Date:
		d, err := n.parseDate(raw)
		if err != nil {
			return Normalized{}, &NormalizationFailure{Attribute: attr, Raw: text, Reason: err.Error()}
		}
		return Normalized{Date: d}, nil
	default:
		return Normalized{Text: foldString(text)}, nil
	}
}

// foldString trims and lower-cases s after composing it to NFC, so visually
// identical strings built from different code points compare equal.
func foldString(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	// Casers keep state and are not safe to share across goroutines.
	return cases.Lower(language.Und).String(s)
}

// Amounts outside these bounds are rejected before any arithmetic, since
// comparing decimals rescales them to a common exponent.
const (
	maxAmountExponent = 30
	maxAmountDigits   = 40
)

func parseAmount(raw any) (decimal.Decimal, error) {
	d, err := amountOf(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if exp := d.Exponent(); exp > maxAmountExponent || exp < -maxAmountExponent {
		return decimal.Zero, eris.Errorf("amount exponent %d out of range", exp)
	}
	if digits := d.NumDigits() + int(d.Exponent()); digits > maxAmountDigits {
		return decimal.Zero, eris.Errorf("amount has more than %d integer digits", maxAmountDigits)
	}
	return d, nil
}

func amountOf(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, eris.New("not a finite number")
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, eris.New("not a finite number")
		}
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(v)), 0), nil
	case uint32:
		return decimal.NewFromInt(int64(v)), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0), nil
	case json.Number:
		return parseAmountString(v.String())
	case string:
		return parseAmountString(v)
	default:
		return decimal.Zero, eris.Errorf("unsupported amount type %T", raw)
	}
}

var thousandsSeparators = strings.NewReplacer(",", "", "_", "", " ", "", "\u00a0", "", "\u202f", "", "'", "")

// parseAmountString accepts values like "$1,200.00", "USD 1200" or "Rs. 450".
// A comma is always read as a thousands separator.
func parseAmountString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}

	s = trimCurrencyPrefix(s)
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.Is(unicode.Sc, r) || unicode.IsSpace(r) || r == '.'
	})
	s = thousandsSeparators.Replace(s)
	if s == "" {
		return decimal.Zero, eris.New("no digits")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Errorf("invalid amount %q", s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func trimCurrencyPrefix(s string) string {
	isNoise := func(r rune) bool { return unicode.Is(unicode.Sc, r) || unicode.IsSpace(r) }
	s = strings.TrimLeftFunc(s, isNoise)
	rest := strings.TrimLeftFunc(s, unicode.IsLetter)
	if len(rest) < len(s) {
		// Abbreviations such as "Rs." end in a period.
		rest = strings.TrimPrefix(rest, ".")
	}
	return strings.TrimLeftFunc(rest, isNoise)
}

func (n *Normalizer) parseDate(raw any) (time.Time, error) {
	var s string
	switch v := raw.(type) {
	case time.Time:
		y, m, d := v.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case string:
		s = strings.TrimSpace(v)
	default:
		return time.Time{}, eris.Errorf("unsupported date type %T", raw)
	}

	for _, layout := range n.layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, eris.New("no layout matched")
}
