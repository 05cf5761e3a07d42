package discrepancy

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Observation is the value an attribute resolved to on one side.
type Observation struct {
	Field string // record key the value was read from
	Raw   any
	Text  string // Raw rendered as a trimmed string
}

// Resolver looks up attributes in records through an alias table.
type Resolver struct {
	aliases AliasTable
}

// NewResolver creates a Resolver over a copy of the given table.
func NewResolver(aliases AliasTable) *Resolver {
	return &Resolver{aliases: aliases.Clone()}
}

// Resolve returns the first alias for attr on side whose value in rec is a
// non-empty scalar. The second result is false when no alias matched.
func (r *Resolver) Resolve(rec Record, attr Attribute, side Side) (Observation, bool) {
	return r.resolve(rec, newKeyIndex(rec), attr, side)
}

func (r *Resolver) resolve(rec Record, idx keyIndex, attr Attribute, side Side) (Observation, bool) {
	for _, alias := range r.aliases[attr].For(side) {
		if raw, ok := rec[alias]; ok {
			if text, usable := renderScalar(raw); usable {
				return Observation{Field: alias, Raw: raw, Text: text}, true
			}
		}
		for _, key := range idx[normalizeKey(alias)] {
			if key == alias {
				continue
			}
			if text, usable := renderScalar(rec[key]); usable {
				return Observation{Field: key, Raw: rec[key], Text: text}, true
			}
		}
	}
	return Observation{}, false
}

// keyIndex groups record keys by their normalized form. Each group is sorted
// so lookups are deterministic when several keys collide.
type keyIndex map[string][]string

func newKeyIndex(rec Record) keyIndex {
	idx := make(keyIndex, len(rec))
	for key := range rec {
		n := normalizeKey(key)
		idx[n] = append(idx[n], key)
	}
	for _, keys := range idx {
		sort.Strings(keys)
	}
	return idx
}

// normalizeKey lowercases a field name and drops spaces, underscores and
// hyphens, so "Invoice Number" and "invoice_number" collide.
func normalizeKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// renderScalar renders a scalar value as a trimmed string. It reports false
// for nil, non-scalar, and blank values.
func renderScalar(v any) (string, bool) {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		s = strconv.Itoa(t)
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case int64:
		s = strconv.FormatInt(t, 10)
	case uint:
		s = strconv.FormatUint(uint64(t), 10)
	case uint32:
		s = strconv.FormatUint(uint64(t), 10)
	case uint64:
		s = strconv.FormatUint(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	case decimal.Decimal:
		s = t.String()
	case fmt.Stringer:
		s = t.String()
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
