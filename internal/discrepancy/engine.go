package discrepancy

import (
	"github.com/shopspring/decimal"
)

// Engine builds discrepancy reports. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	resolver   *Resolver
	normalizer *Normalizer
	comparator *Comparator
}

type options struct {
	aliases    AliasTable
	layouts    []string
	tolerance  decimal.Decimal
	windowDays int
}

// Option configures an Engine.
type Option func(*options)

// WithAliases replaces the alias table. Use DefaultAliases().Merge to extend
// the defaults instead.
func WithAliases(t AliasTable) Option {
	return func(o *options) { o.aliases = t }
}

// WithDateLayouts replaces the ordered date layouts.
func WithDateLayouts(layouts ...string) Option {
	return func(o *options) { o.layouts = layouts }
}

// WithAmountTolerance sets the largest total difference that still matches.
func WithAmountTolerance(d decimal.Decimal) Option {
	return func(o *options) { o.tolerance = d }
}

// WithDateWindow sets how many days apart two dates may be and still match.
func WithDateWindow(days int) Option {
	return func(o *options) { o.windowDays = days }
}

// New creates an Engine with the default rules, adjusted by opts.
func New(opts ...Option) *Engine {
	o := options{
		aliases:    DefaultAliases(),
		tolerance:  DefaultAmountTolerance,
		windowDays: DefaultDateWindowDays,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		resolver:   NewResolver(o.aliases),
		normalizer: NewNormalizer(o.layouts...),
		comparator: NewComparator(o.tolerance, o.windowDays),
	}
}

// Build compares invoice against po for every attribute, in canonical order.
// Either record may be nil.
func (e *Engine) Build(invoice, po Record) Report {
	invIdx, poIdx := newKeyIndex(invoice), newKeyIndex(po)

	attrs := Attributes()
	report := Report{Entries: make([]Entry, 0, len(attrs))}
	for _, attr := range attrs {
		inv := e.operand(invoice, invIdx, attr, Invoice)
		p := e.operand(po, poIdx, attr, PO)
		report.Entries = append(report.Entries, Entry{
			Attribute: attr,
			Verdict:   e.comparator.Compare(attr, inv, p),
		})
	}
	return report
}

// Resolve exposes the engine's field resolution for callers that need to
// show which field an attribute was read from.
func (e *Engine) Resolve(rec Record, attr Attribute, side Side) (Observation, bool) {
	return e.resolver.Resolve(rec, attr, side)
}

func (e *Engine) operand(rec Record, idx keyIndex, attr Attribute, side Side) Operand {
	obs, ok := e.resolver.resolve(rec, idx, attr, side)
	if !ok {
		return Operand{}
	}

	op := Operand{Present: true, Raw: obs.Text}
	val, err := e.normalizer.Normalize(attr, obs.Raw)
	if err != nil {
		f, isFailure := err.(*NormalizationFailure)
		if !isFailure {
			f = &NormalizationFailure{Attribute: attr, Raw: obs.Text, Reason: err.Error()}
		}
		f.Side = side
		f.Field = obs.Field
		op.Failure = f
		return op
	}
	op.Value = val
	return op
}
