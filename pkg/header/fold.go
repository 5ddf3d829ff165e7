package header

import (
	"fmt"

	"github.com/eunmann/bdf-merge/pkg/layout"
)

// Rule reduces a set of integer fields pairwise while folding.
type Rule struct {
	Name   string
	Fields []layout.Field
	Reduce func(acc, next int) int
}

// Policy lists the fields that must match and the aggregation rules applied
// when two headers are folded. Fields in neither list keep the
// accumulator's value.
type Policy struct {
	MustMatch []layout.Field
	Rules     []Rule
}

// DefaultPolicy concatenates recordings: channel sets and sampling must
// match, record counts and durations add up, and physical/digital ranges
// widen to cover both inputs.
var DefaultPolicy = Policy{
	MustMatch: []layout.Field{
		layout.ChannelLabels,
		layout.SamplesPerRecord,
		layout.PhysicalDimensions,
	},
	Rules: []Rule{
		{Name: "sum", Fields: []layout.Field{layout.RecordCount, layout.RecordDuration}, Reduce: func(a, b int) int { return a + b }},
		{Name: "max", Fields: []layout.Field{layout.PhysicalMaximum, layout.DigitalMaximum}, Reduce: func(a, b int) int { return max(a, b) }},
		{Name: "min", Fields: []layout.Field{layout.PhysicalMinimum, layout.DigitalMinimum}, Reduce: func(a, b int) int { return min(a, b) }},
	},
}

// Fold concatenates other onto h using DefaultPolicy.
func (h *Header) Fold(other *Header) error {
	return h.FoldPolicy(other, DefaultPolicy)
}

// FoldPolicy checks every MustMatch field, then applies every rule to h.
// other is never modified. If any step fails h is left unchanged.
func (h *Header) FoldPolicy(other *Header, p Policy) error {
	for _, f := range p.MustMatch {
		a, err := h.Values(f)
		if err != nil {
			return err
		}
		b, err := other.Values(f)
		if err != nil {
			return err
		}
		if !valuesEqual(a, b) {
			return &IncompatibleError{Field: f, Left: a, Right: b}
		}
	}

	acc := h.Clone()
	for _, rule := range p.Rules {
		for _, f := range rule.Fields {
			a, err := acc.Ints(f)
			if err != nil {
				return err
			}
			b, err := other.Ints(f)
			if err != nil {
				return err
			}
			if len(a) != len(b) {
				return fmt.Errorf("%w: %s has %d values in one header and %d in the other", ErrCardinality, f, len(a), len(b))
			}
			for i := range a {
				a[i] = rule.Reduce(a[i], b[i])
			}
			if err := SetSequence(acc, f, a); err != nil {
				return fmt.Errorf("%s %s: %w", rule.Name, f, err)
			}
		}
	}

	h.data = acc.data
	h.ranges = nil
	return nil
}

// FoldAll folds headers left to right into a copy of the first one.
func FoldAll(headers ...*Header) (*Header, error) {
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no headers to fold", ErrCardinality)
	}
	acc := headers[0].Clone()
	for i, h := range headers[1:] {
		if err := acc.Fold(h); err != nil {
			return nil, fmt.Errorf("fold header %d: %w", i+1, err)
		}
	}
	return acc, nil
}
