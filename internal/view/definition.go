package view

import (
	"fmt"
	"slices"

	"github.com/roach88/fedgraph/internal/element"
)

// FilterStep applies a predicate to the values of the selected properties.
type FilterStep struct {
	Selection []string
	Predicate Predicate
}

// Select builds a filter step.
func Select(predicate Predicate, properties ...string) FilterStep {
	return FilterStep{Selection: properties, Predicate: predicate}
}

// ElementFilter is an ordered list of filter steps. An element passes
// when every step passes.
type ElementFilter struct {
	Steps []FilterStep
}

// Test reports whether props pass every step.
func (f *ElementFilter) Test(props element.Properties) bool {
	if f == nil {
		return true
	}
	for _, step := range f.Steps {
		if !step.Predicate.Test(selectValues(props, step.Selection)) {
			return false
		}
	}
	return true
}

func (f *ElementFilter) clone() *ElementFilter {
	if f == nil {
		return nil
	}
	return &ElementFilter{Steps: cloneFilterSteps(f.Steps)}
}

func cloneFilterSteps(steps []FilterStep) []FilterStep {
	out := make([]FilterStep, len(steps))
	for i, s := range steps {
		out[i] = FilterStep{Selection: slices.Clone(s.Selection), Predicate: s.Predicate}
	}
	return out
}

// TransformStep feeds the selected values to a function and writes its
// results to the projected properties.
type TransformStep struct {
	Selection  []string
	Projection []string
	Function   TransformFunction
}

// Transform builds a transform step.
func Transform(fn TransformFunction, selection []string, projection ...string) TransformStep {
	return TransformStep{Selection: selection, Projection: projection, Function: fn}
}

// ElementTransformer is an ordered list of transform steps.
type ElementTransformer struct {
	Steps []TransformStep
}

// Apply runs every step against props in order, writing results in place.
// A nil result removes the projected property.
func (t *ElementTransformer) Apply(props element.Properties) error {
	if t == nil {
		return nil
	}
	for i, step := range t.Steps {
		out, err := step.Function.Apply(selectValues(props, step.Selection))
		if err != nil {
			return fmt.Errorf("transform step %d (%s): %w", i, step.Function.ID(), err)
		}
		if len(out) != len(step.Projection) {
			return fmt.Errorf("transform step %d (%s): produced %d values for %d projected properties",
				i, step.Function.ID(), len(out), len(step.Projection))
		}
		for j, name := range step.Projection {
			if out[j] == nil {
				delete(props, name)
				continue
			}
			props[name] = out[j]
		}
	}
	return nil
}

func (t *ElementTransformer) clone() *ElementTransformer {
	if t == nil {
		return nil
	}
	return &ElementTransformer{Steps: cloneTransformSteps(t.Steps)}
}

func cloneTransformSteps(steps []TransformStep) []TransformStep {
	out := make([]TransformStep, len(steps))
	for i, s := range steps {
		out[i] = TransformStep{
			Selection:  slices.Clone(s.Selection),
			Projection: slices.Clone(s.Projection),
			Function:   s.Function,
		}
	}
	return out
}

func selectValues(props element.Properties, names []string) []element.Value {
	values := make([]element.Value, len(names))
	for i, name := range names {
		values[i] = props[name]
	}
	return values
}

// GroupBy is the tri-state aggregation override of a definition:
// inherit the schema's group-by (zero value), summarise everything
// (set and empty), or group by exactly the listed properties.
type GroupBy struct {
	set   bool
	props []string
}

// InheritGroupBy leaves the schema's group-by in force.
func InheritGroupBy() GroupBy { return GroupBy{} }

// SummariseAll summarises every record of an element into one.
func SummariseAll() GroupBy { return GroupBy{set: true} }

// GroupByProperties keeps records apart when they differ in any of names.
// With no names it is SummariseAll.
func GroupByProperties(names ...string) GroupBy {
	g := GroupBy{set: true}
	for _, n := range names {
		if !slices.Contains(g.props, n) {
			g.props = append(g.props, n)
		}
	}
	return g
}

// IsSet reports whether the group-by overrides the schema.
func (g GroupBy) IsSet() bool { return g.set }

// IsSummariseAll reports whether the override is the empty set.
func (g GroupBy) IsSummariseAll() bool { return g.set && len(g.props) == 0 }

// Properties returns the override's properties, or nil when unset.
func (g GroupBy) Properties() []string {
	if !g.set {
		return nil
	}
	return slices.Clone(g.props)
}

// Resolve returns the effective group-by given the schema default.
func (g GroupBy) Resolve(schemaDefault []string) []string {
	if !g.set {
		return slices.Clone(schemaDefault)
	}
	return slices.Clone(g.props)
}

func (g GroupBy) add(names ...string) GroupBy {
	out := GroupBy{set: true, props: slices.Clone(g.props)}
	for _, n := range names {
		if !slices.Contains(out.props, n) {
			out.props = append(out.props, n)
		}
	}
	return out
}

// merge combines two overrides. An unset side has no opinion, so the
// other side wins. Summarise-all on either side wins over any property
// list. Otherwise the two lists are unioned, local names first.
func (g GroupBy) merge(other GroupBy) GroupBy {
	switch {
	case !other.set:
		return GroupBy{set: g.set, props: slices.Clone(g.props)}
	case !g.set:
		return GroupBy{set: true, props: slices.Clone(other.props)}
	case g.IsSummariseAll() || other.IsSummariseAll():
		return SummariseAll()
	}
	return g.add(other.props...)
}

// TransientProperty is a property that only exists after the transformer
// has run.
type TransientProperty struct {
	Name string
	Type string
}

// ElementDefinition is the view of one element group. It is immutable;
// use a DefinitionBuilder to create or combine definitions.
type ElementDefinition struct {
	transients            []TransientProperty
	preAggregationFilter  *ElementFilter
	postAggregationFilter *ElementFilter
	postTransformFilter   *ElementFilter
	transformer           *ElementTransformer
	groupBy               GroupBy
}

// TransientProperties returns the transient properties in declaration order.
func (d *ElementDefinition) TransientProperties() []TransientProperty {
	return slices.Clone(d.transients)
}

// TransientType returns the type of a transient property.
func (d *ElementDefinition) TransientType(name string) (string, bool) {
	for _, tp := range d.transients {
		if tp.Name == name {
			return tp.Type, true
		}
	}
	return "", false
}

// PreAggregationFilter returns the filter applied to raw records, or nil.
func (d *ElementDefinition) PreAggregationFilter() *ElementFilter {
	return d.preAggregationFilter.clone()
}

// PostAggregationFilter returns the filter applied after summarisation, or nil.
func (d *ElementDefinition) PostAggregationFilter() *ElementFilter {
	return d.postAggregationFilter.clone()
}

// PostTransformFilter returns the filter applied after the transformer, or nil.
func (d *ElementDefinition) PostTransformFilter() *ElementFilter {
	return d.postTransformFilter.clone()
}

// Transformer returns the transformer, or nil.
func (d *ElementDefinition) Transformer() *ElementTransformer {
	return d.transformer.clone()
}

// GroupBy returns the group-by override.
func (d *ElementDefinition) GroupBy() GroupBy {
	return GroupBy{set: d.groupBy.set, props: slices.Clone(d.groupBy.props)}
}

func (d *ElementDefinition) clone() ElementDefinition {
	return ElementDefinition{
		transients:            slices.Clone(d.transients),
		preAggregationFilter:  d.preAggregationFilter.clone(),
		postAggregationFilter: d.postAggregationFilter.clone(),
		postTransformFilter:   d.postTransformFilter.clone(),
		transformer:           d.transformer.clone(),
		groupBy:               d.GroupBy(),
	}
}

// DefinitionBuilder assembles an ElementDefinition.
//
// Each of the three filters and the transformer may be set at most once;
// a second set fails with a ConfigurationError. Merge is additive.
// A builder is not safe for concurrent use.
type DefinitionBuilder struct {
	def ElementDefinition
}

// NewDefinitionBuilder returns an empty builder.
func NewDefinitionBuilder() *DefinitionBuilder {
	return &DefinitionBuilder{}
}

// EditDefinition returns a builder seeded with a copy of d.
func EditDefinition(d *ElementDefinition) *DefinitionBuilder {
	return &DefinitionBuilder{def: d.clone()}
}

// SetPreAggregationFilter sets the filter applied to raw records.
func (b *DefinitionBuilder) SetPreAggregationFilter(steps ...FilterStep) error {
	return setFilter(&b.def.preAggregationFilter, "preAggregationFilter", steps)
}

// SetPostAggregationFilter sets the filter applied after summarisation.
func (b *DefinitionBuilder) SetPostAggregationFilter(steps ...FilterStep) error {
	return setFilter(&b.def.postAggregationFilter, "postAggregationFilter", steps)
}

// SetPostTransformFilter sets the filter applied after the transformer.
func (b *DefinitionBuilder) SetPostTransformFilter(steps ...FilterStep) error {
	return setFilter(&b.def.postTransformFilter, "postTransformFilter", steps)
}

func setFilter(dst **ElementFilter, field string, steps []FilterStep) error {
	if *dst != nil {
		return &ConfigurationError{Field: field, Message: "already set"}
	}
	for i, s := range steps {
		if s.Predicate == nil {
			return &ConfigurationError{Field: field, Message: fmt.Sprintf("step %d has no predicate", i)}
		}
	}
	*dst = &ElementFilter{Steps: cloneFilterSteps(steps)}
	return nil
}

// SetTransformer sets the transform steps.
func (b *DefinitionBuilder) SetTransformer(steps ...TransformStep) error {
	if b.def.transformer != nil {
		return &ConfigurationError{Field: "transformer", Message: "already set"}
	}
	for i, s := range steps {
		if s.Function == nil {
			return &ConfigurationError{Field: "transformer", Message: fmt.Sprintf("step %d has no function", i)}
		}
	}
	b.def.transformer = &ElementTransformer{Steps: cloneTransformSteps(steps)}
	return nil
}

// GroupBy overrides the schema group-by. The first call switches the
// definition from inherit to override, even with no names; later calls add.
func (b *DefinitionBuilder) GroupBy(names ...string) *DefinitionBuilder {
	b.def.groupBy = b.def.groupBy.add(names...)
	return b
}

// SetGroupBy replaces the group-by override, including with InheritGroupBy.
func (b *DefinitionBuilder) SetGroupBy(g GroupBy) *DefinitionBuilder {
	b.def.groupBy = GroupBy{set: g.set, props: slices.Clone(g.props)}
	return b
}

// TransientProperty declares a transient property. Redeclaring it with
// the same type is a no-op; with another type it is a ConfigurationError.
func (b *DefinitionBuilder) TransientProperty(name, typ string) error {
	if name == "" {
		return &ConfigurationError{Field: "transientProperties", Message: "empty property name"}
	}
	if !element.ValidType(typ) {
		return &ConfigurationError{Field: "transientProperties", Message: fmt.Sprintf("%s: unknown type %q", name, typ)}
	}
	if existing, ok := b.def.TransientType(name); ok {
		if existing != typ {
			return &ConfigurationError{Field: "transientProperties", Message: fmt.Sprintf("%s: already declared as %s", name, existing)}
		}
		return nil
	}
	b.def.transients = append(b.def.transients, TransientProperty{Name: name, Type: typ})
	return nil
}

// Merge folds other into the builder:
//   - transient properties missing locally are appended in other's order;
//     a name declared with two types fails with a MergeConflictError and
//     leaves the builder unchanged
//   - an unset local filter or transformer adopts other's; when both are
//     set, other's steps run after the local ones
//   - group-by overrides merge as described on GroupBy
func (b *DefinitionBuilder) Merge(other *ElementDefinition) error {
	if other == nil {
		return nil
	}
	for _, tp := range other.transients {
		if local, ok := b.def.TransientType(tp.Name); ok && local != tp.Type {
			return &MergeConflictError{Property: tp.Name, LocalType: local, OtherType: tp.Type}
		}
	}
	for _, tp := range other.transients {
		if _, ok := b.def.TransientType(tp.Name); !ok {
			b.def.transients = append(b.def.transients, tp)
		}
	}

	mergeFilter(&b.def.preAggregationFilter, other.preAggregationFilter)
	mergeFilter(&b.def.postAggregationFilter, other.postAggregationFilter)
	mergeFilter(&b.def.postTransformFilter, other.postTransformFilter)

	switch {
	case other.transformer == nil:
	case b.def.transformer == nil:
		b.def.transformer = other.transformer.clone()
	default:
		b.def.transformer.Steps = append(b.def.transformer.Steps, cloneTransformSteps(other.transformer.Steps)...)
	}

	b.def.groupBy = b.def.groupBy.merge(other.groupBy)
	return nil
}

func mergeFilter(dst **ElementFilter, other *ElementFilter) {
	switch {
	case other == nil:
	case *dst == nil:
		*dst = other.clone()
	default:
		(*dst).Steps = append((*dst).Steps, cloneFilterSteps(other.Steps)...)
	}
}

// Build returns an immutable definition. The builder stays usable and
// later changes to it do not affect the built definition.
func (b *DefinitionBuilder) Build() *ElementDefinition {
	def := b.def.clone()
	return &def
}
