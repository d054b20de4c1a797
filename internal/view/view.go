// Package view defines per-group filtering, transformation, transient
// properties and aggregation overrides, and the pipeline that applies
// them to a stream of decoded elements.
//
// A View is immutable once built. Combining views goes through a Builder:
//
//	b := view.NewBuilder()
//	if err := b.Merge(base); err != nil { ... }
//	if err := b.Merge(memberView); err != nil { ... }
//	v := b.Build()
//
// Groups a view does not mention are fully included, unfiltered.
package view

import (
	"fmt"
	"slices"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/schema"
)

// View maps element groups to their definitions.
type View struct {
	entities map[string]*ElementDefinition
	edges    map[string]*ElementDefinition
}

// Entity returns the definition of an entity group.
func (v *View) Entity(group string) (*ElementDefinition, bool) {
	if v == nil {
		return nil, false
	}
	d, ok := v.entities[group]
	return d, ok
}

// Edge returns the definition of an edge group.
func (v *View) Edge(group string) (*ElementDefinition, bool) {
	if v == nil {
		return nil, false
	}
	d, ok := v.edges[group]
	return d, ok
}

// Definition returns the definition of group for elements of kind.
func (v *View) Definition(kind element.Kind, group string) (*ElementDefinition, bool) {
	if kind == element.KindEdge {
		return v.Edge(group)
	}
	return v.Entity(group)
}

// EntityGroups returns the entity groups in byte order.
func (v *View) EntityGroups() []string {
	if v == nil {
		return nil
	}
	return sortedKeys(v.entities)
}

// EdgeGroups returns the edge groups in byte order.
func (v *View) EdgeGroups() []string {
	if v == nil {
		return nil
	}
	return sortedKeys(v.edges)
}

// IsEmpty reports whether the view defines no groups.
func (v *View) IsEmpty() bool {
	return v == nil || (len(v.entities) == 0 && len(v.edges) == 0)
}

// Clone returns an independent copy. A nil view clones to nil.
func (v *View) Clone() *View {
	if v == nil {
		return nil
	}
	return &View{entities: cloneDefs(v.entities), edges: cloneDefs(v.edges)}
}

// Equal reports whether two views have structurally equal definitions.
// Predicates and functions compare by ID and config.
func (v *View) Equal(other *View) bool {
	a, err := Marshal(v)
	if err != nil {
		return false
	}
	b, err := Marshal(other)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// String renders the view's wire document for logs.
func (v *View) String() string {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Sprintf("<view: %v>", err)
	}
	return string(data)
}

func cloneDefs(in map[string]*ElementDefinition) map[string]*ElementDefinition {
	out := make(map[string]*ElementDefinition, len(in))
	for k, d := range in {
		c := d.clone()
		out[k] = &c
	}
	return out
}

func sortedKeys(m map[string]*ElementDefinition) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Validate checks the view against a schema: every group exists with the
// right kind, group-by overrides are subsets of the schema group-by,
// transient properties do not shadow stored properties, and transforms
// only write stored or transient properties.
func (v *View) Validate(s *schema.Schema) error {
	if v == nil {
		return nil
	}
	for _, kind := range []element.Kind{element.KindEntity, element.KindEdge} {
		defs := v.entities
		if kind == element.KindEdge {
			defs = v.edges
		}
		for _, name := range sortedKeys(defs) {
			if err := validateDefinition(s, kind, name, defs[name]); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateDefinition(s *schema.Schema, kind element.Kind, name string, d *ElementDefinition) error {
	g, ok := s.Group(name)
	if !ok {
		return &ValidationError{Group: name, Message: "group is not in the schema"}
	}
	if g.Kind != kind {
		return &ValidationError{Group: name, Message: fmt.Sprintf("declared as %s but the schema holds %ss", kind, g.Kind)}
	}
	for _, p := range d.groupBy.props {
		if !g.IsGroupBy(p) {
			return &ValidationError{Group: name, Message: fmt.Sprintf("group-by property %q is not in the schema group-by %v", p, g.GroupBy)}
		}
	}
	for _, tp := range d.transients {
		if _, clash := g.Property(tp.Name); clash {
			return &ValidationError{Group: name, Message: fmt.Sprintf("transient property %q shadows a stored property", tp.Name)}
		}
	}
	if d.transformer != nil {
		for _, step := range d.transformer.Steps {
			for _, p := range step.Projection {
				_, stored := g.Property(p)
				_, transient := d.TransientType(p)
				if !stored && !transient {
					return &ValidationError{Group: name, Message: fmt.Sprintf("transform writes undeclared property %q", p)}
				}
			}
		}
	}
	return nil
}

// Builder assembles a View.
type Builder struct {
	entities map[string]*DefinitionBuilder
	edges    map[string]*DefinitionBuilder
}

// NewBuilder returns an empty view builder.
func NewBuilder() *Builder {
	return &Builder{
		entities: make(map[string]*DefinitionBuilder),
		edges:    make(map[string]*DefinitionBuilder),
	}
}

// Entity adds a definition for an entity group. A group already present
// has d merged into it.
func (b *Builder) Entity(group string, d *ElementDefinition) error {
	return mergeInto(b.entities, group, d)
}

// Edge adds a definition for an edge group. A group already present has
// d merged into it.
func (b *Builder) Edge(group string, d *ElementDefinition) error {
	return mergeInto(b.edges, group, d)
}

func mergeInto(defs map[string]*DefinitionBuilder, group string, d *ElementDefinition) error {
	if group == "" {
		return &ConfigurationError{Field: "group", Message: "empty group name"}
	}
	if d == nil {
		d = &ElementDefinition{}
	}
	db, ok := defs[group]
	if !ok {
		defs[group] = EditDefinition(d)
		return nil
	}
	if err := db.Merge(d); err != nil {
		return fmt.Errorf("group %q: %w", group, err)
	}
	return nil
}

// Merge folds every definition of other into the builder. Groups absent
// locally are copied; groups present on both sides are merged additively.
// On error the builder may hold the groups merged before the failing one.
func (b *Builder) Merge(other *View) error {
	if other == nil {
		return nil
	}
	for _, group := range other.EntityGroups() {
		if err := b.Entity(group, other.entities[group]); err != nil {
			return err
		}
	}
	for _, group := range other.EdgeGroups() {
		if err := b.Edge(group, other.edges[group]); err != nil {
			return err
		}
	}
	return nil
}

// Build returns the immutable view.
func (b *Builder) Build() *View {
	v := &View{
		entities: make(map[string]*ElementDefinition, len(b.entities)),
		edges:    make(map[string]*ElementDefinition, len(b.edges)),
	}
	for k, db := range b.entities {
		v.entities[k] = db.Build()
	}
	for k, db := range b.edges {
		v.edges[k] = db.Build()
	}
	return v
}

// MergeViews merges views left to right into a new view.
func MergeViews(views ...*View) (*View, error) {
	b := NewBuilder()
	for _, v := range views {
		if err := b.Merge(v); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}
