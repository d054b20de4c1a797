// Package schema defines element groups: their kind, typed properties,
// per-property aggregators and default group-by set.
//
// A Schema is built once (usually from CUE, see Compile) and is read-only
// afterwards; it is safe to share between goroutines.
package schema

import (
	"fmt"
	"slices"

	"github.com/roach88/fedgraph/internal/element"
)

// Aggregator names how two values of one property combine when records
// with the same aggregation key are summarised.
type Aggregator string

const (
	AggregateFirst Aggregator = "first"
	AggregateSum   Aggregator = "sum"
	AggregateMin   Aggregator = "min"
	AggregateMax   Aggregator = "max"
)

// PropertyDef declares one property of a group.
type PropertyDef struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Aggregator Aggregator `json:"aggregator"`
}

// Group is one element group.
type Group struct {
	Name       string        `json:"name"`
	Kind       element.Kind  `json:"kind"`
	Properties []PropertyDef `json:"properties"`

	// GroupBy lists the properties that form the aggregation key by
	// default. Records that differ in any of them are never summarised
	// together.
	GroupBy []string `json:"groupBy"`

	// VisibilityProperty, when set, names the string property whose value
	// is stored as the record's visibility label.
	VisibilityProperty string `json:"visibility,omitempty"`
}

// Property returns the named property definition.
func (g *Group) Property(name string) (PropertyDef, bool) {
	for _, p := range g.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDef{}, false
}

// IsGroupBy reports whether name is in the default group-by set.
func (g *Group) IsGroupBy(name string) bool {
	return slices.Contains(g.GroupBy, name)
}

// Aggregate combines two values of one property with its aggregator.
// It satisfies element.AggregateFunc.
func (g *Group) Aggregate(name string, local, other element.Value) (element.Value, error) {
	def, ok := g.Property(name)
	if !ok {
		// Unknown properties, such as transient ones, keep the first value.
		return local, nil
	}
	return def.Aggregator.Apply(local, other)
}

// Apply combines two values.
func (a Aggregator) Apply(local, other element.Value) (element.Value, error) {
	switch a {
	case AggregateFirst, "":
		return local, nil
	case AggregateSum:
		l, lok := local.(element.Int)
		o, ook := other.(element.Int)
		if !lok || !ook {
			return nil, fmt.Errorf("sum: expected ints, got %s and %s", typeName(local), typeName(other))
		}
		return l + o, nil
	case AggregateMin, AggregateMax:
		c, ok := element.Compare(local, other)
		if !ok {
			return nil, fmt.Errorf("%s: cannot compare %s and %s", a, typeName(local), typeName(other))
		}
		if (a == AggregateMin) == (c <= 0) {
			return local, nil
		}
		return other, nil
	}
	return nil, fmt.Errorf("unknown aggregator %q", a)
}

// validFor reports whether the aggregator can combine values of typ.
func (a Aggregator) validFor(typ string) bool {
	switch a {
	case AggregateFirst, "":
		return true
	case AggregateSum:
		return typ == element.TypeInt
	case AggregateMin, AggregateMax:
		return typ != element.TypeList
	}
	return false
}

func typeName(v element.Value) string {
	if v == nil {
		return "nil"
	}
	return v.TypeName()
}

// Schema is the set of element groups a graph stores.
type Schema struct {
	Groups map[string]*Group `json:"groups"`
}

// New builds and validates a schema.
func New(groups ...*Group) (*Schema, error) {
	s := &Schema{Groups: make(map[string]*Group, len(groups))}
	for _, g := range groups {
		if _, dup := s.Groups[g.Name]; dup {
			return nil, &Error{Group: g.Name, Message: "group declared twice"}
		}
		s.Groups[g.Name] = g
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Group returns the named group.
func (s *Schema) Group(name string) (*Group, bool) {
	g, ok := s.Groups[name]
	return g, ok
}

// GroupNames returns every group name in byte order.
func (s *Schema) GroupNames() []string {
	names := make([]string, 0, len(s.Groups))
	for name := range s.Groups {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks the schema's internal consistency.
func (s *Schema) Validate() error {
	for _, name := range s.GroupNames() {
		g := s.Groups[name]
		if name == "" || g.Name != name {
			return &Error{Group: name, Message: fmt.Sprintf("group registered as %q but named %q", name, g.Name)}
		}
		if g.Kind != element.KindEntity && g.Kind != element.KindEdge {
			return &Error{Group: name, Message: fmt.Sprintf("unknown kind %d", int(g.Kind))}
		}
		seen := make(map[string]bool, len(g.Properties))
		for _, p := range g.Properties {
			if p.Name == "" {
				return &Error{Group: name, Message: "property with empty name"}
			}
			if seen[p.Name] {
				return &Error{Group: name, Property: p.Name, Message: "property declared twice"}
			}
			seen[p.Name] = true
			if !element.ValidType(p.Type) {
				return &Error{Group: name, Property: p.Name, Message: fmt.Sprintf("unknown type %q", p.Type)}
			}
			if !p.Aggregator.validFor(p.Type) {
				return &Error{Group: name, Property: p.Name, Message: fmt.Sprintf("aggregator %q cannot combine %s values", p.Aggregator, p.Type)}
			}
		}
		inGroupBy := make(map[string]bool, len(g.GroupBy))
		for _, gb := range g.GroupBy {
			if !seen[gb] {
				return &Error{Group: name, Property: gb, Message: "group-by property is not declared"}
			}
			if inGroupBy[gb] {
				return &Error{Group: name, Property: gb, Message: "group-by property listed twice"}
			}
			inGroupBy[gb] = true
		}
		if vp := g.VisibilityProperty; vp != "" {
			def, ok := g.Property(vp)
			if !ok {
				return &Error{Group: name, Property: vp, Message: "visibility property is not declared"}
			}
			if def.Type != element.TypeString {
				return &Error{Group: name, Property: vp, Message: "visibility property must be a string"}
			}
		}
	}
	return nil
}

// ValidateElement checks that e belongs to a known group of the right kind
// and that its properties are declared with matching types.
func (s *Schema) ValidateElement(e element.Element) error {
	if err := e.Check(); err != nil {
		return &Error{Group: e.Group, Message: err.Error()}
	}
	g, ok := s.Groups[e.Group]
	if !ok {
		return &Error{Group: e.Group, Message: "unknown group"}
	}
	if g.Kind != e.Kind {
		return &Error{Group: e.Group, Message: fmt.Sprintf("element is an %s but the group holds %ss", e.Kind, g.Kind)}
	}
	for _, name := range e.Properties.SortedKeys() {
		def, ok := g.Property(name)
		if !ok {
			return &Error{Group: e.Group, Property: name, Message: "undeclared property"}
		}
		if got := typeName(e.Properties[name]); got != def.Type {
			return &Error{Group: e.Group, Property: name, Message: fmt.Sprintf("expected %s, got %s", def.Type, got)}
		}
	}
	return nil
}

// Error reports a schema or element validation problem.
type Error struct {
	Group    string
	Property string
	Message  string
}

func (e *Error) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("group %q property %q: %s", e.Group, e.Property, e.Message)
	}
	return fmt.Sprintf("group %q: %s", e.Group, e.Message)
}
