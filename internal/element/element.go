package element

import (
	"errors"
	"fmt"
)

// Kind distinguishes entity-like from edge-like groups.
type Kind int

const (
	KindEntity Kind = iota + 1
	KindEdge
)

// String returns "entity" or "edge".
func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindEdge:
		return "edge"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses "entity" or "edge".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "entity":
		return KindEntity, nil
	case "edge":
		return KindEdge, nil
	}
	return 0, fmt.Errorf("unknown element kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k != KindEntity && k != KindEdge {
		return nil, fmt.Errorf("unknown element kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Element is a graph element: an entity attached to one vertex or an
// edge between two vertices.
//
// Undirected edges are stored with Source <= Destination so that the two
// spellings of the same edge share one identity. NewEdge does this.
type Element struct {
	Group       string     `json:"group" yaml:"group"`
	Kind        Kind       `json:"kind" yaml:"kind"`
	Vertex      string     `json:"vertex,omitempty" yaml:"vertex,omitempty"`
	Source      string     `json:"source,omitempty" yaml:"source,omitempty"`
	Destination string     `json:"destination,omitempty" yaml:"destination,omitempty"`
	Directed    bool       `json:"directed,omitempty" yaml:"directed,omitempty"`
	Properties  Properties `json:"properties,omitempty" yaml:"-"`
}

// NewEntity returns an entity element.
func NewEntity(group, vertex string, props Properties) Element {
	return Element{
		Group:      group,
		Kind:       KindEntity,
		Vertex:     vertex,
		Properties: props,
	}
}

// NewEdge returns an edge element. Undirected edges are normalised so
// that Source <= Destination.
func NewEdge(group, source, destination string, directed bool, props Properties) Element {
	if !directed && source > destination {
		source, destination = destination, source
	}
	return Element{
		Group:       group,
		Kind:        KindEdge,
		Source:      source,
		Destination: destination,
		Directed:    directed,
		Properties:  props,
	}
}

// Identity is the comparable part of an element that excludes its
// properties. Two records with the same Identity describe the same
// graph element.
type Identity struct {
	Group       string
	Kind        Kind
	Vertex      string
	Source      string
	Destination string
	Directed    bool
}

// Identity returns the element's identity.
func (e Element) Identity() Identity {
	return Identity{
		Group:       e.Group,
		Kind:        e.Kind,
		Vertex:      e.Vertex,
		Source:      e.Source,
		Destination: e.Destination,
		Directed:    e.Directed,
	}
}

// Property returns a property value and whether it is set.
func (e Element) Property(name string) (Value, bool) {
	v, ok := e.Properties[name]
	return v, ok
}

// Clone returns a copy of the element with its own property map.
func (e Element) Clone() Element {
	e.Properties = e.Properties.Clone()
	return e
}

// Vertices returns the vertices the element touches: one for an entity,
// two for an edge.
func (e Element) Vertices() []string {
	if e.Kind == KindEdge {
		return []string{e.Source, e.Destination}
	}
	return []string{e.Vertex}
}

// Check reports structural problems with the element that do not depend
// on a schema.
func (e Element) Check() error {
	if e.Group == "" {
		return errors.New("element group is empty")
	}
	switch e.Kind {
	case KindEntity:
		if e.Vertex == "" {
			return fmt.Errorf("entity %q: vertex is empty", e.Group)
		}
		if e.Source != "" || e.Destination != "" {
			return fmt.Errorf("entity %q: source/destination must be empty", e.Group)
		}
	case KindEdge:
		if e.Source == "" || e.Destination == "" {
			return fmt.Errorf("edge %q: source and destination are required", e.Group)
		}
		if e.Vertex != "" {
			return fmt.Errorf("edge %q: vertex must be empty", e.Group)
		}
	default:
		return fmt.Errorf("element %q: unknown kind %d", e.Group, int(e.Kind))
	}
	return nil
}

// String renders the element for logs and text output.
func (e Element) String() string {
	var head string
	if e.Kind == KindEdge {
		arrow := "--"
		if e.Directed {
			arrow = "->"
		}
		head = fmt.Sprintf("%s[%s %s %s]", e.Group, e.Source, arrow, e.Destination)
	} else {
		head = fmt.Sprintf("%s[%s]", e.Group, e.Vertex)
	}
	if len(e.Properties) == 0 {
		return head
	}
	s := head + " {"
	for i, k := range e.Properties.SortedKeys() {
		if i > 0 {
			s += ", "
		}
		s += k + "=" + Format(e.Properties[k])
	}
	return s + "}"
}

// MatchedVertex records which end of an edge matched the seed that found it.
type MatchedVertex int

const (
	MatchedNone MatchedVertex = iota
	MatchedSource
	MatchedDestination
)

// String implements fmt.Stringer.
func (m MatchedVertex) String() string {
	switch m {
	case MatchedSource:
		return "source"
	case MatchedDestination:
		return "destination"
	}
	return "none"
}

// Seed identifies where a lookup starts: a vertex or a specific edge.
type Seed interface {
	seed() // Sealed - only EntitySeed and EdgeSeed implement it
}

// EntitySeed matches a vertex: its entities and, for related matching,
// the edges that touch it.
type EntitySeed struct {
	Vertex string
}

// EdgeSeed matches one edge and, for related matching, the entities at
// both of its ends.
type EdgeSeed struct {
	Source      string
	Destination string
	Directed    bool
}

func (EntitySeed) seed() {}
func (EdgeSeed) seed()   {}

// NewEdgeSeed returns an edge seed, normalised like NewEdge.
func NewEdgeSeed(source, destination string, directed bool) EdgeSeed {
	if !directed && source > destination {
		source, destination = destination, source
	}
	return EdgeSeed{Source: source, Destination: destination, Directed: directed}
}
