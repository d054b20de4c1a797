package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the persisted shape of a view. Pointer fields distinguish
// absent from empty: an absent groupBy inherits the schema, an empty one
// summarises everything.
type Document struct {
	Entities map[string]DefinitionDoc `json:"entities,omitempty"`
	Edges    map[string]DefinitionDoc `json:"edges,omitempty"`
}

// DefinitionDoc is the persisted shape of one group's definition.
type DefinitionDoc struct {
	GroupBy                        *[]string              `json:"groupBy,omitempty"`
	TransientProperties            TransientPropertiesDoc `json:"transientProperties,omitempty"`
	PreAggregationFilterFunctions  *[]FilterDoc           `json:"preAggregationFilterFunctions,omitempty"`
	PostAggregationFilterFunctions *[]FilterDoc           `json:"postAggregationFilterFunctions,omitempty"`
	PostTransformFilterFunctions   *[]FilterDoc           `json:"postTransformFilterFunctions,omitempty"`
	TransformFunctions             *[]TransformDoc        `json:"transformFunctions,omitempty"`
}

// FunctionDoc names a registered predicate or transform and its config.
type FunctionDoc struct {
	ID     string          `json:"id"`
	Config json.RawMessage `json:"config,omitempty"`
}

// FilterDoc is one filter step.
type FilterDoc struct {
	Selection []string    `json:"selection"`
	Predicate FunctionDoc `json:"predicate"`
}

// TransformDoc is one transform step.
type TransformDoc struct {
	Selection  []string    `json:"selection"`
	Projection []string    `json:"projection"`
	Function   FunctionDoc `json:"function"`
}

// TransientPropertiesDoc is an ordered JSON object of name to type.
type TransientPropertiesDoc []TransientProperty

// MarshalJSON writes the properties as an object in declaration order.
func (t TransientPropertiesDoc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tp := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(tp.Name)
		if err != nil {
			return nil, err
		}
		typ, err := json.Marshal(tp.Type)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(typ)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping its key order.
func (t *TransientPropertiesDoc) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("transientProperties: expected an object")
	}
	var out TransientPropertiesDoc
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)
		var typ string
		if err := dec.Decode(&typ); err != nil {
			return fmt.Errorf("transientProperties.%s: %w", name, err)
		}
		out = append(out, TransientProperty{Name: name, Type: typ})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*t = out
	return nil
}

// ToDocument converts a view to its persisted shape.
func ToDocument(v *View) (Document, error) {
	var doc Document
	if v == nil {
		return doc, nil
	}
	if len(v.entities) > 0 {
		doc.Entities = make(map[string]DefinitionDoc, len(v.entities))
		for name, d := range v.entities {
			dd, err := definitionToDoc(d)
			if err != nil {
				return doc, fmt.Errorf("entity %q: %w", name, err)
			}
			doc.Entities[name] = dd
		}
	}
	if len(v.edges) > 0 {
		doc.Edges = make(map[string]DefinitionDoc, len(v.edges))
		for name, d := range v.edges {
			dd, err := definitionToDoc(d)
			if err != nil {
				return doc, fmt.Errorf("edge %q: %w", name, err)
			}
			doc.Edges[name] = dd
		}
	}
	return doc, nil
}

func definitionToDoc(d *ElementDefinition) (DefinitionDoc, error) {
	var dd DefinitionDoc
	if d.groupBy.set {
		props := append([]string{}, d.groupBy.props...)
		dd.GroupBy = &props
	}
	if len(d.transients) > 0 {
		dd.TransientProperties = TransientPropertiesDoc(d.TransientProperties())
	}
	var err error
	if dd.PreAggregationFilterFunctions, err = filterToDoc(d.preAggregationFilter); err != nil {
		return dd, err
	}
	if dd.PostAggregationFilterFunctions, err = filterToDoc(d.postAggregationFilter); err != nil {
		return dd, err
	}
	if dd.PostTransformFilterFunctions, err = filterToDoc(d.postTransformFilter); err != nil {
		return dd, err
	}
	if d.transformer != nil {
		steps := make([]TransformDoc, 0, len(d.transformer.Steps))
		for _, s := range d.transformer.Steps {
			cfg, err := functionConfig(s.Function)
			if err != nil {
				return dd, fmt.Errorf("transform %s: %w", s.Function.ID(), err)
			}
			steps = append(steps, TransformDoc{
				Selection:  nonNil(s.Selection),
				Projection: nonNil(s.Projection),
				Function:   FunctionDoc{ID: s.Function.ID(), Config: cfg},
			})
		}
		dd.TransformFunctions = &steps
	}
	return dd, nil
}

func filterToDoc(f *ElementFilter) (*[]FilterDoc, error) {
	if f == nil {
		return nil, nil
	}
	steps := make([]FilterDoc, 0, len(f.Steps))
	for _, s := range f.Steps {
		doc, err := predicateDoc(s.Predicate)
		if err != nil {
			return nil, err
		}
		steps = append(steps, FilterDoc{Selection: nonNil(s.Selection), Predicate: doc})
	}
	return &steps, nil
}

func predicateDoc(p Predicate) (FunctionDoc, error) {
	cfg, err := functionConfig(p)
	if err != nil {
		return FunctionDoc{}, fmt.Errorf("predicate %s: %w", p.ID(), err)
	}
	return FunctionDoc{ID: p.ID(), Config: cfg}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FromDocument builds a view from its persisted shape.
func FromDocument(doc Document) (*View, error) {
	b := NewBuilder()
	for _, name := range sortedDocKeys(doc.Entities) {
		d, err := docToDefinition(doc.Entities[name])
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
		if err := b.Entity(name, d); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedDocKeys(doc.Edges) {
		d, err := docToDefinition(doc.Edges[name])
		if err != nil {
			return nil, fmt.Errorf("edge %q: %w", name, err)
		}
		if err := b.Edge(name, d); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func docToDefinition(dd DefinitionDoc) (*ElementDefinition, error) {
	b := NewDefinitionBuilder()
	if dd.GroupBy != nil {
		b.GroupBy(*dd.GroupBy...)
	}
	for _, tp := range dd.TransientProperties {
		if err := b.TransientProperty(tp.Name, tp.Type); err != nil {
			return nil, err
		}
	}
	filters := []struct {
		steps *[]FilterDoc
		set   func(...FilterStep) error
	}{
		{dd.PreAggregationFilterFunctions, b.SetPreAggregationFilter},
		{dd.PostAggregationFilterFunctions, b.SetPostAggregationFilter},
		{dd.PostTransformFilterFunctions, b.SetPostTransformFilter},
	}
	for _, f := range filters {
		if f.steps == nil {
			continue
		}
		steps := make([]FilterStep, 0, len(*f.steps))
		for _, fd := range *f.steps {
			p, err := NewPredicate(fd.Predicate.ID, fd.Predicate.Config)
			if err != nil {
				return nil, err
			}
			steps = append(steps, FilterStep{Selection: fd.Selection, Predicate: p})
		}
		if err := f.set(steps...); err != nil {
			return nil, err
		}
	}
	if dd.TransformFunctions != nil {
		steps := make([]TransformStep, 0, len(*dd.TransformFunctions))
		for _, td := range *dd.TransformFunctions {
			fn, err := NewTransform(td.Function.ID, td.Function.Config)
			if err != nil {
				return nil, err
			}
			steps = append(steps, TransformStep{Selection: td.Selection, Projection: td.Projection, Function: fn})
		}
		if err := b.SetTransformer(steps...); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func sortedDocKeys(m map[string]DefinitionDoc) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Marshal writes a view as an indented JSON document.
func Marshal(v *View) ([]byte, error) {
	doc, err := ToDocument(v)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ParseJSON validates a JSON view document and builds the view.
func ParseJSON(data []byte) (*View, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode view document: %w", err)
	}
	return FromDocument(doc)
}

// ParseYAML reads a YAML view document. Key order is preserved, so
// transient properties keep their declaration order.
func ParseYAML(data []byte) (*View, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse view YAML: %w", err)
	}
	var buf bytes.Buffer
	if err := yamlToJSON(&buf, &node); err != nil {
		return nil, fmt.Errorf("convert view YAML: %w", err)
	}
	return ParseJSON(buf.Bytes())
}

// Parse picks the decoder from the file name: .yaml and .yml are YAML,
// anything else is JSON.
func Parse(filename string, data []byte) (*View, error) {
	if strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml") {
		return ParseYAML(data)
	}
	return ParseJSON(data)
}

func yamlToJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("{}")
			return nil
		}
		return yamlToJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return yamlToJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := yamlToJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := yamlToJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(data)
	default:
		return fmt.Errorf("line %d: unsupported YAML node", n.Line)
	}
	return nil
}
