// Package keys lays elements out as sorted row keys and turns seeds into
// the key ranges that find them.
//
// Every row key starts with an escaped vertex followed by a type byte, so
// all rows that touch a vertex share a prefix:
//
//	entity: vertex 00 01 00 group 00 qualifier
//	edge:   first  00 T  00 second 00 group 00 qualifier
//
// T is 2 for a directed edge stored under its source, 3 for the same
// edge stored under its destination and 4 for an undirected edge. Edges
// are stored once under each end, self-loops once. The qualifier is the
// canonical JSON of the group-by properties, so records that differ in
// them never share a key. Vertices and group names are NFC normalised and
// escaped so that they never contain 0x00.
package keys

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/scan"
	"github.com/roach88/fedgraph/internal/schema"
)

// Row type bytes.
const (
	TypeEntity          byte = 1
	TypeDirected        byte = 2
	TypeDirectedReverse byte = 3
	TypeUndirected      byte = 4
)

const (
	delimiter byte = 0x00
	escape    byte = 0x01
)

// ErrMalformedKey is returned for keys that do not follow the layout.
var ErrMalformedKey = errors.New("malformed row key")

// escapeBytes NFC-normalises s and escapes 0x00 and 0x01.
func escapeBytes(s string) []byte {
	in := norm.NFC.Bytes([]byte(s))
	out := make([]byte, 0, len(in))
	for _, b := range in {
		switch b {
		case delimiter:
			out = append(out, escape, 0x01)
		case escape:
			out = append(out, escape, 0x02)
		default:
			out = append(out, b)
		}
	}
	return out
}

// readField reads an escaped field up to the next delimiter. It returns
// the unescaped field and the remainder after the delimiter.
func readField(key []byte) (string, []byte, error) {
	var out []byte
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case delimiter:
			return string(out), key[i+1:], nil
		case escape:
			if i+1 >= len(key) {
				return "", nil, ErrMalformedKey
			}
			i++
			switch key[i] {
			case 0x01:
				out = append(out, delimiter)
			case 0x02:
				out = append(out, escape)
			default:
				return "", nil, ErrMalformedKey
			}
		default:
			out = append(out, key[i])
		}
	}
	return "", nil, ErrMalformedKey
}

// vertexPrefix is the prefix shared by every row stored under v.
func vertexPrefix(v string) []byte {
	return append(escapeBytes(v), delimiter)
}

// typePrefix is the prefix of rows of one type stored under v.
func typePrefix(v string, t byte) []byte {
	return append(vertexPrefix(v), t, delimiter)
}

// edgePrefix is the prefix of every row of one edge stored under first.
func edgePrefix(first string, t byte, second string) []byte {
	p := typePrefix(first, t)
	p = append(p, escapeBytes(second)...)
	return append(p, delimiter)
}

// Codec converts between decoded elements and raw records for one schema.
type Codec struct {
	schema *schema.Schema
}

// NewCodec returns a codec for s.
func NewCodec(s *schema.Schema) *Codec {
	return &Codec{schema: s}
}

type recordValue struct {
	Properties element.Properties `json:"properties"`
	Statistics element.Statistics `json:"statistics"`
}

// Encode lays d out as one or two raw records.
func (c *Codec) Encode(d element.Decoded) ([]scan.RawRecord, error) {
	e := d.Element
	if err := e.Check(); err != nil {
		return nil, err
	}
	if e.Kind == element.KindEdge {
		e = element.NewEdge(e.Group, e.Source, e.Destination, e.Directed, e.Properties)
	}
	g, ok := c.schema.Group(e.Group)
	if !ok {
		return nil, fmt.Errorf("group %q is not in the schema", e.Group)
	}

	qualifier := element.Properties{}
	stored := element.Properties{}
	for name, v := range e.Properties {
		if g.IsGroupBy(name) {
			qualifier[name] = v
		} else {
			stored[name] = v
		}
	}
	qual, err := element.MarshalCanonical(qualifier)
	if err != nil {
		return nil, fmt.Errorf("encode %s qualifier: %w", e, err)
	}
	stats := d.Statistics
	if stats == nil {
		stats = element.Statistics{}
	}
	value, err := element.MarshalCanonical(map[string]any{
		"properties": stored,
		"statistics": stats,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", e, err)
	}

	var visibility string
	if g.VisibilityProperty != "" {
		if v, ok := e.Properties[g.VisibilityProperty].(element.String); ok {
			visibility = string(v)
		}
	}

	tail := append(escapeBytes(e.Group), delimiter)
	tail = append(tail, qual...)
	record := func(prefix []byte) scan.RawRecord {
		key := make([]byte, 0, len(prefix)+len(tail))
		key = append(append(key, prefix...), tail...)
		return scan.RawRecord{Key: key, Value: value, Visibility: visibility}
	}

	if e.Kind == element.KindEntity {
		return []scan.RawRecord{record(typePrefix(e.Vertex, TypeEntity))}, nil
	}
	if e.Directed {
		return []scan.RawRecord{
			record(edgePrefix(e.Source, TypeDirected, e.Destination)),
			record(edgePrefix(e.Destination, TypeDirectedReverse, e.Source)),
		}, nil
	}
	recs := []scan.RawRecord{record(edgePrefix(e.Source, TypeUndirected, e.Destination))}
	if e.Source != e.Destination {
		recs = append(recs, record(edgePrefix(e.Destination, TypeUndirected, e.Source)))
	}
	return recs, nil
}

// Decode rebuilds the element stored in rec. MatchedVertex records which
// end of an edge the row was stored under.
func Decode(rec scan.RawRecord) (element.Decoded, error) {
	first, rest, err := readField(rec.Key)
	if err != nil {
		return element.Decoded{}, err
	}
	if len(rest) < 2 || rest[1] != delimiter {
		return element.Decoded{}, ErrMalformedKey
	}
	typ, rest := rest[0], rest[2:]

	var second string
	if typ != TypeEntity {
		if second, rest, err = readField(rest); err != nil {
			return element.Decoded{}, err
		}
	}
	group, qual, err := readField(rest)
	if err != nil {
		return element.Decoded{}, err
	}

	var val recordValue
	if err := json.Unmarshal(rec.Value, &val); err != nil {
		return element.Decoded{}, fmt.Errorf("decode value: %w", err)
	}
	props := val.Properties
	if props == nil {
		props = element.Properties{}
	}
	if len(qual) > 0 {
		var q element.Properties
		if err := json.Unmarshal(qual, &q); err != nil {
			return element.Decoded{}, fmt.Errorf("decode qualifier: %w", err)
		}
		for k, v := range q {
			props[k] = v
		}
	}
	if len(props) == 0 {
		props = nil
	}
	stats := val.Statistics
	if len(stats) == 0 {
		stats = nil
	}

	d := element.Decoded{Statistics: stats}
	switch typ {
	case TypeEntity:
		d.Element = element.NewEntity(group, first, props)
	case TypeDirected:
		d.Element = element.NewEdge(group, first, second, true, props)
		d.MatchedVertex = element.MatchedSource
	case TypeDirectedReverse:
		d.Element = element.NewEdge(group, second, first, true, props)
		d.MatchedVertex = element.MatchedDestination
	case TypeUndirected:
		d.Element = element.NewEdge(group, first, second, false, props)
		d.MatchedVertex = element.MatchedSource
		if d.Element.Source != first {
			d.MatchedVertex = element.MatchedDestination
		}
	default:
		return element.Decoded{}, fmt.Errorf("%w: unknown type byte %d", ErrMalformedKey, typ)
	}
	return d, nil
}

// Combiner returns a scan.Combiner that summarises records sharing a key
// with the schema aggregators.
func (c *Codec) Combiner() scan.Combiner {
	return func(key []byte, values [][]byte) ([]byte, error) {
		var merged element.Decoded
		for i, v := range values {
			d, err := Decode(scan.RawRecord{Key: key, Value: v})
			if err != nil {
				return nil, err
			}
			if i == 0 {
				merged = d
				continue
			}
			g, ok := c.schema.Group(d.Element.Group)
			if !ok {
				return nil, fmt.Errorf("group %q is not in the schema", d.Element.Group)
			}
			if err := merged.Merge(d, g.Aggregate); err != nil {
				return nil, err
			}
		}
		recs, err := c.Encode(merged)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if bytes.Equal(r.Key, key) {
				return r.Value, nil
			}
		}
		return recs[0].Value, nil
	}
}
