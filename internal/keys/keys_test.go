package keys

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/scan"
	"github.com/roach88/fedgraph/internal/schema"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	s, err := schema.CompileString(`
entities: Person: {
	properties: {
		age:  {type: "int", aggregator: "max"}
		name: "string"
		vis:  "string"
	}
	visibility: "vis"
}
edges: Knows: {
	properties: {
		since:  "int"
		weight: {type: "int", aggregator: "sum"}
	}
	groupBy: ["since"]
}
`)
	require.NoError(t, err)
	return NewCodec(s)
}

func TestEncodeEntity(t *testing.T) {
	c := testCodec(t)
	d := element.Decoded{
		Element: element.NewEntity("Person", "alice", element.Properties{
			"age": element.Int(30),
			"vis": element.String("private"),
		}),
		Statistics: element.Statistics{"n": &element.Count{N: 2}},
	}
	recs, err := c.Encode(d)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, "alice\x00\x01\x00Person\x00{}", string(recs[0].Key))
	assert.Equal(t, `{"properties":{"age":30,"vis":"private"},"statistics":{"n":{"type":"count","value":2}}}`, string(recs[0].Value))
	assert.Equal(t, "private", recs[0].Visibility)

	back, err := Decode(recs[0])
	require.NoError(t, err)
	assert.Equal(t, d.Element, back.Element)
	assert.Equal(t, element.Int(2), back.Statistics["n"].Value())
	assert.Equal(t, element.MatchedNone, back.MatchedVertex)
}

func TestEncodeDirectedEdge(t *testing.T) {
	c := testCodec(t)
	e := element.NewEdge("Knows", "alice", "bob", true, element.Properties{
		"since":  element.Int(2019),
		"weight": element.Int(3),
	})
	recs, err := c.Encode(element.Decoded{Element: e})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "alice\x00\x02\x00bob\x00Knows\x00{\"since\":2019}", string(recs[0].Key))
	assert.Equal(t, "bob\x00\x03\x00alice\x00Knows\x00{\"since\":2019}", string(recs[1].Key))
	assert.Equal(t, `{"properties":{"weight":3},"statistics":{}}`, string(recs[0].Value))

	fwd, err := Decode(recs[0])
	require.NoError(t, err)
	rev, err := Decode(recs[1])
	require.NoError(t, err)
	assert.Equal(t, e, fwd.Element)
	assert.Equal(t, e, rev.Element)
	assert.Equal(t, element.MatchedSource, fwd.MatchedVertex)
	assert.Equal(t, element.MatchedDestination, rev.MatchedVertex)
}

func TestEncodeUndirectedEdge(t *testing.T) {
	c := testCodec(t)
	// Unnormalised endpoints are normalised on encode.
	e := element.Element{Group: "Knows", Kind: element.KindEdge, Source: "bob", Destination: "alice"}
	recs, err := c.Encode(element.Decoded{Element: e})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	for _, rec := range recs {
		d, err := Decode(rec)
		require.NoError(t, err)
		assert.Equal(t, "alice", d.Element.Source)
		assert.Equal(t, "bob", d.Element.Destination)
		assert.False(t, d.Element.Directed)
	}
	first, _ := Decode(recs[0])
	second, _ := Decode(recs[1])
	assert.Equal(t, element.MatchedSource, first.MatchedVertex)
	assert.Equal(t, element.MatchedDestination, second.MatchedVertex)

	loop, err := c.Encode(element.Decoded{Element: element.NewEdge("Knows", "a", "a", false, nil)})
	require.NoError(t, err)
	assert.Len(t, loop, 1, "self-loops are stored once")
}

func TestEncodeRejects(t *testing.T) {
	c := testCodec(t)
	_, err := c.Encode(element.Decoded{Element: element.NewEntity("Robot", "r2", nil)})
	assert.ErrorContains(t, err, "not in the schema")

	_, err = c.Encode(element.Decoded{Element: element.NewEntity("Person", "", nil)})
	assert.Error(t, err)
}

func TestEscaping(t *testing.T) {
	c := testCodec(t)
	for _, v := range []string{"a\x00b", "a\x01b", "\x01\x00", "caf\u00e9"} {
		recs, err := c.Encode(element.Decoded{Element: element.NewEntity("Person", v, nil)})
		require.NoError(t, err)
		assert.Equal(t, 2, bytes.Count(recs[0].Key[:bytes.Index(recs[0].Key, []byte("Person"))], []byte{0}), "only delimiters are zero bytes")
		d, err := Decode(recs[0])
		require.NoError(t, err)
		assert.Equal(t, v, d.Element.Vertex)
	}
}

func TestVertexNFC(t *testing.T) {
	c := testCodec(t)
	composed, err := c.Encode(element.Decoded{Element: element.NewEntity("Person", "caf\u00e9", nil)})
	require.NoError(t, err)
	decomposed, err := c.Encode(element.Decoded{Element: element.NewEntity("Person", "cafe\u0301", nil)})
	require.NoError(t, err)
	assert.Equal(t, composed[0].Key, decomposed[0].Key)
}

func TestDecodeMalformed(t *testing.T) {
	for name, key := range map[string]string{
		"no delimiter":   "alice",
		"truncated type": "alice\x00",
		"bad escape":     "a\x01\x09\x00\x01\x00P\x00{}",
		"unknown type":   "a\x00\x09\x00P\x00{}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(scan.RawRecord{Key: []byte(key), Value: []byte(`{}`)})
			assert.ErrorIs(t, err, ErrMalformedKey)
		})
	}

	_, err := Decode(scan.RawRecord{Key: []byte("a\x00\x01\x00P\x00{}"), Value: []byte("not json")})
	assert.ErrorContains(t, err, "decode value")
}

func TestRangesForSeeds(t *testing.T) {
	c := testCodec(t)
	var all []scan.RawRecord
	for _, e := range []element.Element{
		element.NewEntity("Person", "a", nil),
		element.NewEntity("Person", "b", nil),
		element.NewEntity("Person", "ab", nil),
		element.NewEdge("Knows", "a", "b", true, nil),
		element.NewEdge("Knows", "c", "a", true, nil),
		element.NewEdge("Knows", "a", "d", false, nil),
	} {
		recs, err := c.Encode(element.Decoded{Element: e})
		require.NoError(t, err)
		all = append(all, recs...)
	}
	slices.SortFunc(all, func(x, y scan.RawRecord) int { return bytes.Compare(x.Key, y.Key) })

	matched := func(ranges []scan.Range) []string {
		var out []string
		for _, rec := range all {
			for _, r := range ranges {
				if r.Contains(rec.Key) {
					d, err := Decode(rec)
					require.NoError(t, err)
					out = append(out, d.Element.String()+"/"+d.MatchedVertex.String())
					break
				}
			}
		}
		return out
	}

	a := []element.Seed{element.EntitySeed{Vertex: "a"}}
	assert.Equal(t, []string{
		"Person[a]/none",
		"Knows[a -> b]/source",
		"Knows[c -> a]/destination",
		"Knows[a -- d]/source",
	}, matched(RangesForSeeds(a, SeedOptions{})))

	assert.Equal(t, []string{"Person[a]/none"}, matched(RangesForSeeds(a, SeedOptions{Matching: MatchEqual})))

	assert.Equal(t, []string{
		"Person[a]/none",
		"Knows[a -> b]/source",
		"Knows[a -- d]/source",
	}, matched(RangesForSeeds(a, SeedOptions{Direction: DirectionOutgoing})))

	assert.Equal(t, []string{
		"Person[a]/none",
		"Knows[c -> a]/destination",
		"Knows[a -- d]/source",
	}, matched(RangesForSeeds(a, SeedOptions{Direction: DirectionIncoming})))

	edge := []element.Seed{element.EdgeSeed{Source: "a", Destination: "b", Directed: true}}
	assert.Equal(t, []string{"Knows[a -> b]/source"}, matched(RangesForSeeds(edge, SeedOptions{Matching: MatchEqual})))
	assert.Equal(t, []string{
		"Person[a]/none",
		"Knows[a -> b]/source",
		"Person[b]/none",
	}, matched(RangesForSeeds(edge, SeedOptions{})))

	undirected := []element.Seed{element.EdgeSeed{Source: "d", Destination: "a"}}
	assert.Equal(t, []string{"Knows[a -- d]/source"}, matched(RangesForSeeds(undirected, SeedOptions{Matching: MatchEqual})))
}

func TestRangesForSeedsMergesDuplicates(t *testing.T) {
	seeds := []element.Seed{element.EntitySeed{Vertex: "a"}, element.EntitySeed{Vertex: "a"}}
	assert.Len(t, RangesForSeeds(seeds, SeedOptions{}), 1)
	assert.Empty(t, RangesForSeeds(nil, SeedOptions{}))
}

func TestParseOptions(t *testing.T) {
	m, err := ParseSeedMatching("")
	require.NoError(t, err)
	assert.Equal(t, MatchRelated, m)
	_, err = ParseSeedMatching("fuzzy")
	assert.Error(t, err)

	d, err := ParseDirection("incoming")
	require.NoError(t, err)
	assert.Equal(t, DirectionIncoming, d)
	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestCombiner(t *testing.T) {
	c := testCodec(t)
	enc := func(weight int64, n int64) scan.RawRecord {
		recs, err := c.Encode(element.Decoded{
			Element: element.NewEdge("Knows", "a", "b", true, element.Properties{
				"since":  element.Int(2019),
				"weight": element.Int(weight),
			}),
			Statistics: element.Statistics{"n": &element.Count{N: n}},
		})
		require.NoError(t, err)
		return recs[1]
	}
	r1, r2 := enc(2, 1), enc(5, 3)
	merged, err := c.Combiner()(r1.Key, [][]byte{r1.Value, r2.Value})
	require.NoError(t, err)

	d, err := Decode(scan.RawRecord{Key: r1.Key, Value: merged})
	require.NoError(t, err)
	assert.Equal(t, element.Int(7), d.Element.Properties["weight"])
	assert.Equal(t, element.Int(2019), d.Element.Properties["since"])
	assert.Equal(t, element.Int(4), d.Statistics["n"].Value())
	assert.Equal(t, element.MatchedDestination, d.MatchedVertex)
}
