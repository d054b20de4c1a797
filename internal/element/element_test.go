package element

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEdgeNormalisesUndirected(t *testing.T) {
	e := NewEdge("Knows", "b", "a", false, nil)
	assert.Equal(t, "a", e.Source)
	assert.Equal(t, "b", e.Destination)

	d := NewEdge("Knows", "b", "a", true, nil)
	assert.Equal(t, "b", d.Source, "directed edges keep their orientation")
	assert.Equal(t, "a", d.Destination)
}

func TestIdentityIgnoresProperties(t *testing.T) {
	a := NewEntity("Person", "alice", Properties{"age": Int(30)})
	b := NewEntity("Person", "alice", Properties{"age": Int(31)})
	c := NewEntity("Person", "bob", nil)

	assert.Equal(t, a.Identity(), b.Identity())
	assert.NotEqual(t, a.Identity(), c.Identity())
}

func TestElementCheck(t *testing.T) {
	tests := []struct {
		name    string
		elem    Element
		wantErr bool
	}{
		{"valid entity", NewEntity("Person", "alice", nil), false},
		{"valid edge", NewEdge("Knows", "a", "b", true, nil), false},
		{"missing group", NewEntity("", "alice", nil), true},
		{"missing vertex", NewEntity("Person", "", nil), true},
		{"missing destination", NewEdge("Knows", "a", "", true, nil), true},
		{"unknown kind", Element{Group: "X", Vertex: "v"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.elem.Check()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := NewEntity("Person", "alice", Properties{"tags": List{String("x")}})
	c := orig.Clone()
	c.Properties["age"] = Int(1)
	c.Properties["tags"].(List)[0] = String("y")

	_, hasAge := orig.Property("age")
	assert.False(t, hasAge)
	assert.Equal(t, List{String("x")}, orig.Properties["tags"])
}

func TestElementJSONRoundTrip(t *testing.T) {
	e := NewEdge("Knows", "alice", "bob", true, Properties{"since": Int(2019), "via": String("work")})
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"group":"Knows","kind":"edge","source":"alice","destination":"bob","directed":true,"properties":{"since":2019,"via":"work"}}`,
		string(data))

	var back Element
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, e, back)
}

func TestElementString(t *testing.T) {
	e := NewEdge("Knows", "alice", "bob", true, Properties{"since": Int(2019)})
	assert.Equal(t, "Knows[alice -> bob] {since=2019}", e.String())
	assert.Equal(t, "Person[alice]", NewEntity("Person", "alice", nil).String())
}

func TestValueCompare(t *testing.T) {
	c, ok := Compare(Int(1), Int(2))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare(String("b"), String("a"))
	require.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = Compare(Int(1), String("1"))
	assert.False(t, ok, "mismatched kinds are incomparable")

	assert.True(t, Equal(List{Int(1), String("a")}, List{Int(1), String("a")}))
	assert.False(t, Equal(List{Int(1)}, List{Int(2)}))
}

func TestUnmarshalValueRejectsFloatAndNull(t *testing.T) {
	_, err := UnmarshalValue([]byte("1.5"))
	assert.Error(t, err)
	_, err = UnmarshalValue([]byte("null"))
	assert.Error(t, err)

	v, err := UnmarshalValue([]byte(`[1,"a",true]`))
	require.NoError(t, err)
	assert.Equal(t, List{Int(1), String("a"), Bool(true)}, v)
}

func TestStatisticsMerge(t *testing.T) {
	s := Statistics{"min": &IntMin{Min: 5}, "n": &Count{N: 2}}
	other := Statistics{"min": &IntMin{Min: 3}, "n": &Count{N: 1}, "max": &IntMax{Max: 9}}

	require.NoError(t, s.Merge(other))
	assert.Equal(t, Int(3), s["min"].Value())
	assert.Equal(t, Int(3), s["n"].Value())
	assert.Equal(t, Int(9), s["max"].Value())

	// The copied-in statistic must not alias other's.
	other["max"].(*IntMax).Max = 100
	assert.Equal(t, Int(9), s["max"].Value())
}

func TestStatisticMismatch(t *testing.T) {
	err := (&IntMin{Min: 1}).Merge(&Count{N: 1})
	var mismatch *StatisticMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "intMin", mismatch.Local)
	assert.Equal(t, "count", mismatch.Other)
}

func TestStatisticsJSON(t *testing.T) {
	s := Statistics{"min": &IntMin{Min: -4}, "n": &Count{N: 7}}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"min":{"type":"intMin","value":-4},"n":{"type":"count","value":7}}`, string(data))

	var back Statistics
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s, back)

	err = json.Unmarshal([]byte(`{"x":{"type":"nope","value":1}}`), &back)
	assert.Error(t, err)
}

func TestDecodedMerge(t *testing.T) {
	sum := func(_ string, a, b Value) (Value, error) {
		return a.(Int) + b.(Int), nil
	}
	d := Decoded{
		Element:    NewEntity("Person", "alice", Properties{"visits": Int(2)}),
		Statistics: Statistics{"n": &Count{N: 1}},
	}
	other := Decoded{
		Element:    NewEntity("Person", "alice", Properties{"visits": Int(3), "city": String("Oslo")}),
		Statistics: Statistics{"n": &Count{N: 1}},
	}

	require.NoError(t, d.Merge(other, sum))
	assert.Equal(t, Properties{"visits": Int(5), "city": String("Oslo")}, d.Element.Properties)
	assert.Equal(t, Int(2), d.Statistics["n"].Value())

	err := d.Merge(Decoded{Element: NewEntity("Person", "bob", nil)}, sum)
	assert.Error(t, err)
}

func TestMapIterator(t *testing.T) {
	ctx := context.Background()
	src := FromSlice(
		Decoded{Element: NewEntity("Person", "a", nil)},
		Decoded{Element: NewEntity("Person", "b", nil)},
		Decoded{Element: NewEntity("Person", "c", nil)},
	)
	it := Map(src, func(d Decoded) (Decoded, bool, error) {
		return d, d.Element.Vertex != "b", nil
	})

	got, err := Drain(ctx, it)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Element.Vertex)
	assert.Equal(t, "c", got[1].Element.Vertex)
	assert.False(t, src.Next(ctx), "draining closes the source")
}

func TestMapIteratorError(t *testing.T) {
	boom := errors.New("boom")
	it := Map(FromSlice(Decoded{Element: NewEntity("Person", "a", nil)}), func(d Decoded) (Decoded, bool, error) {
		return Decoded{}, false, boom
	})
	n, err := CountElements(context.Background(), it)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
}

func TestEmptyIterator(t *testing.T) {
	it := Empty()
	assert.False(t, it.Next(context.Background()))
	assert.NoError(t, it.Err())
	assert.NoError(t, it.Close())
	assert.NoError(t, it.Close())
}
