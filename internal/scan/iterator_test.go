package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedgraph/internal/element"
)

// fakeStore serves one record per key from a sorted in-memory table and
// tracks how many sessions are open.
type fakeStore struct {
	records  []RawRecord
	open     int
	maxOpen  int
	sessions [][]Range
	openErr  error
}

func (f *fakeStore) OpenSession(_ context.Context, ranges []Range, auths Authorizations, opts SessionOptions) (Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	var recs []RawRecord
	for _, rec := range f.records {
		if !auths.CanSee(rec.Visibility) {
			continue
		}
		for _, r := range ranges {
			if r.Contains(rec.Key) {
				recs = append(recs, rec)
				break
			}
		}
	}
	f.open++
	f.maxOpen = max(f.maxOpen, f.open)
	f.sessions = append(f.sessions, ranges)
	var s Session = &fakeSession{store: f, recs: recs, pos: -1}
	if opts.RollUp {
		s = RollUp(s, opts.Combiner)
	}
	return s, nil
}

type fakeSession struct {
	store  *fakeStore
	recs   []RawRecord
	pos    int
	closed bool
	err    error
}

func (s *fakeSession) Next(context.Context) bool {
	if s.closed || s.err != nil {
		return false
	}
	s.pos++
	return s.pos < len(s.recs)
}

func (s *fakeSession) Record() RawRecord { return s.recs[s.pos] }
func (s *fakeSession) Err() error        { return s.err }

func (s *fakeSession) Close() error {
	if !s.closed {
		s.closed = true
		s.store.open--
	}
	return nil
}

func keyRange(k string) Range { return PrefixRange([]byte(k)) }

func decodeVertex(rec RawRecord) (element.Decoded, error) {
	if bytes.HasPrefix(rec.Value, []byte("bad")) {
		return element.Decoded{}, errors.New("corrupt value")
	}
	return element.Decoded{Element: element.NewEntity("Person", string(rec.Key), element.Properties{
		"v": element.String(string(rec.Value)),
	})}, nil
}

func storeWith(keys ...string) *fakeStore {
	f := &fakeStore{}
	for _, k := range keys {
		f.records = append(f.records, RawRecord{Key: []byte(k), Value: []byte("val-" + k)})
	}
	return f
}

func vertices(t *testing.T, it element.Iterator) []string {
	t.Helper()
	out, err := element.Drain(context.Background(), it)
	require.NoError(t, err)
	var vs []string
	for _, d := range out {
		vs = append(vs, d.Element.Vertex)
	}
	return vs
}

func TestIteratorBatches(t *testing.T) {
	f := storeWith("a", "b", "c", "d", "e")
	ranges := []Range{keyRange("a"), keyRange("b"), keyRange("c"), keyRange("d"), keyRange("e")}

	it := NewIterator(f, ranges, decodeVertex, WithBatchSize(2))
	assert.Equal(t, StateUnstarted, it.State())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, vertices(t, it))

	require.Len(t, f.sessions, 3)
	assert.Len(t, f.sessions[0], 2)
	assert.Len(t, f.sessions[1], 2)
	assert.Len(t, f.sessions[2], 1)
	assert.Equal(t, 1, f.maxOpen, "never more than one session open")
	assert.Equal(t, 0, f.open)
	assert.Equal(t, StateClosed, it.State())
}

func TestIteratorLazyOpen(t *testing.T) {
	f := storeWith("a")
	it := NewIterator(f, []Range{keyRange("a")}, decodeVertex)
	assert.Empty(t, f.sessions)

	require.True(t, it.Next(context.Background()))
	assert.Equal(t, StateBatchOpen, it.State())
	assert.Equal(t, 1, f.open)
	require.NoError(t, it.Close())
}

func TestIteratorEmptyRanges(t *testing.T) {
	f := storeWith("a")
	it := NewIterator(f, nil, decodeVertex)
	assert.False(t, it.Next(context.Background()))
	assert.NoError(t, it.Err())
	assert.Empty(t, f.sessions)
}

func TestIteratorEmptyBatchMovesOn(t *testing.T) {
	f := storeWith("a", "c")
	it := NewIterator(f, []Range{keyRange("b"), keyRange("c")}, decodeVertex, WithBatchSize(1))
	assert.Equal(t, []string{"c"}, vertices(t, it))
	assert.Len(t, f.sessions, 2)
}

func TestIteratorCloseMidIteration(t *testing.T) {
	f := storeWith("a", "b", "c")
	it := NewIterator(f, []Range{keyRange("a"), keyRange("b"), keyRange("c")}, decodeVertex, WithBatchSize(2))
	require.True(t, it.Next(context.Background()))
	assert.Equal(t, 1, f.open)

	require.NoError(t, it.Close())
	assert.Equal(t, 0, f.open)
	assert.Equal(t, StateClosed, it.State())
	assert.NoError(t, it.Close(), "second close is a no-op")
	assert.False(t, it.Next(context.Background()))
}

func TestIteratorSkipsUndecodable(t *testing.T) {
	f := storeWith("a", "b", "c")
	f.records[1].Value = []byte("bad")

	it := NewIterator(f, []Range{All()}, decodeVertex)
	assert.Equal(t, []string{"a", "c"}, vertices(t, it))
}

func TestIteratorStrictDecode(t *testing.T) {
	f := storeWith("a", "b", "c")
	f.records[1].Value = []byte("bad")

	it := NewIterator(f, []Range{All()}, decodeVertex, WithStrictDecode(true))
	ctx := context.Background()
	require.True(t, it.Next(ctx))
	assert.False(t, it.Next(ctx))

	var de *DecodeError
	require.ErrorAs(t, it.Err(), &de)
	assert.Equal(t, []byte("b"), de.Key)
	assert.Equal(t, 0, f.open)
	assert.Equal(t, StateClosed, it.State())
}

func TestIteratorTransform(t *testing.T) {
	f := storeWith("a", "b")
	upper := func(d element.Decoded) (element.Decoded, error) {
		d.Element.Group = "Upper"
		return d, nil
	}
	out, err := element.Drain(context.Background(), NewIterator(f, []Range{All()}, decodeVertex, WithTransform(upper)))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Upper", out[0].Element.Group)
}

func TestIteratorTransformError(t *testing.T) {
	f := storeWith("a", "b")
	boom := errors.New("boom")
	it := NewIterator(f, []Range{All()}, decodeVertex, WithTransform(func(element.Decoded) (element.Decoded, error) {
		return element.Decoded{}, boom
	}))
	assert.False(t, it.Next(context.Background()))
	assert.ErrorIs(t, it.Err(), boom)
	assert.Equal(t, 0, f.open)
}

func TestIteratorOpenFailure(t *testing.T) {
	f := storeWith("a")
	f.openErr = errors.New("connection refused")

	it := NewIterator(f, []Range{All()}, decodeVertex)
	assert.False(t, it.Next(context.Background()))
	assert.True(t, IsBackendUnavailable(it.Err()))
	assert.ErrorContains(t, it.Err(), "connection refused")
}

func TestIteratorSessionError(t *testing.T) {
	boom := errors.New("tablet moved")
	factory := SessionFactoryFunc(func(context.Context, []Range, Authorizations, SessionOptions) (Session, error) {
		return &fakeSession{store: &fakeStore{open: 1}, err: boom}, nil
	})
	it := NewIterator(factory, []Range{All()}, decodeVertex)
	assert.False(t, it.Next(context.Background()))
	assert.ErrorIs(t, it.Err(), boom)
}

func TestIteratorContextCancelled(t *testing.T) {
	f := storeWith("a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	it := NewIterator(f, []Range{All()}, decodeVertex)
	require.True(t, it.Next(ctx))
	cancel()
	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), context.Canceled)
	assert.Equal(t, 0, f.open)
}

func TestIteratorAuthorizations(t *testing.T) {
	f := storeWith("a", "b", "c")
	f.records[0].Visibility = "private"
	f.records[2].Visibility = "audit&private|public"

	all := func(auths ...string) []string {
		return vertices(t, NewIterator(f, []Range{All()}, decodeVertex, WithAuthorizations(auths)))
	}
	assert.Equal(t, []string{"b"}, all())
	assert.Equal(t, []string{"a", "b"}, all("private"))
	assert.Equal(t, []string{"a", "b", "c"}, all("private", "audit"))
	assert.Equal(t, []string{"b", "c"}, all("public"))
}

func TestIteratorRollUp(t *testing.T) {
	f := &fakeStore{records: []RawRecord{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("a"), Value: []byte("2")},
		{Key: []byte("a"), Value: []byte("3"), Visibility: "x"},
		{Key: []byte("b"), Value: []byte("4")},
	}}
	concat := func(_ []byte, values [][]byte) ([]byte, error) {
		return bytes.Join(values, []byte("+")), nil
	}

	out, err := element.Drain(context.Background(), NewIterator(f, []Range{All()}, decodeVertex,
		WithRollUp(concat), WithAuthorizations(Authorizations{"x"})))
	require.NoError(t, err)

	var got []string
	for _, d := range out {
		got = append(got, fmt.Sprintf("%s=%s", d.Element.Vertex, element.Format(d.Element.Properties["v"])))
	}
	assert.Equal(t, []string{"a=1+2", "a=3", "b=4"}, got)
}

func TestBatchSizeFloor(t *testing.T) {
	f := storeWith("a", "b")
	vertices(t, NewIterator(f, []Range{keyRange("a"), keyRange("b")}, decodeVertex, WithBatchSize(0)))
	assert.Len(t, f.sessions, 2)
}
