package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fedgraph/internal/scan"
	"github.com/roach88/fedgraph/internal/schema"
)

// RecordingFactory wraps a session factory and tracks how many sessions
// are open, the peak and the batch sizes requested.
type RecordingFactory struct {
	Inner scan.SessionFactory

	mu      sync.Mutex
	open    int
	maxOpen int
	batches []int
}

// OpenSession implements scan.SessionFactory.
func (f *RecordingFactory) OpenSession(ctx context.Context, ranges []scan.Range, auths scan.Authorizations, opts scan.SessionOptions) (scan.Session, error) {
	sess, err := f.Inner.OpenSession(ctx, ranges, auths, opts)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.open++
	f.maxOpen = max(f.maxOpen, f.open)
	f.batches = append(f.batches, len(ranges))
	f.mu.Unlock()
	return &recordingSession{Session: sess, f: f}, nil
}

// Open returns the number of sessions currently open.
func (f *RecordingFactory) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// MaxOpen returns the peak number of sessions open at once.
func (f *RecordingFactory) MaxOpen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxOpen
}

// Batches returns the range count of every session opened, in order.
func (f *RecordingFactory) Batches() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batches...)
}

type recordingSession struct {
	scan.Session
	f      *RecordingFactory
	closed bool
}

func (s *recordingSession) Close() error {
	if !s.closed {
		s.closed = true
		s.f.mu.Lock()
		s.f.open--
		s.f.mu.Unlock()
	}
	return s.Session.Close()
}

// SocialSchema is the schema most graph tests use: Person entities with a
// visibility property and Knows edges grouped by year.
const SocialSchema = `
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
`

// MustSchema compiles CUE source or fails the test.
func MustSchema(t testing.TB, src string) *schema.Schema {
	t.Helper()
	s, err := schema.CompileString(src)
	require.NoError(t, err)
	return s
}
