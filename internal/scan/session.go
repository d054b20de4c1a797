package scan

import (
	"bytes"
	"context"
	"slices"
	"strings"
)

// RawRecord is one stored record.
type RawRecord struct {
	Key        []byte
	Value      []byte
	Visibility string
}

// Authorizations are the visibility labels a caller holds.
type Authorizations []string

// CanSee reports whether a record with the given visibility expression is
// visible. An empty expression is public. "a&b" needs both labels and
// "a&b|c" needs both a and b, or c.
func (a Authorizations) CanSee(visibility string) bool {
	if visibility == "" {
		return true
	}
	for _, alt := range strings.Split(visibility, "|") {
		ok := true
		for _, label := range strings.Split(alt, "&") {
			if !slices.Contains(a, strings.TrimSpace(label)) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// Combiner merges the values of records that share a key and visibility
// into one value.
type Combiner func(key []byte, values [][]byte) ([]byte, error)

// SessionOptions are per-session requests to the backing store.
type SessionOptions struct {
	// RollUp asks the store to merge records sharing a key before they
	// reach the client, using Combiner.
	RollUp   bool
	Combiner Combiner
}

// Session is an open cursor over the records of a batch of ranges, in
// key order, restricted to what the caller's authorizations can see.
// Close is idempotent.
type Session interface {
	Next(ctx context.Context) bool
	Record() RawRecord
	Err() error
	Close() error
}

// SessionFactory opens sessions on a backing store.
type SessionFactory interface {
	OpenSession(ctx context.Context, ranges []Range, auths Authorizations, opts SessionOptions) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context, ranges []Range, auths Authorizations, opts SessionOptions) (Session, error)

func (f SessionFactoryFunc) OpenSession(ctx context.Context, ranges []Range, auths Authorizations, opts SessionOptions) (Session, error) {
	return f(ctx, ranges, auths, opts)
}

type rollUpSession struct {
	inner   Session
	combine Combiner
	pending *RawRecord
	cur     RawRecord
	err     error
}

// RollUp wraps a session so that adjacent records with the same key and
// visibility come out as one record whose value is produced by combine.
// Stores without native roll-up use it to honour SessionOptions.RollUp.
func RollUp(inner Session, combine Combiner) Session {
	return &rollUpSession{inner: inner, combine: combine}
}

func (s *rollUpSession) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}
	var first RawRecord
	switch {
	case s.pending != nil:
		first = *s.pending
		s.pending = nil
	case s.inner.Next(ctx):
		first = s.inner.Record()
	default:
		return false
	}

	values := [][]byte{first.Value}
	for s.inner.Next(ctx) {
		rec := s.inner.Record()
		if !bytes.Equal(rec.Key, first.Key) || rec.Visibility != first.Visibility {
			s.pending = &rec
			break
		}
		values = append(values, rec.Value)
	}
	if err := s.inner.Err(); err != nil {
		s.err = err
		return false
	}

	s.cur = first
	if len(values) > 1 {
		merged, err := s.combine(first.Key, values)
		if err != nil {
			s.err = err
			return false
		}
		s.cur.Value = merged
	}
	return true
}

func (s *rollUpSession) Record() RawRecord { return s.cur }

func (s *rollUpSession) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.inner.Err()
}

func (s *rollUpSession) Close() error { return s.inner.Close() }
