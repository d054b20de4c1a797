package badgerstore

import (
	"bytes"
	"context"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/fedgraph/internal/scan"
)

// OpenSession implements scan.SessionFactory. The session reads from one
// snapshot; writes made after it opens are not visible to it.
func (s *Store) OpenSession(_ context.Context, ranges []scan.Range, auths scan.Authorizations, opts scan.SessionOptions) (scan.Session, error) {
	txn := s.db.NewTransaction(false)
	sess := &session{
		txn:    txn,
		it:     txn.NewIterator(badger.DefaultIteratorOptions),
		ranges: ranges,
		auths:  auths,
		rng:    -1,
	}
	if opts.RollUp && opts.Combiner != nil {
		return scan.RollUp(sess, opts.Combiner), nil
	}
	return sess, nil
}

type session struct {
	txn    *badger.Txn
	it     *badger.Iterator
	ranges []scan.Range
	auths  scan.Authorizations

	rng     int // index of the range being read, -1 before the first seek
	pending []scan.RawRecord
	cur     scan.RawRecord
	err     error
	closed  bool
}

func (s *session) Next(ctx context.Context) bool {
	if s.closed || s.err != nil {
		return false
	}
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			s.err = err
			return false
		}
		if !s.advance() {
			return false
		}
	}
	s.cur, s.pending = s.pending[0], s.pending[1:]
	return true
}

// advance loads the visible records of the next key into pending. It
// reports false when every range is exhausted or on error.
func (s *session) advance() bool {
	for {
		if s.rng >= 0 && s.rng < len(s.ranges) && s.it.Valid() {
			item := s.it.Item()
			r := s.ranges[s.rng]
			if r.End == nil || bytes.Compare(item.Key(), r.End) < 0 {
				ok := s.load(item.KeyCopy(nil), item)
				s.it.Next()
				return ok
			}
		}
		s.rng++
		if s.rng >= len(s.ranges) {
			return false
		}
		s.it.Seek(s.ranges[s.rng].Start)
	}
}

func (s *session) load(key []byte, item *badger.Item) bool {
	err := item.Value(func(val []byte) error {
		entries, err := decodeEntries(val)
		if err != nil {
			return err
		}
		// Group equal visibilities together, keeping insertion order.
		slices.SortStableFunc(entries, func(a, b entry) int {
			return strings.Compare(a.Visibility, b.Visibility)
		})
		for _, e := range entries {
			if s.auths.CanSee(e.Visibility) {
				s.pending = append(s.pending, scan.RawRecord{Key: key, Value: e.Value, Visibility: e.Visibility})
			}
		}
		return nil
	})
	if err != nil {
		s.err = err
		return false
	}
	return true
}

func (s *session) Record() scan.RawRecord { return s.cur }

func (s *session) Err() error { return s.err }

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.it.Close()
	s.txn.Discard()
	return nil
}
