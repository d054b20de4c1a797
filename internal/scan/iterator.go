package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/fedgraph/internal/element"
)

// DefaultBatchSize is the number of ranges per session when none is set.
const DefaultBatchSize = 100

// Decoder turns a raw record into a decoded element.
type Decoder func(rec RawRecord) (element.Decoded, error)

// Transform post-processes every decoded element. An error stops
// iteration and is reported by Err.
type Transform func(d element.Decoded) (element.Decoded, error)

// State is the lifecycle state of an Iterator.
type State int

const (
	// StateUnstarted: no session has been opened yet.
	StateUnstarted State = iota
	// StateBatchOpen: a session is open on the current batch.
	StateBatchOpen
	// StateBatchExhausted: the last session was drained and closed.
	StateBatchExhausted
	// StateClosed: terminal. No session is open.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateBatchOpen:
		return "batch-open"
	case StateBatchExhausted:
		return "batch-exhausted"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Iterator is a lazy element.Iterator over a sequence of ranges. Ranges
// are consumed in order, batchSize at a time, one session per batch.
// An Iterator is not safe for concurrent use.
type Iterator struct {
	factory   SessionFactory
	ranges    []Range
	decode    Decoder
	batchSize int
	transform Transform
	strict    bool
	auths     Authorizations
	sessOpts  SessionOptions

	state   State
	next    int // index of the first range not yet handed to a session
	batch   int // number of sessions opened so far
	session Session
	cur     element.Decoded
	err     error
}

// Option configures an Iterator.
type Option func(*Iterator)

// WithBatchSize sets the maximum number of ranges per session. Values
// below 1 are treated as 1.
func WithBatchSize(n int) Option {
	return func(it *Iterator) {
		it.batchSize = max(n, 1)
	}
}

// WithTransform applies fn to every decoded element before it is yielded.
func WithTransform(fn Transform) Option {
	return func(it *Iterator) {
		it.transform = fn
	}
}

// WithStrictDecode makes undecodable records stop iteration with a
// DecodeError instead of being skipped.
func WithStrictDecode(strict bool) Option {
	return func(it *Iterator) {
		it.strict = strict
	}
}

// WithAuthorizations sets the labels passed to every session.
func WithAuthorizations(auths Authorizations) Option {
	return func(it *Iterator) {
		it.auths = auths
	}
}

// WithRollUp asks sessions to merge same-key records with combine.
func WithRollUp(combine Combiner) Option {
	return func(it *Iterator) {
		it.sessOpts = SessionOptions{RollUp: combine != nil, Combiner: combine}
	}
}

// NewIterator returns an iterator over ranges. No session is opened until
// the first call to Next.
func NewIterator(factory SessionFactory, ranges []Range, decode Decoder, opts ...Option) *Iterator {
	it := &Iterator{
		factory:   factory,
		ranges:    ranges,
		decode:    decode,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// State returns the iterator's lifecycle state.
func (it *Iterator) State() State { return it.state }

// Next advances to the next decoded element.
func (it *Iterator) Next(ctx context.Context) bool {
	for {
		if it.state == StateClosed {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.fail(err)
			return false
		}

		switch it.state {
		case StateUnstarted, StateBatchExhausted:
			if it.next >= len(it.ranges) {
				it.state = StateClosed
				return false
			}
			if err := it.openBatch(ctx); err != nil {
				it.fail(err)
				return false
			}

		case StateBatchOpen:
			if !it.session.Next(ctx) {
				if err := it.session.Err(); err != nil {
					it.fail(fmt.Errorf("scan batch %d: %w", it.batch, err))
					return false
				}
				if err := it.closeSession(); err != nil {
					it.fail(err)
					return false
				}
				it.state = StateBatchExhausted
				continue
			}
			if it.yield(it.session.Record()) {
				return true
			}
		}
	}
}

// yield decodes and transforms one record. It reports whether cur holds
// an element to return; on a fatal error it has already failed the
// iterator.
func (it *Iterator) yield(rec RawRecord) bool {
	d, err := it.decode(rec)
	if err != nil {
		if it.strict {
			it.fail(&DecodeError{Key: rec.Key, Err: err})
			return false
		}
		decodeSkipped.Inc()
		slog.Warn("skipping undecodable record", "key", fmt.Sprintf("%x", rec.Key), "error", err)
		return false
	}
	if it.transform != nil {
		if d, err = it.transform(d); err != nil {
			it.fail(fmt.Errorf("post-decode transform: %w", err))
			return false
		}
	}
	it.cur = d
	return true
}

func (it *Iterator) openBatch(ctx context.Context) error {
	end := min(it.next+it.batchSize, len(it.ranges))
	batch := it.ranges[it.next:end]

	session, err := it.factory.OpenSession(ctx, batch, it.auths, it.sessOpts)
	if err != nil {
		return &BackendUnavailableError{Ranges: len(batch), Err: err}
	}
	it.session = session
	it.next = end
	it.batch++
	it.state = StateBatchOpen
	sessionsOpened.Inc()
	slog.Debug("scan session opened", "batch", it.batch, "ranges", len(batch))
	return nil
}

func (it *Iterator) closeSession() error {
	if it.session == nil {
		return nil
	}
	err := it.session.Close()
	it.session = nil
	slog.Debug("scan session closed", "batch", it.batch)
	if err != nil {
		return fmt.Errorf("close scan session: %w", err)
	}
	return nil
}

// fail records err, releases the open session and moves to Closed.
func (it *Iterator) fail(err error) {
	if it.err == nil {
		it.err = err
	}
	_ = it.closeSession()
	it.state = StateClosed
}

// Element returns the element produced by the last successful Next.
func (it *Iterator) Element() element.Decoded { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the open session, if any. Calling Close again is a no-op.
func (it *Iterator) Close() error {
	if it.state == StateClosed {
		return nil
	}
	it.state = StateClosed
	return it.closeSession()
}
