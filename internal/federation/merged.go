package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/fedgraph/internal/element"
)

type memberSequence struct {
	id     string
	it     element.Iterator
	closed bool

	// ctx is handed to every Next of it, so sessions the member opens
	// during a pull outlive that pull. It is cancelled on close, on a
	// pull timeout, or when the caller's context ends mid-pull.
	ctx    context.Context
	cancel context.CancelFunc
	// pending receives the outcome of a pull abandoned on timeout. The
	// member is closed only after it arrives.
	pending <-chan pullOutcome
}

type pullOutcome struct {
	ok  bool
	cur element.Decoded
	err error
}

func nextOf(ctx context.Context, it element.Iterator) pullOutcome {
	if it.Next(ctx) {
		return pullOutcome{ok: true, cur: it.Element()}
	}
	return pullOutcome{err: it.Err()}
}

// MergedResult is the lazy merge of member sequences. Each Next pulls at
// most one element from one member. A member is closed as soon as it is
// exhausted or fails; Close closes the rest.
//
// Thread-safety: MergedResult has a single consumer and is not safe for
// concurrent use.
type MergedResult struct {
	seqs []*memberSequence
	// active holds indexes into seqs of members not yet exhausted.
	active   []int
	turn     int
	ordering Ordering
	policy   FailurePolicy
	timeout  time.Duration
	callID   string

	cur      element.Decoded
	err      error
	failures []*MemberFailure
	closed   bool
}

var _ element.Iterator = (*MergedResult)(nil)

// Next advances to the next element.
func (m *MergedResult) Next(ctx context.Context) bool {
	if m.closed || m.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		m.err = err
		return false
	}
	for len(m.active) > 0 {
		if m.turn >= len(m.active) {
			m.turn = 0
		}
		s := m.seqs[m.active[m.turn]]
		ok, err := m.pull(ctx, s)
		if ok {
			if m.ordering == RoundRobin {
				m.turn++
			}
			return true
		}

		m.active = slices.Delete(m.active, m.turn, m.turn+1)
		m.closeSequence(s)
		if err == nil {
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			_ = m.Close()
			m.err = cerr
			return false
		}
		f := &MemberFailure{MemberID: s.id, Phase: PhaseIterate, Err: err}
		slog.Warn("member failed", "member", s.id, "call_id", m.callID, "phase", PhaseIterate, "policy", m.policy, "error", err)
		if m.policy == FailFast {
			_ = m.Close()
			m.err = f
			return false
		}
		m.failures = append(m.failures, f)
	}
	return false
}

// pull asks s for one element. With a member timeout the pull runs
// aside and is abandoned when the timeout fires, so members that ignore
// their context are still cut off.
func (m *MergedResult) pull(ctx context.Context, s *memberSequence) (bool, error) {
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	var o pullOutcome
	if m.timeout <= 0 {
		o = nextOf(s.ctx, s.it)
	} else {
		done := make(chan pullOutcome, 1)
		go func() { done <- nextOf(s.ctx, s.it) }()
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		select {
		case o = <-done:
		case <-timer.C:
			s.pending = done
			s.cancel()
			return false, fmt.Errorf("member %s: next: %w", s.id, context.DeadlineExceeded)
		case <-ctx.Done():
			s.pending = done
			s.cancel()
			return false, ctx.Err()
		}
	}
	if o.ok {
		m.cur = o.cur
		return true, nil
	}
	return false, o.err
}

// closeSequence closes s once. A close failure is recorded, not raised:
// the elements already read from s are unaffected.
func (m *MergedResult) closeSequence(s *memberSequence) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		defer s.cancel()
	}
	if s.pending != nil {
		// The member is still inside Next; close it once that returns.
		go func(s *memberSequence) {
			<-s.pending
			if err := s.it.Close(); err != nil {
				slog.Warn("member failed", "member", s.id, "call_id", m.callID, "phase", PhaseClose, "error", err)
			}
		}(s)
		return nil
	}
	if err := s.it.Close(); err != nil {
		f := &MemberFailure{MemberID: s.id, Phase: PhaseClose, Err: err}
		m.failures = append(m.failures, f)
		slog.Warn("member failed", "member", s.id, "call_id", m.callID, "phase", PhaseClose, "error", err)
		return f
	}
	return nil
}

// Element returns the current element.
func (m *MergedResult) Element() element.Decoded { return m.cur }

// Err returns the error that stopped iteration. Under the skip policy
// member failures never stop iteration; see Failures.
func (m *MergedResult) Err() error { return m.err }

// Failures returns the member failures recorded so far, in the order
// they happened.
func (m *MergedResult) Failures() []*MemberFailure {
	return append([]*MemberFailure(nil), m.failures...)
}

// Close closes every member sequence not yet closed. It is idempotent.
func (m *MergedResult) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.active = nil
	var errs []error
	for _, s := range m.seqs {
		if err := m.closeSequence(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
