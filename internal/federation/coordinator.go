// Package federation runs one operation against several member graphs
// and merges what they return into a single result.
package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/fedgraph/internal/operation"
	"github.com/roach88/fedgraph/internal/view"
)

// FailurePolicy decides what a member failure does to a federated call.
type FailurePolicy string

const (
	// FailFast aborts the call on the first member failure.
	FailFast FailurePolicy = "fail-fast"
	// Skip drops the failing member and records the failure.
	Skip FailurePolicy = "skip"
)

// ParseFailurePolicy parses a policy name. Empty means fail-fast.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailFast:
		return FailFast, nil
	case Skip:
		return Skip, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want skip or fail-fast)", s)
}

// Ordering decides how member sequences are interleaved.
type Ordering string

const (
	// Concatenate drains each member in declaration order before the next.
	Concatenate Ordering = "concatenate"
	// RoundRobin takes one element from each live member in turn.
	RoundRobin Ordering = "round-robin"
)

// ParseOrdering parses an ordering name. Empty means concatenate.
func ParseOrdering(s string) (Ordering, error) {
	switch Ordering(s) {
	case "", Concatenate:
		return Concatenate, nil
	case RoundRobin:
		return RoundRobin, nil
	}
	return "", fmt.Errorf("unknown ordering %q (want concatenate or round-robin)", s)
}

// Member is one graph taking part in federated calls.
type Member struct {
	ID      string
	Handler operation.Handler
	// View, when set, is merged into every operation sent to this member.
	View *view.View
}

// CallIDGenerator produces the id shared by every member execution of
// one federated call.
type CallIDGenerator interface {
	Generate() string
}

type uuidCallIDs struct{}

func (uuidCallIDs) Generate() string { return operation.NewCallID() }

// Combinator folds member scalars. It is applied in member declaration
// order and need not be commutative.
type Combinator func(acc, next any) (any, error)

// SumInt64 adds int64 scalars.
func SumInt64(acc, next any) (any, error) {
	a, ok := acc.(int64)
	if !ok {
		return nil, fmt.Errorf("sum: expected int64, got %T", acc)
	}
	b, ok := next.(int64)
	if !ok {
		return nil, fmt.Errorf("sum: expected int64, got %T", next)
	}
	return a + b, nil
}

// First keeps the first member's scalar.
func First(acc, _ any) (any, error) { return acc, nil }

// Coordinator dispatches operations to members and merges their results.
//
// Thread-safety: Coordinator is immutable after construction and safe for
// concurrent use. The MergedResult it returns is not.
type Coordinator struct {
	policy      FailurePolicy
	parallelism int
	ordering    Ordering
	timeout     time.Duration
	limiter     *rate.Limiter
	callIDs     CallIDGenerator
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFailurePolicy sets the failure policy. The default is FailFast.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(c *Coordinator) {
		c.policy = p
	}
}

// WithParallelism dispatches to up to n members at once. n <= 1 is
// sequential, the default.
func WithParallelism(n int) Option {
	return func(c *Coordinator) {
		c.parallelism = max(n, 1)
	}
}

// WithOrdering sets how member sequences are merged.
func WithOrdering(o Ordering) Option {
	return func(c *Coordinator) {
		c.ordering = o
	}
}

// WithMemberTimeout bounds each member dispatch and each element pulled
// from a member. A timeout counts as a member failure.
func WithMemberTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithRateLimit limits member dispatches to r per second with the given
// burst, across all calls on this coordinator.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Coordinator) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
	}
}

// WithCallIDGenerator sets the source of call ids.
func WithCallIDGenerator(g CallIDGenerator) Option {
	return func(c *Coordinator) {
		c.callIDs = g
	}
}

// NewCoordinator returns a sequential, fail-fast, concatenating coordinator
// adjusted by opts.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		policy:      FailFast,
		parallelism: 1,
		ordering:    Concatenate,
		callIDs:     uuidCallIDs{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the failure policy.
func (c *Coordinator) Policy() FailurePolicy { return c.policy }

// Result is the outcome of a federated call: a merged sequence or a
// combined scalar, plus the failures a skip policy tolerated.
type Result struct {
	// Sequence is set for operations that return elements.
	Sequence *MergedResult
	// Value is the combined scalar. It is nil when every member failed.
	Value  any
	CallID string

	failures []*MemberFailure
}

// IsSequence reports whether the result holds a merged sequence.
func (r *Result) IsSequence() bool { return r.Sequence != nil }

// Failures returns the member failures recorded so far. For sequences
// this grows as iteration reaches failing members.
func (r *Result) Failures() []*MemberFailure {
	if r.Sequence != nil {
		return r.Sequence.Failures()
	}
	return append([]*MemberFailure(nil), r.failures...)
}

// Err returns a PartialFailureError when any member failed, else nil.
func (r *Result) Err() error { return partialFailure(r.Failures()) }

// Operation returns the result in the shape single graphs return.
func (r *Result) Operation() operation.Result {
	if r.Sequence != nil {
		return operation.Sequence(r.Sequence)
	}
	return operation.Scalar(r.Value)
}

// Close releases the merged sequence, if any.
func (r *Result) Close() error {
	if r.Sequence == nil {
		return nil
	}
	return r.Sequence.Close()
}

// Call sends a clone of op to every target and merges the results.
// Scalars are folded with combine in target order; a nil combine keeps
// the first.
func (c *Coordinator) Call(ctx context.Context, op *operation.Operation, user operation.User, targets []Member, combine Combinator) (*Result, error) {
	if len(targets) == 0 {
		return nil, ErrNoMembers
	}
	callID := c.callIDs.Generate()
	ctx, span := tracer.Start(ctx, "federation.Call",
		trace.WithAttributes(
			attribute.String("operation.kind", string(op.Kind)),
			attribute.Int("members", len(targets)),
			attribute.String("call_id", callID),
		),
	)
	defer span.End()

	results, failures, err := c.dispatch(ctx, op, user, callID, targets)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(failures) > 0 {
		span.AddEvent("members_skipped", trace.WithAttributes(attribute.Int("count", len(failures))))
	}

	if op.Kind.ReturnsSequence() {
		var seqs []*memberSequence
		for i, r := range results {
			if r != nil {
				seqs = append(seqs, &memberSequence{id: targets[i].ID, it: r.Iterator})
			}
		}
		span.SetStatus(codes.Ok, "")
		return &Result{Sequence: c.merge(callID, seqs, failures), CallID: callID}, nil
	}

	if combine == nil {
		combine = First
	}
	var (
		value any
		seen  bool
	)
	for _, r := range results {
		if r == nil {
			continue
		}
		if !seen {
			value, seen = r.Value, true
			continue
		}
		if value, err = combine(value, r.Value); err != nil {
			err = fmt.Errorf("combine %s results: %w", op.Kind, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	span.SetStatus(codes.Ok, "")
	return &Result{Value: value, CallID: callID, failures: failures}, nil
}

// dispatch runs op on every target. The returned results are indexed like
// targets, nil where the member failed. Under FailFast the first failure
// is returned as the error after every obtained result is closed.
func (c *Coordinator) dispatch(ctx context.Context, op *operation.Operation, user operation.User, callID string, targets []Member) ([]*operation.Result, []*MemberFailure, error) {
	results := make([]*operation.Result, len(targets))
	failed := make([]*MemberFailure, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, m := range targets {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := c.dispatchOne(gctx, op, user, callID, m)
			if err != nil {
				f := &MemberFailure{MemberID: m.ID, Phase: PhaseDispatch, Err: err}
				failed[i] = f
				if c.policy == FailFast {
					return f
				}
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for _, r := range results {
			if r != nil {
				_ = r.Close()
			}
		}
		return nil, nil, err
	}

	var failures []*MemberFailure
	for _, f := range failed {
		if f != nil {
			failures = append(failures, f)
		}
	}
	return results, failures, nil
}

func (c *Coordinator) dispatchOne(ctx context.Context, op *operation.Operation, user operation.User, callID string, m Member) (operation.Result, error) {
	ctx, span := tracer.Start(ctx, "federation.dispatch",
		trace.WithAttributes(
			attribute.String("member.id", m.ID),
			attribute.String("operation.kind", string(op.Kind)),
		),
	)
	defer span.End()

	res, elapsed, err := c.handle(ctx, op, user, callID, m)
	dispatchDuration.WithLabelValues(m.ID).Observe(elapsed.Seconds())
	if err == nil && op.Kind.ReturnsSequence() && !res.IsSequence() {
		err = fmt.Errorf("%s returned no element sequence", op.Kind)
	}
	if err != nil {
		outcome := outcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = outcomeTimeout
		}
		dispatchTotal.WithLabelValues(m.ID, outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("member failed", "member", m.ID, "call_id", callID, "phase", PhaseDispatch, "policy", c.policy, "error", err)
		return operation.Result{}, err
	}
	dispatchTotal.WithLabelValues(m.ID, outcomeOK).Inc()
	span.SetStatus(codes.Ok, "")
	slog.Debug("member dispatched", "member", m.ID, "call_id", callID, "duration", elapsed)
	return res, nil
}

// handle clones op for m and runs it, honouring the rate limit and the
// member timeout.
func (c *Coordinator) handle(ctx context.Context, op *operation.Operation, user operation.User, callID string, m Member) (operation.Result, time.Duration, error) {
	clone, err := memberOperation(op, m)
	if err != nil {
		return operation.Result{}, 0, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return operation.Result{}, 0, fmt.Errorf("rate limit: %w", err)
		}
	}
	ectx := operation.Context{MemberID: m.ID, User: user, CallID: callID}
	slog.Debug("member dispatch", "member", m.ID, "call_id", callID, "kind", op.Kind)
	start := time.Now()

	if c.timeout <= 0 {
		res, err := m.Handler.Handle(ctx, clone, ectx)
		return res, time.Since(start), err
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	type outcome struct {
		res operation.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := m.Handler.Handle(tctx, clone, ectx)
		done <- outcome{res, err}
	}()
	select {
	case o := <-done:
		return o.res, time.Since(start), o.err
	case <-tctx.Done():
		// A handler that ignores its context may still return a result;
		// release it when it does.
		go func() {
			if o := <-done; o.err == nil {
				_ = o.res.Close()
			}
		}()
		return operation.Result{}, time.Since(start), fmt.Errorf("member %s: %w", m.ID, tctx.Err())
	}
}

// memberOperation returns the copy of op sent to m, with m's view merged
// into it.
func memberOperation(op *operation.Operation, m Member) (*operation.Operation, error) {
	clone := op.ShallowClone()
	delete(clone.Options, operation.OptionGraphIDs)
	if m.View != nil {
		merged, err := view.MergeViews(clone.View, m.View)
		if err != nil {
			return nil, fmt.Errorf("merge member view: %w", err)
		}
		clone.View = merged
	}
	return clone, nil
}

func (c *Coordinator) merge(callID string, seqs []*memberSequence, failures []*MemberFailure) *MergedResult {
	active := make([]int, len(seqs))
	for i := range seqs {
		active[i] = i
	}
	return &MergedResult{
		seqs:     seqs,
		active:   active,
		ordering: c.ordering,
		policy:   c.policy,
		timeout:  c.timeout,
		callID:   callID,
		failures: failures,
	}
}
