package federation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/operation"
	"github.com/roach88/fedgraph/internal/testutil"
	"github.com/roach88/fedgraph/internal/view"
)

var errBoom = errors.New("boom")

func asMembers(ms ...*testutil.ScriptedMember) []Member {
	out := make([]Member, len(ms))
	for i, m := range ms {
		out[i] = Member{ID: m.ID, Handler: m}
	}
	return out
}

func threeMembers(log *testutil.EventLog) (m1, m2, m3 *testutil.ScriptedMember) {
	m1 = &testutil.ScriptedMember{ID: "m1", Elements: testutil.Entities("Person", "a1", "a2"), Log: log}
	m2 = &testutil.ScriptedMember{ID: "m2", Elements: testutil.Entities("Person", "b1"), Log: log}
	m3 = &testutil.ScriptedMember{ID: "m3", Elements: testutil.Entities("Person", "c1"), Log: log}
	return m1, m2, m3
}

func getAll() *operation.Operation {
	return &operation.Operation{Kind: operation.KindGetAllElements}
}

func vertices(t *testing.T, it element.Iterator) ([]string, error) {
	t.Helper()
	items, err := element.Drain(context.Background(), it)
	out := make([]string, len(items))
	for i, d := range items {
		out[i] = d.Element.Vertex
	}
	return out, err
}

func TestSkipPolicyDropsFailedMember(t *testing.T) {
	log := testutil.NewEventLog()
	m1, m2, m3 := threeMembers(log)
	m2.DispatchErr = errBoom

	c := NewCoordinator(WithFailurePolicy(Skip))
	res, err := c.Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2, m3), nil)
	require.NoError(t, err)
	require.True(t, res.IsSequence())

	got, err := vertices(t, res.Sequence)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "c1"}, got)

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "m2", failures[0].MemberID)
	assert.Equal(t, PhaseDispatch, failures[0].Phase)
	assert.ErrorIs(t, failures[0], errBoom)

	var pfe *PartialFailureError
	require.ErrorAs(t, res.Err(), &pfe)
	assert.Len(t, pfe.Failures, 1)
}

func TestSkipPolicyDuringIteration(t *testing.T) {
	log := testutil.NewEventLog()
	m1, m2, m3 := threeMembers(log)
	m2.IterErr, m2.FailAt = errBoom, 0

	res, err := NewCoordinator(WithFailurePolicy(Skip)).Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2, m3), nil)
	require.NoError(t, err)
	got, err := vertices(t, res.Sequence)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "c1"}, got)

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, PhaseIterate, failures[0].Phase)
	for _, id := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, 1, log.Count(id, "close"), id)
	}
}

func TestFailFastDuringIterationClosesEveryMemberOnce(t *testing.T) {
	log := testutil.NewEventLog()
	m1, m2, m3 := threeMembers(log)
	m2.IterErr, m2.FailAt = errBoom, 1

	res, err := NewCoordinator().Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2, m3), nil)
	require.NoError(t, err)

	ctx := context.Background()
	var got []string
	for res.Sequence.Next(ctx) {
		got = append(got, res.Sequence.Element().Element.Vertex)
	}
	assert.Equal(t, []string{"a1", "a2", "b1"}, got)

	var mf *MemberFailure
	require.ErrorAs(t, res.Sequence.Err(), &mf)
	assert.Equal(t, "m2", mf.MemberID)
	assert.Equal(t, PhaseIterate, mf.Phase)
	assert.ErrorIs(t, res.Sequence.Err(), errBoom)

	require.NoError(t, res.Close())
	require.NoError(t, res.Close())
	for _, id := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, 1, log.Count(id, "close"), id)
	}
	assert.Zero(t, log.Count("m3", "next"), "m3 is never read")
	assert.False(t, res.Sequence.Next(ctx))
}

func TestFailFastAtDispatch(t *testing.T) {
	log := testutil.NewEventLog()
	m1, m2, m3 := threeMembers(log)
	m2.DispatchErr = errBoom

	_, err := NewCoordinator().Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2, m3), nil)
	var mf *MemberFailure
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, "m2", mf.MemberID)
	assert.Equal(t, PhaseDispatch, mf.Phase)

	assert.Equal(t, 1, log.Count("m1", "close"), "the sequence already obtained is released")
	assert.Zero(t, log.Count("m3", "dispatch"), "sequential dispatch stops at the failure")
}

func TestMergedResultIsLazy(t *testing.T) {
	log := testutil.NewEventLog()
	m1, m2, _ := threeMembers(log)

	res, err := NewCoordinator().Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2), nil)
	require.NoError(t, err)
	defer res.Close()

	require.True(t, res.Sequence.Next(context.Background()))
	assert.Equal(t, []string{
		"m1:dispatch", "m1:open",
		"m2:dispatch", "m2:open",
		"m1:next",
	}, log.Strings())
}

func TestCloseBeforeExhaustion(t *testing.T) {
	log := testutil.NewEventLog()
	m1, m2, m3 := threeMembers(log)

	res, err := NewCoordinator().Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2, m3), nil)
	require.NoError(t, err)
	require.True(t, res.Sequence.Next(context.Background()))

	require.NoError(t, res.Close())
	require.NoError(t, res.Close())
	for _, id := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, 1, log.Count(id, "close"), id)
	}
	assert.False(t, res.Sequence.Next(context.Background()))
}

func TestRoundRobinOrdering(t *testing.T) {
	m1 := &testutil.ScriptedMember{ID: "m1", Elements: testutil.Entities("Person", "a", "b")}
	m2 := &testutil.ScriptedMember{ID: "m2", Elements: testutil.Entities("Person", "c")}
	m3 := &testutil.ScriptedMember{ID: "m3", Elements: testutil.Entities("Person", "d", "e")}

	res, err := NewCoordinator(WithOrdering(RoundRobin)).Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2, m3), nil)
	require.NoError(t, err)
	got, err := vertices(t, res.Sequence)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d", "b", "e"}, got)
}

func TestScalarCombinedInDeclarationOrder(t *testing.T) {
	concat := func(acc, next any) (any, error) { return acc.(string) + next.(string), nil }
	members := []*testutil.ScriptedMember{
		{ID: "m1", Value: "1"},
		{ID: "m2", Value: "2"},
		{ID: "m3", Value: "3"},
	}
	op := &operation.Operation{Kind: operation.KindGetSchema}

	res, err := NewCoordinator(WithParallelism(3)).Call(context.Background(), op, operation.User{}, asMembers(members...), concat)
	require.NoError(t, err)
	assert.False(t, res.IsSequence())
	assert.Equal(t, "123", res.Value)

	members[1].DispatchErr = errBoom
	res, err = NewCoordinator(WithFailurePolicy(Skip)).Call(context.Background(), op, operation.User{}, asMembers(members...), concat)
	require.NoError(t, err)
	assert.Equal(t, "13", res.Value)
	assert.Len(t, res.Failures(), 1)

	for _, m := range members {
		m.DispatchErr = errBoom
	}
	res, err = NewCoordinator(WithFailurePolicy(Skip)).Call(context.Background(), op, operation.User{}, asMembers(members...), concat)
	require.NoError(t, err, "skip tolerates every member failing")
	assert.Nil(t, res.Value)
	assert.Len(t, res.Failures(), 3)
}

func TestSumInt64(t *testing.T) {
	v, err := SumInt64(int64(2), int64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	_, err = SumInt64(int64(2), "5")
	assert.Error(t, err)
}

// barrier blocks each caller until n have arrived.
type barrier struct {
	mu      sync.Mutex
	arrived int
	n       int
	ready   chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, ready: make(chan struct{})}
}

func (b *barrier) Handle(ctx context.Context, _ *operation.Operation, _ operation.Context) (operation.Result, error) {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.ready)
	}
	b.mu.Unlock()
	select {
	case <-b.ready:
		return operation.Scalar(int64(1)), nil
	case <-ctx.Done():
		return operation.Result{}, ctx.Err()
	}
}

func TestBoundedParallelDispatch(t *testing.T) {
	b := newBarrier(2)
	members := []Member{{ID: "m1", Handler: b}, {ID: "m2", Handler: b}}
	op := &operation.Operation{Kind: operation.KindCountAllElements}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := NewCoordinator(WithParallelism(2)).Call(ctx, op, operation.User{}, members, SumInt64)
	require.NoError(t, err, "both members must be in flight at once")
	assert.Equal(t, int64(2), res.Value)
}

func TestMemberTimeoutIsAFailure(t *testing.T) {
	slow := &testutil.ScriptedMember{ID: "slow", Delay: time.Minute, Value: int64(1)}
	fast := &testutil.ScriptedMember{ID: "fast", Value: int64(2)}
	op := &operation.Operation{Kind: operation.KindCountAllElements}

	c := NewCoordinator(WithFailurePolicy(Skip), WithMemberTimeout(20*time.Millisecond))
	res, err := c.Call(context.Background(), op, operation.User{}, asMembers(slow, fast), SumInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Value)
	require.Len(t, res.Failures(), 1)
	assert.ErrorIs(t, res.Failures()[0], context.DeadlineExceeded)

	_, err = NewCoordinator(WithMemberTimeout(20*time.Millisecond)).Call(context.Background(), op, operation.User{}, asMembers(slow, fast), SumInt64)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemberTimeoutDuringIteration(t *testing.T) {
	log := testutil.NewEventLog()
	m1, m2, m3 := threeMembers(log)
	m2.NextDelay = 300 * time.Millisecond

	c := NewCoordinator(WithFailurePolicy(Skip), WithMemberTimeout(20*time.Millisecond))
	res, err := c.Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2, m3), nil)
	require.NoError(t, err)

	start := time.Now()
	got, err := vertices(t, res.Sequence)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "c1"}, got)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "the slow pull is abandoned, not awaited")

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "m2", failures[0].MemberID)
	assert.Equal(t, PhaseIterate, failures[0].Phase)
	assert.ErrorIs(t, failures[0], context.DeadlineExceeded)

	// The abandoned member is closed once its pull returns.
	assert.Eventually(t, func() bool { return log.Count("m2", "close") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestMemberTimeoutDuringIterationFailFast(t *testing.T) {
	m1, m2, _ := threeMembers(nil)
	m1.NextDelay = 300 * time.Millisecond

	res, err := NewCoordinator(WithMemberTimeout(20*time.Millisecond)).Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2), nil)
	require.NoError(t, err)
	defer res.Close()

	assert.False(t, res.Sequence.Next(context.Background()))
	var mf *MemberFailure
	require.ErrorAs(t, res.Sequence.Err(), &mf)
	assert.Equal(t, "m1", mf.MemberID)
	assert.ErrorIs(t, mf, context.DeadlineExceeded)
}

func TestRateLimitedDispatch(t *testing.T) {
	m1 := &testutil.ScriptedMember{ID: "m1", Value: int64(1)}
	m2 := &testutil.ScriptedMember{ID: "m2", Value: int64(1)}
	op := &operation.Operation{Kind: operation.KindCountAllElements}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c := NewCoordinator(WithFailurePolicy(Skip), WithRateLimit(0.001, 1))
	res, err := c.Call(ctx, op, operation.User{}, asMembers(m1, m2), SumInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Value)
	require.Len(t, res.Failures(), 1)
	assert.Equal(t, "m2", res.Failures()[0].MemberID, "the burst is spent on m1")
}

func TestEachMemberGetsItsOwnClone(t *testing.T) {
	m1 := &testutil.ScriptedMember{ID: "m1"}
	m2 := &testutil.ScriptedMember{ID: "m2"}

	def := view.NewDefinitionBuilder()
	require.NoError(t, def.TransientProperty("label", "string"))
	vb := view.NewBuilder()
	require.NoError(t, vb.Entity("Person", def.Build()))
	memberView := vb.Build()

	op := getAll()
	op.SetOption(operation.OptionGraphIDs, "m1,m2")
	op.SetOption(operation.OptionSummarise, "false")
	members := []Member{{ID: "m1", Handler: m1, View: memberView}, {ID: "m2", Handler: m2}}

	c := NewCoordinator(WithCallIDGenerator(testutil.NewFixedCallIDGenerator("call-1")))
	res, err := c.Call(context.Background(), op, operation.User{ID: "u1"}, members, nil)
	require.NoError(t, err)
	require.NoError(t, res.Close())
	assert.Equal(t, "call-1", res.CallID)

	got1, got2 := m1.LastOperation(), m2.LastOperation()
	assert.NotSame(t, op, got1)
	assert.NotSame(t, got1, got2)
	assert.Nil(t, op.View, "member views never reach the caller's operation")
	_, ok := got1.View.Entity("Person")
	assert.True(t, ok)
	assert.Nil(t, got2.View)

	_, ok = got1.Option(operation.OptionGraphIDs)
	assert.False(t, ok)
	v, _ := got2.Option(operation.OptionSummarise)
	assert.Equal(t, "false", v)
	got1.SetOption(operation.OptionSummarise, "true")
	v, _ = op.Option(operation.OptionSummarise)
	assert.Equal(t, "false", v)

	for _, m := range []*testutil.ScriptedMember{m1, m2} {
		ectx := m.LastContext()
		assert.Equal(t, m.ID, ectx.MemberID)
		assert.Equal(t, "call-1", ectx.CallID)
		assert.Equal(t, "u1", ectx.User.ID)
	}
}

func TestNoMembers(t *testing.T) {
	_, err := NewCoordinator().Call(context.Background(), getAll(), operation.User{}, nil, nil)
	assert.ErrorIs(t, err, ErrNoMembers)
}

func TestCancelledIteration(t *testing.T) {
	m1, m2, _ := threeMembers(nil)
	res, err := NewCoordinator().Call(context.Background(), getAll(), operation.User{}, asMembers(m1, m2), nil)
	require.NoError(t, err)
	defer res.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, res.Sequence.Next(ctx))
	cancel()
	assert.False(t, res.Sequence.Next(ctx))
	assert.ErrorIs(t, res.Sequence.Err(), context.Canceled)
	assert.Empty(t, res.Failures(), "cancellation is not a member failure")
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)
	p, err = ParseFailurePolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, Skip, p)
	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)

	o, err := ParseOrdering("round-robin")
	require.NoError(t, err)
	assert.Equal(t, RoundRobin, o)
	_, err = ParseOrdering("random")
	assert.Error(t, err)
}
