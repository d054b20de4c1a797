package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/operation"
)

// ScriptedMember is an operation.Handler that returns canned results and
// records every dispatch, Next and Close in Log.
//
// Events recorded under ID: "dispatch", "open" (sequence handed out),
// "next", "fail" (iteration error raised) and "close".
type ScriptedMember struct {
	ID       string
	Elements []element.Decoded
	Value    any

	// DispatchErr is returned from Handle.
	DispatchErr error
	// IterErr is raised by the sequence's Next when it reaches FailAt.
	IterErr error
	FailAt  int
	// Delay blocks Handle, honouring context cancellation.
	Delay time.Duration
	// NextDelay blocks every Next of the sequence and ignores the context.
	NextDelay time.Duration

	Log *EventLog

	mu     sync.Mutex
	lastOp *operation.Operation
	ectx   operation.Context
}

func (m *ScriptedMember) record(name string) {
	if m.Log != nil {
		m.Log.Record(m.ID, name)
	}
}

// Handle implements operation.Handler.
func (m *ScriptedMember) Handle(ctx context.Context, op *operation.Operation, ectx operation.Context) (operation.Result, error) {
	m.record("dispatch")
	m.mu.Lock()
	m.lastOp = op
	m.ectx = ectx
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return operation.Result{}, ctx.Err()
		}
	}
	if m.DispatchErr != nil {
		return operation.Result{}, m.DispatchErr
	}
	if op.Kind.ReturnsSequence() {
		m.record("open")
		return operation.Sequence(&trackedIterator{m: m}), nil
	}
	return operation.Scalar(m.Value), nil
}

// LastOperation returns the operation most recently dispatched.
func (m *ScriptedMember) LastOperation() *operation.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOp
}

// LastContext returns the execution context most recently dispatched.
func (m *ScriptedMember) LastContext() operation.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ectx
}

type trackedIterator struct {
	m      *ScriptedMember
	pos    int
	cur    element.Decoded
	err    error
	closed bool
}

func (it *trackedIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}
	it.m.record("next")
	if it.m.NextDelay > 0 {
		time.Sleep(it.m.NextDelay)
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if it.m.IterErr != nil && it.pos == it.m.FailAt {
		it.m.record("fail")
		it.err = it.m.IterErr
		return false
	}
	if it.pos >= len(it.m.Elements) {
		return false
	}
	it.cur = it.m.Elements[it.pos]
	it.pos++
	return true
}

func (it *trackedIterator) Element() element.Decoded { return it.cur }
func (it *trackedIterator) Err() error                { return it.err }

func (it *trackedIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.m.record("close")
	return nil
}

// Entities returns one decoded entity per vertex in group.
func Entities(group string, vertices ...string) []element.Decoded {
	out := make([]element.Decoded, len(vertices))
	for i, v := range vertices {
		out[i] = element.Decoded{Element: element.NewEntity(group, v, nil)}
	}
	return out
}
