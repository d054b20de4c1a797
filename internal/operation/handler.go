package operation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// User is the caller an operation runs on behalf of.
type User struct {
	ID             string
	Authorizations []string
}

// Context identifies one execution of an operation against one graph.
type Context struct {
	// MemberID is the graph the handler runs against.
	MemberID string
	User     User
	// CallID correlates every member execution of one federated call.
	CallID string
}

// NewCallID returns a time-sortable UUIDv7 call id.
func NewCallID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewContext returns an execution context with a fresh call id.
func NewContext(memberID string, user User) Context {
	return Context{MemberID: memberID, User: user, CallID: NewCallID()}
}

// Handler executes one kind of operation. Handlers do not retry.
type Handler interface {
	Handle(ctx context.Context, op *Operation, ectx Context) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, op *Operation, ectx Context) (Result, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, op *Operation, ectx Context) (Result, error) {
	return f(ctx, op, ectx)
}

// Executor runs operations. Graphs and federated stores both implement it.
type Executor interface {
	Execute(ctx context.Context, op *Operation, user User) (Result, error)
}

// Registry routes operations to handlers by kind.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[Kind]Handler{}}
}

// Register sets the handler for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("operation: nil handler for %s", kind))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Kinds returns the registered kinds in byte order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Validate fails if any of kinds has no handler, naming all missing ones.
func (r *Registry) Validate(kinds ...Kind) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, k := range kinds {
		if _, ok := r.handlers[k]; !ok {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Message: "no handler registered for " + strings.Join(missing, ", ")}
	}
	return nil
}

// Handle validates op and dispatches it to its handler.
func (r *Registry) Handle(ctx context.Context, op *Operation, ectx Context) (Result, error) {
	r.mu.RLock()
	h, ok := r.handlers[op.Kind]
	r.mu.RUnlock()
	if !ok {
		return Result{}, &UnregisteredKindError{Kind: op.Kind}
	}
	if err := op.Validate(); err != nil {
		return Result{}, err
	}
	return h.Handle(ctx, op, ectx)
}
