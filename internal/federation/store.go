package federation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/fedgraph/internal/operation"
)

// Store executes operations across its members as if they were one graph.
//
// Thread-safety: Store is safe for concurrent use. Members added or
// removed during a call do not affect that call.
type Store struct {
	coord       *Coordinator
	combinators map[operation.Kind]Combinator

	mu      sync.RWMutex
	members []Member
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCombinator sets how scalar results of kind are folded.
func WithCombinator(kind operation.Kind, c Combinator) StoreOption {
	return func(s *Store) {
		s.combinators[kind] = c
	}
}

// NewStore returns a federated store over members, dispatching through coord.
func NewStore(coord *Coordinator, members []Member, opts ...StoreOption) (*Store, error) {
	if coord == nil {
		coord = NewCoordinator()
	}
	s := &Store{
		coord: coord,
		combinators: map[operation.Kind]Combinator{
			operation.KindAddElements:      SumInt64,
			operation.KindCountAllElements: SumInt64,
			operation.KindGetSchema:        First,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, m := range members {
		if err := s.AddMember(m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddMember appends m to the member list.
func (s *Store) AddMember(m Member) error {
	if m.ID == "" {
		return &ConfigurationError{Message: "member id is required"}
	}
	if m.Handler == nil {
		return &ConfigurationError{Message: fmt.Sprintf("member %s has no handler", m.ID)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.members, func(x Member) bool { return x.ID == m.ID }) {
		return &ConfigurationError{Message: fmt.Sprintf("duplicate member id %s", m.ID)}
	}
	s.members = append(s.members, m)
	slog.Info("member added", "member", m.ID, "members", len(s.members))
	return nil
}

// RemoveMember removes the member with id.
func (s *Store) RemoveMember(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.members, func(x Member) bool { return x.ID == id })
	if i < 0 {
		return &ConfigurationError{Message: fmt.Sprintf("unknown member %s", id)}
	}
	s.members = slices.Delete(s.members, i, i+1)
	slog.Info("member removed", "member", id, "members", len(s.members))
	return nil
}

// Members returns the members in declaration order.
func (s *Store) Members() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.members)
}

// Call runs op on the members it targets and returns the federated result
// with its failure list.
func (s *Store) Call(ctx context.Context, op *operation.Operation, user operation.User) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	targets, err := s.targets(op)
	if err != nil {
		return nil, err
	}
	return s.coord.Call(ctx, op, user, targets, s.combinators[op.Kind])
}

// Execute implements operation.Executor. Failures a skip policy tolerated
// are logged; use Call to inspect them.
func (s *Store) Execute(ctx context.Context, op *operation.Operation, user operation.User) (operation.Result, error) {
	res, err := s.Call(ctx, op, user)
	if err != nil {
		return operation.Result{}, err
	}
	if !res.IsSequence() {
		for _, f := range res.Failures() {
			slog.Warn("member skipped", "member", f.MemberID, "call_id", res.CallID, "error", f.Err)
		}
	}
	return res.Operation(), nil
}

// targets returns the members op is sent to: all of them, or those named
// by the graph ids option, in declaration order.
func (s *Store) targets(op *operation.Operation) ([]Member, error) {
	members := s.Members()
	raw, _ := op.Option(operation.OptionGraphIDs)
	if strings.TrimSpace(raw) == "" {
		return members, nil
	}

	wanted := map[string]bool{}
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = true
		}
	}
	var out []Member
	for _, m := range members {
		if wanted[m.ID] {
			out = append(out, m)
			delete(wanted, m.ID)
		}
	}
	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for id := range wanted {
			unknown = append(unknown, id)
		}
		slices.Sort(unknown)
		return nil, &ConfigurationError{Message: "unknown graph ids: " + strings.Join(unknown, ", ")}
	}
	return out, nil
}
