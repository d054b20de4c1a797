// Package graph is a single member graph: a schema, a backing store and
// the handlers that execute operations against them.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fedgraph/internal/keys"
	"github.com/roach88/fedgraph/internal/operation"
	"github.com/roach88/fedgraph/internal/scan"
	"github.com/roach88/fedgraph/internal/schema"
)

// Backend is a backing store a graph reads and writes.
type Backend interface {
	scan.SessionFactory
	Write(ctx context.Context, records []scan.RawRecord) error
	// Count returns the number of stored records, before roll-up.
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Graph executes operations against one backend.
//
// Thread-safety: Graph is safe for concurrent use when its backend is.
type Graph struct {
	id       string
	schema   *schema.Schema
	backend  Backend
	codec    *keys.Codec
	registry *operation.Registry

	batchSize  int
	strict     bool
	rollUp     bool
	postDecode scan.Transform
	overrides  map[operation.Kind]operation.Handler
}

// Option configures a Graph.
type Option func(*Graph)

// WithBatchSize sets the number of ranges per backend session.
func WithBatchSize(n int) Option {
	return func(g *Graph) {
		g.batchSize = n
	}
}

// WithStrictDecode fails reads on undecodable records instead of
// skipping them.
func WithStrictDecode(strict bool) Option {
	return func(g *Graph) {
		g.strict = strict
	}
}

// WithRollUp asks the backend to summarise same-key records before they
// are decoded.
func WithRollUp(on bool) Option {
	return func(g *Graph) {
		g.rollUp = on
	}
}

// WithPostDecodeTransform applies fn to every element read from the
// backend, before any view is applied.
func WithPostDecodeTransform(fn scan.Transform) Option {
	return func(g *Graph) {
		g.postDecode = fn
	}
}

// WithHandler replaces the built-in handler for kind.
func WithHandler(kind operation.Kind, h operation.Handler) Option {
	return func(g *Graph) {
		if g.overrides == nil {
			g.overrides = map[operation.Kind]operation.Handler{}
		}
		g.overrides[kind] = h
	}
}

// New returns a graph named id. It fails if any built-in operation kind
// is left without a handler.
func New(id string, s *schema.Schema, backend Backend, opts ...Option) (*Graph, error) {
	if id == "" {
		return nil, fmt.Errorf("graph id is required")
	}
	if s == nil || backend == nil {
		return nil, fmt.Errorf("graph %s: schema and backend are required", id)
	}
	g := &Graph{
		id:        id,
		schema:    s,
		backend:   backend,
		codec:     keys.NewCodec(s),
		registry:  operation.NewRegistry(),
		batchSize: scan.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.registerBuiltins()
	for kind, h := range g.overrides {
		g.registry.Register(kind, h)
	}
	if err := g.registry.Validate(operation.Kinds()...); err != nil {
		return nil, fmt.Errorf("graph %s: %w", id, err)
	}
	return g, nil
}

// ID returns the graph's id.
func (g *Graph) ID() string { return g.id }

// Schema returns the graph's schema.
func (g *Graph) Schema() *schema.Schema { return g.schema }

// Close closes the backend.
func (g *Graph) Close() error { return g.backend.Close() }

// Records returns how many raw records the backend holds. Records sharing a
// key are counted separately and an edge is stored once per endpoint.
func (g *Graph) Records(ctx context.Context) (int64, error) { return g.backend.Count(ctx) }

// Execute runs op on behalf of user with a fresh call id.
func (g *Graph) Execute(ctx context.Context, op *operation.Operation, user operation.User) (operation.Result, error) {
	return g.Handle(ctx, op, operation.NewContext(g.id, user))
}

// Handle runs op under an existing execution context. It implements
// operation.Handler so a federated store can dispatch to the graph
// directly.
func (g *Graph) Handle(ctx context.Context, op *operation.Operation, ectx operation.Context) (operation.Result, error) {
	ectx.MemberID = g.id
	start := time.Now()
	res, err := g.registry.Handle(ctx, op, ectx)
	if err != nil {
		slog.Debug("operation failed", "graph", g.id, "kind", op.Kind, "call_id", ectx.CallID, "error", err)
		return operation.Result{}, err
	}
	slog.Debug("operation dispatched", "graph", g.id, "kind", op.Kind, "call_id", ectx.CallID, "duration", time.Since(start))
	return res, nil
}
