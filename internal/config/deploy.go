package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/roach88/fedgraph/internal/federation"
	"github.com/roach88/fedgraph/internal/graph"
	"github.com/roach88/fedgraph/internal/operation"
	"github.com/roach88/fedgraph/internal/schema"
	"github.com/roach88/fedgraph/internal/store"
	"github.com/roach88/fedgraph/internal/store/badgerstore"
	"github.com/roach88/fedgraph/internal/view"
)

// Deployment is a loaded configuration: open member graphs behind one
// federated store.
type Deployment struct {
	Config *Config
	Store  *federation.Store
	graphs []*graph.Graph
}

// Graph returns the member graph with id.
func (d *Deployment) Graph(id string) (*graph.Graph, bool) {
	for _, g := range d.graphs {
		if g.ID() == id {
			return g, true
		}
	}
	return nil, false
}

// Graphs returns the member graphs in declaration order.
func (d *Deployment) Graphs() []*graph.Graph {
	return slices.Clone(d.graphs)
}

// Close closes every member graph.
func (d *Deployment) Close() error {
	var errs []error
	for _, g := range d.graphs {
		if err := g.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", g.ID(), err))
		}
	}
	d.graphs = nil
	return errors.Join(errs...)
}

// CoordinatorOptions translates the federation section.
func (c *Config) CoordinatorOptions() ([]federation.Option, error) {
	policy, err := federation.ParseFailurePolicy(c.Federation.FailurePolicy)
	if err != nil {
		return nil, err
	}
	ordering, err := federation.ParseOrdering(c.Federation.Ordering)
	if err != nil {
		return nil, err
	}
	opts := []federation.Option{
		federation.WithFailurePolicy(policy),
		federation.WithOrdering(ordering),
		federation.WithMemberTimeout(c.Federation.MemberTimeout),
		federation.WithRateLimit(c.Federation.RateLimit, c.Federation.RateBurst),
	}
	if c.Federation.Concurrency == "bounded-parallel" {
		opts = append(opts, federation.WithParallelism(c.Federation.Parallelism))
	}
	return opts, nil
}

// Build opens every member and returns the deployment. On error nothing
// is left open.
func Build(ctx context.Context, cfg *Config, extra ...federation.Option) (*Deployment, error) {
	opts, err := cfg.CoordinatorOptions()
	if err != nil {
		return nil, err
	}
	d := &Deployment{Config: cfg}
	members := make([]federation.Member, 0, len(cfg.Members))
	for _, mc := range cfg.Members {
		if err := ctx.Err(); err != nil {
			d.Close()
			return nil, err
		}
		g, v, err := openMember(mc, cfg.Scan)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("member %s: %w", mc.ID, err)
		}
		d.graphs = append(d.graphs, g)
		var h operation.Handler = g
		if len(mc.Authorizations) > 0 {
			h = grant(g, mc.Authorizations)
		}
		members = append(members, federation.Member{ID: mc.ID, Handler: h, View: v})
		slog.Info("member opened", "member", mc.ID, "backend", mc.Backend, "path", mc.Path)
	}

	d.Store, err = federation.NewStore(federation.NewCoordinator(append(opts, extra...)...), members)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func openMember(mc MemberConfig, sc ScanConfig) (*graph.Graph, *view.View, error) {
	s, err := schema.LoadDir(mc.SchemaDir)
	if err != nil {
		return nil, nil, err
	}
	var v *view.View
	if mc.ViewFile != "" {
		data, err := os.ReadFile(mc.ViewFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read view: %w", err)
		}
		if v, err = view.Parse(mc.ViewFile, data); err != nil {
			return nil, nil, err
		}
		if err := v.Validate(s); err != nil {
			return nil, nil, err
		}
	}

	backend, err := openBackend(mc)
	if err != nil {
		return nil, nil, err
	}
	g, err := graph.New(mc.ID, s, backend,
		graph.WithBatchSize(sc.BatchSize),
		graph.WithStrictDecode(sc.StrictDecode),
		graph.WithRollUp(sc.RollUp),
	)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return g, v, nil
}

func openBackend(mc MemberConfig) (graph.Backend, error) {
	switch mc.Backend {
	case "sqlite":
		return store.Open(mc.Path)
	case "badger":
		cfg := badgerstore.DefaultConfig(mc.Path)
		if mc.InMemory {
			cfg = badgerstore.InMemoryConfig()
		}
		cfg.Logger = slog.Default().With("member", mc.ID, "component", "badger")
		return badgerstore.Open(cfg)
	}
	return nil, fmt.Errorf("unknown backend %q", mc.Backend)
}

// grant adds the member's configured authorizations to every caller's.
func grant(h operation.Handler, auths []string) operation.Handler {
	return operation.HandlerFunc(func(ctx context.Context, op *operation.Operation, ectx operation.Context) (operation.Result, error) {
		merged := slices.Clone(ectx.User.Authorizations)
		for _, a := range auths {
			if !slices.Contains(merged, a) {
				merged = append(merged, a)
			}
		}
		ectx.User.Authorizations = merged
		return h.Handle(ctx, op, ectx)
	})
}
