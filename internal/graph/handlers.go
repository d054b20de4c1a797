package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/keys"
	"github.com/roach88/fedgraph/internal/operation"
	"github.com/roach88/fedgraph/internal/scan"
	"github.com/roach88/fedgraph/internal/view"
)

func (g *Graph) registerBuiltins() {
	g.registry.Register(operation.KindGetElements, operation.HandlerFunc(g.getElements))
	g.registry.Register(operation.KindGetAllElements, operation.HandlerFunc(g.getAllElements))
	g.registry.Register(operation.KindGetAdjacentIds, operation.HandlerFunc(g.getAdjacentIds))
	g.registry.Register(operation.KindAddElements, operation.HandlerFunc(g.addElements))
	g.registry.Register(operation.KindCountAllElements, operation.HandlerFunc(g.countAllElements))
	g.registry.Register(operation.KindGetSchema, operation.HandlerFunc(g.getSchema))
}

// read opens a lazy scan over ranges, keeps the records keep accepts and
// applies the operation's view.
func (g *Graph) read(op *operation.Operation, ectx operation.Context, ranges []scan.Range, keep func(element.Decoded) bool) (element.Iterator, error) {
	if err := op.View.Validate(g.schema); err != nil {
		return nil, err
	}
	summarise, err := op.BoolOption(operation.OptionSummarise, true)
	if err != nil {
		return nil, err
	}

	opts := []scan.Option{
		scan.WithBatchSize(g.batchSize),
		scan.WithStrictDecode(g.strict),
		scan.WithAuthorizations(ectx.User.Authorizations),
	}
	if g.rollUp {
		opts = append(opts, scan.WithRollUp(g.codec.Combiner()))
	}
	if g.postDecode != nil {
		opts = append(opts, scan.WithTransform(g.postDecode))
	}

	var it element.Iterator = scan.NewIterator(g.backend, ranges, keys.Decode, opts...)
	if keep != nil {
		it = element.Map(it, func(d element.Decoded) (element.Decoded, bool, error) {
			return d, keep(d), nil
		})
	}
	return view.NewPipeline(g.schema, op.View, view.WithSummarise(summarise)).Wrap(it), nil
}

func seedOptions(op *operation.Operation) (keys.SeedOptions, error) {
	matching, err := keys.ParseSeedMatching(op.Options[operation.OptionSeedMatching])
	if err != nil {
		return keys.SeedOptions{}, &operation.ValidationError{Kind: op.Kind, Message: err.Error()}
	}
	dir, err := keys.ParseDirection(op.Options[operation.OptionIncludeIncomingOutgoing])
	if err != nil {
		return keys.SeedOptions{}, &operation.ValidationError{Kind: op.Kind, Message: err.Error()}
	}
	return keys.SeedOptions{Matching: matching, Direction: dir}, nil
}

// getElements returns the elements the seeds match. An edge between two
// seeded vertices is stored under both and returned once, from its source.
func (g *Graph) getElements(_ context.Context, op *operation.Operation, ectx operation.Context) (operation.Result, error) {
	opts, err := seedOptions(op)
	if err != nil {
		return operation.Result{}, err
	}
	seeded := map[string]bool{}
	for _, s := range op.Seeds {
		if es, ok := s.(element.EntitySeed); ok {
			seeded[es.Vertex] = true
		}
	}
	keep := func(d element.Decoded) bool {
		return d.MatchedVertex != element.MatchedDestination || !seeded[d.Element.Source]
	}
	it, err := g.read(op, ectx, keys.RangesForSeeds(op.Seeds, opts), keep)
	if err != nil {
		return operation.Result{}, err
	}
	return operation.Sequence(it), nil
}

// storedUnderSource keeps entities and the copy of each edge stored under
// its source, so a full scan yields every element once.
func storedUnderSource(d element.Decoded) bool {
	return d.Element.Kind == element.KindEntity || d.MatchedVertex == element.MatchedSource
}

func (g *Graph) getAllElements(_ context.Context, op *operation.Operation, ectx operation.Context) (operation.Result, error) {
	it, err := g.read(op, ectx, keys.AllRange(), storedUnderSource)
	if err != nil {
		return operation.Result{}, err
	}
	return operation.Sequence(it), nil
}

// getAdjacentIds returns, for every edge touching a seed that survives
// the view, the vertex at the edge's other end.
func (g *Graph) getAdjacentIds(_ context.Context, op *operation.Operation, ectx operation.Context) (operation.Result, error) {
	opts, err := seedOptions(op)
	if err != nil {
		return operation.Result{}, err
	}
	opts.Matching = keys.MatchRelated
	isEdge := func(d element.Decoded) bool { return d.Element.Kind == element.KindEdge }
	it, err := g.read(op, ectx, keys.RangesForSeeds(op.Seeds, opts), isEdge)
	if err != nil {
		return operation.Result{}, err
	}
	adjacent := element.Map(it, func(d element.Decoded) (element.Decoded, bool, error) {
		v := d.Element.Destination
		if d.MatchedVertex == element.MatchedDestination {
			v = d.Element.Source
		}
		return element.Decoded{Element: element.Element{Kind: element.KindEntity, Vertex: v}}, true, nil
	})
	return operation.Sequence(adjacent), nil
}

// addElements writes op.Elements and returns how many were written.
func (g *Graph) addElements(ctx context.Context, op *operation.Operation, _ operation.Context) (operation.Result, error) {
	validate, err := op.BoolOption(operation.OptionValidate, true)
	if err != nil {
		return operation.Result{}, err
	}
	skipInvalid, err := op.BoolOption(operation.OptionSkipInvalidElements, false)
	if err != nil {
		return operation.Result{}, err
	}

	var (
		records []scan.RawRecord
		written int64
		skipped int
	)
	for i, e := range op.Elements {
		var invalid error
		if validate {
			invalid = g.schema.ValidateElement(e)
		}
		var recs []scan.RawRecord
		if invalid == nil {
			recs, invalid = g.codec.Encode(element.Decoded{Element: e})
		}
		if invalid != nil {
			if skipInvalid {
				skipped++
				slog.Warn("skipping invalid element", "graph", g.id, "element", e.String(), "error", invalid)
				continue
			}
			return operation.Result{}, fmt.Errorf("element %d (%s): %w", i, e, invalid)
		}
		records = append(records, recs...)
		written++
	}
	if err := g.backend.Write(ctx, records); err != nil {
		return operation.Result{}, fmt.Errorf("graph %s: %w", g.id, err)
	}
	slog.Info("elements added", "graph", g.id, "written", written, "skipped", skipped)
	return operation.Scalar(written), nil
}

func (g *Graph) countAllElements(ctx context.Context, op *operation.Operation, ectx operation.Context) (operation.Result, error) {
	it, err := g.read(op, ectx, keys.AllRange(), storedUnderSource)
	if err != nil {
		return operation.Result{}, err
	}
	n, err := element.CountElements(ctx, it)
	if err != nil {
		return operation.Result{}, fmt.Errorf("graph %s: count: %w", g.id, err)
	}
	return operation.Scalar(n), nil
}

func (g *Graph) getSchema(context.Context, *operation.Operation, operation.Context) (operation.Result, error) {
	return operation.Scalar(g.schema), nil
}
