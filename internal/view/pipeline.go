package view

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/schema"
)

// Pipeline applies a view to decoded elements read from a store:
//
//	pre-aggregation filter -> aggregation -> post-aggregation filter
//	  -> transformer -> post-transform filter
//
// Aggregation summarises records of one element that share the effective
// group-by values. Records of one element must arrive next to each other,
// which row-key ordering guarantees.
type Pipeline struct {
	schema    *schema.Schema
	view      *View
	summarise bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSummarise turns aggregation on or off. It is on by default.
func WithSummarise(on bool) PipelineOption {
	return func(p *Pipeline) {
		p.summarise = on
	}
}

// NewPipeline returns a pipeline for s and v. A nil view includes every
// group unfiltered.
func NewPipeline(s *schema.Schema, v *View, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{schema: s, view: v, summarise: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wrap returns an iterator over src with the view applied. Closing it
// closes src.
func (p *Pipeline) Wrap(src element.Iterator) element.Iterator {
	return &pipelineIterator{p: p, src: src}
}

// groupBy returns the effective group-by of an element's group, and
// whether the group is known to the schema.
func (p *Pipeline) groupBy(e element.Element) (*schema.Group, []string, bool) {
	g, ok := p.schema.Group(e.Group)
	if !ok {
		return nil, nil, false
	}
	if def, ok := p.view.Definition(e.Kind, e.Group); ok {
		return g, def.groupBy.Resolve(g.GroupBy), true
	}
	return g, g.GroupBy, true
}

func (p *Pipeline) preFilter(d element.Decoded) bool {
	def, ok := p.view.Definition(d.Element.Kind, d.Element.Group)
	if !ok {
		return true
	}
	return def.preAggregationFilter.Test(d.Element.Properties)
}

// aggregate summarises one run of records for a single element. Buckets
// keep the order in which their first record arrived.
func (p *Pipeline) aggregate(run []element.Decoded) ([]element.Decoded, error) {
	group, groupBy, known := p.groupBy(run[0].Element)
	if !known || len(run) == 1 {
		return run, nil
	}

	var (
		order   []string
		buckets = make(map[string]*element.Decoded)
	)
	for _, d := range run {
		key, err := aggregationKey(d.Element.Properties, groupBy)
		if err != nil {
			return nil, err
		}
		acc, ok := buckets[key]
		if !ok {
			c := d.Clone()
			buckets[key] = &c
			order = append(order, key)
			continue
		}
		if err := acc.Merge(d, group.Aggregate); err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", d.Element, err)
		}
	}
	out := make([]element.Decoded, len(order))
	for i, key := range order {
		out[i] = *buckets[key]
	}
	return out, nil
}

func aggregationKey(props element.Properties, groupBy []string) (string, error) {
	var sb strings.Builder
	for _, name := range groupBy {
		v, ok := props[name]
		if !ok {
			sb.WriteString("-\x00")
			continue
		}
		data, err := element.MarshalCanonical(v)
		if err != nil {
			return "", fmt.Errorf("group-by property %q: %w", name, err)
		}
		sb.WriteString("+")
		sb.Write(data)
		sb.WriteByte(0)
	}
	return sb.String(), nil
}

// finish runs the post-aggregation stages on one summarised element.
func (p *Pipeline) finish(d element.Decoded) (element.Decoded, bool, error) {
	def, ok := p.view.Definition(d.Element.Kind, d.Element.Group)
	if !ok {
		return d, true, nil
	}
	if !def.postAggregationFilter.Test(d.Element.Properties) {
		return d, false, nil
	}
	if def.transformer != nil {
		d = d.Clone()
		if d.Element.Properties == nil {
			d.Element.Properties = make(element.Properties)
		}
		if err := def.transformer.Apply(d.Element.Properties); err != nil {
			return d, false, fmt.Errorf("%s: %w", d.Element, err)
		}
	}
	return d, def.postTransformFilter.Test(d.Element.Properties), nil
}

type pipelineIterator struct {
	p      *Pipeline
	src    element.Iterator
	peeked *element.Decoded
	out    []element.Decoded
	cur    element.Decoded
	err    error
	done   bool
}

func (it *pipelineIterator) Next(ctx context.Context) bool {
	for {
		if len(it.out) > 0 {
			it.cur = it.out[0]
			it.out = it.out[1:]
			return true
		}
		if it.err != nil || it.done {
			return false
		}

		run := it.readRun(ctx)
		if it.err != nil {
			// A run cut short by a source error would summarise wrongly.
			continue
		}
		if len(run) == 0 {
			it.done = true
			continue
		}
		summarised := run
		if it.p.summarise {
			var err error
			if summarised, err = it.p.aggregate(run); err != nil {
				it.err = err
				continue
			}
		}
		for _, d := range summarised {
			out, keep, err := it.p.finish(d)
			if err != nil {
				it.err = err
				break
			}
			if keep {
				it.out = append(it.out, out)
			}
		}
	}
}

// readRun returns the next pre-filtered records that belong to one
// element: a single record when summarising is off.
func (it *pipelineIterator) readRun(ctx context.Context) []element.Decoded {
	first, ok := it.pull(ctx)
	if !ok {
		return nil
	}
	run := []element.Decoded{first}
	if !it.p.summarise {
		return run
	}
	id := first.Element.Identity()
	for {
		next, ok := it.pull(ctx)
		if !ok {
			return run
		}
		if next.Element.Identity() != id {
			it.peeked = &next
			return run
		}
		run = append(run, next)
	}
}

func (it *pipelineIterator) pull(ctx context.Context) (element.Decoded, bool) {
	if it.peeked != nil {
		d := *it.peeked
		it.peeked = nil
		return d, true
	}
	for it.src.Next(ctx) {
		d := it.src.Element()
		if it.p.preFilter(d) {
			return d, true
		}
	}
	if err := it.src.Err(); err != nil {
		it.err = err
	}
	return element.Decoded{}, false
}

func (it *pipelineIterator) Element() element.Decoded { return it.cur }

func (it *pipelineIterator) Err() error { return it.err }

func (it *pipelineIterator) Close() error { return it.src.Close() }
