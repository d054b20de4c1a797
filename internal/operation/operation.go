// Package operation describes the requests a graph executes and routes
// them to handlers through an explicit registry.
//
// An Operation is treated as read-only once it has been handed to an
// executor. Code that needs a private copy to mutate, such as a federated
// store attaching a member-specific view, calls ShallowClone first.
package operation

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/view"
)

// Kind identifies an operation type.
type Kind string

const (
	KindGetElements      Kind = "GetElements"
	KindGetAllElements   Kind = "GetAllElements"
	KindGetAdjacentIds   Kind = "GetAdjacentIds"
	KindAddElements      Kind = "AddElements"
	KindCountAllElements Kind = "CountAllElements"
	KindGetSchema        Kind = "GetSchema"
)

// Kinds returns every built-in kind.
func Kinds() []Kind {
	return []Kind{
		KindGetElements,
		KindGetAllElements,
		KindGetAdjacentIds,
		KindAddElements,
		KindCountAllElements,
		KindGetSchema,
	}
}

// ReturnsSequence reports whether the kind's result is an element
// sequence rather than a scalar.
func (k Kind) ReturnsSequence() bool {
	switch k {
	case KindGetElements, KindGetAllElements, KindGetAdjacentIds:
		return true
	}
	return false
}

// Option keys.
const (
	// OptionGraphIDs narrows a federated call to a comma separated list of
	// member ids.
	OptionGraphIDs = "fedgraph.federation.graphIds"
	// OptionIncludeIncomingOutgoing is either, outgoing or incoming.
	OptionIncludeIncomingOutgoing = "fedgraph.includeIncomingOutgoing"
	// OptionSeedMatching is related or equal.
	OptionSeedMatching = "fedgraph.seedMatching"
	// OptionSummarise turns aggregation off when "false".
	OptionSummarise = "fedgraph.summarise"
	// OptionValidate checks AddElements input against the schema.
	OptionValidate = "fedgraph.validate"
	// OptionSkipInvalidElements drops invalid AddElements input instead of
	// failing the operation.
	OptionSkipInvalidElements = "fedgraph.skipInvalidElements"
)

// Operation is one request to a graph.
type Operation struct {
	Kind Kind

	// Seeds are the lookup starting points of GetElements and
	// GetAdjacentIds.
	Seeds []element.Seed

	// Elements is the AddElements input.
	Elements []element.Element

	// View filters, transforms and summarises the results. Nil means
	// everything, unfiltered.
	View *view.View

	Options map[string]string
}

// Option returns the value of an option.
func (op *Operation) Option(key string) (string, bool) {
	v, ok := op.Options[key]
	return v, ok
}

// SetOption sets an option, allocating the map if needed.
func (op *Operation) SetOption(key, value string) {
	if op.Options == nil {
		op.Options = map[string]string{}
	}
	op.Options[key] = value
}

// BoolOption parses a boolean option. An absent option yields def.
func (op *Operation) BoolOption(key string, def bool) (bool, error) {
	v, ok := op.Options[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ValidationError{Kind: op.Kind, Message: fmt.Sprintf("option %s: %q is not a boolean", key, v)}
	}
	return b, nil
}

// ShallowClone returns a copy that shares no mutable state with op: the
// options map and the seed and element slices are copied, elements are
// cloned, and the view is copied.
func (op *Operation) ShallowClone() *Operation {
	out := &Operation{
		Kind:    op.Kind,
		Seeds:   slices.Clone(op.Seeds),
		View:    op.View.Clone(),
		Options: maps.Clone(op.Options),
	}
	if op.Elements != nil {
		out.Elements = make([]element.Element, len(op.Elements))
		for i, e := range op.Elements {
			out.Elements[i] = e.Clone()
		}
	}
	return out
}

// Validate checks the fields the kind needs.
func (op *Operation) Validate() error {
	switch op.Kind {
	case KindGetElements, KindGetAdjacentIds:
		if len(op.Seeds) == 0 {
			return &ValidationError{Kind: op.Kind, Message: "at least one seed is required"}
		}
		if op.Kind == KindGetAdjacentIds {
			for _, s := range op.Seeds {
				if _, ok := s.(element.EntitySeed); !ok {
					return &ValidationError{Kind: op.Kind, Message: "seeds must be entity seeds"}
				}
			}
		}
	case KindAddElements:
		if op.Elements == nil {
			return &ValidationError{Kind: op.Kind, Message: "elements are required"}
		}
	case KindGetAllElements, KindCountAllElements, KindGetSchema:
	default:
		return &ValidationError{Kind: op.Kind, Message: "unknown operation kind"}
	}
	return nil
}

// Result is what a handler returns: an element sequence for sequence
// kinds, a scalar otherwise. The caller owns Iterator and must close it.
type Result struct {
	Iterator element.Iterator
	Value    any
}

// Sequence wraps an iterator.
func Sequence(it element.Iterator) Result {
	return Result{Iterator: it}
}

// Scalar wraps a scalar value.
func Scalar(v any) Result {
	return Result{Value: v}
}

// IsSequence reports whether the result holds an iterator.
func (r Result) IsSequence() bool {
	return r.Iterator != nil
}

// Close releases the iterator, if any.
func (r Result) Close() error {
	if r.Iterator == nil {
		return nil
	}
	return r.Iterator.Close()
}
