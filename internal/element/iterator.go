package element

import (
	"context"
	"fmt"
)

// Iterator is a lazy, closeable sequence of decoded elements.
//
// Usage:
//
//	defer it.Close()
//	for it.Next(ctx) {
//	    d := it.Element()
//	}
//	if err := it.Err(); err != nil { ... }
//
// Next advances only on demand. Once Next returns false it keeps
// returning false. Close releases every resource the iterator holds and
// may be called any number of times.
type Iterator interface {
	Next(ctx context.Context) bool
	Element() Decoded
	Err() error
	Close() error
}

type sliceIterator struct {
	items  []Decoded
	pos    int
	cur    Decoded
	closed bool
}

// FromSlice returns an iterator over items.
func FromSlice(items ...Decoded) Iterator {
	return &sliceIterator{items: items}
}

// Empty returns an iterator with no elements.
func Empty() Iterator {
	return &sliceIterator{}
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if it.closed || it.pos >= len(it.items) {
		return false
	}
	it.cur = it.items[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Element() Decoded { return it.cur }
func (it *sliceIterator) Err() error       { return nil }

func (it *sliceIterator) Close() error {
	it.closed = true
	return nil
}

// Drain consumes it to the end and closes it.
func Drain(ctx context.Context, it Iterator) ([]Decoded, error) {
	var out []Decoded
	for it.Next(ctx) {
		out = append(out, it.Element())
	}
	err := it.Err()
	if cerr := it.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close: %w", cerr)
	}
	return out, err
}

// CountElements consumes it to the end, closes it and returns how many
// elements it produced.
func CountElements(ctx context.Context, it Iterator) (int64, error) {
	var n int64
	for it.Next(ctx) {
		n++
	}
	err := it.Err()
	if cerr := it.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close: %w", cerr)
	}
	return n, err
}

// MapFunc rewrites or drops one element. Returning keep=false drops it.
// An error stops iteration and is reported by Err.
type MapFunc func(d Decoded) (out Decoded, keep bool, err error)

type mapIterator struct {
	src Iterator
	fn  MapFunc
	cur Decoded
	err error
}

// Map wraps src so that each element passes through fn. Closing the
// result closes src.
func Map(src Iterator, fn MapFunc) Iterator {
	return &mapIterator{src: src, fn: fn}
}

func (it *mapIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for it.src.Next(ctx) {
		out, keep, err := it.fn(it.src.Element())
		if err != nil {
			it.err = err
			return false
		}
		if keep {
			it.cur = out
			return true
		}
	}
	return false
}

func (it *mapIterator) Element() Decoded { return it.cur }

func (it *mapIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.src.Err()
}

func (it *mapIterator) Close() error { return it.src.Close() }
