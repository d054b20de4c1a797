// Package scan pages a sequence of key ranges through bounded backing
// store sessions and decodes the raw records into elements.
//
// The Iterator never holds more than one Session open. Sessions are
// opened on demand and closed as soon as their batch is exhausted, the
// iterator is closed, or an error stops iteration.
package scan

import (
	"bytes"
	"encoding/hex"
	"slices"
)

// Range is a half-open key range [Start, End). A nil End is unbounded.
type Range struct {
	Start []byte
	End   []byte
}

// PrefixRange returns the range of all keys starting with prefix.
func PrefixRange(prefix []byte) Range {
	return Range{Start: slices.Clone(prefix), End: prefixEnd(prefix)}
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix, or nil when there is none.
func prefixEnd(prefix []byte) []byte {
	end := slices.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// All is the range covering every key.
func All() Range {
	return Range{}
}

// Contains reports whether key falls inside r.
func (r Range) Contains(key []byte) bool {
	if bytes.Compare(key, r.Start) < 0 {
		return false
	}
	return r.End == nil || bytes.Compare(key, r.End) < 0
}

// String renders the range in hex for logs.
func (r Range) String() string {
	end := "+inf"
	if r.End != nil {
		end = hex.EncodeToString(r.End)
	}
	return "[" + hex.EncodeToString(r.Start) + ", " + end + ")"
}

// Normalize sorts ranges by start and merges overlapping or touching
// ranges. Empty ranges are dropped.
func Normalize(ranges []Range) []Range {
	var in []Range
	for _, r := range ranges {
		if r.End != nil && bytes.Compare(r.Start, r.End) >= 0 {
			continue
		}
		in = append(in, r)
	}
	slices.SortFunc(in, func(a, b Range) int {
		return bytes.Compare(a.Start, b.Start)
	})

	var out []Range
	for _, r := range in {
		if len(out) == 0 {
			out = append(out, r)
			continue
		}
		last := &out[len(out)-1]
		if last.End == nil {
			continue
		}
		if bytes.Compare(r.Start, last.End) <= 0 {
			if r.End == nil || bytes.Compare(r.End, last.End) > 0 {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
