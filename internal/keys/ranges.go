package keys

import (
	"fmt"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/scan"
)

// SeedMatching controls how much a seed matches.
type SeedMatching string

const (
	// MatchRelated: an entity seed matches the vertex's entities and the
	// edges touching it; an edge seed matches the edge and both ends'
	// entities.
	MatchRelated SeedMatching = "related"
	// MatchEqual: an entity seed matches only entities and an edge seed
	// only the edge.
	MatchEqual SeedMatching = "equal"
)

// ParseSeedMatching parses an option value. Empty means related.
func ParseSeedMatching(s string) (SeedMatching, error) {
	switch SeedMatching(s) {
	case "", MatchRelated:
		return MatchRelated, nil
	case MatchEqual:
		return MatchEqual, nil
	}
	return "", fmt.Errorf("unknown seed matching %q", s)
}

// Direction restricts which edges an entity seed matches.
type Direction string

const (
	DirectionEither   Direction = "either"
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// ParseDirection parses an option value. Empty means either.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", DirectionEither:
		return DirectionEither, nil
	case DirectionOutgoing, DirectionIncoming:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// SeedOptions tune RangesForSeeds.
type SeedOptions struct {
	Matching  SeedMatching
	Direction Direction
}

// RangesForSeeds returns the sorted, merged ranges that hold every row a
// seed matches. Undirected edges count as both outgoing and incoming.
func RangesForSeeds(seeds []element.Seed, opts SeedOptions) []scan.Range {
	var ranges []scan.Range
	add := func(prefix []byte) {
		ranges = append(ranges, scan.PrefixRange(prefix))
	}

	for _, seed := range seeds {
		switch s := seed.(type) {
		case element.EntitySeed:
			if opts.Matching == MatchEqual {
				add(typePrefix(s.Vertex, TypeEntity))
				continue
			}
			switch opts.Direction {
			case DirectionOutgoing:
				add(typePrefix(s.Vertex, TypeEntity))
				add(typePrefix(s.Vertex, TypeDirected))
				add(typePrefix(s.Vertex, TypeUndirected))
			case DirectionIncoming:
				add(typePrefix(s.Vertex, TypeEntity))
				add(typePrefix(s.Vertex, TypeDirectedReverse))
				add(typePrefix(s.Vertex, TypeUndirected))
			default:
				add(vertexPrefix(s.Vertex))
			}

		case element.EdgeSeed:
			s = element.NewEdgeSeed(s.Source, s.Destination, s.Directed)
			if s.Directed {
				add(edgePrefix(s.Source, TypeDirected, s.Destination))
			} else {
				add(edgePrefix(s.Source, TypeUndirected, s.Destination))
			}
			if opts.Matching != MatchEqual {
				add(typePrefix(s.Source, TypeEntity))
				add(typePrefix(s.Destination, TypeEntity))
			}
		}
	}
	return scan.Normalize(ranges)
}

// AllRange covers every row.
func AllRange() []scan.Range {
	return []scan.Range{scan.All()}
}
