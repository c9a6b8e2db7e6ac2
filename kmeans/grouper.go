package kmeans

import (
	"fmt"

	"github.com/hupe1980/streamclust/feature"
)

// Grouper partitions a time-sorted point stream into temporally dense
// groups. It maintains a decaying arrival density; a point joins the open
// group while the density's relevance ratio stays at or above the sparse
// factor, otherwise the group is closed and a new one starts.
//
// Grouper is not safe for concurrent use; each producer owns its own.
type Grouper struct {
	lambda       float64
	sparseFactor float64

	density float64
	lastTS  int64
	buf     []feature.Point
}

// NewGrouper creates a Grouper. lambda and sparseFactor must lie in (0,1).
func NewGrouper(lambda, sparseFactor float64) (*Grouper, error) {
	if lambda <= 0 || lambda >= 1 {
		return nil, fmt.Errorf("%w: lambda %v outside (0,1)", feature.ErrInvalidParameter, lambda)
	}
	if sparseFactor <= 0 || sparseFactor >= 1 {
		return nil, fmt.Errorf("%w: sparse factor %v outside (0,1)", feature.ErrInvalidParameter, sparseFactor)
	}
	return &Grouper{lambda: lambda, sparseFactor: sparseFactor}, nil
}

// Offer feeds the next point of the stream. When the point's arrival closes
// the current group, that group is returned and the point opens a new one;
// otherwise Offer returns nil.
func (g *Grouper) Offer(p feature.Point) []feature.Point {
	if len(g.buf) == 0 {
		g.open(p)
		return nil
	}

	next := feature.NextDensity(g.density, p.Timestamp-g.lastTS, g.lambda)
	if feature.Relevance(next, g.lambda) >= g.sparseFactor {
		g.density = next
		g.lastTS = p.Timestamp
		g.buf = append(g.buf, p)
		return nil
	}

	closed := g.buf
	g.buf = nil
	g.open(p)
	return closed
}

// Flush closes and returns the pending group, if any. Call at end of stream
// or on batch boundaries.
func (g *Grouper) Flush() []feature.Point {
	closed := g.buf
	g.buf = nil
	return closed
}

// Pending returns the number of buffered points in the open group.
func (g *Grouper) Pending() int { return len(g.buf) }

// A fresh group starts saturated: the opening point is maximally relevant
// to itself.
func (g *Grouper) open(p feature.Point) {
	g.density = feature.MaxDensity(g.lambda)
	g.lastTS = p.Timestamp
	g.buf = append(g.buf, p)
}
