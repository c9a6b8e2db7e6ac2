package cftree

import (
	"slices"

	"github.com/hupe1980/streamclust/vecmath"
)

// nilNode marks an absent arena reference.
const nilNode = -1

// node is one tree node, held in the tree's arena and referenced by index.
// An internal node's children are node indexes; a leaf's children are
// Entries. Every node carries an exact running aggregate (count and weighted
// linear sum) over all descendant entries, maintained incrementally on every
// mutation.
type node struct {
	parent   int
	leaf     bool
	children []int
	entries  []*Entry

	count float64
	sum   []float64
}

// center returns the aggregate centroid sum/count. Only valid while the
// node holds at least one descendant entry.
func (n *node) center() []float64 {
	c := slices.Clone(n.sum)
	if n.count > 0 {
		vecmath.ScaleInPlace(c, 1/n.count)
	}
	return c
}

// width returns the number of direct children (entries for a leaf).
func (n *node) width() int {
	if n.leaf {
		return len(n.entries)
	}
	return len(n.children)
}

// alloc takes a node slot from the free list or grows the arena.
func (t *Tree) alloc(leaf bool) int {
	if len(t.free) > 0 {
		idx := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		t.nodes[idx] = node{parent: nilNode, leaf: leaf, sum: make([]float64, t.dim)}
		return idx
	}
	t.nodes = append(t.nodes, node{parent: nilNode, leaf: leaf, sum: make([]float64, t.dim)})
	return len(t.nodes) - 1
}

// release returns a node slot to the free list.
func (t *Tree) release(idx int) {
	t.nodes[idx] = node{parent: nilNode}
	t.free = append(t.free, idx)
}

// applyDelta adds (countDelta, sumDelta) to the aggregates of idx and every
// ancestor. This is the single place ancestor aggregates change, keeping
// them an exact sum over descendant entries.
func (t *Tree) applyDelta(idx int, countDelta float64, sumDelta []float64) {
	for idx != nilNode {
		n := &t.nodes[idx]
		n.count += countDelta
		vecmath.AddInPlace(n.sum, sumDelta)
		idx = n.parent
	}
}

// negate returns -v, for removal deltas.
func negate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = -v[i]
	}
	return out
}

// split divides an overfull node into itself plus a new sibling, recursing
// upward while ancestors overflow.
//
// Seeding follows nearest-neighbor chaining: the new sibling starts with the
// child farthest from the node's first child, and every remaining child goes
// to whichever side already holds its nearest member. This preserves spatial
// locality better than a round-robin redistribution.
func (t *Tree) split(idx int) {
	siblingIdx := t.alloc(t.nodes[idx].leaf)

	n := &t.nodes[idx]
	positions := make([][]float64, n.width())
	if n.leaf {
		for i, e := range n.entries {
			positions[i] = e.Feature.Center()
		}
	} else {
		for i, ci := range n.children {
			positions[i] = t.nodes[ci].center()
		}
	}

	seed := 0
	for i, pos := range positions {
		if vecmath.SquaredDistance(positions[0], pos) > vecmath.SquaredDistance(positions[0], positions[seed]) {
			seed = i
		}
	}

	left := []int{0}
	right := []int{seed}
	if seed == 0 {
		// Degenerate geometry (all positions coincide): fall back to an
		// arbitrary second seed.
		right = []int{len(positions) - 1}
	}

	for i := range positions {
		if i == left[0] || i == right[0] {
			continue
		}
		dl := nearestMember(positions, left, i)
		dr := nearestMember(positions, right, i)
		if dl <= dr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	sibling := &t.nodes[siblingIdx]
	sibling.parent = n.parent

	if n.leaf {
		entries := n.entries
		n.entries = pickEntries(entries, left)
		sibling.entries = pickEntries(entries, right)
	} else {
		children := n.children
		n.children = pickInts(children, left)
		sibling.children = pickInts(children, right)
		for _, ci := range sibling.children {
			t.nodes[ci].parent = siblingIdx
		}
	}

	t.recomputeAggregate(idx)
	t.recomputeAggregate(siblingIdx)

	if n.parent == nilNode {
		rootIdx := t.alloc(false)
		root := &t.nodes[rootIdx]
		root.children = []int{idx, siblingIdx}
		root.count = t.nodes[idx].count + t.nodes[siblingIdx].count
		vecmath.AddInPlace(root.sum, t.nodes[idx].sum)
		vecmath.AddInPlace(root.sum, t.nodes[siblingIdx].sum)
		t.nodes[idx].parent = rootIdx
		t.nodes[siblingIdx].parent = rootIdx
		t.root = rootIdx
		return
	}

	parent := &t.nodes[n.parent]
	parent.children = append(parent.children, siblingIdx)
	if len(parent.children) > t.cfg.MaxEntries {
		t.split(n.parent)
	}
}

// recomputeAggregate rebuilds a single node's aggregate from its direct
// children. Used after a split redistributes children; ancestors are
// unaffected because the split moves no statistics across the parent.
func (t *Tree) recomputeAggregate(idx int) {
	n := &t.nodes[idx]
	n.count = 0
	for i := range n.sum {
		n.sum[i] = 0
	}
	if n.leaf {
		for _, e := range n.entries {
			n.count += e.Feature.Count
			vecmath.AddInPlace(n.sum, e.Feature.LinearSum)
		}
		return
	}
	for _, ci := range n.children {
		n.count += t.nodes[ci].count
		vecmath.AddInPlace(n.sum, t.nodes[ci].sum)
	}
}

// condense removes a now-empty node and walks upward, then collapses a
// single-child internal root.
func (t *Tree) condense(idx int) {
	for idx != nilNode && t.nodes[idx].width() == 0 {
		parentIdx := t.nodes[idx].parent
		if parentIdx == nilNode {
			// Empty root: the tree is empty again.
			t.release(idx)
			t.root = nilNode
			return
		}
		parent := &t.nodes[parentIdx]
		parent.children = slices.DeleteFunc(parent.children, func(ci int) bool { return ci == idx })
		t.release(idx)
		idx = parentIdx
	}

	for t.root != nilNode && !t.nodes[t.root].leaf && len(t.nodes[t.root].children) == 1 {
		old := t.root
		t.root = t.nodes[old].children[0]
		t.nodes[t.root].parent = nilNode
		t.release(old)
	}
}

func nearestMember(positions [][]float64, members []int, i int) float64 {
	best := vecmath.SquaredDistance(positions[members[0]], positions[i])
	for _, m := range members[1:] {
		if d := vecmath.SquaredDistance(positions[m], positions[i]); d < best {
			best = d
		}
	}
	return best
}

func pickEntries(entries []*Entry, idxs []int) []*Entry {
	out := make([]*Entry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, entries[i])
	}
	return out
}

func pickInts(values []int, idxs []int) []int {
	out := make([]int, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, values[i])
	}
	return out
}
