// Package cftree implements the temporal CF-tree: a balanced in-memory index
// of microclusters organized by spatial proximity and temporal relevance.
//
// Incoming clusters either merge into an existing nearby entry, replace an
// entry that has decayed into irrelevance, or become a new entry; overfull
// nodes split and emptied nodes are condensed away. Nodes live in an arena
// and reference each other by index, so the structure carries no pointer
// cycles. One coarse mutex serializes all structural access: the tree is the
// single reduction point of a many-producer pipeline, and correctness of the
// multi-field aggregate invariants matters more than lock granularity here.
package cftree

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/vecmath"
)

// Config holds the tree parameters.
type Config struct {
	// MaxEntries caps the children per node; exceeding it splits the node.
	// Must be >= 2.
	MaxEntries int
	// OverlapFactor scales radii in the absorb decision. Must be >= 0.
	OverlapFactor float64
	// Lambda is the temporal decay rate, in (0,1).
	Lambda float64
	// SparseFactor is the minimum relevance ratio below which an entry is
	// evictable, in (0,1).
	SparseFactor float64
}

// DefaultConfig returns the index tuning used unless overridden.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    8,
		OverlapFactor: 1.0,
		Lambda:        0.9998,
		SparseFactor:  0.25,
	}
}

// Validate rejects parameter values outside their documented domains.
func (c Config) Validate() error {
	if c.MaxEntries < 2 {
		return fmt.Errorf("%w: max entries %d below 2", feature.ErrInvalidParameter, c.MaxEntries)
	}
	if c.OverlapFactor < 0 {
		return fmt.Errorf("%w: overlap factor %v negative", feature.ErrInvalidParameter, c.OverlapFactor)
	}
	if c.Lambda <= 0 || c.Lambda >= 1 {
		return fmt.Errorf("%w: lambda %v outside (0,1)", feature.ErrInvalidParameter, c.Lambda)
	}
	if c.SparseFactor <= 0 || c.SparseFactor >= 1 {
		return fmt.Errorf("%w: sparse factor %v outside (0,1)", feature.ErrInvalidParameter, c.SparseFactor)
	}
	return nil
}

// Tree is the temporal CF-tree. All methods are safe for concurrent use;
// every structural operation runs under one exclusive lock.
type Tree struct {
	mu  sync.Mutex
	cfg Config

	nodes []node
	free  []int
	root  int
	dim   int
	size  int

	lastMod atomic.Int64
}

// InsertResult reports the side effects of one Insert so the caller can keep
// the external store consistent: Updated clusters need a write-through,
// Evicted clusters need a store delete.
type InsertResult struct {
	// Updated holds the clusters whose statistics changed: the absorbing
	// entry's cluster, or the inserted cluster itself.
	Updated []*feature.ClusterFeature
	// Evicted holds clusters removed as temporally irrelevant.
	Evicted []*feature.ClusterFeature
	// Absorbed is true when the incoming cluster merged into an existing
	// entry instead of becoming one.
	Absorbed bool
}

// New creates an empty tree, validating the configuration up front.
func New(cfg Config) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tree{cfg: cfg, root: nilNode}, nil
}

// Len returns the number of leaf entries.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// LastModified returns the wall-clock nanosecond stamp of the last
// structural mutation. The sweeper compares stamps across cycles to detect
// a quiet tree.
func (t *Tree) LastModified() int64 {
	return t.lastMod.Load()
}

func (t *Tree) touch() {
	t.lastMod.Store(time.Now().UnixNano())
}

// Insert places a cluster into the tree.
//
// The target leaf is the one whose subtree centroid is nearest the cluster's
// center. Within the leaf, in order: a singleton on either side is accepted
// into the nearest entry within twice the established side's radius; a
// temporally relevant nearest entry that spatially overlaps absorbs the
// cluster; an irrelevant entry is evicted and replaced; otherwise the
// cluster becomes a new entry, splitting the leaf on overflow.
func (t *Tree) Insert(cf *feature.ClusterFeature) (InsertResult, error) {
	if cf.Count < 1 {
		return InsertResult{}, fmt.Errorf("%w: cluster count %v below 1", feature.ErrInvalidParameter, cf.Count)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == nilNode {
		t.dim = cf.Dim()
		t.root = t.alloc(true)
		return t.insertEntry(t.root, cf), nil
	}

	if cf.Dim() != t.dim {
		return InsertResult{}, fmt.Errorf("%w: cluster dimension %d, tree dimension %d",
			feature.ErrDimensionMismatch, cf.Dim(), t.dim)
	}

	leafIdx := t.chooseLeaf(cf)
	leaf := &t.nodes[leafIdx]
	nowMS := cf.LastAbsorbed

	nearest := 0
	nearestDist := math.Inf(1)
	for i, e := range leaf.entries {
		if d := e.Feature.CenterDistance(cf); d < nearestDist {
			nearest, nearestDist = i, d
		}
	}
	e := leaf.entries[nearest]

	if cf.Count == 1 || e.Feature.Count == 1 {
		// Orphan rule: singletons have no meaningful radius of their own,
		// so the established side's radius decides, doubled.
		r := e.Feature.Radius()
		if cf.Count > 1 {
			r = cf.Radius()
		}
		if nearestDist <= 2*r {
			return t.absorb(leafIdx, e, cf), nil
		}
	} else if e.Relevant(nowMS, t.cfg.Lambda, t.cfg.SparseFactor) &&
		e.Feature.SpatiallyOverlaps(cf, t.cfg.OverlapFactor) {
		return t.absorb(leafIdx, e, cf), nil
	}

	// A decayed entry gives up its slot before the leaf is allowed to grow.
	for i, cand := range leaf.entries {
		if cand.Relevant(nowMS, t.cfg.Lambda, t.cfg.SparseFactor) {
			continue
		}
		t.removeEntry(leafIdx, i)
		res := t.insertEntry(leafIdx, cf)
		res.Evicted = append(res.Evicted, cand.Feature)
		return res, nil
	}

	return t.insertEntry(leafIdx, cf), nil
}

// chooseLeaf descends from the root, at each level picking the child whose
// aggregate centroid is nearest the cluster's center.
func (t *Tree) chooseLeaf(cf *feature.ClusterFeature) int {
	center := cf.Center()
	idx := t.root
	for !t.nodes[idx].leaf {
		children := t.nodes[idx].children
		best := children[0]
		bestDist := math.Inf(1)
		for _, ci := range children {
			if d := vecmath.SquaredDistance(center, t.nodes[ci].center()); d < bestDist {
				best, bestDist = ci, d
			}
		}
		idx = best
	}
	return idx
}

// absorb merges cf into an existing entry and propagates the statistics
// delta to all ancestors. The density cache is bumped against the entry's
// pre-merge absorption time.
func (t *Tree) absorb(leafIdx int, e *Entry, cf *feature.ClusterFeature) InsertResult {
	e.bump(cf.LastAbsorbed, t.cfg.Lambda)
	_ = e.Feature.Merge(cf) // dimensions verified on entry to Insert

	t.applyDelta(leafIdx, cf.Count, cf.LinearSum)
	t.touch()

	return InsertResult{Updated: []*feature.ClusterFeature{e.Feature}, Absorbed: true}
}

// insertEntry appends cf as a fresh entry, splitting on overflow.
func (t *Tree) insertEntry(leafIdx int, cf *feature.ClusterFeature) InsertResult {
	leaf := &t.nodes[leafIdx]
	leaf.entries = append(leaf.entries, newEntry(cf, t.cfg.Lambda))
	t.size++

	t.applyDelta(leafIdx, cf.Count, cf.LinearSum)
	if len(t.nodes[leafIdx].entries) > t.cfg.MaxEntries {
		t.split(leafIdx)
	}
	t.touch()

	return InsertResult{Updated: []*feature.ClusterFeature{cf}}
}

// removeEntry drops the i-th entry of a leaf and subtracts its statistics
// from all ancestors. The caller condenses if the leaf ends up empty.
func (t *Tree) removeEntry(leafIdx, i int) {
	leaf := &t.nodes[leafIdx]
	cf := leaf.entries[i].Feature
	leaf.entries = append(leaf.entries[:i], leaf.entries[i+1:]...)
	t.size--
	t.applyDelta(leafIdx, -cf.Count, negate(cf.LinearSum))
}

// Sweep evicts every temporally irrelevant entry as of now, condenses
// emptied nodes, and returns the evicted clusters for store cleanup.
func (t *Tree) Sweep(now time.Time) []*feature.ClusterFeature {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(now.UnixMilli())
}

// TrySweep is the cooperative variant used by the background sweeper: it
// gives up immediately when the lock is contended, and again when the tree
// was mutated after lastSeen was observed. Returns ok=false in both cases.
func (t *Tree) TrySweep(now time.Time, lastSeen int64) ([]*feature.ClusterFeature, bool) {
	if !t.mu.TryLock() {
		return nil, false
	}
	defer t.mu.Unlock()

	if t.lastMod.Load() != lastSeen {
		return nil, false
	}
	return t.sweepLocked(now.UnixMilli()), true
}

func (t *Tree) sweepLocked(nowMS int64) []*feature.ClusterFeature {
	if t.root == nilNode {
		return nil
	}

	var evicted []*feature.ClusterFeature
	var emptied []int

	for idx := range t.nodes {
		n := &t.nodes[idx]
		if !n.leaf || !t.inTree(idx) {
			continue
		}
		for i := len(n.entries) - 1; i >= 0; i-- {
			if n.entries[i].Relevant(nowMS, t.cfg.Lambda, t.cfg.SparseFactor) {
				continue
			}
			evicted = append(evicted, n.entries[i].Feature)
			t.removeEntry(idx, i)
		}
		if len(n.entries) == 0 {
			emptied = append(emptied, idx)
		}
	}

	for _, idx := range emptied {
		t.condense(idx)
	}

	if len(evicted) > 0 {
		t.touch()
	}
	return evicted
}

// inTree reports whether the arena slot is currently linked under the root,
// as opposed to sitting on the free list.
func (t *Tree) inTree(idx int) bool {
	for idx != nilNode {
		if idx == t.root {
			return true
		}
		idx = t.nodes[idx].parent
	}
	return false
}

// Features returns a snapshot of all clusters currently indexed. The
// returned features are deep copies; mutating them does not affect the tree.
func (t *Tree) Features() []*feature.ClusterFeature {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*feature.ClusterFeature, 0, t.size)
	for idx := range t.nodes {
		n := &t.nodes[idx]
		if !n.leaf || !t.inTree(idx) {
			continue
		}
		for _, e := range n.entries {
			out = append(out, e.Feature.Clone())
		}
	}
	return out
}
