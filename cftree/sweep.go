package cftree

import (
	"time"

	"github.com/hupe1980/streamclust/feature"
)

// Sweeper periodically evicts temporally irrelevant entries from a tree.
//
// It is advisory and cooperative: a cycle is skipped when the tree mutated
// since the previous look, or when the tree lock is contended, so a pending
// insert is never blocked. The owner controls the lifecycle explicitly via
// Start and Stop; the tree itself never spawns goroutines.
type Sweeper struct {
	tree     *Tree
	interval time.Duration
	onEvict  func([]*feature.ClusterFeature)

	stop chan struct{}
	done chan struct{}
}

// NewSweeper creates a sweeper for the tree. onEvict, if non-nil, receives
// the clusters evicted by each productive cycle (e.g. to delete them from
// the external store); it is called from the sweeper goroutine without the
// tree lock held.
func NewSweeper(tree *Tree, interval time.Duration, onEvict func([]*feature.ClusterFeature)) *Sweeper {
	return &Sweeper{
		tree:     tree,
		interval: interval,
		onEvict:  onEvict,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Call Stop to terminate it.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop terminates the background loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastSeen int64

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			mod := s.tree.LastModified()
			if mod != lastSeen {
				// The tree is hot; remember the stamp and wait for a
				// quiet interval.
				lastSeen = mod
				continue
			}

			evicted, ok := s.tree.TrySweep(time.Now(), mod)
			if !ok {
				continue
			}
			lastSeen = s.tree.LastModified()

			if len(evicted) > 0 && s.onEvict != nil {
				s.onEvict(evicted)
			}
		}
	}
}
