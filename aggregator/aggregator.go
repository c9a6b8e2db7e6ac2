// Package aggregator compacts persisted microclusters over a time horizon.
//
// The aggregator mirrors the index's overlap merge decision, but applied to
// stored clusters rather than the in-memory tree: within a horizon, every
// pair of overlapping microclusters is folded together, the larger absorbing
// the smaller, and the survivors become superclusters.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/store"
)

// Options configures the Aggregator.
type Options struct {
	// OverlapFactor scales both radii in the merge decision. Defaults to 1.
	OverlapFactor float64

	// StoreOpsPerSecond throttles store reads and writes. Zero means
	// unlimited.
	StoreOpsPerSecond float64

	// Logger receives progress logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Result summarizes one aggregation run.
type Result struct {
	// Candidates is the number of microclusters considered.
	Candidates int

	// Merges is the number of pairwise merges performed.
	Merges int

	// Deleted is the number of merged-away clusters removed from the store.
	Deleted int
}

// Aggregator merges overlapping persisted microclusters. A run walks the
// store's day-bucketed time index across the horizon, merges overlapping
// pairs, deletes the merged-away clusters and writes the survivors back.
//
// A run executes to completion or returns the first store error. Two runs
// must not execute concurrently against the same store.
type Aggregator struct {
	store   store.Store
	opts    Options
	limiter *rate.Limiter
}

// New creates an Aggregator over the given store.
func New(s store.Store, optFns ...func(o *Options)) (*Aggregator, error) {
	opts := Options{
		OverlapFactor: 1,
		Logger:        slog.Default(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.OverlapFactor <= 0 {
		return nil, fmt.Errorf("%w: overlap factor must be positive", feature.ErrInvalidParameter)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.StoreOpsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.StoreOpsPerSecond), 1)
	}

	return &Aggregator{
		store:   s,
		opts:    opts,
		limiter: limiter,
	}, nil
}

// Run merges overlapping microclusters whose last absorption lies in
// [from, to), advancing day bucket by day bucket.
func (a *Aggregator) Run(ctx context.Context, from, to time.Time) (*Result, error) {
	result := &Result{}

	candidates, err := a.collect(ctx, from, to)
	if err != nil {
		return nil, err
	}
	result.Candidates = len(candidates)

	a.opts.Logger.Info("aggregation started",
		slog.Time("from", from), slog.Time("to", to),
		slog.Int("candidates", len(candidates)),
	)

	survivors, removed := a.merge(candidates, result)

	for _, id := range removed {
		if err := a.throttled(ctx, func() error {
			return a.store.Delete(ctx, id)
		}); err != nil {
			return nil, fmt.Errorf("delete merged cluster %s: %w", id, err)
		}

		result.Deleted++
	}

	for _, cf := range survivors {
		if !cf.Dirty() {
			continue
		}

		if err := a.throttled(ctx, func() error {
			return a.store.Put(ctx, cf)
		}); err != nil {
			return nil, fmt.Errorf("write back cluster %s: %w", cf.ID, err)
		}

		cf.MarkClean()
	}

	a.opts.Logger.Info("aggregation finished",
		slog.Int("merges", result.Merges), slog.Int("deleted", result.Deleted),
	)

	return result, nil
}

// collect walks the horizon's day buckets through the secondary time index
// and loads every microcluster candidate. Superclusters are skipped; they
// are already the product of a previous compaction.
func (a *Aggregator) collect(ctx context.Context, from, to time.Time) ([]*feature.ClusterFeature, error) {
	var out []*feature.ClusterFeature

	fromMS, toMS := from.UnixMilli(), to.UnixMilli()

	for day := store.DayBucket(fromMS); day.Before(to); day = day.AddDate(0, 0, 1) {
		var count int
		if err := a.throttled(ctx, func() error {
			var err error
			count, err = a.store.IndexCount(ctx, day)
			return err
		}); err != nil {
			return nil, fmt.Errorf("index count %s: %w", day.Format(time.DateOnly), err)
		}

		if count == 0 {
			continue
		}

		var ids []string
		if err := a.throttled(ctx, func() error {
			var err error
			ids, err = a.store.IndexEntries(ctx, day, from.Unix(), to.Unix())
			return err
		}); err != nil {
			return nil, fmt.Errorf("index entries %s: %w", day.Format(time.DateOnly), err)
		}

		for _, id := range ids {
			var cf *feature.ClusterFeature

			err := a.throttled(ctx, func() error {
				var err error
				cf, err = a.store.Get(ctx, id)
				return err
			})
			if errors.Is(err, store.ErrNotFound) {
				continue // index raced a delete
			}
			if err != nil {
				return nil, fmt.Errorf("load cluster %s: %w", id, err)
			}

			if cf.IsSuper() {
				continue
			}

			if cf.LastAbsorbed >= fromMS && cf.LastAbsorbed < toMS {
				out = append(out, cf)
			}
		}
	}

	return out, nil
}

// merge repeatedly scans all candidate pairs, folding any overlapping pair
// into the larger cluster and restarting the scan after every merge.
// Candidates are processed smallest first so small clusters disappear into
// large ones early.
func (a *Aggregator) merge(candidates []*feature.ClusterFeature, result *Result) (survivors []*feature.ClusterFeature, removed []string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Count < candidates[j].Count
	})

restart:
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			x, y := candidates[i], candidates[j]

			if !x.SpatiallyOverlaps(y, a.opts.OverlapFactor) {
				continue
			}

			// The larger cluster absorbs the smaller and becomes a
			// supercluster.
			big, small := x, y
			if small.Count > big.Count {
				big, small = small, big
			}

			if err := big.Add(small); err != nil {
				// Equal-dimension candidates cannot fail to merge; a
				// mixed-dimension store is left as-is.
				continue
			}

			removed = append(removed, small.ID)
			result.Merges++

			if small == candidates[i] {
				candidates[i] = candidates[len(candidates)-1]
			} else {
				candidates[j] = candidates[len(candidates)-1]
			}
			candidates = candidates[:len(candidates)-1]

			goto restart
		}
	}

	return candidates, removed
}

func (a *Aggregator) throttled(ctx context.Context, op func() error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	return op()
}
