package streamclust

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/streamclust/aggregator"
	"github.com/hupe1980/streamclust/cftree"
	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/kmeans"
	"github.com/hupe1980/streamclust/query"
	"github.com/hupe1980/streamclust/store"
	"github.com/hupe1980/streamclust/transport"
)

// Pipeline is the ingestion fan-out/fan-in: an ingress batcher feeds N
// producers, each reducing its temporal groups with a k-means pass, and the
// emitted microclusters funnel into the single CF-tree consumer. Every
// index decision is written through to the store.
//
// Producers share no mutable state; the tree serializes all structural
// mutation under its own lock.
type Pipeline struct {
	opts options

	tree    *cftree.Tree
	sweeper *cftree.Sweeper
	batcher *transport.Batcher[feature.Point]

	batches  chan []feature.Point
	clusters chan []*feature.ClusterFeature

	producers    *errgroup.Group
	consumerDone chan struct{}
	consumerErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a Pipeline and starts its producers, consumer and background
// sweeper.
func New(treeCfg cftree.Config, kmeansCfg kmeans.Config, optFns ...Option) (*Pipeline, error) {
	opts := applyOptions(optFns)

	tree, err := cftree.New(treeCfg)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		opts:         opts,
		tree:         tree,
		batches:      make(chan []feature.Point, opts.numProducers),
		clusters:     make(chan []*feature.ClusterFeature, opts.numProducers),
		producers:    &errgroup.Group{},
		consumerDone: make(chan struct{}),
	}

	// Build every producer before starting any, so a bad configuration
	// cannot leave half a pool running.
	clusterers := make([]*kmeans.Clusterer, opts.numProducers)
	groupers := make([]*kmeans.Grouper, opts.numProducers)

	for i := range opts.numProducers {
		cfg := kmeansCfg
		if cfg.Seed != 0 {
			// Distinct deterministic streams per producer.
			cfg.Seed += int64(i)
		}

		if clusterers[i], err = kmeans.New(cfg); err != nil {
			return nil, err
		}

		if groupers[i], err = kmeans.NewGrouper(cfg.Lambda, cfg.SparseFactor); err != nil {
			return nil, err
		}
	}

	for i := range opts.numProducers {
		clusterer, grouper := clusterers[i], groupers[i]

		p.producers.Go(func() error {
			return p.produce(grouper, clusterer)
		})
	}

	go p.consume()

	p.batcher = transport.NewBatcher(p.enqueue, opts.batchOptions...)

	if opts.sweepInterval > 0 {
		p.sweeper = cftree.NewSweeper(tree, opts.sweepInterval, p.onSweepEvict)
		p.sweeper.Start()
	}

	return p, nil
}

// Offer enqueues one raw point for ingestion. It returns ErrClosed after
// Close.
func (p *Pipeline) Offer(ctx context.Context, point feature.Point) error {
	if err := p.batcher.Offer(ctx, point); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrClosed
		}
		return err
	}

	return nil
}

// Insert places an already-formed cluster directly into the index,
// bypassing the k-means producers, and performs the store write-through.
// This is the entry point for transports that deliver microclusters rather
// than raw points.
func (p *Pipeline) Insert(ctx context.Context, cf *feature.ClusterFeature) (cftree.InsertResult, error) {
	return p.insert(ctx, cf)
}

// Sweep synchronously evicts temporally irrelevant entries as of now and
// deletes them from the store. It returns the number of evicted clusters.
func (p *Pipeline) Sweep(ctx context.Context, now time.Time) (int, error) {
	evicted := p.tree.Sweep(now)
	if len(evicted) == 0 {
		return 0, nil
	}

	p.opts.metricsCollector.RecordSweep(len(evicted))
	p.opts.metricsCollector.RecordEvict(len(evicted))
	p.opts.logger.LogSweep(ctx, len(evicted))

	for _, cf := range evicted {
		if err := p.opts.store.Delete(ctx, cf.ID); err != nil {
			return len(evicted), fmt.Errorf("delete evicted cluster %s: %w", cf.ID, err)
		}
	}

	return len(evicted), nil
}

// Aggregate compacts the persisted clusters in [from, to), merging
// overlapping microclusters into superclusters.
func (p *Pipeline) Aggregate(ctx context.Context, from, to time.Time, optFns ...func(o *aggregator.Options)) (*aggregator.Result, error) {
	withLogger := append([]func(o *aggregator.Options){
		func(o *aggregator.Options) { o.Logger = p.opts.logger.Logger },
	}, optFns...)

	agg, err := aggregator.New(p.opts.store, withLogger...)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	result, err := agg.Run(ctx, from, to)

	var merges, deleted int
	if result != nil {
		merges, deleted = result.Merges, result.Deleted
	}

	p.opts.metricsCollector.RecordAggregate(merges, deleted, time.Since(start), err)
	p.opts.logger.LogAggregate(ctx, merges, deleted, err)

	return result, err
}

// Session creates a query session over the pipeline's store.
func (p *Pipeline) Session(optFns ...func(o *query.SessionOptions)) *query.Session {
	return query.NewSession(p.opts.store, optFns...)
}

// Features returns a snapshot of the clusters currently resident in the
// index.
func (p *Pipeline) Features() []*feature.ClusterFeature {
	return p.tree.Features()
}

// Len returns the number of clusters currently resident in the index.
func (p *Pipeline) Len() int {
	return p.tree.Len()
}

// Store returns the pipeline's store, e.g. for direct reads.
func (p *Pipeline) Store() store.Store {
	return p.opts.store
}

// Close flushes buffered points through the producers, drains the index
// consumer, stops the sweeper and returns the first pipeline error.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		batchErr := p.batcher.Close()

		close(p.batches)
		produceErr := p.producers.Wait()

		close(p.clusters)
		<-p.consumerDone

		if p.sweeper != nil {
			p.sweeper.Stop()
		}

		p.closeErr = errors.Join(batchErr, produceErr, p.consumerErr)
	})

	return p.closeErr
}

// enqueue hands a flushed ingress batch to the producer pool.
func (p *Pipeline) enqueue(ctx context.Context, batch []feature.Point) error {
	select {
	case p.batches <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) produce(grouper *kmeans.Grouper, clusterer *kmeans.Clusterer) error {
	ctx := context.Background()

	for batch := range p.batches {
		for _, point := range batch {
			if group := grouper.Offer(point); group != nil {
				p.reduce(ctx, clusterer, group)
			}
		}
	}

	// Drain the group left open at shutdown.
	if group := grouper.Flush(); len(group) > 0 {
		p.reduce(ctx, clusterer, group)
	}

	return nil
}

func (p *Pipeline) reduce(ctx context.Context, clusterer *kmeans.Clusterer, group []feature.Point) {
	start := time.Now()

	cfs := clusterer.ClusterGroup(group)

	p.opts.metricsCollector.RecordGroup(len(group), len(cfs), time.Since(start))
	p.opts.logger.LogGroup(ctx, len(group), len(cfs))

	if len(cfs) > 0 {
		p.clusters <- cfs
	}
}

func (p *Pipeline) consume() {
	defer close(p.consumerDone)

	ctx := context.Background()

	for cfs := range p.clusters {
		if p.consumerErr != nil {
			// Keep draining so producers never block; the error surfaces
			// from Close.
			continue
		}

		for _, cf := range cfs {
			if _, err := p.insert(ctx, cf); err != nil {
				p.consumerErr = err
				break
			}
		}
	}
}

func (p *Pipeline) insert(ctx context.Context, cf *feature.ClusterFeature) (cftree.InsertResult, error) {
	start := time.Now()

	result, err := p.tree.Insert(cf)

	p.opts.metricsCollector.RecordInsert(time.Since(start), result.Absorbed, err)
	p.opts.logger.LogInsert(ctx, cf.ID, result.Absorbed, len(result.Evicted), err)

	if err != nil {
		return result, err
	}

	for _, updated := range result.Updated {
		if err := p.opts.store.Put(ctx, updated); err != nil {
			return result, fmt.Errorf("write through cluster %s: %w", updated.ID, err)
		}
		updated.MarkClean()
	}

	if len(result.Evicted) > 0 {
		p.opts.metricsCollector.RecordEvict(len(result.Evicted))

		for _, evicted := range result.Evicted {
			if err := p.opts.store.Delete(ctx, evicted.ID); err != nil {
				return result, fmt.Errorf("delete evicted cluster %s: %w", evicted.ID, err)
			}
		}
	}

	return result, nil
}

// onSweepEvict deletes swept clusters from the store. Runs on the sweeper
// goroutine; store failures are logged, not fatal — an orphaned store entry
// is picked up by a later aggregation pass.
func (p *Pipeline) onSweepEvict(evicted []*feature.ClusterFeature) {
	ctx := context.Background()

	p.opts.metricsCollector.RecordSweep(len(evicted))
	p.opts.metricsCollector.RecordEvict(len(evicted))
	p.opts.logger.LogSweep(ctx, len(evicted))

	for _, cf := range evicted {
		if err := p.opts.store.Delete(ctx, cf.ID); err != nil {
			p.opts.logger.ErrorContext(ctx, "delete swept cluster failed",
				"cluster_id", cf.ID,
				"error", err,
			)
		}
	}
}
