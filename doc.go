// Package streamclust provides online clustering of unbounded point streams.
//
// Incoming points are summarized into compact additive microclusters
// (cluster features), organized in a balanced temporal CF-tree that absorbs
// overlapping clusters, evicts temporally irrelevant ones, and is swept by a
// cooperative background task. Every index decision is written through to a
// pluggable persistent store, which a batch aggregator later compacts and a
// small query language reads.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	p, _ := streamclust.New(cftree.DefaultConfig(), kmeans.DefaultConfig())
//	defer p.Close()
//
//	for _, point := range points {
//	    _ = p.Offer(ctx, point)
//	}
//
// # Pipeline Shape
//
// The pipeline is a fan-out/fan-in: an ingress batcher feeds N independent
// producers, each grouping its points by temporal density and reducing every
// group with a streaming k-means pass; the emitted microclusters funnel into
// the single CF-tree consumer, whose insert decisions drive store
// write-throughs and deletes.
//
//	points -> batcher -> [grouper+kmeans]xN -> cftree -> store
//
// # Compaction and Queries
//
//	result, _ := p.Aggregate(ctx, from, to)
//
//	session := p.Session()
//	matches, _ := session.Execute(ctx, "where n >= 10 sort by lat desc")
package streamclust
