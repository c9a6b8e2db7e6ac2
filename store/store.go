// Package store defines the persistence boundary for microclusters: a
// key-value store addressed by cluster ID, with a day-bucketed secondary
// time index over last-absorption timestamps.
//
// The index in this module is in-memory only; durability is delegated
// entirely to Store implementations. The ingestion pipeline writes every
// changed cluster through after each index decision and deletes evicted
// ones, so the store always mirrors the stream's recent history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/streamclust/feature"
)

// ErrNotFound is returned when a Store cannot find a cluster ID.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface consumed by the pipeline, the batch
// aggregator and the query engine. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put writes a cluster, replacing any previous version.
	Put(ctx context.Context, cf *feature.ClusterFeature) error

	// Get retrieves a cluster by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*feature.ClusterFeature, error)

	// Delete removes a cluster by ID. Deleting an absent ID is not an error.
	Delete(ctx context.Context, id string) error

	// ListInTimeRange returns all clusters whose last absorption time lies
	// in [from, to).
	ListInTimeRange(ctx context.Context, from, to time.Time) ([]*feature.ClusterFeature, error)

	// IndexCount returns the number of clusters in the day bucket.
	IndexCount(ctx context.Context, day time.Time) (int, error)

	// IndexEntries returns the IDs of clusters in the day bucket whose
	// last absorption second lies in [fromSec, toSec] (Unix seconds).
	IndexEntries(ctx context.Context, day time.Time, fromSec, toSec int64) ([]string, error)
}

// DayBucket maps a Unix millisecond timestamp onto its UTC day bucket.
func DayBucket(tsMS int64) time.Time {
	return time.UnixMilli(tsMS).UTC().Truncate(24 * time.Hour)
}
