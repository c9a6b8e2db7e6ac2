package store

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/streamclust/feature"
)

// Compile time check to ensure Memory satisfies the Store interface.
var _ Store = (*Memory)(nil)

// Memory is an in-memory Store backed by a Go map. It is the default store
// of the pipeline and the workhorse of the tests; use the badgerstore
// package for an on-disk implementation.
type Memory struct {
	mu   sync.RWMutex
	data map[string]*feature.ClusterFeature
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*feature.ClusterFeature)}
}

// Put writes a deep copy of the cluster.
func (m *Memory) Put(_ context.Context, cf *feature.ClusterFeature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[cf.ID] = cf.Clone()
	return nil
}

// Get retrieves a deep copy of the cluster, or ErrNotFound.
func (m *Memory) Get(_ context.Context, id string) (*feature.ClusterFeature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cf, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cf.Clone(), nil
}

// Delete removes the cluster if present.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

// ListInTimeRange returns copies of all clusters with LastAbsorbed in
// [from, to).
func (m *Memory) ListInTimeRange(_ context.Context, from, to time.Time) ([]*feature.ClusterFeature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*feature.ClusterFeature
	for _, cf := range m.data {
		if cf.LastAbsorbed >= from.UnixMilli() && cf.LastAbsorbed < to.UnixMilli() {
			out = append(out, cf.Clone())
		}
	}
	return out, nil
}

// IndexCount counts the clusters in the day bucket.
func (m *Memory) IndexCount(_ context.Context, day time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day = day.UTC().Truncate(24 * time.Hour)
	count := 0
	for _, cf := range m.data {
		if DayBucket(cf.LastAbsorbed).Equal(day) {
			count++
		}
	}
	return count, nil
}

// IndexEntries returns the IDs in the day bucket whose last absorption
// second lies in [fromSec, toSec].
func (m *Memory) IndexEntries(_ context.Context, day time.Time, fromSec, toSec int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day = day.UTC().Truncate(24 * time.Hour)
	var ids []string
	for id, cf := range m.data {
		if !DayBucket(cf.LastAbsorbed).Equal(day) {
			continue
		}
		sec := cf.LastAbsorbed / 1000
		if sec >= fromSec && sec <= toSec {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Len returns the number of stored clusters.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
