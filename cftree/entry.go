package cftree

import (
	"math"

	"github.com/hupe1980/streamclust/feature"
)

// Entry wraps one ClusterFeature at a leaf together with its cached temporal
// density. The cache is valid as of the feature's last absorption time and
// decays lazily whenever the entry is inspected.
type Entry struct {
	Feature *feature.ClusterFeature

	// density is the cached arrival density as of Feature.LastAbsorbed.
	density float64
}

func newEntry(cf *feature.ClusterFeature, lambda float64) *Entry {
	// A fresh entry enters saturated: the cluster behind it was just
	// produced by an arrival burst, so its relevance starts at 1 and only
	// then decays.
	return &Entry{Feature: cf, density: feature.MaxDensity(lambda)}
}

// Density returns the entry's temporal density as observed at nowMS: the
// cached value decayed across the time since the last absorption, plus the
// one arrival an observation at nowMS would contribute. It decreases toward
// 1 as the entry goes unused.
func (e *Entry) Density(nowMS int64, lambda float64) float64 {
	elapsed := nowMS - e.Feature.LastAbsorbed
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Pow(lambda, float64(elapsed)/1000)*e.density + 1
}

// Relevant reports whether the entry's relevance ratio at nowMS is still at
// or above the sparse factor. Entries below it are evictable.
func (e *Entry) Relevant(nowMS int64, lambda, sparseFactor float64) bool {
	return feature.Relevance(e.Density(nowMS, lambda), lambda) >= sparseFactor
}

// bump refreshes the cached density for an absorption at tsMS, capping at
// the density ceiling.
func (e *Entry) bump(tsMS int64, lambda float64) {
	d := e.Density(tsMS, lambda)
	if maxD := feature.MaxDensity(lambda); d > maxD {
		d = maxD
	}
	e.density = d
}
