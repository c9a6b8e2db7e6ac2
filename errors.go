package streamclust

import (
	"errors"

	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/store"
)

var (
	// ErrClosed is returned when offering points to a closed pipeline.
	ErrClosed = errors.New("pipeline closed")

	// ErrDimensionMismatch mirrors feature.ErrDimensionMismatch for callers
	// that only import the root package.
	ErrDimensionMismatch = feature.ErrDimensionMismatch

	// ErrInvalidParameter mirrors feature.ErrInvalidParameter.
	ErrInvalidParameter = feature.ErrInvalidParameter

	// ErrNotFound mirrors store.ErrNotFound.
	ErrNotFound = store.ErrNotFound
)
