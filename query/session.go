package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/store"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// From and To bound the session's time range over last absorption
	// times, [From, To). They default to the last 24 hours.
	From, To time.Time
}

// Session executes queries against a store within a time range. All query
// state lives in the session; there are no package-level defaults.
type Session struct {
	store store.Store
	from  time.Time
	to    time.Time
}

// Result is the outcome of one executed query.
type Result struct {
	// Count is the number of matching clusters, also in count-only mode.
	Count int

	// Clusters holds the matches, ordered per the query's sort clause.
	// Nil in count-only mode.
	Clusters []*feature.ClusterFeature
}

// NewSession creates a query session over the store.
func NewSession(s store.Store, optFns ...func(o *SessionOptions)) *Session {
	now := time.Now()

	opts := SessionOptions{
		From: now.Add(-24 * time.Hour),
		To:   now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Session{
		store: s,
		from:  opts.From,
		to:    opts.To,
	}
}

// SetTimeRange replaces the session's time range.
func (s *Session) SetTimeRange(from, to time.Time) {
	s.from, s.to = from, to
}

// TimeRange returns the session's current time range.
func (s *Session) TimeRange() (from, to time.Time) {
	return s.from, s.to
}

// Execute parses and runs a query over the session's time range.
func (s *Session) Execute(ctx context.Context, input string) (*Result, error) {
	q, err := Parse(input)
	if err != nil {
		return nil, err
	}

	return s.Run(ctx, q)
}

// Run executes an already-parsed query.
func (s *Session) Run(ctx context.Context, q *Query) (*Result, error) {
	clusters, err := s.store.ListInTimeRange(ctx, s.from, s.to)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}

	matched := clusters[:0]
	for _, cf := range clusters {
		if q.Match(cf) {
			matched = append(matched, cf)
		}
	}

	result := &Result{Count: len(matched)}
	if q.CountOnly {
		return result, nil
	}

	if q.SortField != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return q.Less(matched[i], matched[j])
		})
	}

	result.Clusters = matched

	return result, nil
}
