package streamclust

import (
	"log/slog"
	"time"

	"github.com/hupe1980/streamclust/store"
	"github.com/hupe1980/streamclust/transport"
)

type options struct {
	store            store.Store
	logger           *Logger
	metricsCollector MetricsCollector
	numProducers     int
	sweepInterval    time.Duration
	batchOptions     []func(*transport.Options)
}

// Option configures pipeline constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. store-specific constructor variants).
type Option func(*options)

// WithStore configures the persistent store written through after every
// index decision.
//
// If nil is passed, an in-memory store is used.
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s == nil {
			s = store.NewMemory()
		}
		o.store = s
	}
}

// WithNumProducers configures the number of parallel producers, each
// running its own temporal grouper and k-means reduction over its share of
// the incoming batches.
//
// Producers do not share mutable state; only the single tree consumer
// serializes. If numProducers <= 1, a single producer is used (default).
func WithNumProducers(numProducers int) Option {
	return func(o *options) {
		o.numProducers = numProducers
	}
}

// WithSweepInterval configures the background sweeper cadence. A zero or
// negative interval disables the sweeper; the tree then only sheds
// irrelevant entries through insert decisions or explicit Sweep calls.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = interval
	}
}

// WithBatchOptions configures the ingress batcher (batch size, flush
// interval, retry policy).
//
// Example:
//
//	streamclust.New(treeCfg, kmeansCfg,
//	    streamclust.WithBatchOptions(func(o *transport.Options) {
//	        o.BatchSize = 256
//	        o.FlushInterval = 250 * time.Millisecond
//	    }))
func WithBatchOptions(optFns ...func(*transport.Options)) Option {
	return func(o *options) {
		o.batchOptions = optFns
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &streamclust.BasicMetricsCollector{}
//	p, _ := streamclust.New(treeCfg, kmeansCfg, streamclust.WithMetricsCollector(metrics))
//	// ... use p ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := streamclust.NewJSONLogger(slog.LevelInfo)
//	p, _ := streamclust.New(treeCfg, kmeansCfg, streamclust.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		store:            store.NewMemory(),
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		numProducers:     1,
		sweepInterval:    time.Minute,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.numProducers < 1 {
		o.numProducers = 1
	}
	return o
}
