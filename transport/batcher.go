// Package transport provides the ingress side of the pipeline: a batching
// queue that accumulates records and hands them to a consumer in chunks,
// flushing on a size threshold or a timeout, whichever comes first.
//
// Delivery is at-least-once. When the consumer returns an error the whole
// batch is requeued and delivered again; consumers must tolerate
// duplicates.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned when offering to a closed batcher.
	ErrClosed = errors.New("batcher closed")
)

// Options configures a Batcher.
type Options struct {
	// BatchSize is the flush threshold. Defaults to 64.
	BatchSize int

	// FlushInterval flushes a non-empty partial batch after this much idle
	// time. Defaults to 1s.
	FlushInterval time.Duration

	// MaxRetries bounds redeliveries of a failed batch. Zero means retry
	// until the batcher is closed.
	MaxRetries int

	// RetryBackoff is the pause between redeliveries. Defaults to 100ms.
	RetryBackoff time.Duration

	// Buffer is the capacity of the ingress channel. Defaults to 4 *
	// BatchSize.
	Buffer int
}

// Process consumes one batch. Returning an error requeues the batch.
type Process[T any] func(ctx context.Context, batch []T) error

// Batcher accumulates records and delivers them to a Process callback in
// batches. It is safe for concurrent producers.
type Batcher[T any] struct {
	process Process[T]
	opts    Options

	in     chan T
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewBatcher creates a Batcher and starts its delivery loop.
func NewBatcher[T any](process Process[T], optFns ...func(o *Options)) *Batcher[T] {
	opts := Options{
		BatchSize:     64,
		FlushInterval: time.Second,
		RetryBackoff:  100 * time.Millisecond,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Buffer <= 0 {
		opts.Buffer = 4 * opts.BatchSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Batcher[T]{
		process: process,
		opts:    opts,
		in:      make(chan T, opts.Buffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go b.run(ctx)

	return b
}

// Offer enqueues one record, blocking while the ingress buffer is full.
// It returns ErrClosed after Close.
func (b *Batcher[T]) Offer(ctx context.Context, record T) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.in <- record:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending records, stops the delivery loop and returns the
// first delivery error, if any. All producers must have stopped offering
// before Close is called.
func (b *Batcher[T]) Close() error {
	close(b.in)
	<-b.done
	b.cancel()

	return b.err
}

func (b *Batcher[T]) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]T, 0, b.opts.BatchSize)

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}

		out := batch
		batch = make([]T, 0, b.opts.BatchSize)

		if err := b.deliver(ctx, out); err != nil {
			b.err = err
			return false
		}

		return true
	}

	for {
		select {
		case record, ok := <-b.in:
			if !ok {
				flush()
				return
			}

			batch = append(batch, record)
			if len(batch) >= b.opts.BatchSize {
				if !flush() {
					return
				}

				ticker.Reset(b.opts.FlushInterval)
			}
		case <-ticker.C:
			if !flush() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// deliver hands the batch to the consumer, redelivering on error until it
// succeeds, the retry budget is spent, or the batcher is cancelled.
func (b *Batcher[T]) deliver(ctx context.Context, batch []T) error {
	var lastErr error

	for attempt := 0; b.opts.MaxRetries == 0 || attempt <= b.opts.MaxRetries; attempt++ {
		if lastErr = b.process(ctx, batch); lastErr == nil {
			return nil
		}

		select {
		case <-time.After(b.opts.RetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("batch dropped after %d retries: %w", b.opts.MaxRetries, lastErr)
}
