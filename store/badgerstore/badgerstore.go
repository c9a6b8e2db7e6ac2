// Package badgerstore provides a Badger-backed Store implementation.
//
// Clusters are stored under cf/<id> as S2-compressed codec payloads. A
// secondary time index under ix/<day>/<second>/<id> buckets clusters by the
// UTC day of their last absorption, giving the batch aggregator
// exact-second range lookups without scanning payloads.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/s2"

	"github.com/hupe1980/streamclust/codec"
	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/store"
)

// Compile time check to ensure Store satisfies the store interface.
var _ store.Store = (*Store)(nil)

const (
	featurePrefix = "cf/"
	indexPrefix   = "ix/"
	dayLayout     = "20060102"
)

// Options configures the store.
type Options struct {
	// Codec encodes stored clusters. Defaults to codec.Default.
	Codec codec.Codec

	// InMemory runs Badger without disk persistence (tests).
	InMemory bool
}

// Store is a Badger-backed cluster store.
type Store struct {
	db    *badger.DB
	codec codec.Codec
}

// Open opens (or creates) a store at path. With o.InMemory set, path is
// ignored.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Codec: codec.Default}
	for _, fn := range optFns {
		fn(&opts)
	}

	badgerOpts := badger.DefaultOptions(path).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Store{db: db, codec: opts.Codec}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func featureKey(id string) []byte {
	return []byte(featurePrefix + id)
}

func indexKey(tsMS int64, id string) []byte {
	day := store.DayBucket(tsMS).Format(dayLayout)
	return fmt.Appendf(nil, "%s%s/%010d/%s", indexPrefix, day, tsMS/1000, id)
}

// Put writes the cluster and maintains its time index entry, removing the
// old entry when the last absorption moved.
func (s *Store) Put(_ context.Context, cf *feature.ClusterFeature) error {
	raw, err := s.codec.Marshal(cf)
	if err != nil {
		return fmt.Errorf("encode cluster %s: %w", cf.ID, err)
	}
	compressed := s2.Encode(nil, raw)

	return s.db.Update(func(txn *badger.Txn) error {
		if old, err := s.getLocked(txn, cf.ID); err == nil {
			if old.LastAbsorbed != cf.LastAbsorbed {
				if err := txn.Delete(indexKey(old.LastAbsorbed, old.ID)); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := txn.Set(featureKey(cf.ID), compressed); err != nil {
			return err
		}
		return txn.Set(indexKey(cf.LastAbsorbed, cf.ID), nil)
	})
}

// Get retrieves a cluster by ID, or store.ErrNotFound.
func (s *Store) Get(_ context.Context, id string) (*feature.ClusterFeature, error) {
	var cf *feature.ClusterFeature
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		cf, err = s.getLocked(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cf, nil
}

func (s *Store) getLocked(txn *badger.Txn, id string) (*feature.ClusterFeature, error) {
	item, err := txn.Get(featureKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cf feature.ClusterFeature
	err = item.Value(func(val []byte) error {
		raw, err := s2.Decode(nil, val)
		if err != nil {
			return fmt.Errorf("decompress cluster %s: %w", id, err)
		}
		return s.codec.Unmarshal(raw, &cf)
	})
	if err != nil {
		return nil, err
	}
	return &cf, nil
}

// Delete removes the cluster and its index entry. Absent IDs are ignored.
func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		old, err := s.getLocked(txn, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := txn.Delete(indexKey(old.LastAbsorbed, old.ID)); err != nil {
			return err
		}
		return txn.Delete(featureKey(id))
	})
}

// ListInTimeRange returns all clusters with LastAbsorbed in [from, to),
// walking the index day bucket by day bucket.
func (s *Store) ListInTimeRange(ctx context.Context, from, to time.Time) ([]*feature.ClusterFeature, error) {
	var out []*feature.ClusterFeature

	fromSec := from.Unix()
	toSec := to.Unix() // exclusive at millisecond granularity, checked below

	for day := store.DayBucket(from.UnixMilli()); day.Before(to); day = day.AddDate(0, 0, 1) {
		ids, err := s.IndexEntries(ctx, day, fromSec, toSec)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			cf, err := s.Get(ctx, id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue // index raced a delete
				}
				return nil, err
			}
			if cf.LastAbsorbed >= from.UnixMilli() && cf.LastAbsorbed < to.UnixMilli() {
				out = append(out, cf)
			}
		}
	}
	return out, nil
}

// IndexCount returns the number of index entries in the day bucket.
func (s *Store) IndexCount(_ context.Context, day time.Time) (int, error) {
	prefix := []byte(indexPrefix + day.UTC().Truncate(24*time.Hour).Format(dayLayout) + "/")

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// IndexEntries returns the IDs in the day bucket whose last absorption
// second lies in [fromSec, toSec].
func (s *Store) IndexEntries(_ context.Context, day time.Time, fromSec, toSec int64) ([]string, error) {
	prefix := []byte(indexPrefix + day.UTC().Truncate(24*time.Hour).Format(dayLayout) + "/")

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, string(prefix))
			secStr, id, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			sec, err := strconv.ParseInt(secStr, 10, 64)
			if err != nil {
				continue
			}
			if sec >= fromSec && sec <= toSec {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}
