package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/streamclust"
	"github.com/hupe1980/streamclust/cftree"
	"github.com/hupe1980/streamclust/codec"
	"github.com/hupe1980/streamclust/kmeans"
	"github.com/hupe1980/streamclust/store"
	"github.com/hupe1980/streamclust/store/badgerstore"
)

type config struct {
	Store struct {
		Path     string `yaml:"path"`
		InMemory bool   `yaml:"in_memory"`
		Codec    string `yaml:"codec"`
	} `yaml:"store"`

	Tree struct {
		MaxEntries    int     `yaml:"max_entries"`
		OverlapFactor float64 `yaml:"overlap_factor"`
		Lambda        float64 `yaml:"lambda"`
		SparseFactor  float64 `yaml:"sparse_factor"`
	} `yaml:"tree"`

	KMeans struct {
		MaxRadius      float64 `yaml:"max_radius"`
		DriftTolerance float64 `yaml:"drift_tolerance"`
		Choke          float64 `yaml:"choke"`
		MaxIterations  int     `yaml:"max_iterations"`
		NumRetries     int     `yaml:"num_retries"`
		Seed           int64   `yaml:"seed"`
	} `yaml:"kmeans"`

	Pipeline struct {
		Producers     int      `yaml:"producers"`
		SweepInterval duration `yaml:"sweep_interval"`
		BatchSize     int      `yaml:"batch_size"`
		FlushInterval duration `yaml:"flush_interval"`
	} `yaml:"pipeline"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// duration supports "250ms"/"1m" style values in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}

	*d = duration(parsed)
	return nil
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	return cfg, nil
}

func (c *config) treeConfig() cftree.Config {
	cfg := cftree.DefaultConfig()

	if c.Tree.MaxEntries > 0 {
		cfg.MaxEntries = c.Tree.MaxEntries
	}
	if c.Tree.OverlapFactor > 0 {
		cfg.OverlapFactor = c.Tree.OverlapFactor
	}
	if c.Tree.Lambda > 0 {
		cfg.Lambda = c.Tree.Lambda
	}
	if c.Tree.SparseFactor > 0 {
		cfg.SparseFactor = c.Tree.SparseFactor
	}

	return cfg
}

func (c *config) kmeansConfig() kmeans.Config {
	cfg := kmeans.DefaultConfig()

	cfg.Lambda = c.treeConfig().Lambda
	cfg.SparseFactor = c.treeConfig().SparseFactor
	cfg.OverlapFactor = c.treeConfig().OverlapFactor

	if c.KMeans.MaxRadius > 0 {
		cfg.MaxRadius = c.KMeans.MaxRadius
	}
	if c.KMeans.DriftTolerance > 0 {
		cfg.DriftTolerance = c.KMeans.DriftTolerance
	}
	if c.KMeans.Choke > 0 {
		cfg.Choke = c.KMeans.Choke
	}
	if c.KMeans.MaxIterations > 0 {
		cfg.MaxIterations = c.KMeans.MaxIterations
	}
	if c.KMeans.NumRetries > 0 {
		cfg.NumRetries = c.KMeans.NumRetries
	}
	cfg.Seed = c.KMeans.Seed

	return cfg
}

// openStore opens the configured store. The returned closer is a no-op for
// the in-memory store.
func (c *config) openStore() (store.Store, func() error, error) {
	if c.Store.Path == "" || c.Store.InMemory {
		return store.NewMemory(), func() error { return nil }, nil
	}

	cd := codec.Default
	if c.Store.Codec != "" {
		var ok bool
		if cd, ok = codec.ByName(c.Store.Codec); !ok {
			return nil, nil, fmt.Errorf("unknown codec %q", c.Store.Codec)
		}
	}

	s, err := badgerstore.Open(c.Store.Path, func(o *badgerstore.Options) {
		o.Codec = cd
	})
	if err != nil {
		return nil, nil, err
	}

	return s, s.Close, nil
}

func (c *config) logger() *streamclust.Logger {
	level := slog.LevelInfo

	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if strings.EqualFold(c.Log.Format, "json") {
		return streamclust.NewJSONLogger(level)
	}

	return streamclust.NewTextLogger(level)
}
