package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/streamclust"
	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/transport"
)

func newRunCmd(configPath *string) *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest a point stream and cluster it",
		Long: `Run reads JSON-encoded points, one per line, and feeds them through the
clustering pipeline. Each line has the shape

  {"ts": 1714560000000, "values": [1.5, 2.5]}

where ts is a Unix millisecond timestamp. Clusters are written through to
the configured store as they form.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			input := cmd.InOrStdin()
			if inputPath != "" {
				f, err := os.Open(inputPath)
				if err != nil {
					return err
				}
				defer f.Close()
				input = f
			}

			return runIngest(cmd, cfg, input)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "input file (defaults to stdin)")

	return cmd
}

func runIngest(cmd *cobra.Command, cfg *config, input io.Reader) error {
	s, closeStore, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := &streamclust.BasicMetricsCollector{}

	opts := []streamclust.Option{
		streamclust.WithStore(s),
		streamclust.WithLogger(cfg.logger()),
		streamclust.WithMetricsCollector(metrics),
		streamclust.WithNumProducers(cfg.Pipeline.Producers),
	}

	if cfg.Pipeline.SweepInterval > 0 {
		opts = append(opts, streamclust.WithSweepInterval(time.Duration(cfg.Pipeline.SweepInterval)))
	}

	if cfg.Pipeline.BatchSize > 0 || cfg.Pipeline.FlushInterval > 0 {
		opts = append(opts, streamclust.WithBatchOptions(func(o *transport.Options) {
			if cfg.Pipeline.BatchSize > 0 {
				o.BatchSize = cfg.Pipeline.BatchSize
			}
			if cfg.Pipeline.FlushInterval > 0 {
				o.FlushInterval = time.Duration(cfg.Pipeline.FlushInterval)
			}
		}))
	}

	pipeline, err := streamclust.New(cfg.treeConfig(), cfg.kmeansConfig(), opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var offered int

scan:
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			break scan
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var point struct {
			TS     int64     `json:"ts"`
			Values []float64 `json:"values"`
		}
		if err := json.Unmarshal(line, &point); err != nil {
			return fmt.Errorf("parse point: %w", err)
		}

		if err := pipeline.Offer(ctx, feature.Point{Timestamp: point.TS, Values: point.Values}); err != nil {
			return err
		}

		offered++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if err := pipeline.Close(); err != nil {
		return err
	}

	stats := metrics.GetStats()
	fmt.Fprintf(cmd.OutOrStdout(), "points: %d, groups: %d, clusters resident: %d, evicted: %d\n",
		offered, stats.GroupCount, pipeline.Len(), stats.EvictCount)

	return nil
}
