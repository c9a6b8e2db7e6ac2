package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/streamclust/aggregator"
)

func newCompactCmd(configPath *string) *cobra.Command {
	var (
		fromFlag, toFlag string
		overlapFactor    float64
		opsPerSecond     float64
	)

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Merge overlapping stored clusters over a time horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			from, to, err := parseRange(fromFlag, toFlag)
			if err != nil {
				return err
			}

			s, closeStore, err := cfg.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			agg, err := aggregator.New(s, func(o *aggregator.Options) {
				o.OverlapFactor = overlapFactor
				o.StoreOpsPerSecond = opsPerSecond
				o.Logger = cfg.logger().Logger
			})
			if err != nil {
				return err
			}

			result, err := agg.Run(cmd.Context(), from, to)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "candidates: %d, merges: %d, deleted: %d\n",
				result.Candidates, result.Merges, result.Deleted)

			return nil
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "horizon start (RFC 3339, default: 24h ago)")
	cmd.Flags().StringVar(&toFlag, "to", "", "horizon end (RFC 3339, default: now)")
	cmd.Flags().Float64Var(&overlapFactor, "overlap-factor", 1.0, "radius scaling in the merge decision")
	cmd.Flags().Float64Var(&opsPerSecond, "store-ops-per-second", 0, "store IO throttle (0 = unlimited)")

	return cmd
}
