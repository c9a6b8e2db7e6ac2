package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/streamclust/query"
)

func newQueryCmd(configPath *string) *cobra.Command {
	var fromFlag, toFlag string

	cmd := &cobra.Command{
		Use:   "query [query string]",
		Short: "Query stored clusters",
		Long: `Query runs the filter language over the configured store, e.g.

  streamclust query "count where type = super"
  streamclust query "where n >= 10 sort by lat desc" --from 2024-05-01T00:00:00Z`,
		Args: cobra.MinimumNArgs(1),
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

			session := query.NewSession(s, func(o *query.SessionOptions) {
				o.From = from
				o.To = to
			})

			result, err := session.Execute(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if result.Clusters == nil {
				fmt.Fprintln(out, result.Count)
				return nil
			}

			for _, cf := range result.Clusters {
				kind := "micro"
				if cf.IsSuper() {
					kind = "super"
				}

				fmt.Fprintf(out, "%s\t%s\tn=%.0f\tradius=%.3f\tct=%s\tlat=%s\n",
					cf.ID, kind, cf.Count, cf.Radius(),
					time.UnixMilli(cf.CreatedAt).UTC().Format(time.RFC3339),
					time.UnixMilli(cf.LastAbsorbed).UTC().Format(time.RFC3339),
				)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "range start (RFC 3339, default: 24h ago)")
	cmd.Flags().StringVar(&toFlag, "to", "", "range end (RFC 3339, default: now)")

	return cmd
}

func parseRange(fromFlag, toFlag string) (from, to time.Time, err error) {
	now := time.Now()
	from, to = now.Add(-24*time.Hour), now

	if fromFlag != "" {
		if from, err = time.Parse(time.RFC3339, fromFlag); err != nil {
			return from, to, fmt.Errorf("parse --from: %w", err)
		}
	}

	if toFlag != "" {
		if to, err = time.Parse(time.RFC3339, toFlag); err != nil {
			return from, to, fmt.Errorf("parse --to: %w", err)
		}
	}

	if !to.After(from) {
		return from, to, fmt.Errorf("empty time range: %s is not before %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	return from, to, nil
}
