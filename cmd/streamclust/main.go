// Command streamclust ingests point streams, queries the cluster store and
// runs compaction from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "streamclust",
		Short:         "Online clustering of unbounded point streams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(
		newRunCmd(&configPath),
		newQueryCmd(&configPath),
		newCompactCmd(&configPath),
	)

	return cmd
}
