package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xalpha/internal/app"
)

var runServe bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the harvesting service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Serve: runServe})
	},
}

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run a single harvesting cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := getApp().RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		if report.Skipped {
			fmt.Fprintln(cmd.OutOrStdout(), "cycle skipped: another instance holds the lock")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"cycle %s: collected=%d duplicates=%d analyzed=%d degraded=%d relevant=%d saved=%d alerted=%d took=%s\n",
			report.CycleID, report.Collected, report.Duplicates, report.Analyzed, report.Degraded,
			report.Relevant, report.Saved, report.Alerted, report.Duration.Round(time.Millisecond),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runServe, "serve", false, "Also serve the query API in this process")
}
