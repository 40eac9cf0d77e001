package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"xalpha/internal/app"
)

var (
	showLimit        int
	showMinSentiment int
	showSymbol       string
	showSignalType   string
	showAuthor       string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:      showLimit,
			Asset:      showSymbol,
			SignalType: showSignalType,
			Author:     showAuthor,
		}
		if cmd.Flags().Changed("min-sentiment") {
			if showMinSentiment < 0 || showMinSentiment > 10 {
				return fmt.Errorf("--min-sentiment must be between 0 and 10")
			}
			opts.MinSentiment = &showMinSentiment
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display signal statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stats(cmd.Context())
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List monitored accounts in collection order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sources()
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of signals to display")
	showCmd.Flags().IntVar(&showMinSentiment, "min-sentiment", 0, "Minimum sentiment score (0-10)")
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Filter by asset symbol")
	showCmd.Flags().StringVar(&showSignalType, "signal-type", "", "Filter by signal type (BUY/SELL/WATCH/NEUTRAL)")
	showCmd.Flags().StringVar(&showAuthor, "author", "", "Filter by author handle")
}
