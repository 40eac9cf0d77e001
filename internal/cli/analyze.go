package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"xalpha/internal/app"
)

var (
	analyzeAuthor string
	analyzeJSON   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text]",
	Short: "Classify ad-hoc text with the analysis service",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Analyze(cmd.Context(), app.AnalyzeOptions{
			Author: analyzeAuthor,
			Text:   strings.Join(args, " "),
			JSON:   analyzeJSON,
		})
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeAuthor, "author", "", "Author handle to attribute the text to")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the verdict as JSON")
}
