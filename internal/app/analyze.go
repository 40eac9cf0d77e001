package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"xalpha/internal/model"
)

type analysisOutput struct {
	IsRelevant     bool     `json:"is_relevant"`
	SentimentScore int      `json:"sentiment_score"`
	RelatedAssets  []string `json:"related_assets"`
	SignalType     string   `json:"signal_type"`
	Summary        string   `json:"summary"`
	Degraded       bool     `json:"degraded"`
}

// Analyze runs ad-hoc text through the analyzer without touching the store.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return errors.New("text to analyze must not be empty")
	}
	author := strings.TrimPrefix(strings.TrimSpace(opts.Author), "@")
	if author == "" {
		author = "adhoc"
	}

	id := fmt.Sprintf("adhoc-%d", time.Now().UnixNano())
	item := model.RawItem{
		ID:          id,
		Author:      author,
		Content:     text,
		SourceURL:   model.PostURL(author, id),
		PublishedAt: time.Now().UTC(),
		Source:      author,
	}

	result := a.newAnalyzer().Analyze(ctx, item)
	return writeAnalysis(os.Stdout, result, opts.JSON)
}

func writeAnalysis(out io.Writer, result model.AnalysisResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(analysisOutput{
			IsRelevant:     result.IsRelevant,
			SentimentScore: result.SentimentScore,
			RelatedAssets:  result.RelatedAssets,
			SignalType:     string(result.SignalType),
			Summary:        result.Summary,
			Degraded:       result.Degraded,
		})
	}

	fmt.Fprintf(out, "relevant:  %t\n", result.IsRelevant)
	fmt.Fprintf(out, "signal:    %s\n", result.SignalType)
	fmt.Fprintf(out, "sentiment: %d/10\n", result.SentimentScore)
	fmt.Fprintf(out, "assets:    %s\n", strings.Join(result.RelatedAssets, ", "))
	if result.Summary != "" {
		fmt.Fprintf(out, "summary:   %s\n", result.Summary)
	}
	if result.Degraded {
		fmt.Fprintln(out, "note:      analysis failed or was skipped; default verdict shown")
	}
	return nil
}
