package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"xalpha/internal/model"
	"xalpha/internal/storage"
)

const summaryWidth = 60

// Show prints recent signals.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	signals, err := store.QuerySignals(ctx, storage.Query{
		Limit:        opts.Limit,
		MinSentiment: opts.MinSentiment,
		Asset:        opts.Asset,
		SignalType:   opts.SignalType,
		Author:       opts.Author,
	})
	if err != nil {
		return err
	}
	return writeSignalsTable(os.Stdout, signals)
}

func writeSignalsTable(out io.Writer, signals []model.Signal) error {
	if len(signals) == 0 {
		fmt.Fprintln(out, "no signals found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Published (UTC)\tAuthor\tSignal\tSentiment\tAssets\tSummary")

	for _, s := range signals {
		fmt.Fprintf(
			writer,
			"%s\t@%s\t%s\t%d\t%s\t%s\n",
			s.PublishedAt.UTC().Format(time.RFC3339),
			s.Author,
			s.SignalType,
			s.Sentiment,
			strings.Join(s.Assets, ","),
			truncate(sanitizeInline(s.Summary), summaryWidth),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func truncate(v string, width int) string {
	if utf8.RuneCountInString(v) <= width {
		return v
	}
	runes := []rune(v)
	return string(runes[:width-1]) + "…"
}
