package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"xalpha/internal/model"
	"xalpha/internal/storage"
)

// Stats prints aggregate signal counts and per-author activity.
func (a *App) Stats(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	authors, err := store.Authors(ctx)
	if err != nil {
		return err
	}
	return writeStats(os.Stdout, stats, authors)
}

func writeStats(out io.Writer, stats storage.Stats, authors []storage.AuthorCount) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	lastScan := "never"
	if stats.LastScanTime != nil {
		lastScan = stats.LastScanTime.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(writer, "Total signals\t%d\n", stats.Total)
	fmt.Fprintf(writer, "Avg sentiment\t%s\n", formatDecimal(stats.AvgSentiment, 2))
	fmt.Fprintf(writer, "Last scan (UTC)\t%s\n", lastScan)
	for _, st := range model.SignalTypes {
		fmt.Fprintf(writer, "%s\t%d\n", st, stats.BySignalType[st])
	}

	if len(authors) > 0 {
		fmt.Fprintln(writer, "\nAuthor\tSignals\tLast signal (UTC)")
		for _, ac := range authors {
			fmt.Fprintf(writer, "@%s\t%d\t%s\n", ac.Author, ac.Signals, ac.LastSignalAt.UTC().Format(time.RFC3339))
		}
	}

	return writer.Flush()
}
