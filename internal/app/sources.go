package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"xalpha/internal/collector"
	"xalpha/internal/model"
)

// Sources prints the monitored roster in collection order.
func (a *App) Sources() error {
	return writeSources(os.Stdout, a.Config.Roster)
}

func writeSources(out io.Writer, roster []model.Source) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tHandle\tPriority\tTags")
	for i, src := range collector.SortByPriority(roster) {
		fmt.Fprintf(writer, "%d\t@%s\t%d\t%s\n", i+1, src.Handle, src.Priority, strings.Join(src.Tags, ","))
	}
	return writer.Flush()
}
