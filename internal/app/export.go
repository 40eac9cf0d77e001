package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"xalpha/internal/model"
	"xalpha/internal/storage"
)

const day = 24 * time.Hour

// Export renders stored signals as CSV and/or a PNG chart of daily counts.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	q := storage.Query{Limit: opts.MaxRows}
	if opts.From != nil {
		q.Since = opts.From.UTC()
	}
	if opts.To != nil {
		q.Until = opts.To.UTC()
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && !q.Since.Before(q.Until) {
		return errors.New("from must be before to")
	}

	signals, err := store.QuerySignals(ctx, q)
	if err != nil {
		return err
	}
	if len(signals) == 0 {
		a.Logger.Info().Msg("no signals found for export window")
		return nil
	}
	a.Logger.Info().Int("exported", len(signals)).Int("max_rows", opts.MaxRows).Msg("exporting signals")

	if opts.CSVPath != "" {
		if err := writeSignalsCSV(opts.CSVPath, signals); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeDailyPNG(opts.PNGPath, dailyBuckets(signals)); err != nil {
			return err
		}
	}

	return nil
}

func writeSignalsCSV(path string, signals []model.Signal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"id", "author", "signal", "sentiment", "assets", "tags", "published_at", "created_at", "tweet_url", "summary", "raw_content"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range signals {
		record := []string{
			s.ID,
			s.Author,
			string(s.SignalType),
			strconv.Itoa(s.Sentiment),
			strings.Join(s.Assets, ";"),
			strings.Join(s.Tags, ";"),
			s.PublishedAt.UTC().Format(time.RFC3339),
			s.CreatedAt.UTC().Format(time.RFC3339),
			s.SourceURL,
			s.Summary,
			s.RawContent,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// dailyBucket aggregates the signals created on one UTC day.
type dailyBucket struct {
	Day          time.Time
	Counts       map[model.SignalType]int
	SentimentSum int
	Total        int
}

func (b dailyBucket) avgSentiment() decimal.Decimal {
	if b.Total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(b.SentimentSum)).Div(decimal.NewFromInt(int64(b.Total))).Round(2)
}

// dailyBuckets returns one bucket per day from the oldest to the newest
// signal, gaps included. At least two buckets are returned so the chart
// always has a non-zero x range.
func dailyBuckets(signals []model.Signal) []dailyBucket {
	if len(signals) == 0 {
		return nil
	}

	first := signals[0].CreatedAt.UTC().Truncate(day)
	last := first
	byDay := make(map[time.Time]*dailyBucket)
	for _, s := range signals {
		d := s.CreatedAt.UTC().Truncate(day)
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
		b, ok := byDay[d]
		if !ok {
			b = &dailyBucket{Day: d, Counts: make(map[model.SignalType]int)}
			byDay[d] = b
		}
		b.Counts[s.SignalType]++
		b.SentimentSum += s.Sentiment
		b.Total++
	}
	if first.Equal(last) {
		first = first.Add(-day)
	}

	out := make([]dailyBucket, 0, int(last.Sub(first)/day)+1)
	for d := first; !d.After(last); d = d.Add(day) {
		if b, ok := byDay[d]; ok {
			out = append(out, *b)
			continue
		}
		out = append(out, dailyBucket{Day: d, Counts: map[model.SignalType]int{}})
	}
	return out
}

func writeDailyPNG(path string, buckets []dailyBucket) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(buckets))
	counts := make(map[model.SignalType][]float64, len(model.SignalTypes))
	avg := make([]float64, len(buckets))
	for _, st := range model.SignalTypes {
		counts[st] = make([]float64, len(buckets))
	}

	for i, b := range buckets {
		x[i] = b.Day
		for _, st := range model.SignalTypes {
			counts[st][i] = float64(b.Counts[st])
		}
		avg[i] = b.avgSentiment().InexactFloat64()
	}

	series := make([]chart.Series, 0, len(model.SignalTypes)+1)
	for _, st := range model.SignalTypes {
		series = append(series, chart.TimeSeries{
			Name:    string(st),
			XValues: x,
			YValues: counts[st],
		})
	}
	series = append(series, chart.TimeSeries{
		Name:    "Avg sentiment",
		XValues: x,
		YValues: avg,
		YAxis:   chart.YAxisSecondary,
	})

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Signals per day",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Avg sentiment",
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 10,
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
