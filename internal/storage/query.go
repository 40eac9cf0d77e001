package storage

import (
	"fmt"
	"strings"
	"time"
)

// dialect captures the per-backend differences of the signal filter query.
type dialect struct {
	placeholder func(n int) string
	assetMatch  func(ph string) string
	timeArg     func(t time.Time) any
}

const selectSignalColumns = `SELECT
        id,
        author,
        avatar_url,
        raw_content,
        summary,
        assets,
        signal_type,
        sentiment,
        source_url,
        tags,
        created_at,
        published_at
    FROM signals`

func buildSignalQuery(q Query, d dialect) (string, []any) {
	q = q.normalized()

	var (
		where []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	if q.MinSentiment != nil {
		where = append(where, "sentiment >= "+next(*q.MinSentiment))
	}
	if q.Asset != "" {
		where = append(where, d.assetMatch(next(q.Asset)))
	}
	if q.SignalType != "" {
		where = append(where, "signal_type = "+next(q.SignalType))
	}
	if q.Author != "" {
		where = append(where, fmt.Sprintf("LOWER(author) = LOWER(%s)", next(q.Author)))
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= "+next(d.timeArg(q.Since)))
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at < "+next(d.timeArg(q.Until)))
	}

	var b strings.Builder
	b.WriteString(selectSignalColumns)
	if len(where) > 0 {
		b.WriteString("\n    WHERE ")
		b.WriteString(strings.Join(where, "\n      AND "))
	}
	b.WriteString("\n    ORDER BY created_at DESC, id DESC\n    LIMIT ")
	b.WriteString(next(q.Limit))
	b.WriteString(";")
	return b.String(), args
}
