package extract

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	time.RubyDate, // Twitter: Mon Jan 02 15:04:05 -0700 2006
}

// ParseTime parses the timestamp formats seen in timeline payloads.
// The zero time is returned when nothing matches.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	// Nitter: "Dec 30, 2025 · 4:20 PM UTC"
	s = strings.ReplaceAll(s, " · ", " ")
	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
