package storage

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"xalpha/internal/model"
)

const (
	// DefaultQueryLimit applies when a query does not set Limit.
	DefaultQueryLimit = 20

	checkpointKey = "last_scan_time"
)

// Query filters signals. Set fields are ANDed; results are newest first.
type Query struct {
	Limit        int
	MinSentiment *int
	Asset        string
	SignalType   string
	Author       string
	Since        time.Time
	Until        time.Time
}

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	q.Asset = strings.ToUpper(strings.TrimSpace(q.Asset))
	q.SignalType = strings.ToUpper(strings.TrimSpace(q.SignalType))
	q.Author = strings.TrimPrefix(strings.TrimSpace(q.Author), "@")
	return q
}

// Stats summarises the persisted signals.
type Stats struct {
	Total        int64
	BySignalType map[model.SignalType]int64
	AvgSentiment decimal.Decimal
	LastScanTime *time.Time
}

// AuthorCount is the number of stored signals attributed to one author.
type AuthorCount struct {
	Author       string
	Signals      int64
	LastSignalAt time.Time
}

func newStats(total, sentimentSum int64) Stats {
	st := Stats{
		Total:        total,
		BySignalType: make(map[model.SignalType]int64, len(model.SignalTypes)),
		AvgSentiment: decimal.Zero,
	}
	for _, t := range model.SignalTypes {
		st.BySignalType[t] = 0
	}
	if total > 0 {
		st.AvgSentiment = decimal.NewFromInt(sentimentSum).Div(decimal.NewFromInt(total)).Round(2)
	}
	return st
}
