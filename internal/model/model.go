package model

import (
	"fmt"
	"strings"
	"time"
)

// SignalType enumerates the trading verdicts produced by the analyzer.
type SignalType string

const (
	SignalBuy     SignalType = "BUY"
	SignalSell    SignalType = "SELL"
	SignalWatch   SignalType = "WATCH"
	SignalNeutral SignalType = "NEUTRAL"
)

// SignalTypes lists every known signal type in display order.
var SignalTypes = []SignalType{SignalBuy, SignalSell, SignalWatch, SignalNeutral}

// ParseSignalType normalises s and reports whether it is a known type.
func ParseSignalType(s string) (SignalType, bool) {
	t := SignalType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case SignalBuy, SignalSell, SignalWatch, SignalNeutral:
		return t, true
	default:
		return SignalNeutral, false
	}
}

// Source is a monitored account. Lower priority values are collected first.
type Source struct {
	Handle   string   `yaml:"username"`
	Tags     []string `yaml:"tags"`
	Priority int      `yaml:"priority"`
}

// RawItem is a normalised post. For reposts every field describes the original post.
type RawItem struct {
	ID          string
	Author      string
	AvatarURL   string
	Content     string
	SourceURL   string
	PublishedAt time.Time

	// Source is the handle whose timeline produced the item.
	Source string
	Tags   []string
}

// PostURL builds the canonical permalink for a post.
func PostURL(author, id string) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", author, id)
}

// AnalysisResult is the normalised verdict for a single item.
type AnalysisResult struct {
	IsRelevant     bool
	SentimentScore int
	RelatedAssets  []string
	SignalType     SignalType
	Summary        string

	// Degraded marks a default produced by a failed or skipped analysis
	// rather than by the analysis service itself.
	Degraded bool
}

// DefaultResult is the non-relevant fallback verdict.
func DefaultResult() AnalysisResult {
	return AnalysisResult{
		IsRelevant:     false,
		SentimentScore: 5,
		RelatedAssets:  []string{},
		SignalType:     SignalNeutral,
		Degraded:       true,
	}
}

// Signal is a persisted, analysis-confirmed relevant item.
type Signal struct {
	ID          string
	Author      string
	AvatarURL   string
	RawContent  string
	Summary     string
	Assets      []string
	SignalType  SignalType
	Sentiment   int
	SourceURL   string
	Tags        []string
	CreatedAt   time.Time
	PublishedAt time.Time
}

// NewSignal merges an item with its analysis verdict.
func NewSignal(item RawItem, result AnalysisResult, now time.Time) Signal {
	assets := result.RelatedAssets
	if assets == nil {
		assets = []string{}
	}
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	published := item.PublishedAt
	if published.IsZero() {
		published = now
	}
	return Signal{
		ID:          item.ID,
		Author:      item.Author,
		AvatarURL:   item.AvatarURL,
		RawContent:  item.Content,
		Summary:     result.Summary,
		Assets:      assets,
		SignalType:  result.SignalType,
		Sentiment:   result.SentimentScore,
		SourceURL:   item.SourceURL,
		Tags:        tags,
		CreatedAt:   now.UTC(),
		PublishedAt: published.UTC(),
	}
}
