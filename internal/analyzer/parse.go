package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"xalpha/internal/model"
)

var (
	flatObject = regexp.MustCompile(`(?s)\{[^{}]*\}`)

	minSentiment = decimal.NewFromInt(0)
	maxSentiment = decimal.NewFromInt(10)
)

const defaultSentiment = 5

type rawVerdict struct {
	IsRelevant     *bool           `json:"is_relevant"`
	SentimentScore json.RawMessage `json:"sentiment_score"`
	RelatedAssets  []string        `json:"related_assets"`
	SignalType     string          `json:"signal_type"`
	Summary        string          `json:"summary"`
	SummaryZH      string          `json:"summary_zh"`
}

// ParseVerdict decodes a model reply into a normalised result.
// sourceURL, when set, is appended to the summary once.
func ParseVerdict(text, sourceURL string) (model.AnalysisResult, error) {
	raw, err := decodeVerdict(text)
	if err != nil {
		return model.AnalysisResult{}, err
	}

	sentiment, err := normalizeSentiment(raw.SentimentScore)
	if err != nil {
		return model.AnalysisResult{}, err
	}

	signalType, _ := model.ParseSignalType(raw.SignalType)

	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		summary = strings.TrimSpace(raw.SummaryZH)
	}
	if sourceURL != "" && !strings.Contains(summary, sourceURL) {
		summary = strings.TrimSpace(summary + " " + sourceURL)
	}

	return model.AnalysisResult{
		IsRelevant:     raw.IsRelevant != nil && *raw.IsRelevant,
		SentimentScore: sentiment,
		RelatedAssets:  normalizeAssets(raw.RelatedAssets),
		SignalType:     signalType,
		Summary:        summary,
	}, nil
}

func decodeVerdict(text string) (rawVerdict, error) {
	text = stripFences(text)
	if text == "" {
		return rawVerdict{}, errors.New("empty completion")
	}

	var raw rawVerdict
	err := json.Unmarshal([]byte(text), &raw)
	if err == nil {
		return raw, nil
	}

	obj := flatObject.FindString(text)
	if obj == "" {
		return rawVerdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	raw = rawVerdict{}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return rawVerdict{}, fmt.Errorf("decode embedded verdict: %w", err)
	}
	return raw, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := strings.TrimSpace(strings.TrimPrefix(text, "```"))
	body = strings.TrimSpace(strings.TrimSuffix(body, "```"))
	// optional language tag, e.g. ```json
	end := strings.IndexFunc(body, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	switch {
	case end < 0:
		return ""
	case end > 0:
		body = body[end:]
	}
	return strings.TrimSpace(body)
}

// normalizeSentiment truncates toward zero and clamps to [0,10]; a missing score is neutral.
func normalizeSentiment(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return defaultSentiment, nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return 0, fmt.Errorf("sentiment_score: %w", err)
		}
		s = strings.TrimSpace(unquoted)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("sentiment_score %q: %w", s, err)
	}
	d = d.Truncate(0)
	switch {
	case d.LessThan(minSentiment):
		return 0, nil
	case d.GreaterThan(maxSentiment):
		return 10, nil
	default:
		return int(d.IntPart()), nil
	}
}

func normalizeAssets(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
