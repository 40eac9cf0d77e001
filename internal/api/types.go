package api

import (
	"time"

	"github.com/rs/zerolog"

	"xalpha/internal/logging"
	"xalpha/internal/metrics"
	"xalpha/internal/model"
	"xalpha/internal/storage"
)

const maxSignalsLimit = 100

// Handler serves the read-only query endpoints.
type Handler struct {
	store   storage.Store
	roster  []model.Source
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewHandler wires the query handlers to a store and the monitored roster.
func NewHandler(store storage.Store, roster []model.Source, m *metrics.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		roster:  roster,
		metrics: m,
		logger:  logging.Component(logger, "api"),
		now:     time.Now,
	}
}

// SignalResponse is one signal as rendered by /api/v1/signals.
type SignalResponse struct {
	ID               string   `json:"id"`
	Author           string   `json:"author"`
	AvatarURL        *string  `json:"avatar_url"`
	Summary          string   `json:"summary"`
	OriginalText     string   `json:"original_text"`
	Signal           string   `json:"signal"`
	Sentiment        int      `json:"sentiment"`
	Assets           []string `json:"assets"`
	TweetURL         string   `json:"tweet_url"`
	TimeAgo          string   `json:"time_ago"`
	PublishTimestamp int64    `json:"publish_timestamp"`
	Tags             []string `json:"tags"`
}

// SignalsResponse wraps the signal list.
type SignalsResponse struct {
	Status    string           `json:"status"`
	Timestamp int64            `json:"timestamp"`
	Data      []SignalResponse `json:"data"`
}

// HealthResponse reports liveness and a short summary of the store.
type HealthResponse struct {
	Status         string   `json:"status"`
	DBConnected    bool     `json:"db_connected"`
	LastScanTime   *string  `json:"last_scan_time"`
	MonitoredUsers []string `json:"monitored_users"`
	TotalSignals   int64    `json:"total_signals"`
}

// UserResponse is one roster entry with its stored signal count.
type UserResponse struct {
	Username     string   `json:"username"`
	Tags         []string `json:"tags"`
	Priority     int      `json:"priority"`
	Signals      int64    `json:"signals"`
	LastSignalAt *string  `json:"last_signal_at"`
}

// StatsResponse mirrors storage.Stats for JSON.
type StatsResponse struct {
	TotalSignals int64            `json:"total_signals"`
	BySignal     map[string]int64 `json:"by_signal"`
	AvgSentiment string           `json:"avg_sentiment"`
	LastScanTime *string          `json:"last_scan_time"`
}

func newSignalResponse(s model.Signal, now time.Time) SignalResponse {
	var avatar *string
	if s.AvatarURL != "" {
		v := s.AvatarURL
		avatar = &v
	}
	published := s.PublishedAt
	if published.IsZero() {
		published = s.CreatedAt
	}
	return SignalResponse{
		ID:               s.ID,
		Author:           s.Author,
		AvatarURL:        avatar,
		Summary:          s.Summary,
		OriginalText:     s.RawContent,
		Signal:           string(s.SignalType),
		Sentiment:        s.Sentiment,
		Assets:           nonNil(s.Assets),
		TweetURL:         s.SourceURL,
		TimeAgo:          timeAgo(published, now),
		PublishTimestamp: published.Unix(),
		Tags:             nonNil(s.Tags),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339)
	return &v
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
