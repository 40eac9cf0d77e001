package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"xalpha/internal/model"
	"xalpha/internal/storage"
)

// Health reports liveness. It never requires the API key.
func (h *Handler) Health(c *gin.Context) {
	users := make([]string, 0, len(h.roster))
	for _, src := range h.roster {
		users = append(users, src.Handle)
	}

	resp := HealthResponse{Status: "ok", MonitoredUsers: users}
	if h.store == nil {
		resp.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("health check: stats query failed")
		resp.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	resp.DBConnected = true
	resp.TotalSignals = stats.Total
	resp.LastScanTime = formatTime(stats.LastScanTime)
	c.JSON(http.StatusOK, resp)
}

// Signals lists stored signals, newest first.
func (h *Handler) Signals(c *gin.Context) {
	q, err := parseSignalQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	if !h.requireStore(c) {
		return
	}

	signals, err := h.store.QuerySignals(c.Request.Context(), q)
	if err != nil {
		h.logger.Error().Err(err).Str("operation", "query_signals").Msg("database error")
		internalError(c)
		return
	}

	now := h.now()
	data := make([]SignalResponse, 0, len(signals))
	for _, s := range signals {
		data = append(data, newSignalResponse(s, now))
	}

	c.JSON(http.StatusOK, SignalsResponse{
		Status:    "success",
		Timestamp: now.Unix(),
		Data:      data,
	})
}

// Users returns the monitored roster with per-author signal counts.
func (h *Handler) Users(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}

	counts, err := h.store.Authors(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("operation", "authors").Msg("database error")
		internalError(c)
		return
	}
	byAuthor := make(map[string]storage.AuthorCount, len(counts))
	for _, ac := range counts {
		byAuthor[strings.ToLower(ac.Author)] = ac
	}

	data := make([]UserResponse, 0, len(h.roster))
	for _, src := range h.roster {
		user := UserResponse{
			Username: src.Handle,
			Tags:     nonNil(src.Tags),
			Priority: src.Priority,
		}
		if ac, ok := byAuthor[strings.ToLower(src.Handle)]; ok {
			user.Signals = ac.Signals
			last := ac.LastSignalAt
			user.LastSignalAt = formatTime(&last)
		}
		data = append(data, user)
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   data,
	})
}

// Stats returns aggregate counts over the stored signals.
func (h *Handler) Stats(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}

	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("operation", "stats").Msg("database error")
		internalError(c)
		return
	}

	bySignal := make(map[string]int64, len(stats.BySignalType))
	for st, n := range stats.BySignalType {
		bySignal[string(st)] = n
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": StatsResponse{
			TotalSignals: stats.Total,
			BySignal:     bySignal,
			AvgSentiment: stats.AvgSentiment.StringFixed(2),
			LastScanTime: formatTime(stats.LastScanTime),
		},
	})
}

func (h *Handler) requireStore(c *gin.Context) bool {
	if h.store != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "detail": storage.ErrNotConfigured.Error()})
	return false
}

func parseSignalQuery(c *gin.Context) (storage.Query, error) {
	q := storage.Query{Limit: storage.DefaultQueryLimit}

	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSignalsLimit {
			return q, fmt.Errorf("limit must be an integer between 1 and %d", maxSignalsLimit)
		}
		q.Limit = n
	}

	if raw, ok := c.GetQuery("min_sentiment"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 10 {
			return q, fmt.Errorf("min_sentiment must be an integer between 0 and 10")
		}
		q.MinSentiment = &n
	}

	if raw := strings.TrimSpace(c.Query("signal_type")); raw != "" {
		st, ok := model.ParseSignalType(raw)
		if !ok {
			return q, fmt.Errorf("signal_type must be one of BUY, SELL, WATCH, NEUTRAL")
		}
		q.SignalType = string(st)
	}

	q.Asset = c.Query("symbol")
	q.Author = c.Query("author")
	return q, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "detail": err.Error()})
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "detail": "internal error"})
}

// timeAgo renders the distance from t to now, falling back to a date after a week.
func timeAgo(t, now time.Time) string {
	seconds := int64(now.Sub(t) / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	switch {
	case seconds < 60:
		return fmt.Sprintf("%d secs ago", seconds)
	case seconds < 3600:
		return plural(seconds/60, "min")
	case seconds < 86400:
		return plural(seconds/3600, "hour")
	case seconds < 604800:
		return plural(seconds/86400, "day")
	default:
		return t.UTC().Format("2006-01-02")
	}
}

func plural(n int64, unit string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}
