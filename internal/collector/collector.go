package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"xalpha/internal/extract"
	"xalpha/internal/metrics"
	"xalpha/internal/model"
)

const (
	timelinePath    = "/srv/timeline-profile/screen-name/"
	maxPayloadBytes = 8 << 20

	channelPrimary = "primary"
	channelMirror  = "mirror"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

var csrfCookie = regexp.MustCompile(`ct0=([^;]+)`)

// Options parameterise the collector.
type Options struct {
	PrimaryBaseURL  string
	MirrorInstances []string
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MinDelay        time.Duration
	MaxDelay        time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	BackoffJitter   time.Duration
	Cookies         string
	UserAgents      []string

	HTTPClient *http.Client
	Sleep      SleepFunc
	Rand       *rand.Rand
	Metrics    *metrics.Metrics
}

// Collector retrieves timelines source by source.
type Collector struct {
	opts    Options
	client  *http.Client
	primary *extract.Extractor
	pacer   *Pacer
	backoff Backoff
	sleep   SleepFunc
	rng     *lockedRand
	metrics *metrics.Metrics
	logger  zerolog.Logger
	baseURL string
}

// New constructs a collector.
func New(opts Options, logger zerolog.Logger) *Collector {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = defaultUserAgents
	}
	baseURL := strings.TrimRight(opts.PrimaryBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://syndication.twitter.com"
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	rng := newLockedRand(opts.Rand)

	return &Collector{
		opts:    opts,
		client:  client,
		primary: extract.New(),
		pacer:   NewPacer(opts.MinDelay, opts.MaxDelay, rng.Int64N, sleep),
		backoff: NewBackoff(opts.BackoffBase, opts.BackoffMax, opts.BackoffJitter, rng.Int64N),
		sleep:   sleep,
		rng:     rng,
		metrics: opts.Metrics,
		logger:  logger.With().Str("component", "collector").Logger(),
		baseURL: baseURL,
	}
}

// FetchAll collects every source sequentially in ascending priority order.
// Empty sources never stop the rest; an all-empty run is logged, not failed.
func (c *Collector) FetchAll(ctx context.Context, sources []model.Source) []model.RawItem {
	ordered := SortByPriority(sources)
	all := make([]model.RawItem, 0)
	succeeded := 0

	for i, src := range ordered {
		if ctx.Err() != nil {
			break
		}
		c.logger.Info().Int("index", i+1).Int("total", len(ordered)).Str("source", src.Handle).Msg("collecting source")

		items := c.Fetch(ctx, src)
		if len(items) > 0 {
			succeeded++
		}
		all = append(all, items...)
	}

	if len(ordered) > 0 && succeeded == 0 {
		c.logger.Warn().Int("sources", len(ordered)).Msg("all sources returned no items")
	} else {
		c.logger.Info().Int("succeeded", succeeded).Int("sources", len(ordered)).Int("items", len(all)).Msg("collection finished")
	}
	return all
}

// Fetch collects one source: primary channel first, mirror when the primary yields nothing.
func (c *Collector) Fetch(ctx context.Context, src model.Source) []model.RawItem {
	items := c.fetchPrimary(ctx, src.Handle)
	channel := channelPrimary
	if len(items) == 0 && ctx.Err() == nil {
		c.logger.Warn().Str("source", src.Handle).Msg("primary channel empty; trying mirror")
		items = c.fetchMirror(ctx, src.Handle)
		channel = channelMirror
	}
	c.metrics.ItemsCollected(channel, len(items))

	for i := range items {
		items[i].Source = src.Handle
		items[i].Tags = append([]string(nil), src.Tags...)
	}
	return items
}

func (c *Collector) fetchPrimary(ctx context.Context, handle string) []model.RawItem {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil
	}

	url := c.baseURL + timelinePath + handle
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.pacer.Mark()
		}
		body, _, status, err := c.get(ctx, url, c.primaryHeaders())

		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			c.metrics.FetchFailed(channelPrimary, failureReason(err))
			c.logger.Warn().Err(err).Str("source", handle).Int("attempt", attempt+1).Int("max_attempts", c.opts.MaxRetries).Msg("primary request failed")
			wait = c.opts.RetryDelay
		case status == http.StatusOK:
			items, strategy := c.primary.ExtractWith(body, extract.KindHTML, handle)
			c.logger.Info().Str("source", handle).Str("strategy", strategy).Int("items", len(items)).Msg("primary payload extracted")
			return items
		case status == http.StatusNotFound:
			c.logger.Warn().Str("source", handle).Msg("source does not exist")
			return nil
		case status == http.StatusTooManyRequests:
			c.metrics.RateLimited()
			wait = c.backoff.Delay(attempt)
			c.logger.Warn().Str("source", handle).Int("attempt", attempt+1).Dur("backoff", wait).Msg("rate limited; backing off")
		default:
			c.metrics.FetchFailed(channelPrimary, fmt.Sprintf("http_%d", status))
			c.logger.Error().Str("source", handle).Int("status", status).Int("attempt", attempt+1).Msg("primary request rejected")
			wait = c.opts.RetryDelay
		}

		if attempt == c.opts.MaxRetries-1 {
			break
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil
		}
	}
	return nil
}

func (c *Collector) fetchMirror(ctx context.Context, handle string) []model.RawItem {
	if len(c.opts.MirrorInstances) == 0 {
		return nil
	}
	instance := strings.TrimRight(c.opts.MirrorInstances[c.rng.IntN(len(c.opts.MirrorInstances))], "/")
	url := instance + "/" + handle

	c.pacer.Mark()
	body, contentType, status, err := c.get(ctx, url, c.baseHeaders())
	if err != nil {
		c.metrics.FetchFailed(channelMirror, failureReason(err))
		c.logger.Error().Err(err).Str("source", handle).Str("mirror", instance).Msg("mirror request failed")
		return nil
	}
	if status != http.StatusOK {
		c.metrics.FetchFailed(channelMirror, fmt.Sprintf("http_%d", status))
		c.logger.Error().Str("source", handle).Str("mirror", instance).Int("status", status).Msg("mirror request rejected")
		return nil
	}

	kind := extract.KindHTML
	if extract.LooksLikeFeed(contentType, body) {
		kind = extract.KindFeed
	}
	ex := extract.New(extract.WithMarkers(extract.MirrorMarkers(instance)))
	items, strategy := ex.ExtractWith(body, kind, handle)
	if len(items) == 0 {
		c.logger.Error().Str("source", handle).Str("mirror", instance).Msg("mirror returned no items")
	} else {
		c.logger.Info().Str("source", handle).Str("mirror", instance).Str("strategy", strategy).Int("items", len(items)).Msg("mirror payload extracted")
	}
	return items
}

func (c *Collector) get(ctx context.Context, url string, headers http.Header) ([]byte, string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", 0, err
	}
	req.Header = headers

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), resp.StatusCode, nil
}

func (c *Collector) primaryHeaders() http.Header {
	h := c.baseHeaders()
	if cookies := strings.TrimSpace(c.opts.Cookies); cookies != "" {
		h.Set("Cookie", cookies)
		if match := csrfCookie.FindStringSubmatch(cookies); match != nil {
			h.Set("x-csrf-token", match[1])
			h.Set("x-twitter-active-user", "yes")
			h.Set("x-twitter-auth-type", "OAuth2Session")
		}
	}
	return h
}

func (c *Collector) baseHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", c.opts.UserAgents[c.rng.IntN(len(c.opts.UserAgents))])
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	return h
}

func failureReason(err error) string {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "transport"
}

// SortByPriority orders sources ascending by priority, keeping roster order for ties.
func SortByPriority(sources []model.Source) []model.Source {
	sorted := make([]model.Source, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}
