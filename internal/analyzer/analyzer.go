// Package analyzer turns raw posts into financial signal verdicts through a chat completion service.
package analyzer

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"xalpha/internal/metrics"
	"xalpha/internal/model"
)

const systemPrompt = `You are a financial intelligence analyst. Classify the social media post supplied by the user.

Rules:
1. Mark the post irrelevant when it has nothing to do with crypto assets, equities or macroeconomics, or is small talk, memes or daily life.
2. Otherwise extract a trading signal.

sentiment_score (integer 0-10):
- 0-2: extremely bearish
- 3-4: leaning bearish
- 5: neutral
- 6-7: leaning bullish
- 8-10: extremely bullish

signal_type:
- BUY: explicit buy call or strongly bullish statement
- SELL: explicit sell call or strongly bearish statement
- WATCH: important information that is not a trade signal
- NEUTRAL: neutral or not enough information

Reply with bare JSON only. No Markdown, no code fences, no extra text.

Output format:
{
  "is_relevant": true or false,
  "sentiment_score": integer 0-10,
  "related_assets": ["BTC", "ETH"],
  "signal_type": "BUY" | "SELL" | "WATCH" | "NEUTRAL",
  "summary": "one sentence summary in Chinese, 15-30 characters"
}`

const (
	outcomeOK       = "ok"
	outcomeSkipped  = "skipped"
	outcomeDegraded = "degraded"
	outcomePanic    = "panic"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options parameterise the analyzer.
type Options struct {
	MaxRetries        int
	RetryDelay        time.Duration
	MinContentLength  int
	Concurrency       int
	RequestsPerSecond float64

	Sleep   SleepFunc
	Metrics *metrics.Metrics
}

// Analyzer classifies items. It never fails: every error path ends in the default verdict.
type Analyzer struct {
	completer Completer
	opts      Options
	limiter   *rate.Limiter
	sleep     SleepFunc
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New constructs an analyzer on top of completer.
func New(completer Completer, opts Options, logger zerolog.Logger) *Analyzer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Analyzer{
		completer: completer,
		opts:      opts,
		limiter:   limiter,
		sleep:     sleep,
		metrics:   opts.Metrics,
		logger:    logger.With().Str("component", "analyzer").Logger(),
	}
}

// Analyze classifies one item, retrying transport and parse failures.
func (a *Analyzer) Analyze(ctx context.Context, item model.RawItem) model.AnalysisResult {
	start := time.Now()

	if utf8.RuneCountInString(strings.TrimSpace(item.Content)) < a.opts.MinContentLength {
		result := model.DefaultResult()
		result.Degraded = false
		a.metrics.Analysis(outcomeSkipped, time.Since(start))
		return result
	}

	user := UserPrompt(item)
	for attempt := 0; attempt < a.opts.MaxRetries; attempt++ {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				break
			}
		}

		result, err := a.attempt(ctx, user, item.SourceURL)
		if err == nil {
			a.logger.Debug().
				Str("id", item.ID).
				Str("author", item.Author).
				Str("signal_type", string(result.SignalType)).
				Int("sentiment", result.SentimentScore).
				Msg("analysis completed")
			a.metrics.Analysis(outcomeOK, time.Since(start))
			return result
		}

		a.logger.Warn().Err(err).
			Str("id", item.ID).
			Int("attempt", attempt+1).
			Int("max_attempts", a.opts.MaxRetries).
			Msg("analysis attempt failed")

		if ctx.Err() != nil || attempt == a.opts.MaxRetries-1 {
			break
		}
		if err := a.sleep(ctx, a.opts.RetryDelay); err != nil {
			break
		}
	}

	a.logger.Error().Str("id", item.ID).Str("author", item.Author).Msg("analysis exhausted retries; using default verdict")
	a.metrics.Analysis(outcomeDegraded, time.Since(start))
	return model.DefaultResult()
}

func (a *Analyzer) attempt(ctx context.Context, user, sourceURL string) (model.AnalysisResult, error) {
	text, err := a.completer.Complete(ctx, systemPrompt, user)
	if err != nil {
		return model.AnalysisResult{}, err
	}
	return ParseVerdict(text, sourceURL)
}

// BatchAnalyze classifies items with at most concurrency calls in flight.
// results[i] always belongs to items[i].
func (a *Analyzer) BatchAnalyze(ctx context.Context, items []model.RawItem, concurrency int) []model.AnalysisResult {
	if concurrency <= 0 {
		concurrency = a.opts.Concurrency
	}
	results := make([]model.AnalysisResult, len(items))
	if len(items) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range items {
		g.Go(func() error {
			results[i] = a.safeAnalyze(ctx, items[i])
			return nil
		})
	}
	_ = g.Wait()

	relevant := 0
	for _, r := range results {
		if r.IsRelevant {
			relevant++
		}
	}
	a.logger.Info().Int("items", len(items)).Int("relevant", relevant).Int("concurrency", concurrency).Msg("batch analysis finished")
	return results
}

func (a *Analyzer) safeAnalyze(ctx context.Context, item model.RawItem) (result model.AnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Str("id", item.ID).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("analysis panicked; using default verdict")
			a.metrics.Analysis(outcomePanic, 0)
			result = model.DefaultResult()
		}
	}()
	return a.Analyze(ctx, item)
}

// UserPrompt renders the per-item user message.
func UserPrompt(item model.RawItem) string {
	author := item.Author
	if author == "" {
		author = "unknown"
	}
	return fmt.Sprintf("KOL: @%s\n%s", author, item.Content)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
