package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"xalpha/internal/alerting"
	"xalpha/internal/config"
	"xalpha/internal/metrics"
	"xalpha/internal/model"
	"xalpha/internal/scheduler"
	"xalpha/internal/storage"
)

// Collector gathers raw items from the monitored roster.
type Collector interface {
	FetchAll(ctx context.Context, sources []model.Source) []model.RawItem
}

// Analyzer classifies items; results[i] belongs to items[i].
type Analyzer interface {
	BatchAnalyze(ctx context.Context, items []model.RawItem, concurrency int) []model.AnalysisResult
}

// CycleReport summarises one orchestrator cycle.
type CycleReport struct {
	CycleID    string
	Started    time.Time
	Duration   time.Duration
	Skipped    bool
	Collected  int
	Duplicates int
	Analyzed   int
	Degraded   int
	Relevant   int
	Saved      int
	SaveFailed int
	Alerted    int
	Checkpoint time.Time
}

// Service orchestrates collection, dedup, analysis, persistence and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	collector Collector
	analyzer  Analyzer
	store     storage.Store
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	sources            []model.Source
	concurrency        int
	rememberIrrelevant bool
	alertsOn           bool
	filter             alerting.Filter
	locker             storage.AdvisoryLocker
	lockKey            int64
	now                func() time.Time
}

// New constructs the harvesting service.
func New(cfg *config.Config, sched *scheduler.Scheduler, collector Collector, analyzer Analyzer, store storage.Store, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:          sched,
		collector:          collector,
		analyzer:           analyzer,
		store:              store,
		notifier:           notifier,
		metrics:            m,
		logger:             logger.With().Str("component", "service").Logger(),
		sources:            cfg.Roster,
		concurrency:        cfg.Analyzer.Concurrency,
		rememberIrrelevant: cfg.Dedup.RememberIrrelevant,
		alertsOn:           cfg.Alerting.Enabled,
		filter:             alerting.NewFilter(cfg.Alerting.SignalTypes, cfg.Alerting.MinSentiment),
		locker:             locker,
		lockKey:            cfg.Scheduler.AdvisoryLockKey,
		now:                time.Now,
	}
}

// Run begins the poll loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		_, err := s.RunCycle(ctx)
		return err
	})
}

// State reports whether a cycle is in progress.
func (s *Service) State() scheduler.State {
	if s.scheduler == nil {
		return scheduler.StateIdle
	}
	return s.scheduler.State()
}

// RunCycle executes collect, dedup, analyze and persist once. The checkpoint
// is written even when the cycle fails or panics, including a failed lock
// acquisition. A cycle skipped because another worker holds the lock leaves
// the checkpoint to that worker.
func (s *Service) RunCycle(ctx context.Context) (report CycleReport, err error) {
	report.CycleID = uuid.NewString()
	report.Started = s.now().UTC()
	logger := s.logger.With().Str("cycle_id", report.CycleID).Logger()

	var unlock func()
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
			logger.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("cycle panicked")
		}
		if report.Skipped {
			return
		}
		s.finishCycle(ctx, &report, err, logger)
	}()

	var proceed bool
	unlock, proceed, err = s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		report.Skipped = true
		logger.Info().Msg("skip cycle because advisory lock held elsewhere")
		return report, nil
	}

	err = s.executeCycle(ctx, &report, logger)
	return report, err
}

func (s *Service) executeCycle(ctx context.Context, report *CycleReport, logger zerolog.Logger) error {
	if s.store == nil {
		return storage.ErrNotConfigured
	}

	items := s.collector.FetchAll(ctx, s.sources)
	report.Collected = len(items)
	if len(items) == 0 {
		logger.Info().Msg("no items collected")
		return nil
	}

	fresh := s.dedupe(ctx, items, logger)
	report.Duplicates = len(items) - len(fresh)
	s.metrics.ItemsDeduped(report.Duplicates)
	if len(fresh) == 0 {
		logger.Info().Int("collected", len(items)).Msg("no unseen items")
		return nil
	}

	results := s.analyzer.BatchAnalyze(ctx, fresh, s.concurrency)
	if len(results) != len(fresh) {
		return fmt.Errorf("analyzer returned %d results for %d items", len(results), len(fresh))
	}

	now := s.now()
	seen := make([]string, 0, len(fresh))
	for i, item := range fresh {
		result := results[i]
		if result.Degraded {
			report.Degraded++
			continue
		}
		report.Analyzed++

		if !result.IsRelevant {
			seen = append(seen, item.ID)
			continue
		}
		report.Relevant++

		signal := model.NewSignal(item, result, now)
		if err := s.store.SaveSignal(ctx, signal); err != nil {
			report.SaveFailed++
			s.metrics.SignalSaved(false)
			logger.Error().Err(err).Str("id", item.ID).Str("author", item.Author).Msg("failed to save signal")
			continue
		}
		report.Saved++
		s.metrics.SignalSaved(true)
		seen = append(seen, item.ID)

		logger.Info().
			Str("id", signal.ID).
			Str("author", signal.Author).
			Str("signal_type", string(signal.SignalType)).
			Int("sentiment", signal.Sentiment).
			Strs("assets", signal.Assets).
			Msg("signal saved")

		if s.notify(ctx, report.CycleID, signal, logger) {
			report.Alerted++
		}
	}

	if s.rememberIrrelevant && len(seen) > 0 {
		if err := s.store.MarkSeen(ctx, seen); err != nil {
			logger.Error().Err(err).Int("items", len(seen)).Msg("failed to record seen items")
		}
	}
	return nil
}

// dedupe drops items already stored, already seen, or repeated within the batch.
func (s *Service) dedupe(ctx context.Context, items []model.RawItem, logger zerolog.Logger) []model.RawItem {
	fresh := make([]model.RawItem, 0, len(items))
	batch := make(map[string]struct{}, len(items))

	for _, item := range items {
		if _, dup := batch[item.ID]; dup {
			continue
		}
		batch[item.ID] = struct{}{}

		exists, err := s.store.Exists(ctx, item.ID)
		if err != nil {
			logger.Warn().Err(err).Str("id", item.ID).Msg("exists check failed; treating item as new")
		}
		if exists {
			continue
		}

		if s.rememberIrrelevant {
			seen, err := s.store.Seen(ctx, item.ID)
			if err != nil {
				logger.Warn().Err(err).Str("id", item.ID).Msg("seen check failed; treating item as new")
			}
			if seen {
				continue
			}
		}
		fresh = append(fresh, item)
	}
	return fresh
}

func (s *Service) notify(ctx context.Context, cycleID string, signal model.Signal, logger zerolog.Logger) bool {
	if !s.alertsOn || s.notifier == nil || !s.filter.Allow(signal) {
		return false
	}
	if err := s.notifier.Notify(ctx, alerting.Notification{Signal: signal, CycleID: cycleID}); err != nil {
		s.metrics.Alert("failed")
		logger.Error().Err(err).Str("id", signal.ID).Msg("failed to dispatch alert")
		return false
	}
	s.metrics.Alert("sent")
	return true
}

func (s *Service) finishCycle(ctx context.Context, report *CycleReport, cycleErr error, logger zerolog.Logger) {
	if s.store != nil {
		checkpoint := s.now().UTC()
		if err := s.store.SetCheckpoint(ctx, checkpoint); err != nil {
			logger.Error().Err(err).Msg("failed to write checkpoint")
		} else {
			report.Checkpoint = checkpoint
			s.metrics.Checkpoint(checkpoint)
		}
	}

	report.Duration = s.now().Sub(report.Started)
	result := "ok"
	if cycleErr != nil {
		result = "error"
	}
	s.metrics.CycleCompleted(result, report.Duration)

	event := logger.Info()
	if cycleErr != nil {
		event = logger.Error().Err(cycleErr)
	}
	event.
		Int("collected", report.Collected).
		Int("duplicates", report.Duplicates).
		Int("analyzed", report.Analyzed).
		Int("degraded", report.Degraded).
		Int("relevant", report.Relevant).
		Int("saved", report.Saved).
		Int("save_failed", report.SaveFailed).
		Int("alerted", report.Alerted).
		Dur("duration", report.Duration).
		Msg("cycle finished")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
