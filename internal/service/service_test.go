package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xalpha/internal/alerting"
	"xalpha/internal/config"
	"xalpha/internal/model"
	"xalpha/internal/storage"
)

type fakeCollector struct {
	items []model.RawItem
	calls int
}

func (f *fakeCollector) FetchAll(context.Context, []model.Source) []model.RawItem {
	f.calls++
	return append([]model.RawItem(nil), f.items...)
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	verdicts map[string]model.AnalysisResult
	analyzed []string
	panicOn  string
}

func (f *fakeAnalyzer) BatchAnalyze(_ context.Context, items []model.RawItem, _ int) []model.AnalysisResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.AnalysisResult, len(items))
	for i, it := range items {
		if it.ID == f.panicOn {
			panic("analyzer exploded")
		}
		f.analyzed = append(f.analyzed, it.ID)
		if v, ok := f.verdicts[it.ID]; ok {
			out[i] = v
			continue
		}
		out[i] = model.DefaultResult()
		out[i].Degraded = false
	}
	return out
}

type recordingNotifier struct {
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return r.err
}

type failingStore struct {
	storage.Store
	saveErr error
}

func (f *failingStore) SaveSignal(context.Context, model.Signal) error {
	return f.saveErr
}

type lockingStore struct {
	storage.Store
	acquired bool
	lockErr  error
	unlocked int
}

func (l *lockingStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if l.lockErr != nil {
		return nil, false, l.lockErr
	}
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.unlocked++ }, true, nil
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	st, err := storage.OpenSQLite(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "svc.db")})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testConfig() *config.Config {
	return &config.Config{
		Roster:   []model.Source{{Handle: "alice", Priority: 1}},
		Analyzer: config.AnalyzerConfig{Concurrency: 2},
		Dedup:    config.DedupConfig{RememberIrrelevant: true},
		Alerting: config.AlertingConfig{Enabled: true, SignalTypes: []string{"BUY", "SELL"}},
	}
}

func rawItem(id, content string) model.RawItem {
	return model.RawItem{
		ID:          id,
		Author:      "alice",
		Content:     content,
		SourceURL:   model.PostURL("alice", id),
		PublishedAt: time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC),
		Source:      "alice",
		Tags:        []string{"KOL"},
	}
}

func buyVerdict() model.AnalysisResult {
	return model.AnalysisResult{
		IsRelevant:     true,
		SentimentScore: 8,
		RelatedAssets:  []string{"BTC"},
		SignalType:     model.SignalBuy,
		Summary:        "看涨",
	}
}

func newTestService(cfg *config.Config, c Collector, a Analyzer, st storage.Store, n alerting.Notifier) *Service {
	return New(cfg, nil, c, a, st, n, nil, zerolog.Nop())
}

func TestEndToEndCycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	collector := &fakeCollector{items: []model.RawItem{rawItem("A", "BTC breaking out"), rawItem("B", "lunch was great")}}
	analyzer := &fakeAnalyzer{verdicts: map[string]model.AnalysisResult{"A": buyVerdict()}}
	notifier := &recordingNotifier{}

	svc := newTestService(testConfig(), collector, analyzer, st, notifier)
	report, err := svc.RunCycle(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, report.CycleID)
	assert.Equal(t, 2, report.Collected)
	assert.Equal(t, 1, report.Relevant)
	assert.Equal(t, 1, report.Saved)
	assert.Equal(t, 1, report.Alerted)
	assert.False(t, report.Checkpoint.IsZero())

	signals, err := st.QuerySignals(ctx, storage.Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "A", signals[0].ID)
	assert.Equal(t, model.SignalBuy, signals[0].SignalType)
	assert.Equal(t, 8, signals[0].Sentiment)
	assert.Equal(t, []string{"KOL"}, signals[0].Tags)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	require.NotNil(t, stats.LastScanTime)

	require.Len(t, notifier.notes, 1)
	assert.Equal(t, "A", notifier.notes[0].Signal.ID)
	assert.Equal(t, report.CycleID, notifier.notes[0].CycleID)
}

func TestDedupIdempotence(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	collector := &fakeCollector{items: []model.RawItem{rawItem("A", "BTC breaking out"), rawItem("B", "lunch was great")}}
	analyzer := &fakeAnalyzer{verdicts: map[string]model.AnalysisResult{"A": buyVerdict()}}
	svc := newTestService(testConfig(), collector, analyzer, st, nil)

	_, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	second, err := svc.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, second.Duplicates)
	assert.Equal(t, []string{"A", "B"}, analyzer.analyzed, "second cycle must not re-analyze")

	exists, err := st.Exists(ctx, "A")
	require.NoError(t, err)
	assert.True(t, exists)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}

func TestIrrelevantReanalyzedWithoutLedger(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cfg := testConfig()
	cfg.Dedup.RememberIrrelevant = false
	collector := &fakeCollector{items: []model.RawItem{rawItem("B", "lunch was great")}}
	analyzer := &fakeAnalyzer{}
	svc := newTestService(cfg, collector, analyzer, st, nil)

	_, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	_, err = svc.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "B"}, analyzer.analyzed)
}

func TestInCycleDuplicatesAnalyzedOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	item := rawItem("A", "BTC breaking out")
	collector := &fakeCollector{items: []model.RawItem{item, item}}
	analyzer := &fakeAnalyzer{verdicts: map[string]model.AnalysisResult{"A": buyVerdict()}}
	svc := newTestService(testConfig(), collector, analyzer, st, nil)

	report, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, []string{"A"}, analyzer.analyzed)
}

func TestDegradedResultsStayEligible(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	collector := &fakeCollector{items: []model.RawItem{rawItem("C", "ETH unlock incoming")}}
	analyzer := &fakeAnalyzer{verdicts: map[string]model.AnalysisResult{"C": model.DefaultResult()}}
	svc := newTestService(testConfig(), collector, analyzer, st, nil)

	report, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Degraded)
	assert.Zero(t, report.Saved)

	seen, err := st.Seen(ctx, "C")
	require.NoError(t, err)
	assert.False(t, seen, "failed analyses must be retried next cycle")

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestCheckpointWrittenOnEmptyCycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(testConfig(), &fakeCollector{}, &fakeAnalyzer{}, st, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	report, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Collected)

	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, fixed.Equal(*cp))
}

func TestPanicRecoveredAndCheckpointed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	collector := &fakeCollector{items: []model.RawItem{rawItem("P", "this will explode")}}
	analyzer := &fakeAnalyzer{panicOn: "P"}
	svc := newTestService(testConfig(), collector, analyzer, st, nil)

	report, err := svc.RunCycle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.False(t, report.Checkpoint.IsZero())

	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	assert.NotNil(t, cp)
}

func TestLockErrorStillCheckpointed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	locked := &lockingStore{Store: st, lockErr: errors.New("connection reset")}
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 42
	collector := &fakeCollector{items: []model.RawItem{rawItem("A", "BTC breaking out")}}
	svc := newTestService(cfg, collector, &fakeAnalyzer{}, locked, nil)

	report, err := svc.RunCycle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisory lock")
	assert.False(t, report.Skipped)
	assert.Zero(t, collector.calls, "no collection without the lock")
	assert.False(t, report.Checkpoint.IsZero())

	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	assert.NotNil(t, cp)
}

func TestLockHeldElsewhereSkipsWithoutCheckpoint(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 42

	busy := &lockingStore{Store: st}
	collector := &fakeCollector{}
	report, err := newTestService(cfg, collector, &fakeAnalyzer{}, busy, nil).RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, collector.calls)

	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	free := &lockingStore{Store: st, acquired: true}
	report, err = newTestService(cfg, collector, &fakeAnalyzer{}, free, nil).RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, free.unlocked)
	assert.False(t, report.Checkpoint.IsZero())
}

func TestSaveFailureNotMarkedSeen(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	wrapped := &failingStore{Store: st, saveErr: errors.New("disk full")}
	collector := &fakeCollector{items: []model.RawItem{rawItem("A", "BTC breaking out")}}
	analyzer := &fakeAnalyzer{verdicts: map[string]model.AnalysisResult{"A": buyVerdict()}}
	notifier := &recordingNotifier{}
	svc := newTestService(testConfig(), collector, analyzer, wrapped, notifier)

	report, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SaveFailed)
	assert.Empty(t, notifier.notes)

	seen, err := st.Seen(ctx, "A")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestAlertFilterAndFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	watch := buyVerdict()
	watch.SignalType = model.SignalWatch
	collector := &fakeCollector{items: []model.RawItem{rawItem("A", "BTC breaking out"), rawItem("W", "watch the FOMC")}}
	analyzer := &fakeAnalyzer{verdicts: map[string]model.AnalysisResult{"A": buyVerdict(), "W": watch}}
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	svc := newTestService(testConfig(), collector, analyzer, st, notifier)

	report, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Saved)
	assert.Zero(t, report.Alerted)
	require.Len(t, notifier.notes, 1, "WATCH signals are not pushed")
	assert.Equal(t, "A", notifier.notes[0].Signal.ID)
}

func TestRunRequiresScheduler(t *testing.T) {
	svc := newTestService(testConfig(), &fakeCollector{}, &fakeAnalyzer{}, nil, nil)
	require.Error(t, svc.Run(context.Background()))
}

func TestNilStoreFailsButDoesNotPanic(t *testing.T) {
	svc := newTestService(testConfig(), &fakeCollector{}, &fakeAnalyzer{}, nil, nil)
	_, err := svc.RunCycle(context.Background())
	require.ErrorIs(t, err, storage.ErrNotConfigured)
}
