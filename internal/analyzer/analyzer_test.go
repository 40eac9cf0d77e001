package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"xalpha/internal/model"
)

type completerFunc func(ctx context.Context, system, user string) (string, error)

func (f completerFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

type sleepLog struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestAnalyzer(c Completer, log *sleepLog) *Analyzer {
	return New(c, Options{
		MaxRetries:       3,
		RetryDelay:       2 * time.Second,
		MinContentLength: 5,
		Concurrency:      3,
		Sleep:            log.sleep,
	}, zerolog.Nop())
}

func item(id, content string) model.RawItem {
	return model.RawItem{ID: id, Author: "alice", Content: content, SourceURL: model.PostURL("alice", id)}
}

func TestAnalyzeSuccess(t *testing.T) {
	var gotUser string
	c := completerFunc(func(_ context.Context, system, user string) (string, error) {
		if !strings.Contains(system, "sentiment_score") {
			t.Error("系统提示应包含输出格式")
		}
		gotUser = user
		return `{"is_relevant": true, "sentiment_score": 8, "related_assets": ["btc"], "signal_type": "BUY", "summary": "看涨"}`, nil
	})
	log := &sleepLog{}
	got := newTestAnalyzer(c, log).Analyze(context.Background(), item("1", "BTC to the moon"))

	if gotUser != "KOL: @alice\nBTC to the moon" {
		t.Fatalf("用户消息格式不正确: %q", gotUser)
	}
	if !got.IsRelevant || got.Degraded || got.SignalType != model.SignalBuy {
		t.Fatalf("结果不正确: %+v", got)
	}
	if !strings.HasSuffix(got.Summary, "https://x.com/alice/status/1") {
		t.Fatalf("摘要应追加链接: %q", got.Summary)
	}
	if len(log.sleeps) != 0 {
		t.Fatal("成功时不应等待")
	}
}

func TestAnalyzeSkipsShortContent(t *testing.T) {
	c := completerFunc(func(context.Context, string, string) (string, error) {
		t.Error("短内容不应调用分析服务")
		return "", nil
	})
	got := newTestAnalyzer(c, &sleepLog{}).Analyze(context.Background(), item("1", "  gm  "))
	if got.IsRelevant || got.SentimentScore != 5 || got.SignalType != model.SignalNeutral {
		t.Fatalf("应返回默认结果: %+v", got)
	}
	if got.Degraded {
		t.Fatal("跳过的短内容不属于降级结果")
	}
}

func TestAnalyzeRetriesThenDegrades(t *testing.T) {
	var calls int32
	c := completerFunc(func(context.Context, string, string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "I cannot answer that", nil
	})
	log := &sleepLog{}
	got := newTestAnalyzer(c, log).Analyze(context.Background(), item("1", "ETH looks strong here"))

	if calls != 3 {
		t.Fatalf("应尝试 3 次, 实际 %d", calls)
	}
	if len(log.sleeps) != 2 || log.sleeps[0] != 2*time.Second {
		t.Fatalf("重试间隔不正确: %v", log.sleeps)
	}
	if !got.Degraded || got.IsRelevant || got.SentimentScore != 5 {
		t.Fatalf("应返回降级默认值: %+v", got)
	}
}

func TestAnalyzeRecoversAfterTransportError(t *testing.T) {
	var calls int32
	c := completerFunc(func(context.Context, string, string) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("connection reset")
		}
		return `{"is_relevant": true, "sentiment_score": 2, "signal_type": "SELL"}`, nil
	})
	got := newTestAnalyzer(c, &sleepLog{}).Analyze(context.Background(), item("1", "dumping all my SOL"))
	if got.Degraded || got.SignalType != model.SignalSell || got.SentimentScore != 2 {
		t.Fatalf("第二次尝试应成功: %+v", got)
	}
}

func TestBatchAnalyzePreservesOrderAndBound(t *testing.T) {
	var inFlight, peak int32
	c := completerFunc(func(_ context.Context, _, user string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&inFlight, -1)

		var idx int
		_, _ = fmt.Sscanf(user[strings.LastIndex(user, "#")+1:], "%d", &idx)
		// later items finish first
		time.Sleep(time.Duration(20-idx) * time.Millisecond)
		return fmt.Sprintf(`{"is_relevant": true, "sentiment_score": %d, "signal_type": "WATCH"}`, idx%11), nil
	})

	items := make([]model.RawItem, 10)
	for i := range items {
		items[i] = item(fmt.Sprint(i), fmt.Sprintf("market update #%d", i))
	}
	results := newTestAnalyzer(c, &sleepLog{}).BatchAnalyze(context.Background(), items, 3)

	if len(results) != len(items) {
		t.Fatalf("结果数量应与输入一致: %d", len(results))
	}
	for i, r := range results {
		if r.SentimentScore != i%11 {
			t.Fatalf("结果顺序错乱: index %d sentiment %d", i, r.SentimentScore)
		}
	}
	if peak > 3 {
		t.Fatalf("并发不应超过 3, 实际 %d", peak)
	}
}

func TestBatchAnalyzeRecoversPanic(t *testing.T) {
	c := completerFunc(func(_ context.Context, _, user string) (string, error) {
		if strings.Contains(user, "boom") {
			panic("unexpected payload")
		}
		return `{"is_relevant": true, "sentiment_score": 7, "signal_type": "BUY"}`, nil
	})
	items := []model.RawItem{item("1", "BTC breakout"), item("2", "boom boom"), item("3", "ETH breakout")}
	results := newTestAnalyzer(c, &sleepLog{}).BatchAnalyze(context.Background(), items, 2)

	if !results[0].IsRelevant || !results[2].IsRelevant {
		t.Fatalf("其他条目不应受影响: %+v", results)
	}
	if results[1].IsRelevant || !results[1].Degraded {
		t.Fatalf("panic 条目应为降级默认值: %+v", results[1])
	}
}

func TestBatchAnalyzeEmpty(t *testing.T) {
	a := newTestAnalyzer(completerFunc(func(context.Context, string, string) (string, error) {
		return "", nil
	}), &sleepLog{})
	if got := a.BatchAnalyze(context.Background(), nil, 3); len(got) != 0 {
		t.Fatalf("空输入应返回空结果: %v", got)
	}
}
