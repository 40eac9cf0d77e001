package collector

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"
)

func TestBackoffDeterministicSequence(t *testing.T) {
	b := NewBackoff(60*time.Second, 180*time.Second, 0, nil)
	want := []time.Duration{60 * time.Second, 120 * time.Second, 180 * time.Second, 180 * time.Second}
	for attempt, w := range want {
		if got := b.Delay(attempt); got != w {
			t.Fatalf("attempt %d: 期望 %s, 实际 %s", attempt, w, got)
		}
	}
}

func TestBackoffMonotonicWithJitter(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))
	for run := 0; run < 200; run++ {
		b := NewBackoff(60*time.Second, 180*time.Second, 10*time.Second, r.Int64N)
		prev := time.Duration(0)
		for attempt := 0; attempt < 12; attempt++ {
			d := b.Delay(attempt)
			if d < prev {
				t.Fatalf("退避序列应非递减: attempt %d %s < %s", attempt, d, prev)
			}
			if d > b.Max {
				t.Fatalf("退避不应超过上限: %s", d)
			}
			prev = d
		}
	}
}

func TestBackoffAdversarialJitterStaysMonotonic(t *testing.T) {
	// jitter alternates between its maximum and zero; an unclamped 5s jitter
	// on a 1s base would make attempt 1 shorter than attempt 0.
	high := true
	rnd := func(n int64) int64 {
		high = !high
		if !high {
			return n - 1
		}
		return 0
	}
	b := NewBackoff(time.Second, time.Hour, 5*time.Second, rnd)
	if b.Jitter != time.Second {
		t.Fatalf("jitter 应被限制为 base, 实际 %s", b.Jitter)
	}
	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := b.Delay(attempt)
		if d < prev {
			t.Fatalf("attempt %d: %s < %s", attempt, d, prev)
		}
		prev = d
	}
}

func TestPacerWaitsRemainingDelay(t *testing.T) {
	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPacer(8*time.Second, 8*time.Second, nil, sleep)
	p.now = func() time.Time { return now }

	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("首次请求不应报错: %v", err)
	}
	if len(slept) != 0 {
		t.Fatal("首次请求不应等待")
	}

	now = now.Add(3 * time.Second)
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("第二次请求不应报错: %v", err)
	}
	if len(slept) != 1 || slept[0] != 5*time.Second {
		t.Fatalf("应补足剩余 5s, 实际 %v", slept)
	}

	now = now.Add(20 * time.Second)
	_ = p.Wait(context.Background())
	if len(slept) != 1 {
		t.Fatalf("间隔已满足时不应等待: %v", slept)
	}
}

func TestPacerDelayWithinWindow(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	p := NewPacer(8*time.Second, 15*time.Second, r.Int64N, nil)
	for i := 0; i < 500; i++ {
		d := p.Delay()
		if d < 8*time.Second || d > 15*time.Second {
			t.Fatalf("延迟应位于 [8s,15s], 实际 %s", d)
		}
	}
}
