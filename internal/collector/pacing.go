package collector

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

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

// lockedRand is a mutex-guarded random source shared by pacing and backoff.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(r *rand.Rand) *lockedRand {
	if r == nil {
		now := uint64(time.Now().UnixNano())
		r = rand.New(rand.NewPCG(now, now>>7|1))
	}
	return &lockedRand{r: r}
}

// Int64N returns a value in [0, n). n <= 0 yields 0.
func (l *lockedRand) Int64N(n int64) int64 {
	if n <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int64N(n)
}

func (l *lockedRand) IntN(n int) int {
	return int(l.Int64N(int64(n)))
}

// Pacer spaces requests by a random delay drawn from [Min, Max], measured
// from the previous request to any source.
type Pacer struct {
	min, max time.Duration
	rand     func(n int64) int64
	sleep    SleepFunc
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewPacer constructs a Pacer. max below min is raised to min.
func NewPacer(min, max time.Duration, rnd func(int64) int64, sleep SleepFunc) *Pacer {
	if max < min {
		max = min
	}
	if sleep == nil {
		sleep = sleepContext
	}
	return &Pacer{min: min, max: max, rand: rnd, sleep: sleep, now: time.Now}
}

// Delay draws one pacing delay.
func (p *Pacer) Delay() time.Duration {
	span := p.max - p.min
	if span <= 0 || p.rand == nil {
		return p.min
	}
	return p.min + time.Duration(p.rand(int64(span)+1))
}

// Wait blocks until the pacing delay since the previous request has passed,
// then records a new request. The first request never waits.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()

	if !last.IsZero() {
		target := p.Delay()
		if elapsed := p.now().Sub(last); elapsed < target {
			if err := p.sleep(ctx, target-elapsed); err != nil {
				return err
			}
		}
	}
	p.Mark()
	return nil
}

// Mark records a request issued now.
func (p *Pacer) Mark() {
	p.mu.Lock()
	p.last = p.now()
	p.mu.Unlock()
}
