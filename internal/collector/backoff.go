package collector

import "time"

// Backoff computes rate-limit delays: min(Base*2^attempt + jitter, Max).
// Jitter is drawn from [0, Jitter] and Jitter is clamped to Base, which keeps
// successive delays non-decreasing.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	rand func(n int64) int64
}

// NewBackoff builds a Backoff. A nil rnd disables jitter.
func NewBackoff(base, max, jitter time.Duration, rnd func(int64) int64) Backoff {
	if max < base {
		max = base
	}
	if jitter > base {
		jitter = base
	}
	if jitter < 0 {
		jitter = 0
	}
	return Backoff{Base: base, Max: max, Jitter: jitter, rand: rnd}
}

// Delay returns the wait before retrying after the attempt-th rate-limited response (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Jitter > 0 && b.rand != nil {
		d += time.Duration(b.rand(int64(b.Jitter) + 1))
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}
