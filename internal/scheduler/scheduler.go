package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs one cycle. started is the wall time the cycle began.
type TickFunc func(ctx context.Context, started time.Time) error

// State reports whether a cycle is in progress.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// Options tune scheduler behaviour.
type Options struct {
	// Interval is the pause between the end of one cycle and the start of the next.
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the poll loop: run, sleep, repeat.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	state  atomic.Int32
	cycles atomic.Int64
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// State returns the current loop state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Cycles returns how many cycles have finished.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// Run blocks until ctx is cancelled. The first cycle starts right after the
// startup delay; a running cycle is never interrupted by cancellation.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.runCycle(ctx, tick)

		s.logger.Debug().Dur("interval", s.opts.Interval).Time("next_cycle", time.Now().Add(s.opts.Interval)).Msg("waiting for next cycle")
		if err := s.wait(ctx, s.opts.Interval); err != nil {
			s.logger.Info().Msg("scheduler stopped")
			return err
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context, tick TickFunc) {
	s.state.Store(int32(StateRunning))
	defer s.state.Store(int32(StateIdle))
	defer s.cycles.Add(1)

	started := time.Now().UTC()
	s.logger.Info().Time("started", started).Msg("executing scheduled cycle")

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cycle panicked: %v", r)
			}
		}()
		return tick(context.WithoutCancel(ctx), started)
	}()
	if err != nil {
		s.logger.Error().Err(err).Time("started", started).Msg("cycle execution failed")
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
