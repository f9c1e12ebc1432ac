package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every scheduled tick.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour. A non-empty Cron expression replaces Interval.
type Options struct {
	Interval     time.Duration
	Cron         string
	AlignToStart bool
	StartupDelay time.Duration
	// RunImmediately fires one tick before waiting for the first slot.
	RunImmediately bool
}

// Scheduler drives periodic poll runs.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	logger   zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
	if opts.Cron != "" {
		schedule, err := cron.ParseStandard(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", opts.Cron, err)
		}
		s.schedule = schedule
		return s, nil
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive")
	}
	return s, nil
}

// Run blocks, invoking tick at each slot until ctx is cancelled. Tick errors
// are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunImmediately {
		s.fire(ctx, tick, time.Now().UTC())
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.fire(ctx, tick, s.bucketStart(next))
		next = s.nextTick(next)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Info().Time("tick", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(now)
	}
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if s.schedule != nil || !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
