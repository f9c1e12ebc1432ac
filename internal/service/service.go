package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tap-reputation-poller/internal/config"
	apperrors "tap-reputation-poller/internal/errors"
	"tap-reputation-poller/internal/fetcher"
	"tap-reputation-poller/internal/reputation"
	"tap-reputation-poller/internal/scheduler"
	"tap-reputation-poller/internal/storage"
	"tap-reputation-poller/internal/watermark"
	"tap-reputation-poller/internal/window"
)

// Run stages, in order.
const (
	StageResolveWatermark = "resolve_watermark"
	StagePlanWindow       = "plan_window"
	StageFetch            = "fetch"
	StageExtract          = "extract"
	StagePersist          = "persist"
)

// ErrRunInProgress is returned by Handle when another run holds the key.
var ErrRunInProgress = errors.New("poll run already in progress for key")

// Recorder receives run outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveSuccess(d time.Duration, width time.Duration, messages int, perCategory map[string]int)
	ObserveFailure(d time.Duration, stage, kind string)
	ObserveWatermark(ts time.Time)
}

// Service runs the poll state machine against one watermark key.
type Service struct {
	scheduler *scheduler.Scheduler
	store     watermark.Store
	feed      fetcher.FeedFetcher
	extractor *reputation.Extractor
	planner   *window.Planner
	sink      reputation.Sink
	recorder  Recorder
	logger    zerolog.Logger

	key     string
	locker  storage.AdvisoryLocker
	lockKey int64

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// New constructs the poll service. sched may be nil for one-shot use; sink
// receives records from scheduled runs.
func New(cfg *config.Config, sched *scheduler.Scheduler, store watermark.Store, feed fetcher.FeedFetcher, sink reputation.Sink, recorder Recorder, logger zerolog.Logger) *Service {
	key := cfg.WatermarkKey()

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	var lockKey int64
	if cfg.Scheduler.AdvisoryLockKey != 0 {
		lockKey = storage.LockKeyFor(cfg.Scheduler.AdvisoryLockKey, key)
	}

	return &Service{
		scheduler: sched,
		store:     store,
		feed:      feed,
		extractor: reputation.NewExtractor(logger),
		planner:   window.NewPlanner(),
		sink:      sink,
		recorder:  recorder,
		logger:    logger.With().Str("component", "service").Logger(),
		key:       key,
		locker:    locker,
		lockKey:   lockKey,
		slots:     make(map[string]chan struct{}),
	}
}

// SetClock replaces the planner clock.
func (s *Service) SetClock(now func() time.Time) {
	s.planner = &window.Planner{Now: now}
}

// SetLocker serialises runs across processes with a postgres advisory lock.
func (s *Service) SetLocker(locker storage.AdvisoryLocker) {
	s.locker = locker
}

// Key returns the watermark key this service advances.
func (s *Service) Key() string { return s.key }

// Run begins the scheduled polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if s.sink == nil {
		return fmt.Errorf("record sink not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick performs one scheduled run.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	_, err := s.Handle(ctx, Scheduled(), s.sink.Emit)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because a run holds the watermark key")
		return nil
	}
	return err
}

// Handle serialises runs per watermark key and then executes Poll.
func (s *Service) Handle(ctx context.Context, trig Trigger, emit reputation.EmitFunc) (Result, error) {
	release, err := s.acquireSlot(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Result{}, err
	}
	if !proceed {
		return Result{}, ErrRunInProgress
	}
	if unlock != nil {
		defer unlock()
	}

	return s.Poll(ctx, trig, emit)
}

// Poll executes one run: resolve the watermark, plan the window, fetch,
// stream records to emit, and persist the echoed end time. Any stage failure
// ends the run with a single error naming the stage; records already emitted
// are not retracted and the watermark is left untouched.
func (s *Service) Poll(ctx context.Context, trig Trigger, emit reputation.EmitFunc) (Result, error) {
	started := time.Now()

	res, stage, err := s.execute(ctx, trig, emit)
	if err != nil {
		err = apperrors.AtStage(stage, err)
		s.logger.Error().Err(err).
			Str("stage", stage).
			Str("kind", apperrors.Kind(err)).
			Bool("override", trig.IsOverride()).
			Int("records", res.Summary.Records).
			Msg("poll run failed")
		if s.recorder != nil {
			s.recorder.ObserveFailure(time.Since(started), stage, apperrors.Kind(err))
		}
		return res, err
	}

	s.logger.Info().
		Str("window_start", res.Window.StartTime()).
		Str("window_end", res.Window.EndTime()).
		Str("query", res.Window.QueryParam()).
		Int("messages", res.Summary.Messages).
		Int("records", res.Summary.Records).
		Bool("override", trig.IsOverride()).
		Bool("watermark_advanced", res.Advanced).
		Msg("poll run completed")
	if s.recorder != nil {
		s.recorder.ObserveSuccess(time.Since(started), res.Window.Width(), res.Summary.Messages, res.Summary.PerCategory)
		if res.Advanced {
			s.recorder.ObserveWatermark(res.Watermark)
		}
	}
	return res, nil
}

func (s *Service) execute(ctx context.Context, trig Trigger, emit reputation.EmitFunc) (Result, string, error) {
	var res Result
	if emit == nil {
		emit = func(context.Context, reputation.Record) error { return nil }
	}

	s.logger.Debug().Str("stage", StageResolveWatermark).Str("key", s.key).Msg("entering stage")
	last, hasLast, err := s.resolveWatermark(ctx, trig)
	if err != nil {
		return res, StageResolveWatermark, err
	}

	s.logger.Debug().Str("stage", StagePlanWindow).Bool("has_watermark", hasLast).Msg("entering stage")
	res.Window = s.planner.Next(last, hasLast)
	s.logger.Debug().
		Str("window_start", res.Window.StartTime()).
		Str("window_end", res.Window.EndTime()).
		Str("mode", res.Window.Mode.String()).
		Msg("window planned")

	s.logger.Debug().Str("stage", StageFetch).Str("query", res.Window.QueryParam()).Msg("entering stage")
	resp, err := s.feed.Fetch(ctx, res.Window.QueryParam())
	if err != nil {
		return res, StageFetch, err
	}

	s.logger.Debug().Str("stage", StageExtract).Msg("entering stage")
	res.Summary, err = s.extractor.Extract(ctx, resp, emit)
	if err != nil {
		return res, StageExtract, err
	}

	if trig.IsOverride() || !res.Summary.HasQueryEndTime {
		s.logger.Debug().
			Bool("override", trig.IsOverride()).
			Bool("has_query_end_time", res.Summary.HasQueryEndTime).
			Msg("watermark not persisted")
		return res, "", nil
	}

	s.logger.Debug().Str("stage", StagePersist).Time("watermark", res.Summary.QueryEndTime).Msg("entering stage")
	if err := s.store.Set(ctx, s.key, res.Summary.QueryEndTime); err != nil {
		if !apperrors.IsIO(err) {
			err = apperrors.NewIO("persist watermark", err)
		}
		return res, StagePersist, err
	}
	res.Advanced = true
	res.Watermark = res.Summary.QueryEndTime
	return res, "", nil
}

func (s *Service) resolveWatermark(ctx context.Context, trig Trigger) (time.Time, bool, error) {
	if trig.IsOverride() {
		return trig.TimestampOverride.UTC(), true, nil
	}
	last, ok, err := s.store.Get(ctx, s.key)
	if err != nil {
		if !apperrors.IsIO(err) {
			err = apperrors.NewIO("read watermark", err)
		}
		return time.Time{}, false, err
	}
	return last, ok, nil
}

// acquireSlot blocks until no other in-process run holds the key.
func (s *Service) acquireSlot(ctx context.Context) (func(), error) {
	s.mu.Lock()
	slot, ok := s.slots[s.key]
	if !ok {
		slot = make(chan struct{}, 1)
		s.slots[s.key] = slot
	}
	s.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
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
