package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tap-reputation-poller/internal/reputation"
	"tap-reputation-poller/internal/service"
	"tap-reputation-poller/internal/window"
)

// Backfill walks [From, To) in override windows of window.MaxWidth. Override
// runs never touch the persisted watermark.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	start := opts.From.UTC()
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("backfill range is empty, check --from/--to")
	}
	rt, err := a.newRuntime(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	return backfillWindows(ctx, rt.service, rt.sink.Emit, start, end, time.Now().UTC(), a.Logger)
}

type pollHandler interface {
	Handle(ctx context.Context, trig service.Trigger, emit reputation.EmitFunc) (service.Result, error)
}

// backfillWindows starts no earlier than the oldest instant the feed serves
// at now. Earlier overrides would all be clamped onto the same window.
func backfillWindows(ctx context.Context, h pollHandler, emit reputation.EmitFunc, start, end, now time.Time, logger zerolog.Logger) error {
	if oldest := now.Add(-window.MaxLookback).Add(window.SafetyBuffer); start.Before(oldest) {
		logger.Warn().Time("from", start).Time("oldest", oldest).Msg("feed only serves the last seven days; backfill starts at the oldest servable window")
		start = oldest
	}
	if !start.Before(end) {
		return errors.New("backfill range ends before the oldest servable window")
	}

	processed, failed, records := 0, 0, 0
	for from := start; from.Before(end); from = from.Add(window.MaxWidth) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := h.Handle(ctx, service.Override(from), emit)
		records += res.Summary.Records
		if err != nil {
			failed++
			logger.Error().Err(err).Time("from", from).Msg("backfill window failed")
			continue
		}
		processed++
	}

	logger.Info().Int("processed", processed).Int("failed", failed).Int("records", records).Msg("backfill finished")
	if failed > 0 {
		return fmt.Errorf("%d backfill windows failed, check the logs", failed)
	}
	return nil
}
