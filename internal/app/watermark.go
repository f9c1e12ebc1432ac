package app

import (
	"context"
	"fmt"
	"time"

	"tap-reputation-poller/internal/config"
	"tap-reputation-poller/internal/storage"
	"tap-reputation-poller/internal/watermark"
)

func (a *App) withWatermarks(ctx context.Context, fn func(store watermark.Store, key string) error) error {
	var pg *storage.Store
	if a.Config.Watermark.Backend == config.BackendPostgres {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		pg = store
	}

	marks, closeMarks, err := a.openWatermarks(pg)
	if err != nil {
		return err
	}
	defer closeMarks()

	return fn(marks, a.Config.WatermarkKey())
}

// WatermarkGet prints the persisted watermark.
func (a *App) WatermarkGet(ctx context.Context) error {
	return a.withWatermarks(ctx, func(store watermark.Store, key string) error {
		ts, ok, err := store.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(a.Out, "%s: no watermark\n", key)
			return nil
		}
		fmt.Fprintf(a.Out, "%s: %s\n", key, watermark.Format(ts))
		return nil
	})
}

// WatermarkSet overwrites the persisted watermark.
func (a *App) WatermarkSet(ctx context.Context, ts time.Time) error {
	return a.withWatermarks(ctx, func(store watermark.Store, key string) error {
		if err := store.Set(ctx, key, ts); err != nil {
			return err
		}
		a.Logger.Info().Str("key", key).Time("watermark", ts.UTC()).Msg("watermark updated")
		return nil
	})
}
