package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"tap-reputation-poller/internal/fetcher"
	"tap-reputation-poller/internal/output"
	"tap-reputation-poller/internal/reputation"
	"tap-reputation-poller/internal/service"
	"tap-reputation-poller/internal/siem"
	"tap-reputation-poller/internal/watermark"
	"tap-reputation-poller/internal/window"
)

// Replay runs a saved SIEM response through the orchestrator offline. Records
// go to Out and, when enabled, to alerting. Nothing is persisted.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) (service.Result, error) {
	data, err := os.ReadFile(opts.File)
	if err != nil {
		return service.Result{}, fmt.Errorf("read replay file: %w", err)
	}
	resp, err := siem.Decode(data)
	if err != nil {
		return service.Result{}, fmt.Errorf("decode replay file: %w", err)
	}

	from := time.Now().UTC().Add(-window.MaxWidth)
	if opts.Timestamp != nil {
		from = opts.Timestamp.UTC()
	}

	sinks := output.Multi{output.NewWriterSink(a.Out)}
	if alertSink := a.newAlertSink(nil); alertSink != nil {
		sinks = append(sinks, alertSink)
	}

	svc := service.New(a.Config, nil, watermark.NewMemoryStore(), &staticFeed{resp: resp}, sinks, nil, a.Logger)
	return svc.Poll(ctx, service.Override(from), sinks.Emit)
}

// staticFeed serves one decoded response for every query.
type staticFeed struct {
	resp *siem.Response
}

func (s *staticFeed) Fetch(context.Context, string) (*siem.Response, error) {
	return s.resp, nil
}

var (
	_ fetcher.FeedFetcher = (*staticFeed)(nil)
	_ reputation.Sink     = output.Multi(nil)
)
