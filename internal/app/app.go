package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tap-reputation-poller/internal/alerting"
	"tap-reputation-poller/internal/config"
	"tap-reputation-poller/internal/fetcher"
	"tap-reputation-poller/internal/metrics"
	"tap-reputation-poller/internal/output"
	"tap-reputation-poller/internal/reputation"
	"tap-reputation-poller/internal/scheduler"
	"tap-reputation-poller/internal/service"
	"tap-reputation-poller/internal/storage"
	"tap-reputation-poller/internal/version"
	"tap-reputation-poller/internal/watermark"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives records and command output.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newFeed() fetcher.FeedFetcher {
	userAgent := a.Config.Feed.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	return fetcher.NewSIEM(fetcher.SIEMOptions{
		BaseURL:    a.Config.Feed.BaseURL,
		Path:       a.Config.Feed.Path,
		Principal:  a.Config.Feed.Principal,
		Secret:     a.Config.Feed.Secret,
		ThreatType: a.Config.Feed.ThreatType,
		Timeout:    a.Config.Feed.RequestTimeout,
		UserAgent:  userAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) needsDatabase() bool {
	return a.Config.Watermark.Backend == config.BackendPostgres || a.Config.Output.Archive
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openWatermarks returns the configured watermark backend. pg may be nil
// unless the postgres backend is selected.
func (a *App) openWatermarks(pg *storage.Store) (watermark.Store, func(), error) {
	switch a.Config.Watermark.Backend {
	case config.BackendFile:
		return watermark.NewFileStore(""), func() {}, nil
	case config.BackendBolt:
		bolt, err := watermark.OpenBolt(a.Config.Watermark.Path)
		if err != nil {
			return nil, nil, err
		}
		return bolt, func() {
			if err := bolt.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close bolt watermark store")
			}
		}, nil
	case config.BackendPostgres:
		if pg == nil {
			return nil, nil, errors.New("postgres watermark backend requires database.dsn")
		}
		return pg, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown watermark backend %q", a.Config.Watermark.Backend)
	}
}

// buildSink assembles the record sinks enabled in configuration.
func (a *App) buildSink(pg *storage.Store, m *metrics.Metrics) (reputation.Sink, func(), error) {
	var (
		sinks   output.Multi
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if a.Config.Output.Stdout {
		sinks = append(sinks, output.NewWriterSink(a.Out))
	}
	if path := a.Config.Output.File; path != "" {
		file, err := output.OpenFileSink(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, file)
		closers = append(closers, func() { _ = file.Close() })
	}
	if url := a.Config.Output.NATS.URL; url != "" {
		nc, err := output.ConnectNATS(url, a.Config.App.Name, a.Logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, output.NewNATSSink(nc, a.Config.Output.NATS.Subject))
		closers = append(closers, func() {
			if err := nc.Drain(); err != nil {
				a.Logger.Warn().Err(err).Msg("drain nats connection")
			}
		})
	}
	if a.Config.Output.Archive {
		if pg == nil {
			closeAll()
			return nil, nil, errors.New("output.archive requires database.dsn")
		}
		sinks = append(sinks, storage.NewArchiveSink(pg))
	}
	if alertSink := a.newAlertSink(m); alertSink != nil {
		sinks = append(sinks, alertSink)
	}

	if len(sinks) == 0 {
		a.Logger.Warn().Msg("no record outputs enabled; records are discarded")
	}
	return sinks, closeAll, nil
}

func (a *App) newAlertSink(m *metrics.Metrics) *alerting.Sink {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting enabled without any channel configured")
		return nil
	}
	return alerting.NewSink(notifier, alerting.SinkOptions{
		MaxTrustLevel: reputation.TrustLevel(a.Config.Alerting.MaxTrustLevel),
		Cooldown:      a.Config.Alerting.Cooldown,
		Channels:      a.Config.Alerting.Channels,
		Observe:       m.ObserveAlert,
	}, a.Logger)
}

// runtime bundles what a polling command needs.
type runtime struct {
	service *service.Service
	sink    reputation.Sink
	close   func()
}

func (a *App) newRuntime(ctx context.Context, sched *scheduler.Scheduler, m *metrics.Metrics) (*runtime, error) {
	if err := a.Config.RequireFeed(); err != nil {
		return nil, err
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var pg *storage.Store
	if a.needsDatabase() {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		if store != nil {
			pg = store
			closers = append(closers, closeStore)
		}
	}

	marks, closeMarks, err := a.openWatermarks(pg)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, closeMarks)

	sink, closeSink, err := a.buildSink(pg, m)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, closeSink)

	svc := service.New(a.Config, sched, marks, a.newFeed(), sink, m, a.Logger)
	if pg != nil {
		svc.SetLocker(pg)
	}

	return &runtime{service: svc, sink: sink, close: closeAll}, nil
}

// Run executes the long-running polling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		Cron:           a.Config.Scheduler.Cron,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	if addr := a.Config.Metrics.ListenAddress; addr != "" {
		srv := metrics.NewServer(addr, prometheus.DefaultGatherer, a.Logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	rt, err := a.newRuntime(ctx, sched, m)
	if err != nil {
		return err
	}
	defer rt.close()

	a.Logger.Info().
		Str("backend", a.Config.Watermark.Backend).
		Str("key", rt.service.Key()).
		Msg("starting polling service")
	err = rt.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("polling service stopped")
	return nil
}

// PollOptions configure a single run.
type PollOptions struct {
	Trigger service.Trigger
}

// Poll performs one run with the configured outputs.
func (a *App) Poll(ctx context.Context, opts PollOptions) (service.Result, error) {
	rt, err := a.newRuntime(ctx, nil, nil)
	if err != nil {
		return service.Result{}, err
	}
	defer rt.close()

	return rt.service.Handle(ctx, opts.Trigger, rt.sink.Emit)
}

// ExportOptions hold parameters for exporting archived reputations.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From time.Time
	To   time.Time
}

// ReplayOptions configure an offline replay of a saved SIEM response.
type ReplayOptions struct {
	File      string
	Timestamp *time.Time
}
