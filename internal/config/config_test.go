package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: test\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Watermark.Backend != BackendFile || cfg.WatermarkKey() != "tap-poller.json" {
		t.Fatalf("unexpected watermark defaults %+v", cfg.Watermark)
	}
	if cfg.Feed.BaseURL != "https://tap-api-v2.proofpoint.com" || cfg.Feed.Path != "/v2/siem/all" {
		t.Fatalf("unexpected feed defaults %+v", cfg.Feed)
	}
	if cfg.Feed.RequestTimeout != 30*time.Second || cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("durations not decoded: %v %v", cfg.Feed.RequestTimeout, cfg.Scheduler.Interval)
	}
	if !cfg.Output.Stdout || cfg.Alerting.MaxTrustLevel != 1 {
		t.Fatalf("unexpected output/alerting defaults")
	}
	if err := cfg.RequireFeed(); err == nil {
		t.Fatal("missing credentials should be reported for feed commands")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := strings.Join([]string{
		"feed:",
		"  principal: svc",
		"  request_timeout: 5s",
		"watermark:",
		"  backend: bolt",
		"  path: /var/lib/tap/state.db",
		"  key: tenant-a",
		"scheduler:",
		"  cron: \"*/10 * * * *\"",
		"alerting:",
		"  channels: telegram,log",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TAPPOLLER_FEED_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Feed.Secret != "from-env" {
		t.Fatalf("env override not applied: %q", cfg.Feed.Secret)
	}
	if err := cfg.RequireFeed(); err != nil {
		t.Fatalf("credentials configured: %v", err)
	}
	if cfg.WatermarkKey() != "tenant-a" {
		t.Fatalf("bolt backend should use the logical key, got %q", cfg.WatermarkKey())
	}
	if cfg.Feed.RequestTimeout != 5*time.Second {
		t.Fatalf("timeout not decoded: %v", cfg.Feed.RequestTimeout)
	}
	if len(cfg.Alerting.Channels) != 2 {
		t.Fatalf("comma separated slice not decoded: %v", cfg.Alerting.Channels)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Watermark: WatermarkConfig{Backend: BackendFile, Path: "wm.json"},
			Scheduler: SchedulerConfig{Interval: time.Minute},
			Export:    ExportConfig{MaxDataPoints: 10},
			Alerting:  AlertingConfig{MaxTrustLevel: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Watermark.Backend = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Watermark.Backend = BackendPostgres; c.Watermark.Key = "k" }},
		{"file without path", func(c *Config) { c.Watermark.Path = "" }},
		{"bolt without key", func(c *Config) { c.Watermark.Backend = BackendBolt }},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"bad cron", func(c *Config) { c.Scheduler.Cron = "every tuesday" }},
		{"archive without dsn", func(c *Config) { c.Output.Archive = true }},
		{"nats without subject", func(c *Config) { c.Output.NATS.URL = "nats://localhost:4222" }},
		{"trust level out of range", func(c *Config) { c.Alerting.MaxTrustLevel = 101 }},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.ChatID = "1" }},
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("baseline should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 50}}
	if cfg.ResolveMaxPoints(0) != 50 || cfg.ResolveMaxPoints(7) != 7 {
		t.Fatal("override should win when positive")
	}
}
