package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tap-reputation-poller/internal/config"
	"tap-reputation-poller/internal/reputation"
	"tap-reputation-poller/internal/service"
	"tap-reputation-poller/internal/siem"
	"tap-reputation-poller/internal/storage"
	"tap-reputation-poller/internal/watermark"
	"tap-reputation-poller/internal/window"
)

const replayPayload = `{
  "queryEndTime": "2024-01-01T11:00:00Z",
  "messagesBlocked": [
    {"messageID": "m-1", "messageParts": [
      {"sandboxStatus": "threat", "filename": "a.exe", "md5": "m", "sha256": "s"},
      {"sandboxStatus": "unsupported", "filename": "b.txt", "md5": "m2", "sha256": "s2"}
    ]}
  ],
  "messagesDelivered": [
    {"messageID": "m-2", "messageParts": [
      {"sandboxStatus": "CLEAN", "filename": "c.pdf", "md5": "m3", "sha256": "s3"}
    ]}
  ]
}`

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Watermark: config.WatermarkConfig{Backend: config.BackendFile, Path: filepath.Join(dir, "state.json")},
		Output:    config.OutputConfig{Stdout: true},
	}
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestReplayEmitsRecordsWithoutPersisting(t *testing.T) {
	a, out := testApp(t)
	file := filepath.Join(t.TempDir(), "response.json")
	if err := os.WriteFile(file, []byte(replayPayload), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := a.Replay(context.Background(), ReplayOptions{File: file})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Summary.Records != 2 || res.Advanced {
		t.Fatalf("result = %+v", res)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %q", out.String())
	}
	if !strings.Contains(lines[0], `"trustLevel":1`) || !strings.Contains(lines[1], `"trustLevel":99`) {
		t.Fatalf("unexpected records: %v", lines)
	}
	if _, err := os.Stat(a.Config.Watermark.Path); !os.IsNotExist(err) {
		t.Fatal("replay must not write the watermark file")
	}
}

func TestReplayMissingFile(t *testing.T) {
	a, _ := testApp(t)
	if _, err := a.Replay(context.Background(), ReplayOptions{File: filepath.Join(t.TempDir(), "nope.json")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatermarkSetAndGet(t *testing.T) {
	a, out := testApp(t)
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := a.WatermarkGet(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no watermark") {
		t.Fatalf("output = %q", out.String())
	}

	if err := a.WatermarkSet(context.Background(), ts); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := a.WatermarkGet(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "2024-01-01T12:00:00Z") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestWatermarkBoltBackend(t *testing.T) {
	a, out := testApp(t)
	a.Config.Watermark.Backend = config.BackendBolt
	a.Config.Watermark.Path = filepath.Join(t.TempDir(), "state.db")
	a.Config.Watermark.Key = "siem-all"

	if err := a.WatermarkSet(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if err := a.WatermarkGet(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "siem-all: 2024-02-01T00:00:00Z") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestPostgresBackendRequiresDatabase(t *testing.T) {
	a, _ := testApp(t)
	a.Config.Watermark.Backend = config.BackendPostgres
	if err := a.WatermarkGet(context.Background()); err == nil {
		t.Fatal("expected error without database.dsn")
	}
}

func TestPollRequiresCredentials(t *testing.T) {
	a, _ := testApp(t)
	if _, err := a.Poll(context.Background(), PollOptions{}); err == nil {
		t.Fatal("expected missing credential error")
	}
}

func TestBuildSinkWritesStdoutAndFile(t *testing.T) {
	a, out := testApp(t)
	a.Config.Output.File = filepath.Join(t.TempDir(), "out", "records.jsonl")
	if err := os.MkdirAll(filepath.Dir(a.Config.Output.File), 0o755); err != nil {
		t.Fatal(err)
	}

	sink, closeSink, err := a.buildSink(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := reputation.Record{TrustLevel: reputation.KnownTrusted, FileName: "c.pdf", Comment: reputation.Comment}
	if err := sink.Emit(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	closeSink()

	data, err := os.ReadFile(a.Config.Output.File)
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != string(data) || !strings.Contains(out.String(), `"fileName":"c.pdf"`) {
		t.Fatalf("stdout %q file %q", out.String(), data)
	}
}

func TestBuildSinkArchiveNeedsDatabase(t *testing.T) {
	a, _ := testApp(t)
	a.Config.Output.Archive = true
	if _, _, err := a.buildSink(nil, nil); err == nil {
		t.Fatal("expected error for archive without database")
	}
}

type fakeHandler struct {
	triggers []service.Trigger
	failAt   int
}

func (f *fakeHandler) Handle(_ context.Context, trig service.Trigger, _ reputation.EmitFunc) (service.Result, error) {
	f.triggers = append(f.triggers, trig)
	if len(f.triggers) == f.failAt {
		return service.Result{}, errors.New("transport failed")
	}
	return service.Result{Summary: reputation.Summary{Records: 1}}, nil
}

func TestBackfillWindowsWalksHourly(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &fakeHandler{}

	if err := backfillWindows(context.Background(), h, nil, start, start.Add(150*time.Minute), start.Add(24*time.Hour), zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	if len(h.triggers) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(h.triggers))
	}
	for i, trig := range h.triggers {
		want := start.Add(time.Duration(i) * time.Hour)
		if !trig.IsOverride() || !trig.TimestampOverride.Equal(want) {
			t.Fatalf("window %d override = %v, want %s", i, trig.TimestampOverride, want)
		}
	}
}

func TestBackfillWindowsReportsFailures(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &fakeHandler{failAt: 2}

	err := backfillWindows(context.Background(), h, nil, start, start.Add(3*time.Hour), start.Add(24*time.Hour), zerolog.Nop())
	if err == nil {
		t.Fatal("expected failure summary")
	}
	if len(h.triggers) != 3 {
		t.Fatal("a failed window must not stop the remaining windows")
	}
}

type queryFeed struct {
	queries []string
}

func (f *queryFeed) Fetch(_ context.Context, queryParam string) (*siem.Response, error) {
	f.queries = append(f.queries, queryParam)
	return siem.Decode([]byte(`{}`))
}

func TestBackfillWindowsClampsToLookback(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	feed := &queryFeed{}
	cfg := &config.Config{Watermark: config.WatermarkConfig{Backend: config.BackendFile, Path: "state.json"}}
	svc := service.New(cfg, nil, watermark.NewMemoryStore(), feed, nil, nil, zerolog.Nop())
	svc.SetClock(func() time.Time { return now })

	from := now.Add(-10 * 24 * time.Hour)
	to := now.Add(-window.MaxLookback).Add(3 * time.Hour)
	if err := backfillWindows(context.Background(), svc, nil, from, to, now, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"interval=2024-01-03T12:01:00.000Z/2024-01-03T13:01:00.000Z",
		"interval=2024-01-03T13:01:00.000Z/2024-01-03T14:01:00.000Z",
		"interval=2024-01-03T14:01:00.000Z/2024-01-03T15:01:00.000Z",
	}
	if len(feed.queries) != len(want) {
		t.Fatalf("queries = %v, want %v", feed.queries, want)
	}
	for i := range want {
		if feed.queries[i] != want[i] {
			t.Fatalf("query %d = %s, want %s", i, feed.queries[i], want[i])
		}
	}
}

func TestBackfillWindowsOutsideLookback(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	h := &fakeHandler{}
	from := now.Add(-20 * 24 * time.Hour)

	if err := backfillWindows(context.Background(), h, nil, from, from.Add(time.Hour), now, zerolog.Nop()); err == nil {
		t.Fatal("expected error for a range the feed no longer serves")
	}
	if len(h.triggers) != 0 {
		t.Fatalf("no window should run, got %d", len(h.triggers))
	}
}

func TestHourlyCounts(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rows := []storage.ArchivedReputation{
		{Record: reputation.Record{TrustLevel: reputation.KnownMalicious}, FirstSeen: base.Add(5 * time.Minute)},
		{Record: reputation.Record{TrustLevel: reputation.KnownTrusted}, FirstSeen: base.Add(20 * time.Minute)},
		{Record: reputation.Record{TrustLevel: reputation.KnownMalicious}, FirstSeen: base.Add(2*time.Hour + time.Minute)},
	}

	buckets := hourlyCounts(rows)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 hourly buckets, got %d", len(buckets))
	}
	if buckets[0].Malicious != 1 || buckets[0].Trusted != 1 {
		t.Fatalf("first bucket = %+v", buckets[0])
	}
	if buckets[1].Malicious != 0 || buckets[1].Trusted != 0 {
		t.Fatalf("gap bucket = %+v", buckets[1])
	}
	if !buckets[2].Hour.Equal(base.Add(2*time.Hour)) || buckets[2].Malicious != 1 {
		t.Fatalf("last bucket = %+v", buckets[2])
	}
}

func TestExportCSVAndPNG(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rows := []storage.ArchivedReputation{
		{Record: reputation.Record{TrustLevel: reputation.KnownMalicious, FileName: "a.exe", Hashes: reputation.Hashes{SHA256: "s"}}, FirstSeen: base, LastSeen: base, SeenCount: 1},
		{Record: reputation.Record{TrustLevel: reputation.KnownTrusted, FileName: "c.pdf", Hashes: reputation.Hashes{SHA256: "s3"}}, FirstSeen: base.Add(time.Hour), LastSeen: base.Add(time.Hour), SeenCount: 2},
	}

	csvPath := filepath.Join(dir, "out", "reputations.csv")
	if err := writeReputationsCSV(csvPath, rows); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "first_seen,last_seen,seen_count,trust_level") || !strings.Contains(string(data), "known_malicious") {
		t.Fatalf("csv = %s", data)
	}

	pngPath := filepath.Join(dir, "chart.png")
	if err := writeReputationsPNG(pngPath, hourlyCounts(rows)); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(pngPath); err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := testApp(t)
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("expected error without --csv or --png")
	}
}

func TestRenderReputations(t *testing.T) {
	a, out := testApp(t)
	if err := a.renderReputations(nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no reputations found") {
		t.Fatalf("output = %q", out.String())
	}

	out.Reset()
	rows := []storage.ArchivedReputation{{Record: reputation.Record{TrustLevel: reputation.KnownMalicious, FileName: "bad\tname.exe", Hashes: reputation.Hashes{SHA256: "s"}}, SeenCount: 3}}
	if err := a.renderReputations(rows); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "known_malicious") || !strings.Contains(out.String(), "bad name.exe") {
		t.Fatalf("output = %q", out.String())
	}
}
