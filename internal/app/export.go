package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"tap-reputation-poller/internal/reputation"
	"tap-reputation-poller/internal/storage"
	"tap-reputation-poller/internal/window"
)

// Export renders archived reputations as CSV and/or an hourly PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-window.MaxLookback)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListReputationsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no reputations found for export window")
		return nil
	}

	if opts.MaxPoints > 0 && len(rows) > opts.MaxPoints {
		a.Logger.Warn().Int("total", len(rows)).Int("max", opts.MaxPoints).Msg("export truncated to the newest rows")
		rows = rows[len(rows)-opts.MaxPoints:]
	}
	a.Logger.Info().Int("exported", len(rows)).Msg("exporting reputations")

	if opts.CSVPath != "" {
		if err := writeReputationsCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeReputationsPNG(opts.PNGPath, hourlyCounts(rows)); err != nil {
			return err
		}
	}

	return nil
}

// hourBucket counts first sightings in one hour by verdict.
type hourBucket struct {
	Hour      time.Time
	Malicious int
	Trusted   int
}

// hourlyCounts buckets rows by first-seen hour, filling empty hours with zero.
func hourlyCounts(rows []storage.ArchivedReputation) []hourBucket {
	if len(rows) == 0 {
		return nil
	}

	counts := make(map[time.Time]*hourBucket)
	first, last := rows[0].FirstSeen.UTC().Truncate(time.Hour), rows[0].FirstSeen.UTC().Truncate(time.Hour)
	for _, row := range rows {
		hour := row.FirstSeen.UTC().Truncate(time.Hour)
		if hour.Before(first) {
			first = hour
		}
		if hour.After(last) {
			last = hour
		}
		b, ok := counts[hour]
		if !ok {
			b = &hourBucket{Hour: hour}
			counts[hour] = b
		}
		if row.Record.TrustLevel <= reputation.MightBeMalicious {
			b.Malicious++
		} else if row.Record.TrustLevel >= reputation.MightBeTrusted {
			b.Trusted++
		}
	}

	out := make([]hourBucket, 0, int(last.Sub(first)/time.Hour)+1)
	for hour := first; !hour.After(last); hour = hour.Add(time.Hour) {
		if b, ok := counts[hour]; ok {
			out = append(out, *b)
			continue
		}
		out = append(out, hourBucket{Hour: hour})
	}
	return out
}

func writeReputationsCSV(path string, rows []storage.ArchivedReputation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"first_seen", "last_seen", "seen_count", "trust_level", "verdict", "sha256", "md5", "file_name", "comment"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.FirstSeen.UTC().Format(time.RFC3339),
			row.LastSeen.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.SeenCount, 10),
			strconv.Itoa(int(row.Record.TrustLevel)),
			row.Record.TrustLevel.String(),
			row.Record.Hashes.SHA256,
			row.Record.Hashes.MD5,
			row.Record.FileName,
			row.Record.Comment,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeReputationsPNG(path string, buckets []hourBucket) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(buckets))
	malicious := make([]float64, len(buckets))
	trusted := make([]float64, len(buckets))

	for i, b := range buckets {
		x[i] = b.Hour
		malicious[i] = float64(b.Malicious)
		trusted[i] = float64(b.Trusted)
	}
	// go-chart needs at least two points to draw a line
	if len(x) == 1 {
		x = append(x, x[0].Add(time.Hour))
		malicious = append(malicious, 0)
		trusted = append(trusted, 0)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Files first seen per hour",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Malicious",
				XValues: x,
				YValues: malicious,
				Style: chart.Style{
					StrokeColor: chart.ColorRed,
				},
			},
			chart.TimeSeries{
				Name:    "Trusted",
				XValues: x,
				YValues: trusted,
				Style: chart.Style{
					StrokeColor: chart.ColorGreen,
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
