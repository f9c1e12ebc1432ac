package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"tap-reputation-poller/internal/storage"
)

// Show prints recently archived reputations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show reputations")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rows, err := store.ListRecentReputations(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return a.renderReputations(rows)
}

func (a *App) renderReputations(rows []storage.ArchivedReputation) error {
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no reputations found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Last seen (UTC)\tTrust\tVerdict\tSeen\tSHA256\tFile")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%d\t%s\t%s\n",
			row.LastSeen.UTC().Format(time.RFC3339),
			int(row.Record.TrustLevel),
			row.Record.TrustLevel,
			row.SeenCount,
			row.Record.Hashes.SHA256,
			sanitizeInline(row.Record.FileName),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
