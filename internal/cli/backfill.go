package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tap-reputation-poller/internal/app"
)

var (
	backfillFrom string
	backfillTo   string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay historical windows hour by hour without moving the watermark",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" {
			return fmt.Errorf("--from must be provided")
		}

		from, err := time.Parse(time.RFC3339, backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to := time.Now().UTC()
		if backfillTo != "" {
			to, err = time.Parse(time.RFC3339, backfillTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.BackfillOptions{
			From: from,
			To:   to,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End timestamp (RFC3339, exclusive, defaults to now)")
}
