package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tap-reputation-poller/internal/app"
	"tap-reputation-poller/internal/watermark"
)

var (
	replayFile      string
	replayTimestamp string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Extract records from a saved SIEM response without calling the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFile == "" {
			return fmt.Errorf("--file must be provided")
		}

		opts := app.ReplayOptions{File: replayFile}
		if replayTimestamp != "" {
			ts, err := watermark.ParseTimestamp(replayTimestamp)
			if err != nil {
				return fmt.Errorf("invalid --timestamp value: %w", err)
			}
			opts.Timestamp = &ts
		}

		_, err := getApp().Replay(cmd.Context(), opts)
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "Path to a saved SIEM JSON response")
	replayCmd.Flags().StringVar(&replayTimestamp, "timestamp", "", "Window start to report (RFC3339 or epoch seconds)")
}
