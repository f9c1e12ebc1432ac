package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tap-reputation-poller/internal/watermark"
)

var watermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Inspect or reset the persisted watermark",
}

var watermarkGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the persisted watermark",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WatermarkGet(cmd.Context())
	},
}

var watermarkSetCmd = &cobra.Command{
	Use:   "set <timestamp>",
	Short: "Overwrite the persisted watermark (RFC3339 or epoch seconds)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := watermark.ParseTimestamp(args[0])
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		return getApp().WatermarkSet(cmd.Context(), ts)
	},
}

func init() {
	watermarkCmd.AddCommand(watermarkGetCmd)
	watermarkCmd.AddCommand(watermarkSetCmd)
}
