package opscli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/store"
)

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().Bool("apply", false, "Actually delete rows instead of reporting a dry-run count")
	purgeCmd.Flags().String("confirm", "", "Must equal the sensor id being purged")
	purgeCmd.Flags().String("start", "", "RFC3339 start of the range to purge (default: epoch)")
	purgeCmd.Flags().String("end", "", "RFC3339 end of the range to purge (default: now)")
}

var purgeCmd = &cobra.Command{
	Use:   "purge SENSOR_ID",
	Short: "Delete a sensor's metric rows over a time range",
	Args:  cobra.ExactArgs(1),
	RunE:  runPurge,
}

func runPurge(cmd *cobra.Command, args []string) error {
	sensorID := args[0]
	apply, _ := cmd.Flags().GetBool("apply")
	confirm, _ := cmd.Flags().GetString("confirm")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")

	if apply && confirm != sensorID {
		return fmt.Errorf("purge: --confirm must equal the sensor id %q exactly", sensorID)
	}

	start := time.Unix(0, 0).UTC()
	if startStr != "" {
		parsed, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return fmt.Errorf("purge: invalid --start: %w", err)
		}
		start = parsed
	}
	end := time.Now().UTC()
	if endStr != "" {
		parsed, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return fmt.Errorf("purge: invalid --end: %w", err)
		}
		end = parsed
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := logging.New("opsctl-purge", settings.LogLevel, settings.LogFormat)

	db, err := store.Open(settings.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	defer db.Close()
	metricStore := store.NewMetricStore(db)

	ctx := context.Background()
	if !apply {
		fmt.Printf("dry-run: would purge sensor %s rows in [%s, %s]; pass --apply --confirm %s to execute\n", sensorID, start, end, sensorID)
		return nil
	}

	deleted, err := metricStore.Purge(ctx, sensorID, start, end)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	fmt.Printf("purged %d rows for sensor %s\n", deleted, sensorID)
	return nil
}
