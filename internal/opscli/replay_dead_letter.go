package opscli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldops/controlplane/internal/ingest"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/store"
)

func init() {
	rootCmd.AddCommand(replayDeadLetterCmd)
	replayDeadLetterCmd.Flags().Bool("apply", false, "Actually replay records instead of reporting a dry-run count")
	replayDeadLetterCmd.Flags().String("confirm", "", "Must equal DELETE_CONTAMINATION to apply")
}

var replayDeadLetterCmd = &cobra.Command{
	Use:   "replay-dead-letter LOG_PATH",
	Short: "Re-submit sidelined ingest batches from a dead-letter log",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplayDeadLetter,
}

func runReplayDeadLetter(cmd *cobra.Command, args []string) error {
	path := args[0]
	apply, _ := cmd.Flags().GetBool("apply")
	confirm, _ := cmd.Flags().GetString("confirm")

	if apply && confirm != "DELETE_CONTAMINATION" {
		return fmt.Errorf("replay-dead-letter: --confirm must equal DELETE_CONTAMINATION to apply")
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := logging.New("opsctl-replay-dead-letter", settings.LogLevel, settings.LogFormat)

	db, err := store.Open(settings.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("replay-dead-letter: %w", err)
	}
	defer db.Close()
	metricStore := store.NewMetricStore(db)

	count, err := ingest.ReplayDeadLetterFile(context.Background(), path, metricStore, !apply)
	if err != nil {
		return fmt.Errorf("replay-dead-letter: %w", err)
	}
	if !apply {
		fmt.Printf("dry-run: would replay %d records from %s; pass --apply --confirm DELETE_CONTAMINATION to execute\n", count, path)
		return nil
	}
	fmt.Printf("replayed %d records from %s\n", count, path)
	return nil
}
