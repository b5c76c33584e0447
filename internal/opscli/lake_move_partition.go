package opscli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldops/controlplane/internal/domain/lakedomain"
	"github.com/fieldops/controlplane/internal/lake"
	"github.com/fieldops/controlplane/internal/platform/logging"
)

func init() {
	rootCmd.AddCommand(lakeMovePartitionCmd)
	lakeMovePartitionCmd.Flags().Bool("apply", false, "Actually move the partition instead of reporting a dry-run plan")
	lakeMovePartitionCmd.Flags().String("confirm", "", "Must equal DELETE_CONTAMINATION to apply")
	lakeMovePartitionCmd.Flags().String("dataset", lakedomain.MetricsDatasetV1, "Dataset name")
	lakeMovePartitionCmd.Flags().String("to", "cold", "Target location: hot or cold")
	lakeMovePartitionCmd.Flags().String("hot-root", "", "Hot lake root (overrides config)")
	lakeMovePartitionCmd.Flags().String("cold-root", "", "Cold lake root (overrides config)")
}

var lakeMovePartitionCmd = &cobra.Command{
	Use:   "lake-move-partition DATE",
	Short: "Move a lake partition (all shards) between hot and cold storage",
	Args:  cobra.ExactArgs(1),
	RunE:  runLakeMovePartition,
}

func runLakeMovePartition(cmd *cobra.Command, args []string) error {
	date := args[0]
	apply, _ := cmd.Flags().GetBool("apply")
	confirm, _ := cmd.Flags().GetString("confirm")
	dataset, _ := cmd.Flags().GetString("dataset")
	to, _ := cmd.Flags().GetString("to")
	hotRootFlag, _ := cmd.Flags().GetString("hot-root")
	coldRootFlag, _ := cmd.Flags().GetString("cold-root")

	if to != "hot" && to != "cold" {
		return fmt.Errorf("lake-move-partition: --to must be \"hot\" or \"cold\"")
	}
	if apply && confirm != "DELETE_CONTAMINATION" {
		return fmt.Errorf("lake-move-partition: --confirm must equal DELETE_CONTAMINATION to apply")
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	hotRoot, coldRoot := settings.LakeHotPath, settings.LakeColdPath
	if hotRootFlag != "" {
		hotRoot = hotRootFlag
	}
	if coldRootFlag != "" {
		coldRoot = coldRootFlag
	}
	logger := logging.New("opsctl-lake-move-partition", settings.LogLevel, settings.LogFormat)

	if !apply {
		fmt.Printf("dry-run: would move %s/%s to %s; pass --apply --confirm DELETE_CONTAMINATION to execute\n", dataset, date, to)
		return nil
	}

	manifests := lake.NewManifestStore(hotRoot, logger)
	if err := lake.MovePartition(context.Background(), manifests, hotRoot, coldRoot, dataset, date, to == "cold"); err != nil {
		return fmt.Errorf("lake-move-partition: %w", err)
	}
	fmt.Printf("moved %s/%s to %s\n", dataset, date, to)
	return nil
}
