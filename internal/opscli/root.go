// Package opscli implements the ops admin surface: purge, lake-move-partition,
// and replay-dead-letter, sharing one dry-run-by-default / --apply /
// --confirm pattern so an operator cannot trigger a destructive action by
// accident.
package opscli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldops/controlplane/internal/platform/config"
)

var rootCmd = &cobra.Command{
	Use:           "opsctl",
	Short:         "opsctl — farm control plane operator tooling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfigPath  string
	flagDatabaseURL string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to a JSON settings overlay")
	rootCmd.PersistentFlags().StringVar(&flagDatabaseURL, "database_url", "", "Override the configured database URL")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadSettings() (config.Settings, error) {
	settings, err := config.LoadFromEnv().LoadFile(flagConfigPath)
	if err != nil {
		return settings, err
	}
	if flagDatabaseURL != "" {
		settings.DatabaseURL = flagDatabaseURL
	}
	if settings.DatabaseURL == "" {
		return settings, fmt.Errorf("database url required: pass --database_url, set CORE_DATABASE_URL, or set it in --config")
	}
	return settings, nil
}
