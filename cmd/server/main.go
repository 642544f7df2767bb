// Command mmonboard runs the onboarding answer-sync service and its
// operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/config"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/logging"
)

var (
	// Global flags
	debug     bool
	configDir string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mmonboard",
	Short: "Compatibility onboarding answer-sync service",
	Long: `mmonboard serves the onboarding wizard API: it keeps the answered-question
set of each browser client in sync with the matchmaking backend, carries
question payloads between steps and gates match surfaces until onboarding
is complete.

Configuration comes from config/.env.<env> and <ENV>_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configDir)
		if err != nil {
			return err
		}
		logger, err = logging.New(debug || cfg.Debug, zap.String("env", cfg.Env))
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory holding config/.env.<env> (default: working directory)")

	rootCmd.AddCommand(serveCmd, reconcileCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
