package main

import (
	"log/slog"
	"os"

	"github.com/danielpatrickdp/optisat/internal/config"
	"github.com/danielpatrickdp/optisat/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	appCfg *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "optisat",
	Short: "Optimize/satisfy early stopping for training loops",
	Long: `optisat decides after every training iteration whether to keep training.

One metric is optimized; every other tracked metric only has to clear a
threshold. Training stops when the satisfy thresholds keep failing or the
optimized metric stops improving.

Configuration is read from --config, or optisat.yaml in the working
directory, and OPTISAT_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		l, err := logging.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		appCfg, logger = cfg, l
		slog.SetDefault(l)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./optisat.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(exportCmd)
}
