package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-forecast/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "market-forecast",
	Short: "Regional adoption forecasts and market reports",
	Long:  "Fits logistic adoption curves per region from survey data, projects them over a forecast horizon, and publishes market metrics to CSV, workbooks and the analytics warehouse.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
