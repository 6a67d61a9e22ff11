package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kangaroo-trader/internal/service"
)

var (
	version = "0.1.0"

	configPath string
	logLevel   string
	cfg        *service.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kangaroo",
		Short: "ASX quote ingestion and paper brokerage",
		Long: `kangaroo collects live ASX quotes during market hours, keeps a stock
table with price history, and runs a simulated brokerage with pending orders
and price alerts on top of it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := service.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				loaded.Log.Level = logLevel
			}
			if err := service.InitLogger(loaded.Log.Level); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = service.Logger.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config", "Directory containing config.yaml")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(marketStatusCmd())
	rootCmd.AddCommand(tradeCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
