package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/najdeno/internal/config"
)

var (
	configPath string
	cfg        *config.Config
	closeLog   func()
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		dbPath  string
		logPath string
		debug   bool
	)

	root := &cobra.Command{
		Use:           "najdeno",
		Short:         "Lost and found listings with verified claims and M-Pesa tips",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// Flags override every other source.
			flags := cmd.Flags()
			if flags.Changed("db") {
				loaded.DBPath = dbPath
			}
			if flags.Changed("log") {
				loaded.LogFile = logPath
			}
			if flags.Changed("debug") {
				loaded.Debug = debug
			}
			cfg = loaded

			closeLog, err = setupLogger(cfg.LogFile, cfg.Debug)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeLog != nil {
				closeLog()
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVarP(&dbPath, "db", "d", "najdeno.db", "SQLite database path")
	root.PersistentFlags().StringVarP(&logPath, "log", "l", "", "log file path (default: stdout/stderr only)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(serveCmd(), initCmd(), claimsCmd())
	return root
}
