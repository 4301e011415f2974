// Package cli provides the command-line interface for the scanner.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"candle-scanner/internal/config"
	"candle-scanner/internal/logging"
	"candle-scanner/internal/metrics"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies shared by every command.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// NewRootCmd creates the root command for the CLI. Configuration and the
// logger are set up before any command except version runs.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "scanner",
		Short: "Candle scanner - OHLCV ingestion, indicators and summaries",
		Long: `Candle scanner keeps per-instrument OHLCV series current from Kite Connect,
recomputes technical indicators and publishes per-interval summaries.

Use 'scanner run' for the unattended service, 'scanner backfill' for a one-off
fill and 'scanner summary <interval>' to print the latest table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return app.init(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/candle-scanner)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newBackfillCmd(app))
	rootCmd.AddCommand(newSummaryCmd(app))
	rootCmd.AddCommand(newOverviewCmd(app))

	return rootCmd
}

func (a *App) init(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Console = cfg.Log.Console
	logCfg.File = cfg.Log.File
	if cfg.Log.FilePath != "" {
		logCfg.FilePath = cfg.Log.FilePath
	}
	logCfg.Out = cmd.ErrOrStderr()
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}

	a.Metrics = metrics.New()
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Candle Scanner v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}
