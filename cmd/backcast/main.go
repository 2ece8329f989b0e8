package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "backcast"
	version = "v0.4.0"
)

func main() {
	setupLogging()

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Event-driven backtest engine",
		Version: version,
		Long: `backcast replays strategies over historical OHLCV data: signals flow
through the position manager, the trade journal, and the execution simulator,
and results land on durable queues for downstream consumers.`,
	}

	rootCmd.AddCommand(newRunCommand(), newPhase2Command(), newMonitorCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backtest from a YAML configuration",
		RunE:  runBacktest,
	}
	cmd.Flags().String("config", "configs/backtest.yaml", "Path to backtest configuration")
	cmd.Flags().String("backtest-id", "", "Override the backtest id")
	cmd.Flags().Bool("parallel", false, "Force parallel ticker workers")
	cmd.Flags().String("out", "", "Write the run summary as JSON to this path")
	return cmd
}

func newPhase2Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio-phase2",
		Short: "Apply portfolio rules to phase-1 executions",
		RunE:  runPhase2,
	}
	cmd.Flags().String("config", "configs/backtest.yaml", "Path to backtest configuration")
	cmd.Flags().StringSlice("hash", nil, "Configuration hash(es) to process")
	cmd.Flags().String("portfolio-manager", "", "Path to portfolio-manager rules YAML")
	cmd.Flags().Float64("initial-account-value", 0, "Account value for portfolio sizing (defaults to the config file value)")
	cmd.Flags().String("database", "", "Override the results database name")
	cmd.Flags().String("ohlcv-database", "", "Override the OHLCV database DSN")
	return cmd
}

func newMonitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve health and Prometheus metrics over HTTP",
		RunE:  runMonitor,
	}
	cmd.Flags().String("host", "0.0.0.0", "Bind host")
	cmd.Flags().String("port", "8080", "Bind port")
	return cmd
}

// setupLogging picks console output on a TTY and structured JSON otherwise.
// LOG_LEVEL overrides the default info level.
func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		parsed, err := zerolog.ParseLevel(lvl)
		if err != nil {
			log.Warn().Str("LOG_LEVEL", lvl).Msg("unknown log level, using info")
			parsed = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(parsed)
	}
}
