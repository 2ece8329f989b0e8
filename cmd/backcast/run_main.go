package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfall/backcast/internal/atomicio"
	"github.com/quantfall/backcast/internal/config"
	"github.com/quantfall/backcast/internal/metrics"
	"github.com/quantfall/backcast/internal/processor"
	"github.com/quantfall/backcast/internal/results"
	"github.com/quantfall/backcast/internal/strategy"
)

// runBacktest loads the configuration and executes one full backtest run.
func runBacktest(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	backtestID, _ := cmd.Flags().GetString("backtest-id")
	forceParallel, _ := cmd.Flags().GetBool("parallel")
	outPath, _ := cmd.Flags().GetString("out")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backtestID != "" {
		cfg.BacktestID = backtestID
	}
	if forceParallel {
		cfg.UseParallel = true
	}

	strat, err := strategy.New(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		return err
	}

	b, err := buildBackends(cfg)
	if err != nil {
		return err
	}
	defer b.close()

	// Ctrl-C cancels the run; the processor clears the cache for its hash.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	writer := results.NewWriter(b.broker, results.DefaultTTL)
	proc := processor.New(cfg, strat, b.source, b.cache, writer, metrics.NewRegistry())

	summary, err := proc.Run(ctx)
	if summary != nil {
		summary.Print()
		if outPath != "" {
			if werr := atomicio.WriteJSON(outPath, summary); werr != nil {
				log.Error().Err(werr).Str("path", outPath).Msg("failed to write summary file")
			}
		}
	}
	if err != nil {
		return fmt.Errorf("backtest run aborted: %w", err)
	}
	if summary.Failed > 0 {
		log.Warn().Int("failed", summary.Failed).Msg("run finished with failed tickers")
	}
	return nil
}
