package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quantfall/backcast/internal/config"
	"github.com/quantfall/backcast/internal/portfolio"
	"github.com/quantfall/backcast/internal/results"
	"github.com/quantfall/backcast/internal/rules"
)

// runPhase2 reviews phase-1 executions against portfolio rules.
func runPhase2(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	hashes, _ := cmd.Flags().GetStringSlice("hash")
	rulesPath, _ := cmd.Flags().GetString("portfolio-manager")
	accountFlag, _ := cmd.Flags().GetFloat64("initial-account-value")
	database, _ := cmd.Flags().GetString("database")
	ohlcvDSN, _ := cmd.Flags().GetString("ohlcv-database")

	if len(hashes) == 0 {
		return fmt.Errorf("at least one --hash is required")
	}
	if rulesPath == "" {
		return fmt.Errorf("--portfolio-manager is required")
	}

	manager, err := loadPortfolioRules(rulesPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if database != "" {
		cfg.Database = database
	}
	if ohlcvDSN != "" {
		cfg.Ohlcv.DSN = ohlcvDSN
	}
	accountValue, err := resolveAccountValue(accountFlag, cfg)
	if err != nil {
		return err
	}

	b, err := buildBackends(cfg)
	if err != nil {
		return err
	}
	defer b.close()

	runner := portfolio.NewRunner(b.broker, b.source, b.source, b.cache, results.NewWriter(b.broker, results.DefaultTTL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	approved, err := runner.Run(ctx, portfolio.Config{
		Hashes:              hashes,
		InitialAccountValue: accountValue,
		Manager:             *manager,
		Database:            cfg.ResultsDatabase(),
	})
	if err != nil {
		// Interrupted runs drop their cache entries to keep usage bounded.
		runner.ClearHashes(context.Background(), hashes)
		return fmt.Errorf("phase-2 aborted: %w", err)
	}
	log.Info().Int("approved", approved).Strs("hashes", hashes).Msg("phase-2 run finished")
	return nil
}

// resolveAccountValue prefers the flag over the config-file account value.
func resolveAccountValue(flagValue float64, cfg *config.BacktestConfig) (float64, error) {
	if flagValue > 0 {
		return flagValue, nil
	}
	if cfg.InitialAccountValue > 0 {
		return cfg.InitialAccountValue, nil
	}
	return 0, fmt.Errorf("no account value: pass --initial-account-value or set initial_account_value in the config")
}

func loadPortfolioRules(path string) (*rules.PortfolioManagerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portfolio rules %s: %w", path, err)
	}
	var cfg rules.PortfolioManagerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse portfolio rules %s: %w", path, err)
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("portfolio rules %s: no rules defined", path)
	}
	return &cfg, nil
}
