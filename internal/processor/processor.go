// Package processor fans the backtest pipeline out across tickers and
// aggregates the per-ticker outcomes into a run summary.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/backcast/internal/cache"
	"github.com/quantfall/backcast/internal/config"
	"github.com/quantfall/backcast/internal/confighash"
	"github.com/quantfall/backcast/internal/datasource"
	"github.com/quantfall/backcast/internal/execution"
	"github.com/quantfall/backcast/internal/journal"
	"github.com/quantfall/backcast/internal/market"
	"github.com/quantfall/backcast/internal/metrics"
	"github.com/quantfall/backcast/internal/position"
	"github.com/quantfall/backcast/internal/progress"
	"github.com/quantfall/backcast/internal/results"
	"github.com/quantfall/backcast/internal/rules"
	"github.com/quantfall/backcast/internal/strategy"
)

// Processor runs one backtest configuration over a set of tickers.
type Processor struct {
	cfg     *config.BacktestConfig
	strat   strategy.Strategy
	source  datasource.Source
	cache   *cache.OhlcvCache
	writer  *results.Writer
	metrics *metrics.Registry
}

// New wires a processor. The cache and metrics registry are optional.
func New(cfg *config.BacktestConfig, strat strategy.Strategy, source datasource.Source, ohlcvCache *cache.OhlcvCache, writer *results.Writer, reg *metrics.Registry) *Processor {
	return &Processor{
		cfg:     cfg,
		strat:   strat,
		source:  source,
		cache:   ohlcvCache,
		writer:  writer,
		metrics: reg,
	}
}

// Summary is the aggregated outcome of one run.
type Summary struct {
	HashID     string `json:"hash_id"`
	BacktestID string `json:"backtest_id,omitempty"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
}

// Run computes the configuration hash, dispatches one worker per ticker, and
// returns the tally. Worker failures are logged and counted, never fatal to
// the run. On cancellation the cache entries for this hash are cleared.
func (p *Processor) Run(ctx context.Context) (*Summary, error) {
	hashID, err := confighash.Hash(p.cfg.HashSections())
	if err != nil {
		return nil, fmt.Errorf("compute config hash: %w", err)
	}
	window, err := p.cfg.Range()
	if err != nil {
		return nil, err
	}

	summary := &Summary{HashID: hashID, BacktestID: p.cfg.BacktestID, Total: len(p.cfg.Tickers)}
	if p.metrics != nil {
		p.metrics.RunsTotal.Inc()
	}
	log.Info().
		Str("hash_id", hashID).
		Str("strategy", p.strat.StrategyName()).
		Int("tickers", summary.Total).
		Str("start", p.cfg.StartDate).
		Str("end", p.cfg.EndDate).
		Bool("parallel", p.cfg.UseParallel).
		Msg("backtest run starting")

	outcomes := make([]error, len(p.cfg.Tickers))
	tracker := progress.NewTracker("backtest", len(p.cfg.Tickers))
	if p.cfg.UseParallel {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.MaxProcesses())
		for i, ticker := range p.cfg.Tickers {
			i, ticker := i, ticker
			g.Go(func() error {
				outcomes[i] = p.runTicker(gctx, ticker, hashID, window.Start, window.End)
				tracker.Step(outcomes[i] == nil)
				return nil
			})
		}
		g.Wait()
	} else {
		for i, ticker := range p.cfg.Tickers {
			if ctx.Err() != nil {
				outcomes[i] = ctx.Err()
				continue
			}
			outcomes[i] = p.runTicker(ctx, ticker, hashID, window.Start, window.End)
			tracker.Step(outcomes[i] == nil)
		}
	}

	for i, err := range outcomes {
		if err != nil {
			summary.Failed++
			log.Error().Err(err).Str("ticker", p.cfg.Tickers[i]).Msg("ticker backtest failed")
			if p.metrics != nil {
				p.metrics.RecordTickerOutcome("failed")
			}
			continue
		}
		summary.Successful++
		if p.metrics != nil {
			p.metrics.RecordTickerOutcome("success")
		}
	}

	if ctx.Err() != nil && p.cache != nil {
		p.cache.ClearForHash(context.Background(), hashID)
	}
	return summary, ctx.Err()
}

// runTicker executes the full pipeline for a single ticker.
func (p *Processor) runTicker(ctx context.Context, ticker, hashID string, start, end time.Time) error {
	if p.metrics != nil {
		p.metrics.ActiveWorkers.Inc()
		defer p.metrics.ActiveWorkers.Dec()
		timer := p.metrics.StartStageTimer("ticker")
		defer func() { timer.Stop("done") }()
	}

	frame, err := p.loadFrame(ctx, ticker, hashID, start, end)
	if err != nil {
		return err
	}
	if frame.Len() == 0 {
		log.Warn().Str("ticker", ticker).Msg("no bars in range, skipping")
		return nil
	}
	ohlcv := map[string]*market.Frame{ticker: frame}

	filters, err := rules.NewFilterPipeline(p.cfg.Filters)
	if err != nil {
		return fmt.Errorf("build filter pipeline: %w", err)
	}

	var signals []market.Signal
	studies := make(map[string][]float64)
	var studyTimes []time.Time
	for _, step := range BuildSteps(start, end, p.cfg.StepFrequency, frame) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, sig := range p.strat.RunStrategy(ticker, step, frame) {
			if len(sig.Indicators) > 0 {
				studyTimes = appendStudy(studies, studyTimes, sig)
			}
			if !filters.IsValid(sig, ohlcv) {
				continue
			}
			signals = append(signals, sig)
		}
	}

	jcfg := journal.Config{
		Strategy:            p.strat.StrategyName(),
		CapitalPerTrade:     p.cfg.CapitalPerTrade,
		InitialAccountValue: p.cfg.InitialAccountValue,
		TradePercentage:     p.cfg.TradePercentage,
		RiskFreeRate:        p.cfg.RiskFreeRate,
	}

	var trades []market.Trade
	var rows []market.JournalRow
	if p.cfg.PositionManager != nil {
		pipeline, err := rules.NewPositionPipeline(*p.cfg.PositionManager)
		if err != nil {
			return fmt.Errorf("build position pipeline: %w", err)
		}
		intents, err := position.NewManager(pipeline).Process(ctx, ticker, signals, frame)
		if err != nil {
			return err
		}
		rows, trades = journal.MatchIntents(intents, ohlcv, jcfg)
		trades = execution.NewSimulator(p.cfg.Execution).Simulate(trades, ohlcv)
	} else {
		trades = journal.MatchFIFO(signals, ohlcv, jcfg)
		trades = execution.NewSimulator(p.cfg.Execution).Simulate(trades, ohlcv)
		rows = journal.RowsFromTrades(trades, p.strat.StrategyName())
	}
	runMetrics := journal.ComputeMetrics(trades, jcfg)

	meta := results.Meta{
		BacktestID:     p.cfg.BacktestID,
		HashID:         hashID,
		StrategyParams: p.cfg.Strategy.Params,
		Database:       p.cfg.ResultsDatabase(),
		PortfolioStage: "phase1",
	}
	okTrades := p.writer.WriteTrades(ctx, ticker, p.strat.StrategyName(), rows, meta)
	okMetrics := p.writer.WriteMetrics(ctx, ticker, p.strat.StrategyName(), runMetrics, end, meta)
	if p.metrics != nil {
		p.metrics.RecordEnqueue(results.TradesQueue, okTrades)
		p.metrics.RecordEnqueue(results.MetricsQueue, okMetrics)
	}
	if len(studyTimes) > 0 {
		p.writer.WriteStudies(ctx, ticker, p.strat.StrategyName(), studyTimes, studies, meta)
	}
	if !okTrades || !okMetrics {
		return fmt.Errorf("results enqueue failed for %s", ticker)
	}

	log.Info().
		Str("ticker", ticker).
		Int("signals", len(signals)).
		Int("trades", len(trades)).
		Float64("total_profit", runMetrics.TotalProfit).
		Msg("ticker backtest complete")
	return nil
}

// loadFrame serves bars cache-first by hash, falling back to the data source
// and populating the cache on a miss.
func (p *Processor) loadFrame(ctx context.Context, ticker, hashID string, start, end time.Time) (*market.Frame, error) {
	if p.cache != nil {
		if frame := p.cache.Load(ctx, hashID, ticker); frame != nil {
			if p.metrics != nil {
				p.metrics.RecordCacheHit("ohlcv")
			}
			return frame, nil
		}
		if p.metrics != nil {
			p.metrics.RecordCacheMiss("ohlcv")
		}
	}
	frame, err := p.source.Query(ctx, ticker, start, end)
	if err != nil {
		return nil, fmt.Errorf("load ohlcv for %s: %w", ticker, err)
	}
	if p.cache != nil && frame.Len() > 0 {
		p.cache.Store(ctx, hashID, ticker, frame)
	}
	return frame, nil
}

// appendStudy aligns each indicator series to the shared study timeline,
// padding series that were absent on earlier signals with zeros.
func appendStudy(studies map[string][]float64, times []time.Time, sig market.Signal) []time.Time {
	times = append(times, sig.SignalTime)
	n := len(times)
	for name := range sig.Indicators {
		if _, ok := studies[name]; !ok {
			studies[name] = make([]float64, n-1)
		}
	}
	for name, series := range studies {
		v := sig.Indicators[name]
		for len(series) < n-1 {
			series = append(series, 0)
		}
		studies[name] = append(series, v)
	}
	return times
}

// PrintSummary writes the run tally to stdout.
func (s *Summary) Print() {
	fmt.Printf("\nBacktest Summary\n")
	fmt.Printf("----------------\n")
	fmt.Printf("hash_id:     %s\n", s.HashID)
	if s.BacktestID != "" {
		fmt.Printf("backtest_id: %s\n", s.BacktestID)
	}
	fmt.Printf("total:       %d\n", s.Total)
	fmt.Printf("successful:  %d\n", s.Successful)
	fmt.Printf("failed:      %d\n", s.Failed)
}
