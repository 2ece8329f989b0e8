// Package portfolio implements the phase-2 pass: it reviews phase-1
// executions against portfolio-level rules and re-enqueues the approved set
// for final consumption.
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/cache"
	"github.com/quantfall/backcast/internal/datasource"
	"github.com/quantfall/backcast/internal/market"
	"github.com/quantfall/backcast/internal/queue"
	"github.com/quantfall/backcast/internal/results"
	"github.com/quantfall/backcast/internal/rules"
)

// Default wait bounds for the two polling stages.
const (
	DefaultDrainTimeout     = 60 * time.Second
	DefaultExecutionTimeout = 30 * time.Second
	DefaultPollInterval     = 2 * time.Second
)

// Config drives one phase-2 run.
type Config struct {
	Hashes              []string
	InitialAccountValue float64
	Manager             rules.PortfolioManagerConfig
	Database            string

	DrainTimeout     time.Duration
	ExecutionTimeout time.Duration
	PollInterval     time.Duration
}

func (c *Config) applyDefaults() {
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = DefaultExecutionTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Runner owns the phase-2 dependencies.
type Runner struct {
	broker queue.Broker
	store  datasource.ExecutionStore
	source datasource.Source
	cache  *cache.OhlcvCache
	writer *results.Writer
}

// NewRunner wires a phase-2 runner. The cache is optional.
func NewRunner(broker queue.Broker, store datasource.ExecutionStore, source datasource.Source, ohlcvCache *cache.OhlcvCache, writer *results.Writer) *Runner {
	return &Runner{broker: broker, store: store, source: source, cache: ohlcvCache, writer: writer}
}

// Run executes the phase-2 pass for every requested hash. It returns the
// number of approved executions written.
func (r *Runner) Run(ctx context.Context, cfg Config) (int, error) {
	cfg.applyDefaults()
	if len(cfg.Hashes) == 0 {
		return 0, fmt.Errorf("at least one hash is required")
	}
	pipeline, err := rules.NewPortfolioPipeline(cfg.Manager)
	if err != nil {
		return 0, fmt.Errorf("build portfolio pipeline: %w", err)
	}

	if err := r.waitForDrain(ctx, cfg); err != nil {
		return 0, err
	}

	approvedTotal := 0
	for _, hashID := range cfg.Hashes {
		n, err := r.runHash(ctx, cfg, pipeline, hashID)
		if err != nil {
			if ctx.Err() != nil {
				return approvedTotal, ctx.Err()
			}
			log.Error().Err(err).Str("hash_id", hashID).Msg("phase-2 failed for hash")
			continue
		}
		approvedTotal += n
	}
	return approvedTotal, ctx.Err()
}

// waitForDrain blocks until no pending phase-1 trade items remain for the
// requested hashes, bounded by the drain timeout. Leftover items only mean
// the consumer is behind, so a timeout is a warning, not an error.
func (r *Runner) waitForDrain(ctx context.Context, cfg Config) error {
	wanted := make(map[string]bool, len(cfg.Hashes))
	for _, h := range cfg.Hashes {
		wanted[h] = true
	}
	deadline := time.Now().Add(cfg.DrainTimeout)
	for {
		pending, err := r.pendingPhase1(ctx, wanted)
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			log.Warn().Int("pending", pending).Msg("trades queue did not drain in time, continuing")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}

func (r *Runner) pendingPhase1(ctx context.Context, wanted map[string]bool) (int, error) {
	ids, err := r.broker.Peek(ctx, results.TradesQueue, 1000)
	if err != nil {
		return 0, fmt.Errorf("peek trades queue: %w", err)
	}
	pending := 0
	for _, id := range ids {
		data, ok, err := r.broker.GetData(ctx, results.TradesQueue, id)
		if err != nil || !ok {
			continue
		}
		var payload results.Payload
		if err := json.Unmarshal(data, &payload); err != nil {
			continue
		}
		if payload.PortfolioStage == "phase1" && wanted[payload.HashID] {
			pending++
		}
	}
	return pending, nil
}

func (r *Runner) runHash(ctx context.Context, cfg Config, pipeline *rules.PortfolioPipeline, hashID string) (int, error) {
	execs, err := r.waitForExecutions(ctx, cfg, hashID)
	if err != nil {
		return 0, err
	}
	if len(execs) == 0 {
		log.Warn().Str("hash_id", hashID).Msg("no phase-1 executions arrived, skipping hash")
		return 0, nil
	}
	sort.SliceStable(execs, func(i, j int) bool { return execs[i].Time.Before(execs[j].Time) })

	if _, err := r.loadFrames(ctx, hashID, execs); err != nil {
		return 0, err
	}

	approved := applyPipeline(pipeline, execs, cfg.InitialAccountValue)
	return r.writeApproved(ctx, cfg, hashID, approved)
}

// waitForExecutions polls the results database until phase-1 executions for
// the hash arrive, bounded by the execution timeout.
func (r *Runner) waitForExecutions(ctx context.Context, cfg Config, hashID string) ([]rules.PortfolioExecution, error) {
	deadline := time.Now().Add(cfg.ExecutionTimeout)
	for {
		execs, err := r.store.QueryExecutions(ctx, hashID)
		if err != nil {
			return nil, fmt.Errorf("query executions for %s: %w", hashID, err)
		}
		if len(execs) > 0 || time.Now().After(deadline) {
			return execs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}

// loadFrames fills the cache for every unique ticker, querying the OHLCV
// database only on misses.
func (r *Runner) loadFrames(ctx context.Context, hashID string, execs []rules.PortfolioExecution) (map[string]*market.Frame, error) {
	start, end := execs[0].Time, execs[0].Time
	tickers := make(map[string]bool)
	for _, e := range execs {
		tickers[e.Ticker] = true
		if e.Time.Before(start) {
			start = e.Time
		}
		if e.Time.After(end) {
			end = e.Time
		}
	}

	frames := make(map[string]*market.Frame, len(tickers))
	for ticker := range tickers {
		if r.cache != nil {
			if frame := r.cache.Load(ctx, hashID, ticker); frame != nil {
				frames[ticker] = frame
				continue
			}
		}
		frame, err := r.source.Query(ctx, ticker, start, end)
		if err != nil {
			return nil, fmt.Errorf("load ohlcv for %s: %w", ticker, err)
		}
		frames[ticker] = frame
		if r.cache != nil && frame.Len() > 0 {
			r.cache.Store(ctx, hashID, ticker, frame)
		}
	}
	return frames, nil
}

// applyPipeline walks executions in time order, tracking deployed capital.
// Entries pass through the rule pipeline; exits release their capital and
// are always approved.
func applyPipeline(pipeline *rules.PortfolioPipeline, execs []rules.PortfolioExecution, accountValue float64) []rules.PortfolioExecution {
	deployed := 0.0
	var approved []rules.PortfolioExecution
	for _, e := range execs {
		switch market.Action(e.Action) {
		case market.ActionClose, market.ActionScaleOut:
			deployed -= e.Shares * e.Price
			if deployed < 0 {
				deployed = 0
			}
			approved = append(approved, e)
		default:
			shares, ok, reason := pipeline.Apply(rules.PortfolioContext{
				Execution:     e,
				AccountValue:  accountValue,
				DeployedValue: deployed,
			})
			if !ok {
				log.Info().
					Str("ticker", e.Ticker).
					Str("trade_id", e.TradeID).
					Str("reason", reason).
					Msg("portfolio rejected execution")
				continue
			}
			e.Shares = shares
			deployed += shares * e.Price
			approved = append(approved, e)
		}
	}
	return approved
}

// writeApproved groups approved executions by (strategy, ticker) and
// re-enqueues each group tagged portfolio_stage=final.
func (r *Runner) writeApproved(ctx context.Context, cfg Config, hashID string, approved []rules.PortfolioExecution) (int, error) {
	groups := make(map[[2]string][]rules.PortfolioExecution)
	for _, e := range approved {
		key := [2]string{e.Strategy, e.Ticker}
		groups[key] = append(groups[key], e)
	}
	meta := results.Meta{
		HashID:         hashID,
		Database:       cfg.Database,
		PortfolioStage: "final",
	}
	written := 0
	for key, group := range groups {
		if !r.writer.WriteExecutions(ctx, key[1], key[0], group, meta) {
			return written, fmt.Errorf("enqueue final executions for %s/%s", key[0], key[1])
		}
		written += len(group)
	}
	log.Info().
		Str("hash_id", hashID).
		Int("approved", written).
		Int("groups", len(groups)).
		Msg("phase-2 complete for hash")
	return written, nil
}

// ClearHashes drops cached OHLCV for every hash, used on interrupt.
func (r *Runner) ClearHashes(ctx context.Context, hashes []string) {
	if r.cache == nil {
		return
	}
	for _, h := range hashes {
		r.cache.ClearForHash(ctx, h)
	}
}
