// Package results validates backtest output and enqueues it to the three
// durable result queues for downstream consumers.
package results

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/market"
	"github.com/quantfall/backcast/internal/queue"
	"github.com/quantfall/backcast/internal/rules"
)

// Queue names consumed downstream.
const (
	TradesQueue  = "backtest_trades_queue"
	MetricsQueue = "backtest_metrics_queue"
	StudiesQueue = "backtest_studies_queue"
)

// DefaultTTL bounds how long unconsumed results stay pending.
const DefaultTTL = time.Hour

// Meta is the run-level annotation attached to every payload.
type Meta struct {
	BacktestID     string
	HashID         string
	StrategyParams map[string]any
	Database       string
	PortfolioStage string
}

// Writer transforms results into payloads and enqueues them. Failures are
// logged and reported as false; the worker continues with its next payload.
type Writer struct {
	broker queue.Broker
	ttl    time.Duration
}

// NewWriter builds a writer over the given broker. Zero ttl selects the
// default.
func NewWriter(broker queue.Broker, ttl time.Duration) *Writer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Writer{broker: broker, ttl: ttl}
}

// WriteTrades enqueues the per-side journal rows for one (ticker, strategy).
// Each row is one order leg with its action, deterministic execution id, and
// commission, the shape the downstream executions consumer ingests.
func (w *Writer) WriteTrades(ctx context.Context, ticker, strategy string, rows []market.JournalRow, meta Meta) bool {
	if len(rows) == 0 {
		return true
	}
	n := len(rows)
	cols := map[string]any{
		"datetime":    make([]int64, n),
		"side":        make([]string, n),
		"price":       make([]float64, n),
		"shares":      make([]float64, n),
		"commission":  make([]float64, n),
		"action":      make([]string, n),
		"execution":   make([]string, n),
		"trade_id":    make([]string, n),
		"exit_reason": make([]string, n),
	}
	for i, r := range rows {
		cols["datetime"].([]int64)[i] = r.Datetime.UTC().UnixMilli()
		cols["side"].([]string)[i] = string(r.Side)
		cols["price"].([]float64)[i] = r.Price
		cols["shares"].([]float64)[i] = r.Shares
		cols["commission"].([]float64)[i] = r.Commission
		cols["action"].([]string)[i] = string(r.Action)
		cols["execution"].([]string)[i] = r.Execution
		cols["trade_id"].([]string)[i] = r.TradeID
		cols["exit_reason"].([]string)[i] = r.ExitReason
	}
	return w.write(ctx, TradesQueue, itemID(ticker, strategy, meta.BacktestID, ""), ticker, strategy, cols, meta)
}

// WriteMetrics enqueues the run-level metrics summary for one ticker.
func (w *Writer) WriteMetrics(ctx context.Context, ticker, strategy string, m market.Metrics, asof time.Time, meta Meta) bool {
	cols := map[string]any{
		"datetime":         []int64{asof.UTC().UnixMilli()},
		"total_trades":     []int64{int64(m.TotalTrades)},
		"total_profit":     []float64{m.TotalProfit},
		"total_profit_pct": []float64{m.TotalProfitPct},
		"max_drawdown":     []float64{m.MaxDrawdown},
		"sharpe_ratio":     []float64{m.SharpeRatio},
		"avg_efficiency":   []float64{m.AvgEfficiency},
		"avg_return_pct":   []float64{m.AvgReturnPct},
		"avg_time_held":    []float64{m.AvgTimeHeld},
		"win_rate":         []float64{m.WinRate},
	}
	return w.write(ctx, MetricsQueue, itemID(ticker, strategy, meta.BacktestID, "_metrics"), ticker, strategy, cols, meta)
}

// WriteStudies enqueues per-bar study series (indicator values and the like)
// aligned to the given timestamps.
func (w *Writer) WriteStudies(ctx context.Context, ticker, strategy string, times []time.Time, studies map[string][]float64, meta Meta) bool {
	if len(times) == 0 {
		return true
	}
	datetimes := make([]int64, len(times))
	for i, t := range times {
		datetimes[i] = t.UTC().UnixMilli()
	}
	cols := map[string]any{"datetime": datetimes}
	for name, series := range studies {
		cols[name] = series
	}
	return w.write(ctx, StudiesQueue, itemID(ticker, strategy, meta.BacktestID, "_studies"), ticker, strategy, cols, meta)
}

// WriteExecutions re-enqueues portfolio-approved executions for one
// (ticker, strategy, hash) group.
func (w *Writer) WriteExecutions(ctx context.Context, ticker, strategy string, execs []rules.PortfolioExecution, meta Meta) bool {
	if len(execs) == 0 {
		return true
	}
	n := len(execs)
	cols := map[string]any{
		"datetime": make([]int64, n),
		"side":     make([]string, n),
		"action":   make([]string, n),
		"price":    make([]float64, n),
		"shares":   make([]float64, n),
		"trade_id": make([]string, n),
	}
	for i, e := range execs {
		cols["datetime"].([]int64)[i] = e.Time.UTC().UnixMilli()
		cols["side"].([]string)[i] = e.Side
		cols["action"].([]string)[i] = e.Action
		cols["price"].([]float64)[i] = e.Price
		cols["shares"].([]float64)[i] = e.Shares
		cols["trade_id"].([]string)[i] = e.TradeID
	}
	id := ticker + "_" + strategy + "_" + meta.HashID + "_final"
	return w.write(ctx, TradesQueue, id, ticker, strategy, cols, meta)
}

func (w *Writer) write(ctx context.Context, queueName, id, ticker, strategy string, cols map[string]any, meta Meta) bool {
	scrubColumns(cols)
	payload := &Payload{
		Ticker:         ticker,
		StrategyName:   strategy,
		Columns:        cols,
		BacktestID:     meta.BacktestID,
		HashID:         meta.HashID,
		StrategyParams: meta.StrategyParams,
		Database:       meta.Database,
		PortfolioStage: meta.PortfolioStage,
	}
	if err := Validate(payload); err != nil {
		log.Error().
			Err(err).
			Str("queue", queueName).
			Str("ticker", ticker).
			Str("strategy", strategy).
			Msg("results payload failed validation, dropping")
		return false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("results payload encode failed, dropping")
		return false
	}
	if err := w.broker.Enqueue(ctx, queueName, id, data, w.ttl); err != nil {
		log.Error().
			Err(err).
			Str("queue", queueName).
			Str("item_id", id).
			Msg("results enqueue failed")
		return false
	}
	log.Debug().Str("queue", queueName).Str("item_id", id).Msg("results enqueued")
	return true
}

// itemID is deterministic per (ticker, strategy, backtest id) so that
// re-runs overwrite their prior pending items.
func itemID(ticker, strategy, backtestID, suffix string) string {
	if backtestID == "" {
		backtestID = "no_id"
	}
	return ticker + "_" + strategy + "_" + backtestID + suffix
}
