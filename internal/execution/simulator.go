// Package execution applies realistic execution costs to matched trades:
// slippage, per-side commission, and an optional delayed-fill model.
package execution

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/market"
)

// Config is the execution cost model. It participates in the configuration
// hash, so field semantics must stay stable.
type Config struct {
	SlippageBps        float64 `yaml:"slippage_bps" json:"slippage_bps"`
	CommissionPerShare float64 `yaml:"commission_per_share" json:"commission_per_share"`
	UseLimitOrders     bool    `yaml:"use_limit_orders" json:"use_limit_orders"`
	FillDelayMinutes   int     `yaml:"fill_delay_minutes" json:"fill_delay_minutes"`
}

// Simulator reprices trades through the cost model.
type Simulator struct {
	cfg Config
}

// NewSimulator builds a simulator for one execution config.
func NewSimulator(cfg Config) *Simulator {
	return &Simulator{cfg: cfg}
}

// Simulate returns the trades with slippage, commission, and fill delay
// applied, recomputing gross and net PnL from the adjusted prices. Trades
// whose delayed fill finds no bar are dropped.
func (s *Simulator) Simulate(trades []market.Trade, ohlcv map[string]*market.Frame) []market.Trade {
	out := make([]market.Trade, 0, len(trades))
	for _, t := range trades {
		adjusted, ok := s.simulateOne(t, ohlcv[t.Ticker])
		if !ok {
			continue
		}
		out = append(out, adjusted)
	}
	return out
}

func (s *Simulator) simulateOne(t market.Trade, frame *market.Frame) (market.Trade, bool) {
	if s.cfg.FillDelayMinutes > 0 {
		delay := time.Duration(s.cfg.FillDelayMinutes) * time.Minute
		entryBar, ok := frame.FirstAtOrAfter(t.EntryTime.Add(delay))
		if !ok {
			log.Warn().
				Str("ticker", t.Ticker).
				Time("entry_time", t.EntryTime).
				Msg("no bar at delayed entry fill, dropping trade")
			return t, false
		}
		exitBar, ok := frame.FirstAtOrAfter(t.ExitTime.Add(delay))
		if !ok {
			log.Warn().
				Str("ticker", t.Ticker).
				Time("exit_time", t.ExitTime).
				Msg("no bar at delayed exit fill, dropping trade")
			return t, false
		}
		t.EntryPrice = entryBar.Open
		t.ExitPrice = exitBar.Open
	}

	slip := s.cfg.SlippageBps / 10000
	if t.Side == market.Short {
		// SHORT entries fill lower, exits higher.
		t.EntryPrice *= 1 - slip
		t.ExitPrice *= 1 + slip
	} else {
		t.EntryPrice *= 1 + slip
		t.ExitPrice *= 1 - slip
	}

	gross := t.Shares * (t.ExitPrice - t.EntryPrice)
	if t.Side == market.Short {
		gross = t.Shares * (t.EntryPrice - t.ExitPrice)
	}
	t.GrossPnL = gross
	if capital := t.Shares * t.EntryPrice; capital > 0 {
		t.GrossPnLPct = gross / capital * 100
	}

	// Commission charged on each side.
	t.Commission = s.cfg.CommissionPerShare * t.Shares
	t.NetPnL = t.GrossPnL - 2*t.Commission
	return t, true
}
