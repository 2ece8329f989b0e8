// Package strategy defines the strategy contract the processor drives and a
// reference SMA-cross implementation. Strategies are black boxes to the
// core: they see a ticker, a point in time, and the bars up to it.
package strategy

import (
	"fmt"
	"time"

	"github.com/quantfall/backcast/internal/market"
)

// Strategy produces signals for one ticker as of one step time.
type Strategy interface {
	StrategyName() string
	RunStrategy(ticker string, asof time.Time, frame *market.Frame) []market.Signal
}

// New constructs a named strategy from its parameter map. Unknown names are
// configuration errors.
func New(name string, params map[string]any) (Strategy, error) {
	switch name {
	case "sma_cross":
		return NewSMACross(params)
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// SMACross goes long when the fast SMA crosses above the slow SMA and exits
// on the cross back down.
type SMACross struct {
	Fast int
	Slow int
}

// NewSMACross validates the window parameters.
func NewSMACross(params map[string]any) (*SMACross, error) {
	fast := intParam(params, "fast_window", 10)
	slow := intParam(params, "slow_window", 30)
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, fmt.Errorf("sma_cross: need 0 < fast_window (%d) < slow_window (%d)", fast, slow)
	}
	return &SMACross{Fast: fast, Slow: slow}, nil
}

func (s *SMACross) StrategyName() string { return "sma_cross" }

func (s *SMACross) RunStrategy(ticker string, asof time.Time, frame *market.Frame) []market.Signal {
	bars := frame.Through(asof)
	if len(bars) < s.Slow+1 {
		return nil
	}
	cur := bars[len(bars)-1]
	prev := bars[len(bars)-2]

	fastNow, ok := frame.SMA(s.Fast, cur.Time)
	if !ok {
		return nil
	}
	slowNow, ok := frame.SMA(s.Slow, cur.Time)
	if !ok {
		return nil
	}
	fastPrev, ok := frame.SMA(s.Fast, prev.Time)
	if !ok {
		return nil
	}
	slowPrev, ok := frame.SMA(s.Slow, prev.Time)
	if !ok {
		return nil
	}

	indicators := map[string]float64{"sma_fast": fastNow, "sma_slow": slowNow}
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		return []market.Signal{{
			Ticker:     ticker,
			SignalTime: cur.Time,
			SignalType: market.SignalBuy,
			Price:      cur.Close,
			Side:       market.Long,
			Indicators: indicators,
		}}
	case fastPrev >= slowPrev && fastNow < slowNow:
		return []market.Signal{{
			Ticker:     ticker,
			SignalTime: cur.Time,
			SignalType: market.SignalSell,
			Price:      cur.Close,
			Side:       market.Long,
			Indicators: indicators,
		}}
	}
	return nil
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}
