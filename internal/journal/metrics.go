package journal

import (
	"math"
	"sort"

	"github.com/quantfall/backcast/internal/market"
)

// tradingDaysPerYear annualizes the per-trade return proxy.
const tradingDaysPerYear = 252

// ComputeMetrics summarizes closed trades. Drawdown and sharpe return zero
// on empty or single-trade inputs rather than erroring.
func ComputeMetrics(trades []market.Trade, cfg Config) market.Metrics {
	m := market.Metrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	wins := 0
	var sumEff, sumPct, sumHeld float64
	for _, t := range trades {
		m.TotalProfit += t.GrossPnL
		sumEff += t.Efficiency
		sumPct += t.GrossPnLPct
		sumHeld += t.TimeHeldHours
		if t.GrossPnL > 0 {
			wins++
		}
	}
	n := float64(len(trades))
	m.AvgEfficiency = sumEff / n
	m.AvgReturnPct = sumPct / n
	m.AvgTimeHeld = sumHeld / n
	m.WinRate = float64(wins) / n * 100
	if cfg.CapitalPerTrade > 0 {
		m.TotalProfitPct = m.TotalProfit / cfg.CapitalPerTrade * 100
	}
	m.MaxDrawdown = maxDrawdown(trades, cfg.CapitalPerTrade)
	m.SharpeRatio = sharpeRatio(trades, cfg.RiskFreeRate)
	return m
}

// maxDrawdown walks trades by exit time tracking the running equity peak.
// The result is the most negative percentage move off that peak, or zero for
// fewer than one trade.
func maxDrawdown(trades []market.Trade, capitalPerTrade float64) float64 {
	if len(trades) < 1 {
		return 0
	}
	byExit := make([]market.Trade, len(trades))
	copy(byExit, trades)
	sort.SliceStable(byExit, func(i, j int) bool {
		return byExit[i].ExitTime.Before(byExit[j].ExitTime)
	})

	cumPnL := 0.0
	runningMax := capitalPerTrade
	worst := 0.0
	for _, t := range byExit {
		cumPnL += t.GrossPnL
		equity := cumPnL + capitalPerTrade
		if equity > runningMax {
			runningMax = equity
		}
		if runningMax > 0 {
			dd := (equity - runningMax) / runningMax * 100
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpeRatio uses per-trade percentage returns as a daily-return proxy.
// Zero when fewer than two trades or when the returns have no variance.
func sharpeRatio(trades []market.Trade, riskFreeRate float64) float64 {
	if len(trades) < 2 {
		return 0
	}
	dailyRf := riskFreeRate / tradingDaysPerYear
	excess := make([]float64, len(trades))
	mean := 0.0
	for i, t := range trades {
		excess[i] = t.GrossPnLPct/100 - dailyRf
		mean += excess[i]
	}
	mean /= float64(len(excess))

	variance := 0.0
	for _, r := range excess {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(excess) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}
