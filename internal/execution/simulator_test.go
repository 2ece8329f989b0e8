package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/backcast/internal/market"
)

func baseTrade(side market.Side) market.Trade {
	return market.Trade{
		Ticker:     "AAPL",
		EntryTime:  time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
		ExitTime:   time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC),
		EntryPrice: 100,
		ExitPrice:  110,
		Shares:     100,
		Side:       side,
	}
}

func TestSimulateNoCostsPassesThrough(t *testing.T) {
	out := NewSimulator(Config{}).Simulate([]market.Trade{baseTrade(market.Long)}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, 1000.0, out[0].GrossPnL)
	assert.Equal(t, 1000.0, out[0].NetPnL)
	assert.Zero(t, out[0].Commission)
}

func TestSimulateSlippageLong(t *testing.T) {
	out := NewSimulator(Config{SlippageBps: 10}).Simulate([]market.Trade{baseTrade(market.Long)}, nil)
	require.Len(t, out, 1)

	// Long pays up on entry and gives up on exit.
	assert.InDelta(t, 100.1, out[0].EntryPrice, 1e-9)
	assert.InDelta(t, 109.89, out[0].ExitPrice, 1e-9)
	assert.Less(t, out[0].GrossPnL, 1000.0)
}

func TestSimulateSlippageShortMirrors(t *testing.T) {
	tr := baseTrade(market.Short)
	tr.EntryPrice, tr.ExitPrice = 110, 100
	out := NewSimulator(Config{SlippageBps: 10}).Simulate([]market.Trade{tr}, nil)
	require.Len(t, out, 1)

	// Short fills lower on entry and higher on exit.
	assert.InDelta(t, 109.89, out[0].EntryPrice, 1e-9)
	assert.InDelta(t, 100.1, out[0].ExitPrice, 1e-9)
	assert.Less(t, out[0].GrossPnL, 1000.0)
	assert.Positive(t, out[0].GrossPnL)
}

func TestSimulateCommissionBothSides(t *testing.T) {
	out := NewSimulator(Config{CommissionPerShare: 0.01}).Simulate([]market.Trade{baseTrade(market.Long)}, nil)
	require.Len(t, out, 1)

	assert.Equal(t, 1.0, out[0].Commission)
	assert.Equal(t, out[0].GrossPnL-2*out[0].Commission, out[0].NetPnL)
}

func TestSimulateFillDelayUsesNextBarOpen(t *testing.T) {
	frame := &market.Frame{Ticker: "AAPL", Bars: []market.Bar{
		{Time: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1},
		{Time: time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC), Open: 102, High: 103, Low: 101, Close: 102.5, Volume: 1},
		{Time: time.Date(2024, 1, 2, 16, 30, 0, 0, time.UTC), Open: 111, High: 112, Low: 110, Close: 111.5, Volume: 1},
	}}
	ohlcv := map[string]*market.Frame{"AAPL": frame}

	out := NewSimulator(Config{FillDelayMinutes: 30}).Simulate([]market.Trade{baseTrade(market.Long)}, ohlcv)
	require.Len(t, out, 1)

	// Entry 09:30+30m fills at the 10:30 open; exit 15:30+30m at the 16:30 open.
	assert.Equal(t, 102.0, out[0].EntryPrice)
	assert.Equal(t, 111.0, out[0].ExitPrice)
	assert.Equal(t, 900.0, out[0].GrossPnL)
}

func TestSimulateFillDelayDropsWhenNoBar(t *testing.T) {
	frame := &market.Frame{Ticker: "AAPL", Bars: []market.Bar{
		{Time: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1},
	}}
	ohlcv := map[string]*market.Frame{"AAPL": frame}

	out := NewSimulator(Config{FillDelayMinutes: 30}).Simulate([]market.Trade{baseTrade(market.Long)}, ohlcv)
	assert.Empty(t, out)
}
