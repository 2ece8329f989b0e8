package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/backcast/internal/market"
)

func sig(ticker string, day int, typ market.SignalType, side market.Side, price float64) market.Signal {
	return market.Signal{
		Ticker:     ticker,
		SignalTime: time.Date(2024, 1, 2+day, 0, 0, 0, 0, time.UTC),
		SignalType: typ,
		Side:       side,
		Price:      price,
	}
}

func TestMatchFIFOSingleRoundTrip(t *testing.T) {
	signals := []market.Signal{
		sig("AAPL", 0, market.SignalBuy, market.Long, 100),
		sig("AAPL", 5, market.SignalSell, market.Long, 105),
	}

	trades := MatchFIFO(signals, nil, Config{Strategy: "s", CapitalPerTrade: 10000})
	require.Len(t, trades, 1)

	tr := trades[0]
	assert.Equal(t, 95.0, tr.Shares) // floor(10000 / 105)
	assert.Equal(t, 475.0, tr.GrossPnL)
	assert.InDelta(t, 5.0, tr.GrossPnLPct, 1e-9)
	assert.Equal(t, market.Long, tr.Side)
	assert.Equal(t, 120.0, tr.TimeHeldHours)
}

func TestMatchFIFOOrderIndependent(t *testing.T) {
	ordered := []market.Signal{
		sig("AAPL", 0, market.SignalBuy, market.Long, 100),
		sig("AAPL", 1, market.SignalSell, market.Long, 110),
	}
	shuffled := []market.Signal{ordered[1], ordered[0]}

	a := MatchFIFO(ordered, nil, Config{CapitalPerTrade: 10000})
	b := MatchFIFO(shuffled, nil, Config{CapitalPerTrade: 10000})
	assert.Equal(t, a, b)
}

func TestMatchFIFOCrossSidePairsShortEntryAsExit(t *testing.T) {
	signals := []market.Signal{
		sig("AAPL", 0, market.SignalBuy, market.Long, 100),
		sig("AAPL", 1, market.SignalSell, market.Short, 108),
	}

	trades := MatchFIFO(signals, nil, Config{CapitalPerTrade: 10000})
	require.Len(t, trades, 1)
	// The SHORT entry closed the open LONG rather than opening a short.
	assert.Equal(t, market.Long, trades[0].Side)
	assert.Positive(t, trades[0].GrossPnL)
}

func TestMatchFIFOExitWithoutEntryIgnored(t *testing.T) {
	trades := MatchFIFO([]market.Signal{
		sig("AAPL", 0, market.SignalSell, market.Long, 100),
	}, nil, Config{CapitalPerTrade: 10000})
	assert.Empty(t, trades)
}

func TestMatchFIFOPercentageSizingCompounds(t *testing.T) {
	signals := []market.Signal{
		sig("AAPL", 0, market.SignalBuy, market.Long, 100),
		sig("AAPL", 1, market.SignalSell, market.Long, 200),
		sig("AAPL", 2, market.SignalBuy, market.Long, 100),
		sig("AAPL", 3, market.SignalSell, market.Long, 100),
	}

	trades := MatchFIFO(signals, nil, Config{InitialAccountValue: 10000, TradePercentage: 0.5})
	require.Len(t, trades, 2)

	// First trade: floor(5000/200)=25 shares, +2500 gross. The account grows
	// to 12500, so the second trade sizes at floor(6250/100)=62.
	assert.Equal(t, 25.0, trades[0].Shares)
	assert.Equal(t, 2500.0, trades[0].GrossPnL)
	assert.Equal(t, 62.0, trades[1].Shares)
}

func TestMatchFIFOShortTrade(t *testing.T) {
	signals := []market.Signal{
		sig("AAPL", 0, market.SignalSell, market.Short, 100),
		sig("AAPL", 1, market.SignalBuy, market.Short, 90),
	}

	trades := MatchFIFO(signals, nil, Config{CapitalPerTrade: 9000})
	require.Len(t, trades, 1)
	assert.Equal(t, market.Short, trades[0].Side)
	assert.Equal(t, 100.0, trades[0].Shares)
	assert.Equal(t, 1000.0, trades[0].GrossPnL)
}

func TestMatchIntentsRowsAndTrades(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	intents := []market.ExecutionIntent{
		{Ticker: "AAPL", SignalTime: base, Side: market.Long, Price: 100, Action: market.ActionOpen, Shares: 1.0},
		{Ticker: "AAPL", SignalTime: base.Add(48 * time.Hour), Side: market.Long, Price: 110, Action: market.ActionClose, Shares: 1.0, Reason: "take_profit"},
	}

	rows, trades := MatchIntents(intents, nil, Config{Strategy: "s", CapitalPerTrade: 10000})
	require.Len(t, rows, 2)
	require.Len(t, trades, 1)

	assert.Equal(t, market.BuyToOpen, rows[0].Action)
	assert.Equal(t, market.SellToClose, rows[1].Action)
	assert.NotEmpty(t, rows[0].Execution)
	assert.NotEqual(t, rows[0].Execution, rows[1].Execution)
	assert.Equal(t, rows[0].TradeID, rows[1].TradeID)

	tr := trades[0]
	assert.Equal(t, "take_profit", tr.ExitReason)
	assert.Equal(t, rows[0].TradeID, tr.TradeID)
	// Exit sized at the exit price: floor(10000/110) = 90 of the 100 open.
	assert.Equal(t, 90.0, tr.Shares)
	assert.Equal(t, 900.0, tr.GrossPnL)
	assert.Equal(t, 100.0, rows[0].Shares)
	assert.Equal(t, 90.0, rows[1].Shares)
}

func TestMatchIntentsShortActions(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	intents := []market.ExecutionIntent{
		{Ticker: "AAPL", SignalTime: base, Side: market.Short, Price: 100, Action: market.ActionOpen, Shares: 1.0},
		{Ticker: "AAPL", SignalTime: base.Add(time.Hour), Side: market.Short, Price: 95, Action: market.ActionClose, Shares: 1.0},
	}

	rows, trades := MatchIntents(intents, nil, Config{CapitalPerTrade: 10000})
	require.Len(t, rows, 2)
	assert.Equal(t, market.SellToOpen, rows[0].Action)
	assert.Equal(t, market.BuyToClose, rows[1].Action)
	require.Len(t, trades, 1)
	assert.Positive(t, trades[0].GrossPnL)
}

func TestMatchIntentsExitCappedAtOpenShares(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	intents := []market.ExecutionIntent{
		{Ticker: "AAPL", SignalTime: base, Side: market.Long, Price: 100, Action: market.ActionOpen, Shares: 1.0},
		{Ticker: "AAPL", SignalTime: base.Add(time.Hour), Side: market.Long, Price: 100, Action: market.ActionScaleOut, Shares: 5.0},
	}

	_, trades := MatchIntents(intents, nil, Config{CapitalPerTrade: 10000})
	require.Len(t, trades, 1)
	assert.Equal(t, 100.0, trades[0].Shares)
}

func TestRowsFromTradesExpandsLegs(t *testing.T) {
	trades := []market.Trade{{
		Ticker:     "AAPL",
		EntryTime:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		ExitTime:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		EntryPrice: 100,
		ExitPrice:  105,
		Shares:     95,
		Side:       market.Long,
		Commission: 0.005,
		ExitReason: "signal",
	}}

	rows := RowsFromTrades(trades, "sma_cross")
	require.Len(t, rows, 2)

	entry, exit := rows[0], rows[1]
	assert.Equal(t, market.BuyToOpen, entry.Action)
	assert.Equal(t, market.SellToClose, exit.Action)
	assert.Equal(t, trades[0].EntryTime, entry.Datetime)
	assert.Equal(t, trades[0].ExitTime, exit.Datetime)
	assert.Equal(t, 0.005, entry.Commission)
	assert.Equal(t, "signal", exit.ExitReason)

	// Both legs share the trade id minted for the unmatched trade.
	require.NotEmpty(t, entry.TradeID)
	assert.Equal(t, entry.TradeID, exit.TradeID)

	assert.Len(t, entry.Execution, 16)
	assert.Len(t, exit.Execution, 16)
	assert.NotEqual(t, entry.Execution, exit.Execution)
}

func TestRowsFromTradesShortActions(t *testing.T) {
	trades := []market.Trade{{
		Ticker:     "AAPL",
		EntryTime:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		ExitTime:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		EntryPrice: 100,
		ExitPrice:  90,
		Shares:     100,
		Side:       market.Short,
		TradeID:    "t-1",
	}}

	rows := RowsFromTrades(trades, "sma_cross")
	require.Len(t, rows, 2)
	assert.Equal(t, market.SellToOpen, rows[0].Action)
	assert.Equal(t, market.BuyToClose, rows[1].Action)
	assert.Equal(t, "t-1", rows[0].TradeID)

	// Execution ids are deterministic for a fixed trade id.
	again := RowsFromTrades(trades, "sma_cross")
	assert.Equal(t, rows[0].Execution, again[0].Execution)
	assert.Equal(t, rows[1].Execution, again[1].Execution)
}

func TestEfficiencyClipping(t *testing.T) {
	frame := &market.Frame{Ticker: "AAPL", Bars: []market.Bar{
		{Time: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 100, High: 120, Low: 99, Close: 110, Volume: 1},
		{Time: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Open: 110, High: 115, Low: 105, Close: 112, Volume: 1},
	}}
	entry := frame.Bars[0].Time
	exit := frame.Bars[1].Time

	// Captured 12 of the best 20 points.
	assert.InDelta(t, 60.0, Efficiency(100, 112, entry, exit, frame), 1e-9)
	// Losing trades clip to zero.
	assert.Zero(t, Efficiency(100, 95, entry, exit, frame))
	// Exit above the window high clips to 100.
	assert.Equal(t, 100.0, Efficiency(100, 150, entry, exit, frame))
	// Missing OHLCV and non-positive denominators yield zero.
	assert.Zero(t, Efficiency(100, 112, entry, exit, nil))
	assert.Zero(t, Efficiency(130, 112, entry, exit, frame))
}
