package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/backcast/internal/market"
)

func dailyFrame(ticker string, closes ...float64) *market.Frame {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	frame := &market.Frame{Ticker: ticker}
	for i, c := range closes {
		frame.Bars = append(frame.Bars, market.Bar{
			Time: base.Add(time.Duration(i) * 24 * time.Hour),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		})
	}
	return frame
}

func TestFilterPipelineUnknownType(t *testing.T) {
	_, err := NewFilterPipeline([]FilterConfig{{Type: "volume_spike", Op: ">"}})
	assert.Error(t, err)
}

func TestPriceComparisonFilter(t *testing.T) {
	p, err := NewFilterPipeline([]FilterConfig{{Type: "price_comparison", Field: "price", Op: ">", Value: 50}})
	require.NoError(t, err)

	assert.True(t, p.IsValid(market.Signal{Ticker: "AAPL", Price: 60}, nil))
	assert.False(t, p.IsValid(market.Signal{Ticker: "AAPL", Price: 40}, nil))
}

func TestPriceComparisonMissingFieldRejects(t *testing.T) {
	p, err := NewFilterPipeline([]FilterConfig{{Type: "price_comparison", Field: "rsi", Op: "<", Value: 30}})
	require.NoError(t, err)

	assert.False(t, p.IsValid(market.Signal{Ticker: "AAPL", Price: 100}, nil))
	assert.True(t, p.IsValid(market.Signal{Ticker: "AAPL", Indicators: map[string]float64{"rsi": 25}}, nil))
}

func TestCompareEpsilonEquality(t *testing.T) {
	assert.True(t, compare(0.1+0.2, "==", 0.3))
	assert.False(t, compare(0.1+0.2, "!=", 0.3))
	assert.True(t, compare(1.0, "!=", 1.001))
}

func TestSMAComparisonFromFrame(t *testing.T) {
	p, err := NewFilterPipeline([]FilterConfig{{Type: "sma_comparison", FastWindow: 2, SlowWindow: 4, Op: ">"}})
	require.NoError(t, err)

	frame := dailyFrame("AAPL", 100, 101, 102, 103, 104, 105)
	ohlcv := map[string]*market.Frame{"AAPL": frame}
	sig := market.Signal{Ticker: "AAPL", SignalTime: frame.Bars[5].Time, Price: 105}

	// Rising closes: fast SMA above slow SMA.
	assert.True(t, p.IsValid(sig, ohlcv))
}

func TestSMAComparisonInsufficientHistoryRejects(t *testing.T) {
	p, err := NewFilterPipeline([]FilterConfig{{Type: "sma_comparison", FastWindow: 2, SlowWindow: 10, Op: ">"}})
	require.NoError(t, err)

	frame := dailyFrame("AAPL", 100, 101, 102)
	sig := market.Signal{Ticker: "AAPL", SignalTime: frame.Bars[2].Time, Price: 102}
	assert.False(t, p.IsValid(sig, map[string]*market.Frame{"AAPL": frame}))
}

func TestSMAComparisonSignalFieldFallback(t *testing.T) {
	p, err := NewFilterPipeline([]FilterConfig{{Type: "sma_comparison", FieldFast: "sma_fast", FieldSlow: "sma_slow", Op: ">"}})
	require.NoError(t, err)

	sig := market.Signal{Ticker: "AAPL", Indicators: map[string]float64{"sma_fast": 105, "sma_slow": 100}}
	assert.True(t, p.IsValid(sig, nil))

	sig.Indicators = map[string]float64{"sma_fast": 95, "sma_slow": 100}
	assert.False(t, p.IsValid(sig, nil))
}

func TestFilterPipelineShortCircuits(t *testing.T) {
	p, err := NewFilterPipeline([]FilterConfig{
		{Type: "price_comparison", Field: "price", Op: ">", Value: 1000},
		{Type: "price_comparison", Field: "missing", Op: ">", Value: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
	assert.False(t, p.IsValid(market.Signal{Ticker: "AAPL", Price: 10}, nil))
}

func TestNilPipelineAcceptsAll(t *testing.T) {
	var p *FilterPipeline
	assert.True(t, p.IsValid(market.Signal{Ticker: "AAPL"}, nil))
	assert.Equal(t, 0, p.Len())
}
