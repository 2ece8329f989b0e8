package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/backcast/internal/market"
)

func frameOf(closes ...float64) *market.Frame {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	f := &market.Frame{Ticker: "AAPL"}
	for i, c := range closes {
		f.Bars = append(f.Bars, market.Bar{
			Time: base.Add(time.Duration(i) * 24 * time.Hour),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		})
	}
	return f
}

func TestNewUnknownStrategy(t *testing.T) {
	_, err := New("mean_reversion", nil)
	assert.Error(t, err)
}

func TestNewSMACrossValidation(t *testing.T) {
	_, err := NewSMACross(map[string]any{"fast_window": 30, "slow_window": 10})
	assert.Error(t, err)

	s, err := NewSMACross(nil)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Fast)
	assert.Equal(t, 30, s.Slow)
}

func TestSMACrossBuySignal(t *testing.T) {
	s, err := NewSMACross(map[string]any{"fast_window": 2, "slow_window": 3})
	require.NoError(t, err)

	f := frameOf(10, 10, 10, 12)
	signals := s.RunStrategy("AAPL", f.Bars[3].Time, f)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, market.SignalBuy, sig.SignalType)
	assert.Equal(t, market.Long, sig.Side)
	assert.Equal(t, 12.0, sig.Price)
	assert.Contains(t, sig.Indicators, "sma_fast")
	assert.Contains(t, sig.Indicators, "sma_slow")
}

func TestSMACrossSellSignal(t *testing.T) {
	s, err := NewSMACross(map[string]any{"fast_window": 2, "slow_window": 3})
	require.NoError(t, err)

	f := frameOf(10, 10, 10, 12, 14, 10, 8)
	signals := s.RunStrategy("AAPL", f.Bars[6].Time, f)
	require.Len(t, signals, 1)
	assert.Equal(t, market.SignalSell, signals[0].SignalType)
}

func TestSMACrossQuietWithoutCross(t *testing.T) {
	s, err := NewSMACross(map[string]any{"fast_window": 2, "slow_window": 3})
	require.NoError(t, err)

	f := frameOf(10, 10, 10, 10, 10)
	for _, bar := range f.Bars {
		assert.Empty(t, s.RunStrategy("AAPL", bar.Time, f))
	}
}

func TestSMACrossInsufficientHistory(t *testing.T) {
	s, err := NewSMACross(map[string]any{"fast_window": 2, "slow_window": 3})
	require.NoError(t, err)

	f := frameOf(10, 12)
	assert.Empty(t, s.RunStrategy("AAPL", f.Bars[1].Time, f))
}
