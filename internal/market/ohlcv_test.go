package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(closes ...float64) *Frame {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	f := &Frame{Ticker: "AAPL"}
	for i, c := range closes {
		f.Bars = append(f.Bars, Bar{
			Time: base.Add(time.Duration(i) * 24 * time.Hour),
			Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: int64(1000 + i),
		})
	}
	return f
}

func TestFrameValidateOrdering(t *testing.T) {
	f := frameOf(100, 101, 102)
	assert.NoError(t, f.Validate())

	f.Bars[2].Time = f.Bars[1].Time
	assert.Error(t, f.Validate())

	f.Bars[2].Time = f.Bars[0].Time.Add(-time.Hour)
	assert.Error(t, f.Validate())
}

func TestFrameSlicing(t *testing.T) {
	f := frameOf(100, 101, 102, 103, 104)

	through := f.Through(f.Bars[2].Time)
	require.Len(t, through, 3)
	assert.Equal(t, 102.0, through[2].Close)

	between := f.Between(f.Bars[1].Time, f.Bars[3].Time)
	require.Len(t, between, 3)
	assert.Equal(t, 101.0, between[0].Close)

	assert.Empty(t, f.Between(f.Bars[4].Time.Add(time.Hour), f.Bars[4].Time.Add(48*time.Hour)))

	bar, ok := f.FirstAtOrAfter(f.Bars[1].Time.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, 102.0, bar.Close)

	_, ok = f.FirstAtOrAfter(f.Bars[4].Time.Add(time.Minute))
	assert.False(t, ok)
}

func TestFrameSMA(t *testing.T) {
	f := frameOf(100, 102, 104, 106)

	sma, ok := f.SMA(2, f.Bars[3].Time)
	require.True(t, ok)
	assert.Equal(t, 105.0, sma)

	_, ok = f.SMA(10, f.Bars[3].Time)
	assert.False(t, ok)

	_, ok = f.SMA(0, f.Bars[3].Time)
	assert.False(t, ok)
}

func TestFrameRollingExtremes(t *testing.T) {
	f := frameOf(100, 110, 105)

	maxHigh, ok := f.RollingMax("high", f.Bars[2].Time, 0)
	require.True(t, ok)
	assert.Equal(t, 111.0, maxHigh)

	// Lookback of 1 only sees the latest bar.
	maxHigh, ok = f.RollingMax("high", f.Bars[2].Time, 1)
	require.True(t, ok)
	assert.Equal(t, 106.0, maxHigh)

	minLow, ok := f.RollingMin("low", f.Bars[2].Time, 0)
	require.True(t, ok)
	assert.Equal(t, 99.0, minLow)

	_, ok = f.RollingMax("vwap", f.Bars[2].Time, 0)
	assert.False(t, ok)
}

func TestFrameModalDelta(t *testing.T) {
	f := frameOf(100, 101, 102, 103)
	assert.Equal(t, 24*time.Hour, f.ModalDelta())

	// A single gap does not shift the mode.
	f.Bars[3].Time = f.Bars[2].Time.Add(72 * time.Hour)
	assert.Equal(t, 24*time.Hour, f.ModalDelta())

	var empty *Frame
	assert.Zero(t, empty.ModalDelta())
	assert.Zero(t, frameOf(100).ModalDelta())
}

func TestSignalEntryExitClassification(t *testing.T) {
	assert.True(t, Signal{SignalType: SignalBuy, Side: Long}.IsEntry())
	assert.True(t, Signal{SignalType: SignalSell, Side: Short}.IsEntry())
	assert.True(t, Signal{SignalType: SignalSell, Side: Long}.IsExit())
	assert.True(t, Signal{SignalType: SignalBuy, Side: Short}.IsExit())
	assert.False(t, Signal{SignalType: SignalBuy, Side: Long}.IsExit())
}

func TestSignalField(t *testing.T) {
	sig := Signal{Price: 101.5, Indicators: map[string]float64{"rsi": 28}}

	v, ok := sig.Field("price")
	require.True(t, ok)
	assert.Equal(t, 101.5, v)

	v, ok = sig.Field("rsi")
	require.True(t, ok)
	assert.Equal(t, 28.0, v)

	_, ok = sig.Field("macd")
	assert.False(t, ok)
}
