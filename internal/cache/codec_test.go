package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/backcast/internal/market"
)

func TestFrameCodecRoundTrip(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	in := &market.Frame{
		Ticker: "AAPL",
		Bars: []market.Bar{
			{Time: base, Open: 100.25, High: 101.5, Low: 99.875, Close: 101.0, Volume: 1_000_000},
			{Time: base.Add(time.Hour), Open: 101.0, High: 102.125, Low: 100.5, Close: 101.75, Volume: 2_500_000},
		},
	}

	data, err := EncodeFrame(in)
	require.NoError(t, err)

	out, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFrameCodecNormalizesToUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	in := &market.Frame{
		Ticker: "MSFT",
		Bars:   []market.Bar{{Time: time.Date(2024, 1, 2, 4, 30, 0, 0, est), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}},
	}

	data, err := EncodeFrame(in)
	require.NoError(t, err)
	out, err := DecodeFrame(data)
	require.NoError(t, err)

	require.Len(t, out.Bars, 1)
	assert.Equal(t, time.UTC, out.Bars[0].Time.Location())
	assert.True(t, out.Bars[0].Time.Equal(in.Bars[0].Time))
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame([]byte("not gzip"))
	assert.Error(t, err)
}
