package results

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validPayload() *Payload {
	return &Payload{
		Ticker:       "AAPL",
		StrategyName: "sma_cross",
		Columns: map[string]any{
			"datetime":  []int64{1704153600000, 1704240000000},
			"gross_pnl": []float64{475, -120},
			"side":      []string{"LONG", "LONG"},
		},
	}
}

func TestValidateAcceptsWellFormedPayload(t *testing.T) {
	assert.NoError(t, Validate(validPayload()))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Payload)
	}{
		{"empty ticker", func(p *Payload) { p.Ticker = "" }},
		{"empty strategy", func(p *Payload) { p.StrategyName = "" }},
		{"missing datetime", func(p *Payload) { delete(p.Columns, "datetime") }},
		{"empty datetime", func(p *Payload) { p.Columns["datetime"] = []int64{} }},
		{"negative datetime", func(p *Payload) { p.Columns["datetime"] = []int64{-1} }},
		{"wrong datetime type", func(p *Payload) { p.Columns["datetime"] = []float64{1, 2} }},
		{"ragged column", func(p *Payload) { p.Columns["gross_pnl"] = []float64{1} }},
		{"empty param key", func(p *Payload) { p.StrategyParams = map[string]any{"": 1} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validPayload()
			tc.mutate(p)
			assert.Error(t, Validate(p))
		})
	}
}

func TestScrubColumnsDropsAllNaN(t *testing.T) {
	nan := math.NaN()
	cols := map[string]any{
		"datetime": []int64{1, 2},
		"dead":     []float64{nan, nan},
		"partial":  []float64{nan, 3.5},
		"side":     []string{"LONG", "LONG"},
	}
	scrubColumns(cols)

	assert.NotContains(t, cols, "dead")
	assert.Equal(t, []float64{0, 3.5}, cols["partial"])
	assert.Contains(t, cols, "side")
}
