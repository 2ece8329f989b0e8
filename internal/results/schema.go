package results

import (
	"fmt"
	"math"
)

// Payload is the column-oriented results envelope enqueued for downstream
// consumers. Columns hold equal-length lists keyed by name, with the
// required "datetime" column as millisecond integers.
type Payload struct {
	Ticker         string         `json:"ticker"`
	StrategyName   string         `json:"strategy_name"`
	Columns        map[string]any `json:"columns"`
	BacktestID     string         `json:"backtest_id,omitempty"`
	HashID         string         `json:"hash_id,omitempty"`
	StrategyParams map[string]any `json:"strategy_params,omitempty"`
	Database       string         `json:"database,omitempty"`
	PortfolioStage string         `json:"portfolio_stage,omitempty"`
}

// Validate enforces the payload schema. Offending payloads are dropped at
// the writer boundary, never enqueued.
func Validate(p *Payload) error {
	if p.Ticker == "" {
		return fmt.Errorf("ticker must be a non-empty string")
	}
	if p.StrategyName == "" {
		return fmt.Errorf("strategy_name must be a non-empty string")
	}
	raw, ok := p.Columns["datetime"]
	if !ok {
		return fmt.Errorf("datetime column is required")
	}
	datetimes, ok := raw.([]int64)
	if !ok {
		return fmt.Errorf("datetime column must hold millisecond integers")
	}
	if len(datetimes) == 0 {
		return fmt.Errorf("datetime column must be non-empty")
	}
	for i, ts := range datetimes {
		if ts < 0 {
			return fmt.Errorf("datetime[%d] is negative", i)
		}
	}
	for name, col := range p.Columns {
		if name == "datetime" {
			continue
		}
		if n, ok := columnLen(col); ok && n != len(datetimes) {
			return fmt.Errorf("column %q length %d != datetime length %d", name, n, len(datetimes))
		}
	}
	for key := range p.StrategyParams {
		if key == "" {
			return fmt.Errorf("strategy param keys must be non-empty strings")
		}
	}
	return nil
}

func columnLen(col any) (int, bool) {
	switch v := col.(type) {
	case []int64:
		return len(v), true
	case []float64:
		return len(v), true
	case []string:
		return len(v), true
	case []any:
		return len(v), true
	}
	return 0, false
}

// scrubColumns drops entirely-NaN numeric columns and replaces per-row NaNs:
// zero for numeric columns, empty string for string columns.
func scrubColumns(columns map[string]any) {
	for name, col := range columns {
		vals, ok := col.([]float64)
		if !ok {
			continue
		}
		allNaN := len(vals) > 0
		for _, v := range vals {
			if !math.IsNaN(v) {
				allNaN = false
				break
			}
		}
		if allNaN {
			delete(columns, name)
			continue
		}
		for i, v := range vals {
			if math.IsNaN(v) {
				vals[i] = 0
			}
		}
	}
}
