// Package rules implements the composable signal filters, position rules,
// and portfolio rules. Rule kinds form a closed variant set dispatched by a
// string tag; a registry maps tags to constructors for config decoding.
package rules

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/market"
)

// floatEps is the tolerance for == and != comparisons.
const floatEps = 1e-9

// Filter is a predicate over a signal and the available OHLCV frames.
type Filter interface {
	Name() string
	Evaluate(sig market.Signal, ohlcv map[string]*market.Frame) (bool, error)
}

// FilterConfig is the decoded YAML form of one filter.
type FilterConfig struct {
	Type  string  `yaml:"type" json:"type"`
	Field string  `yaml:"field,omitempty" json:"field,omitempty"`
	Op    string  `yaml:"op" json:"op"`
	Value float64 `yaml:"value,omitempty" json:"value,omitempty"`

	// SMA comparison parameters.
	FastWindow int    `yaml:"fast_window,omitempty" json:"fast_window,omitempty"`
	SlowWindow int    `yaml:"slow_window,omitempty" json:"slow_window,omitempty"`
	FieldFast  string `yaml:"field_fast,omitempty" json:"field_fast,omitempty"`
	FieldSlow  string `yaml:"field_slow,omitempty" json:"field_slow,omitempty"`
}

// FilterPipeline evaluates filters in order; the first rejection
// short-circuits.
type FilterPipeline struct {
	filters []Filter
}

// NewFilterPipeline decodes filter configs through the registry. Unknown
// filter types are configuration errors.
func NewFilterPipeline(configs []FilterConfig) (*FilterPipeline, error) {
	filters := make([]Filter, 0, len(configs))
	for i, cfg := range configs {
		ctor, ok := filterRegistry[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("filter %d: unknown type %q", i, cfg.Type)
		}
		f, err := ctor(cfg)
		if err != nil {
			return nil, fmt.Errorf("filter %d (%s): %w", i, cfg.Type, err)
		}
		filters = append(filters, f)
	}
	return &FilterPipeline{filters: filters}, nil
}

// Len returns the number of filters in the pipeline.
func (p *FilterPipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.filters)
}

// IsValid runs the pipeline. A filter error or panic counts as a rejection
// and must not poison downstream signals.
func (p *FilterPipeline) IsValid(sig market.Signal, ohlcv map[string]*market.Frame) bool {
	if p == nil {
		return true
	}
	for _, f := range p.filters {
		if !p.evalOne(f, sig, ohlcv) {
			return false
		}
	}
	return true
}

func (p *FilterPipeline) evalOne(f Filter, sig market.Signal, ohlcv map[string]*market.Frame) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("filter", f.Name()).
				Str("ticker", sig.Ticker).
				Interface("panic", r).
				Msg("filter panicked, treating as rejection")
			ok = false
		}
	}()
	valid, err := f.Evaluate(sig, ohlcv)
	if err != nil {
		log.Warn().
			Err(err).
			Str("filter", f.Name()).
			Str("ticker", sig.Ticker).
			Msg("filter evaluation failed, treating as rejection")
		return false
	}
	return valid
}

type filterCtor func(FilterConfig) (Filter, error)

var filterRegistry = map[string]filterCtor{
	"price_comparison": newPriceComparisonFilter,
	"sma_comparison":   newSMAComparisonFilter,
}

// PriceComparisonFilter compares a numeric signal field against a constant.
type PriceComparisonFilter struct {
	Field string
	Op    string
	Value float64
}

func newPriceComparisonFilter(cfg FilterConfig) (Filter, error) {
	if cfg.Field == "" {
		return nil, fmt.Errorf("field is required")
	}
	if !validOp(cfg.Op) {
		return nil, fmt.Errorf("invalid op %q", cfg.Op)
	}
	return &PriceComparisonFilter{Field: cfg.Field, Op: cfg.Op, Value: cfg.Value}, nil
}

func (f *PriceComparisonFilter) Name() string { return "price_comparison" }

func (f *PriceComparisonFilter) Evaluate(sig market.Signal, _ map[string]*market.Frame) (bool, error) {
	v, ok := sig.Field(f.Field)
	if !ok || math.IsNaN(v) {
		// Missing or non-numeric field rejects rather than erroring upstream.
		return false, nil
	}
	return compare(v, f.Op, f.Value), nil
}

// SMAComparisonFilter compares two simple moving averages. When windows are
// configured and the ticker's OHLCV is available, SMAs are computed from
// closes; otherwise the configured signal fields are compared directly.
type SMAComparisonFilter struct {
	FastWindow int
	SlowWindow int
	FieldFast  string
	FieldSlow  string
	Op         string
}

func newSMAComparisonFilter(cfg FilterConfig) (Filter, error) {
	if !validOp(cfg.Op) {
		return nil, fmt.Errorf("invalid op %q", cfg.Op)
	}
	if (cfg.FastWindow <= 0 || cfg.SlowWindow <= 0) && (cfg.FieldFast == "" || cfg.FieldSlow == "") {
		return nil, fmt.Errorf("either windows or signal fields must be set")
	}
	return &SMAComparisonFilter{
		FastWindow: cfg.FastWindow,
		SlowWindow: cfg.SlowWindow,
		FieldFast:  cfg.FieldFast,
		FieldSlow:  cfg.FieldSlow,
		Op:         cfg.Op,
	}, nil
}

func (f *SMAComparisonFilter) Name() string { return "sma_comparison" }

func (f *SMAComparisonFilter) Evaluate(sig market.Signal, ohlcv map[string]*market.Frame) (bool, error) {
	frame := ohlcv[sig.Ticker]
	if f.FastWindow > 0 && f.SlowWindow > 0 && frame.Len() > 0 {
		fast, ok := frame.SMA(f.FastWindow, sig.SignalTime)
		if !ok {
			return false, nil
		}
		slow, ok := frame.SMA(f.SlowWindow, sig.SignalTime)
		if !ok {
			return false, nil
		}
		return compare(fast, f.Op, slow), nil
	}
	fast, ok := sig.Field(f.FieldFast)
	if !ok {
		return false, nil
	}
	slow, ok := sig.Field(f.FieldSlow)
	if !ok {
		return false, nil
	}
	return compare(fast, f.Op, slow), nil
}

func validOp(op string) bool {
	switch op {
	case ">", "<", ">=", "<=", "==", "!=":
		return true
	}
	return false
}

func compare(a float64, op string, b float64) bool {
	switch op {
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case "==":
		return math.Abs(a-b) <= floatEps
	case "!=":
		return math.Abs(a-b) > floatEps
	}
	return false
}
