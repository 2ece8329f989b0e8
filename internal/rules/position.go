package rules

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/market"
)

// PositionContext is the read-only view a position rule evaluates against.
type PositionContext struct {
	Ticker   string
	Signal   market.Signal
	Position market.PositionState
	Frame    *market.Frame // may be nil when OHLCV is unavailable
}

// Decision is a rule's verdict. AllowEntry is nil when the rule has no
// opinion on entries; ExitFraction is zero when the rule does not exit.
type Decision struct {
	AllowEntry   *bool
	ExitFraction float64
	Reason       string
}

// PositionRule is one variant of the closed position-rule set.
type PositionRule interface {
	Name() string
	OneShot() bool
	Evaluate(ctx PositionContext) (Decision, error)
}

// AnchorConfig selects the reference price for take-profit and stop-loss.
type AnchorConfig struct {
	Source       string `yaml:"source,omitempty" json:"source,omitempty"` // entry_price | rolling_max | rolling_min
	Field        string `yaml:"field,omitempty" json:"field,omitempty"`   // bar field for rolling sources
	LookbackBars int    `yaml:"lookback_bars,omitempty" json:"lookback_bars,omitempty"`
}

// resolve returns the anchor price, or false when it cannot be computed
// (missing data, missing field, empty slice).
func (a AnchorConfig) resolve(ctx PositionContext) (float64, bool) {
	source := a.Source
	if source == "" {
		source = "entry_price"
	}
	switch source {
	case "entry_price":
		if ctx.Position.Flat() {
			return 0, false
		}
		return ctx.Position.EntryPrice, true
	case "rolling_max":
		return ctx.Frame.RollingMax(a.fieldOr("high"), ctx.Signal.SignalTime, a.LookbackBars)
	case "rolling_min":
		return ctx.Frame.RollingMin(a.fieldOr("low"), ctx.Signal.SignalTime, a.LookbackBars)
	}
	return 0, false
}

func (a AnchorConfig) fieldOr(def string) string {
	if a.Field == "" {
		return def
	}
	return a.Field
}

// PositionRuleConfig is the decoded YAML form of one position rule.
type PositionRuleConfig struct {
	Type          string       `yaml:"type" json:"type"` // scaling | take_profit | stop_loss
	TargetPct     float64      `yaml:"target_pct,omitempty" json:"target_pct,omitempty"`
	LossPct       float64      `yaml:"loss_pct,omitempty" json:"loss_pct,omitempty"`
	Fraction      float64      `yaml:"fraction,omitempty" json:"fraction,omitempty"`
	OneShot       *bool        `yaml:"one_shot,omitempty" json:"one_shot,omitempty"`
	AllowScaleIn  bool         `yaml:"allow_scale_in,omitempty" json:"allow_scale_in,omitempty"`
	AllowScaleOut *bool        `yaml:"allow_scale_out,omitempty" json:"allow_scale_out,omitempty"`
	Anchor        AnchorConfig `yaml:"anchor,omitempty" json:"anchor,omitempty"`
}

// PositionManagerConfig configures the PM rule pipeline.
type PositionManagerConfig struct {
	Rules []PositionRuleConfig `yaml:"rules" json:"rules"`
}

// ScalingRule gates entries against an already-open position and controls
// partial exits.
type ScalingRule struct {
	AllowScaleIn  bool
	AllowScaleOut bool
}

func (r *ScalingRule) Name() string  { return "scaling" }
func (r *ScalingRule) OneShot() bool { return false }

func (r *ScalingRule) Evaluate(ctx PositionContext) (Decision, error) {
	if ctx.Signal.IsEntry() && !ctx.Position.Flat() && !r.AllowScaleIn {
		deny := false
		return Decision{AllowEntry: &deny}, nil
	}
	return Decision{}, nil
}

// TakeProfitRule exits a fraction once the move from the anchor reaches the
// target. Sign flips for SHORT positions.
type TakeProfitRule struct {
	TargetPct float64
	Fraction  float64
	Anchor    AnchorConfig
	oneShot   bool
}

func (r *TakeProfitRule) Name() string  { return "take_profit" }
func (r *TakeProfitRule) OneShot() bool { return r.oneShot }

func (r *TakeProfitRule) Evaluate(ctx PositionContext) (Decision, error) {
	if !ctx.Signal.IsExit() || ctx.Position.Flat() {
		return Decision{}, nil
	}
	anchor, ok := r.Anchor.resolve(ctx)
	if !ok || anchor == 0 {
		return Decision{}, nil
	}
	move := (ctx.Signal.Price - anchor) / anchor
	if ctx.Position.Side == market.Short {
		move = -move
	}
	if move >= r.TargetPct {
		return Decision{ExitFraction: r.Fraction, Reason: "take_profit"}, nil
	}
	return Decision{}, nil
}

// StopLossRule is the symmetric loss-side counterpart of TakeProfitRule.
type StopLossRule struct {
	LossPct  float64
	Fraction float64
	Anchor   AnchorConfig
	oneShot  bool
}

func (r *StopLossRule) Name() string  { return "stop_loss" }
func (r *StopLossRule) OneShot() bool { return r.oneShot }

func (r *StopLossRule) Evaluate(ctx PositionContext) (Decision, error) {
	if !ctx.Signal.IsExit() || ctx.Position.Flat() {
		return Decision{}, nil
	}
	anchor, ok := r.Anchor.resolve(ctx)
	if !ok || anchor == 0 {
		return Decision{}, nil
	}
	move := (ctx.Signal.Price - anchor) / anchor
	if ctx.Position.Side == market.Short {
		move = -move
	}
	if move <= -r.LossPct {
		return Decision{ExitFraction: r.Fraction, Reason: "stop_loss"}, nil
	}
	return Decision{}, nil
}

// PositionPipeline holds the ordered rules plus per-ticker one-shot state.
// It is owned by a single position manager and needs no locking under the
// per-ticker sequential execution model.
type PositionPipeline struct {
	rules         []PositionRule
	fired         map[string]map[int]bool // ticker -> fired one-shot rule indexes
	allowScaleIn  bool
	allowScaleOut bool
}

// NewPositionPipeline decodes a position-manager config. Unknown rule types
// are configuration errors.
func NewPositionPipeline(cfg PositionManagerConfig) (*PositionPipeline, error) {
	p := &PositionPipeline{
		fired:         make(map[string]map[int]bool),
		allowScaleOut: true,
	}
	for i, rc := range cfg.Rules {
		switch rc.Type {
		case "scaling":
			scaleOut := true
			if rc.AllowScaleOut != nil {
				scaleOut = *rc.AllowScaleOut
			}
			p.rules = append(p.rules, &ScalingRule{AllowScaleIn: rc.AllowScaleIn, AllowScaleOut: scaleOut})
			p.allowScaleIn = p.allowScaleIn || rc.AllowScaleIn
			p.allowScaleOut = p.allowScaleOut && scaleOut
		case "take_profit":
			if rc.Fraction <= 0 || rc.Fraction > 1 {
				return nil, fmt.Errorf("rule %d (take_profit): fraction must be in (0,1]", i)
			}
			p.rules = append(p.rules, &TakeProfitRule{
				TargetPct: rc.TargetPct,
				Fraction:  rc.Fraction,
				Anchor:    rc.Anchor,
				oneShot:   oneShotOr(rc.OneShot, true),
			})
		case "stop_loss":
			if rc.Fraction <= 0 || rc.Fraction > 1 {
				return nil, fmt.Errorf("rule %d (stop_loss): fraction must be in (0,1]", i)
			}
			p.rules = append(p.rules, &StopLossRule{
				LossPct:  rc.LossPct,
				Fraction: rc.Fraction,
				Anchor:   rc.Anchor,
				oneShot:  oneShotOr(rc.OneShot, true),
			})
		default:
			return nil, fmt.Errorf("rule %d: unknown type %q", i, rc.Type)
		}
	}
	return p, nil
}

func oneShotOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// AllowScaleIn reports whether any scaling rule enables scale-ins.
func (p *PositionPipeline) AllowScaleIn() bool {
	return p != nil && p.allowScaleIn
}

// AllowEntry aggregates entry permissions: any explicit veto denies, and a
// rule error vetoes and logs.
func (p *PositionPipeline) AllowEntry(ctx PositionContext) bool {
	if p == nil {
		return true
	}
	for _, r := range p.rules {
		dec, err := p.evalOne(r, ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("rule", r.Name()).
				Str("ticker", ctx.Ticker).
				Msg("position rule failed, vetoing entry")
			return false
		}
		if dec.AllowEntry != nil && !*dec.AllowEntry {
			return false
		}
	}
	return true
}

// ExitDecision aggregates exit fractions: the maximum fraction wins and its
// rule's reason is reported, ties broken by rule order. One-shot rules that
// emitted a positive fraction are skipped until ResetForTicker. When
// scale-out is disallowed any non-zero fraction is promoted to a full exit.
func (p *PositionPipeline) ExitDecision(ctx PositionContext) (float64, string) {
	if p == nil {
		return 0, ""
	}
	best := 0.0
	reason := ""
	for i, r := range p.rules {
		if r.OneShot() && p.fired[ctx.Ticker][i] {
			continue
		}
		dec, err := p.evalOne(r, ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("rule", r.Name()).
				Str("ticker", ctx.Ticker).
				Msg("position rule failed, ignoring decision")
			continue
		}
		frac := clamp01(dec.ExitFraction)
		if frac <= 0 {
			continue
		}
		if r.OneShot() {
			if p.fired[ctx.Ticker] == nil {
				p.fired[ctx.Ticker] = make(map[int]bool)
			}
			p.fired[ctx.Ticker][i] = true
		}
		if frac > best {
			best = frac
			reason = dec.Reason
		}
	}
	if best > 0 && !p.allowScaleOut {
		best = 1.0
	}
	return best, reason
}

// ResetForTicker clears one-shot state when the ticker's position returns to
// flat.
func (p *PositionPipeline) ResetForTicker(ticker string) {
	if p == nil {
		return
	}
	delete(p.fired, ticker)
}

func (p *PositionPipeline) evalOne(r PositionRule, ctx PositionContext) (dec Decision, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			dec = Decision{}
			err = fmt.Errorf("rule panicked: %v", rec)
		}
	}()
	return r.Evaluate(ctx)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
