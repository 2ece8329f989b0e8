package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// PortfolioExecution is one phase-1 execution under portfolio review.
type PortfolioExecution struct {
	Ticker   string
	Strategy string
	HashID   string
	Time     time.Time
	Side     string
	Action   string
	Price    float64
	Shares   float64
	TradeID  string
}

// PortfolioContext carries account state alongside the execution being
// evaluated.
type PortfolioContext struct {
	Execution     PortfolioExecution
	AccountValue  float64
	DeployedValue float64 // capital already committed before this execution
}

// PortfolioDecision optionally rejects the execution or resizes its shares.
type PortfolioDecision struct {
	Reject bool
	Reason string
	Shares *float64
}

// PortfolioRule shares the pipeline shape of position rules.
type PortfolioRule interface {
	Name() string
	Evaluate(ctx PortfolioContext) (PortfolioDecision, error)
}

// PortfolioRuleConfig is the decoded YAML form of one portfolio rule.
type PortfolioRuleConfig struct {
	Type             string  `yaml:"type" json:"type"` // max_capital_deployed | fractional_position_size
	MaxDeployedPct   float64 `yaml:"max_deployed_pct,omitempty" json:"max_deployed_pct,omitempty"`
	FractionOfEquity float64 `yaml:"fraction_of_equity,omitempty" json:"fraction_of_equity,omitempty"`
}

// PortfolioManagerConfig configures the phase-2 rule pipeline.
type PortfolioManagerConfig struct {
	Rules []PortfolioRuleConfig `yaml:"rules" json:"rules"`
}

// MaxCapitalDeployedRule rejects executions once deployed capital has
// reached the configured share of account value.
type MaxCapitalDeployedRule struct {
	MaxDeployedPct float64
}

func (r *MaxCapitalDeployedRule) Name() string { return "max_capital_deployed" }

func (r *MaxCapitalDeployedRule) Evaluate(ctx PortfolioContext) (PortfolioDecision, error) {
	limit := r.MaxDeployedPct * ctx.AccountValue
	if ctx.DeployedValue >= limit {
		return PortfolioDecision{
			Reject: true,
			Reason: fmt.Sprintf("deployed %.2f >= %.2f limit (%.0f%% of account)",
				ctx.DeployedValue, limit, r.MaxDeployedPct*100),
		}, nil
	}
	return PortfolioDecision{}, nil
}

// FractionalPositionSizeRule resizes shares to a fixed fraction of equity.
type FractionalPositionSizeRule struct {
	FractionOfEquity float64
}

func (r *FractionalPositionSizeRule) Name() string { return "fractional_position_size" }

func (r *FractionalPositionSizeRule) Evaluate(ctx PortfolioContext) (PortfolioDecision, error) {
	if ctx.Execution.Price <= 0 {
		return PortfolioDecision{Reject: true, Reason: "non-positive price"}, nil
	}
	shares := math.Floor(ctx.AccountValue * r.FractionOfEquity / ctx.Execution.Price)
	return PortfolioDecision{Shares: &shares}, nil
}

// PortfolioPipeline applies portfolio rules in order. A rejection
// short-circuits; rule errors reject and log.
type PortfolioPipeline struct {
	rules []PortfolioRule
}

// NewPortfolioPipeline decodes a portfolio-manager config.
func NewPortfolioPipeline(cfg PortfolioManagerConfig) (*PortfolioPipeline, error) {
	p := &PortfolioPipeline{}
	for i, rc := range cfg.Rules {
		switch rc.Type {
		case "max_capital_deployed":
			if rc.MaxDeployedPct <= 0 || rc.MaxDeployedPct > 1 {
				return nil, fmt.Errorf("rule %d (max_capital_deployed): max_deployed_pct must be in (0,1]", i)
			}
			p.rules = append(p.rules, &MaxCapitalDeployedRule{MaxDeployedPct: rc.MaxDeployedPct})
		case "fractional_position_size":
			if rc.FractionOfEquity <= 0 || rc.FractionOfEquity > 1 {
				return nil, fmt.Errorf("rule %d (fractional_position_size): fraction_of_equity must be in (0,1]", i)
			}
			p.rules = append(p.rules, &FractionalPositionSizeRule{FractionOfEquity: rc.FractionOfEquity})
		default:
			return nil, fmt.Errorf("rule %d: unknown type %q", i, rc.Type)
		}
	}
	return p, nil
}

// Apply evaluates all rules. It returns the (possibly resized) shares and
// whether the execution is approved.
func (p *PortfolioPipeline) Apply(ctx PortfolioContext) (float64, bool, string) {
	shares := ctx.Execution.Shares
	if p == nil {
		return shares, true, ""
	}
	for _, r := range p.rules {
		dec, err := r.Evaluate(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("rule", r.Name()).
				Str("ticker", ctx.Execution.Ticker).
				Msg("portfolio rule failed, rejecting execution")
			return 0, false, "rule error"
		}
		if dec.Reject {
			return 0, false, dec.Reason
		}
		if dec.Shares != nil {
			shares = *dec.Shares
			ctx.Execution.Shares = shares
		}
	}
	return shares, true, ""
}
