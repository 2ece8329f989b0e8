package market

import "time"

// Side is the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// SignalType distinguishes buy and sell signals.
type SignalType string

const (
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
)

// Action labels what an execution intent does to a position.
type Action string

const (
	ActionOpen     Action = "open"
	ActionScaleIn  Action = "scale_in"
	ActionScaleOut Action = "scale_out"
	ActionClose    Action = "close"
)

// Signal is a strategy (or position-manager) trading signal.
type Signal struct {
	Ticker     string     `json:"ticker"`
	SignalTime time.Time  `json:"signal_time"`
	SignalType SignalType `json:"signal_type"`
	Price      float64    `json:"price"`
	Side       Side       `json:"side"`

	// Optional annotations carried through the pipeline.
	Fraction    float64            `json:"fraction,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	PMGenerated bool               `json:"pm_generated,omitempty"`
	PMScaleIn   bool               `json:"pm_scale_in,omitempty"`
	Indicators  map[string]float64 `json:"indicators,omitempty"`
}

// IsEntry reports whether the signal opens or adds to a position for its side.
func (s Signal) IsEntry() bool {
	return (s.SignalType == SignalBuy && s.Side == Long) ||
		(s.SignalType == SignalSell && s.Side == Short)
}

// IsExit reports whether the signal reduces or closes a position for its side.
func (s Signal) IsExit() bool {
	return (s.SignalType == SignalSell && s.Side == Long) ||
		(s.SignalType == SignalBuy && s.Side == Short)
}

// Field resolves a named numeric field on the signal: the price itself or a
// strategy-attached indicator.
func (s Signal) Field(name string) (float64, bool) {
	switch name {
	case "price":
		return s.Price, true
	case "fraction":
		return s.Fraction, true
	}
	v, ok := s.Indicators[name]
	return v, ok
}

// PositionState is the per-ticker mutable position owned by the position
// manager. Size is normalized: 0 when flat, 1.0 per opened unit.
// Invariant: Size == 0 ⟺ Side == "" ⟺ EntryPrice == 0.
type PositionState struct {
	Size       float64
	Side       Side
	EntryPrice float64
}

// Flat reports whether no position is open.
func (p PositionState) Flat() bool { return p.Size == 0 }

// ExecutionIntent is the position manager's output row: a signal enriched
// with the action taken and the normalized share delta.
type ExecutionIntent struct {
	Ticker     string     `json:"ticker"`
	SignalTime time.Time  `json:"signal_time"`
	SignalType SignalType `json:"signal_type"`
	Side       Side       `json:"side"`
	Price      float64    `json:"price"`
	Action     Action     `json:"action"`
	Shares     float64    `json:"shares"`
	Reason     string     `json:"reason,omitempty"`

	PMGenerated bool `json:"pm_generated,omitempty"`
	PMScaleIn   bool `json:"pm_scale_in,omitempty"`
}

// Trade is one matched entry/exit pair.
type Trade struct {
	Ticker        string    `json:"ticker"`
	EntryTime     time.Time `json:"entry_time"`
	ExitTime      time.Time `json:"exit_time"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	Shares        float64   `json:"shares"`
	Side          Side      `json:"side"`
	GrossPnL      float64   `json:"gross_pnl"`
	GrossPnLPct   float64   `json:"gross_pnl_pct"`
	NetPnL        float64   `json:"net_pnl"`
	Commission    float64   `json:"commission"`
	Efficiency    float64   `json:"efficiency"`
	TimeHeldHours float64   `json:"time_held_hours"`
	Strategy      string    `json:"strategy"`
	ExitReason    string    `json:"exit_reason,omitempty"`
	TradeID       string    `json:"trade_id,omitempty"`
}

// JournalRowAction is the per-side order action of a journal row.
type JournalRowAction string

const (
	BuyToOpen   JournalRowAction = "buy_to_open"
	SellToOpen  JournalRowAction = "sell_to_open"
	BuyToClose  JournalRowAction = "buy_to_close"
	SellToClose JournalRowAction = "sell_to_close"
)

// JournalRow is a per-side entry or exit record, the canonical unit written
// to the trades queue.
type JournalRow struct {
	Datetime   time.Time        `json:"datetime"`
	Ticker     string           `json:"ticker"`
	Side       Side             `json:"side"`
	Price      float64          `json:"price"`
	Shares     float64          `json:"shares"`
	Commission float64          `json:"commission"`
	Action     JournalRowAction `json:"action"`
	Execution  string           `json:"execution"`
	TradeID    string           `json:"trade_id,omitempty"`
	ExitReason string           `json:"exit_reason,omitempty"`
}

// Metrics summarizes a set of closed trades.
type Metrics struct {
	TotalTrades    int     `json:"total_trades"`
	TotalProfit    float64 `json:"total_profit"`
	TotalProfitPct float64 `json:"total_profit_pct"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	AvgEfficiency  float64 `json:"avg_efficiency"`
	AvgReturnPct   float64 `json:"avg_return_pct"`
	AvgTimeHeld    float64 `json:"avg_time_held"`
	WinRate        float64 `json:"win_rate"`
}
