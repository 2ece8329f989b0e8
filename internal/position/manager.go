// Package position implements the per-ticker entry/exit state machine that
// merges strategy signals with rule-generated exits and scale-ins into a
// time-ordered stream of execution intents.
package position

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/market"
	"github.com/quantfall/backcast/internal/rules"
)

// Manager owns the per-ticker position state for one backtest run. The state
// map is its only mutable field; a ticker's state is touched by exactly one
// goroutine under the per-ticker worker model.
type Manager struct {
	pipeline *rules.PositionPipeline // nil disables rule gating
	state    map[string]*market.PositionState
}

// NewManager builds a manager around an optional rule pipeline.
func NewManager(pipeline *rules.PositionPipeline) *Manager {
	return &Manager{
		pipeline: pipeline,
		state:    make(map[string]*market.PositionState),
	}
}

// State returns a copy of the ticker's current position state.
func (m *Manager) State(ticker string) market.PositionState {
	if st, ok := m.state[ticker]; ok {
		return *st
	}
	return market.PositionState{}
}

// Process replays the ticker's bars, draining strategy signals in time order
// and synthesizing rule-driven exits and scale-ins between them. Within a
// bar, drained strategy signals precede synthesized exits, which precede
// synthesized scale-ins. With no OHLCV available it falls back to
// signals-only mode: the stateful entry/exit filter with no synthesis.
//
// The manager performs no blocking I/O; cancellation aborts between bars.
func (m *Manager) Process(ctx context.Context, ticker string, signals []market.Signal, frame *market.Frame) ([]market.ExecutionIntent, error) {
	sorted := make([]market.Signal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SignalTime.Before(sorted[j].SignalTime)
	})

	if frame.Len() == 0 {
		log.Warn().Str("ticker", ticker).Msg("no OHLCV for ticker, running signals-only position management")
		return m.processSignalsOnly(ctx, ticker, sorted)
	}

	var intents []market.ExecutionIntent
	next := 0
	for _, bar := range frame.Bars {
		if err := ctx.Err(); err != nil {
			return intents, err
		}

		// 1. Drain strategy signals due at or before this bar.
		for next < len(sorted) && !sorted[next].SignalTime.After(bar.Time) {
			if intent, ok := m.applySignal(ticker, sorted[next], frame); ok {
				intents = append(intents, intent)
			}
			next++
		}

		st := m.pos(ticker)

		// 2. Rule-synthesized exit from the bar close.
		if !st.Flat() {
			synth := m.synthSignal(ticker, bar, st.Side, false)
			if intent, ok := m.applyExit(ticker, synth, frame); ok {
				intents = append(intents, intent)
			}
		}

		// 3. Rule-synthesized scale-in.
		st = m.pos(ticker)
		if !st.Flat() && m.pipeline.AllowScaleIn() {
			synth := m.synthSignal(ticker, bar, st.Side, true)
			if intent, ok := m.applyEntry(ticker, synth, frame); ok {
				intents = append(intents, intent)
			}
		}
	}

	// Signals dated past the last bar still pass through the stateful filter.
	for ; next < len(sorted); next++ {
		if intent, ok := m.applySignal(ticker, sorted[next], frame); ok {
			intents = append(intents, intent)
		}
	}
	return intents, nil
}

func (m *Manager) processSignalsOnly(ctx context.Context, ticker string, sorted []market.Signal) ([]market.ExecutionIntent, error) {
	var intents []market.ExecutionIntent
	for _, sig := range sorted {
		if err := ctx.Err(); err != nil {
			return intents, err
		}
		if intent, ok := m.applySignal(ticker, sig, nil); ok {
			intents = append(intents, intent)
		}
	}
	return intents, nil
}

func (m *Manager) applySignal(ticker string, sig market.Signal, frame *market.Frame) (market.ExecutionIntent, bool) {
	switch {
	case sig.IsEntry():
		return m.applyEntry(ticker, sig, frame)
	case sig.IsExit():
		return m.applyExit(ticker, sig, frame)
	}
	return market.ExecutionIntent{}, false
}

func (m *Manager) applyEntry(ticker string, sig market.Signal, frame *market.Frame) (market.ExecutionIntent, bool) {
	st := m.pos(ticker)
	if !st.Flat() && !m.pipeline.AllowScaleIn() {
		// Entry on an open position is dropped unless scale-in is enabled.
		return market.ExecutionIntent{}, false
	}
	pctx := rules.PositionContext{Ticker: ticker, Signal: sig, Position: *st, Frame: frame}
	if !m.pipeline.AllowEntry(pctx) {
		return market.ExecutionIntent{}, false
	}

	price := sig.Price
	if price == 0 {
		if bars := frame.Through(sig.SignalTime); len(bars) > 0 {
			price = bars[len(bars)-1].Close
		}
	}

	action := market.ActionOpen
	if st.Flat() {
		st.Size = 1.0
		st.Side = sig.Side
		st.EntryPrice = price
	} else {
		// Scale-in permitted by the pipeline.
		st.Size += 1.0
		action = market.ActionScaleIn
	}

	return market.ExecutionIntent{
		Ticker:      ticker,
		SignalTime:  sig.SignalTime,
		SignalType:  sig.SignalType,
		Side:        st.Side,
		Price:       price,
		Action:      action,
		Shares:      1.0,
		Reason:      sig.Reason,
		PMGenerated: sig.PMGenerated,
		PMScaleIn:   sig.PMScaleIn,
	}, true
}

func (m *Manager) applyExit(ticker string, sig market.Signal, frame *market.Frame) (market.ExecutionIntent, bool) {
	st := m.pos(ticker)
	if st.Flat() {
		// Exit with no open position never produces a trade.
		return market.ExecutionIntent{}, false
	}

	fraction := 1.0
	reason := sig.Reason
	if m.pipeline != nil {
		pctx := rules.PositionContext{Ticker: ticker, Signal: sig, Position: *st, Frame: frame}
		ruleFraction, ruleReason := m.pipeline.ExitDecision(pctx)
		switch {
		case ruleFraction > 0:
			fraction, reason = ruleFraction, ruleReason
		case sig.PMGenerated:
			// Synthesized exits only fire on a rule decision.
			return market.ExecutionIntent{}, false
		default:
			// Strategy exit with no rule opinion closes in full.
		}
	}

	// The fraction applies to the current size, so a full exit closes a
	// scaled-in position entirely.
	shares := fraction * st.Size
	st.Size -= shares
	if st.Size < 0 {
		st.Size = 0
	}

	action := market.ActionScaleOut
	side := st.Side
	if st.Size == 0 {
		action = market.ActionClose
		st.Side = ""
		st.EntryPrice = 0
		m.pipeline.ResetForTicker(ticker)
	}

	intent := market.ExecutionIntent{
		Ticker:      ticker,
		SignalTime:  sig.SignalTime,
		SignalType:  sig.SignalType,
		Side:        side,
		Price:       sig.Price,
		Action:      action,
		Shares:      shares,
		Reason:      reason,
		PMGenerated: sig.PMGenerated,
		PMScaleIn:   sig.PMScaleIn,
	}
	return intent, true
}

// synthSignal builds the PM-generated counterpart of a strategy signal from
// the current bar close.
func (m *Manager) synthSignal(ticker string, bar market.Bar, side market.Side, scaleIn bool) market.Signal {
	sigType := market.SignalSell
	if side == market.Short {
		sigType = market.SignalBuy
	}
	if scaleIn {
		// Entry direction for the held side.
		sigType = market.SignalBuy
		if side == market.Short {
			sigType = market.SignalSell
		}
	}
	return market.Signal{
		Ticker:      ticker,
		SignalTime:  bar.Time,
		SignalType:  sigType,
		Price:       bar.Close,
		Side:        side,
		PMGenerated: true,
		PMScaleIn:   scaleIn,
	}
}

func (m *Manager) pos(ticker string) *market.PositionState {
	st, ok := m.state[ticker]
	if !ok {
		st = &market.PositionState{}
		m.state[ticker] = st
	}
	return st
}
