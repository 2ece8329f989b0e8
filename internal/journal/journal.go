// Package journal pairs entries with exits and produces trades, journal
// rows, and performance metrics.
package journal

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/confighash"
	"github.com/quantfall/backcast/internal/market"
)

// Config controls share sizing and metric computation.
type Config struct {
	Strategy            string
	CapitalPerTrade     float64
	InitialAccountValue float64
	TradePercentage     float64
	RiskFreeRate        float64
}

// openEntry is one unmatched entry in the FIFO queue.
type openEntry struct {
	time  time.Time
	price float64
	side  market.Side
}

// MatchFIFO pairs entry and exit signals per ticker in first-in-first-out
// order and returns the closed trades.
//
// A SHORT entry arriving while an unmatched LONG entry is open is paired as
// an exit of the LONG instead of opening a separate SHORT. Queues should be
// segregated per side in a future revision.
func MatchFIFO(signals []market.Signal, ohlcv map[string]*market.Frame, cfg Config) []market.Trade {
	sorted := make([]market.Signal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Ticker != sorted[j].Ticker {
			return sorted[i].Ticker < sorted[j].Ticker
		}
		return sorted[i].SignalTime.Before(sorted[j].SignalTime)
	})

	accountValue := cfg.InitialAccountValue
	usePercentage := cfg.InitialAccountValue > 0 && cfg.TradePercentage > 0

	open := make(map[string][]openEntry)
	var trades []market.Trade
	for _, sig := range sorted {
		queue := open[sig.Ticker]
		crossSide := sig.IsEntry() && sig.Side == market.Short &&
			len(queue) > 0 && queue[0].side == market.Long

		switch {
		case sig.IsEntry() && !crossSide:
			open[sig.Ticker] = append(queue, openEntry{
				time:  sig.SignalTime,
				price: sig.Price,
				side:  sig.Side,
			})
		case (sig.IsExit() || crossSide) && len(queue) > 0:
			entry := queue[0]
			open[sig.Ticker] = queue[1:]

			capital := cfg.CapitalPerTrade
			if usePercentage {
				capital = accountValue * cfg.TradePercentage
			}
			shares := math.Floor(capital / sig.Price)
			if shares <= 0 {
				log.Warn().
					Str("ticker", sig.Ticker).
					Float64("price", sig.Price).
					Msg("trade sized to zero shares, skipping")
				continue
			}

			trade := buildTrade(sig.Ticker, entry, sig, shares, ohlcv[sig.Ticker], cfg.Strategy)
			trades = append(trades, trade)
			if usePercentage {
				accountValue += trade.GrossPnL
			}
		}
	}
	return trades
}

// MatchIntents consumes position-manager execution intents, maintaining a
// running trade per ticker and emitting one journal row per intent plus the
// closed trades. Intent shares are normalized units scaled by the per-trade
// capital at each fill price.
func MatchIntents(intents []market.ExecutionIntent, ohlcv map[string]*market.Frame, cfg Config) ([]market.JournalRow, []market.Trade) {
	type openTrade struct {
		tradeID    string
		entryTime  time.Time
		entryPrice float64
		side       market.Side
		openShares float64
	}
	open := make(map[string]*openTrade)

	var rows []market.JournalRow
	var trades []market.Trade
	for _, intent := range intents {
		shares := intent.Shares * math.Floor(cfg.CapitalPerTrade/intent.Price)
		if shares <= 0 {
			continue
		}

		ot := open[intent.Ticker]
		switch intent.Action {
		case market.ActionOpen, market.ActionScaleIn:
			if ot == nil {
				ot = &openTrade{
					tradeID:    uuid.NewString(),
					entryTime:  intent.SignalTime,
					entryPrice: intent.Price,
					side:       intent.Side,
				}
				open[intent.Ticker] = ot
			}
			ot.openShares += shares
		case market.ActionScaleOut, market.ActionClose:
			if ot == nil {
				continue
			}
			if shares > ot.openShares {
				shares = ot.openShares
			}
			ot.openShares -= shares

			trade := buildTrade(intent.Ticker,
				openEntry{time: ot.entryTime, price: ot.entryPrice, side: ot.side},
				market.Signal{SignalTime: intent.SignalTime, Price: intent.Price},
				shares, ohlcv[intent.Ticker], cfg.Strategy)
			trade.ExitReason = intent.Reason
			trade.TradeID = ot.tradeID
			trades = append(trades, trade)

			if intent.Action == market.ActionClose || ot.openShares <= 0 {
				delete(open, intent.Ticker)
			}
		default:
			continue
		}

		tradeID := ""
		if cur := open[intent.Ticker]; cur != nil {
			tradeID = cur.tradeID
		} else if ot != nil {
			tradeID = ot.tradeID
		}
		rows = append(rows, market.JournalRow{
			Datetime:   intent.SignalTime,
			Ticker:     intent.Ticker,
			Side:       intent.Side,
			Price:      intent.Price,
			Shares:     shares,
			Action:     rowAction(intent.Side, intent.Action),
			Execution:  confighash.ExecutionID(intent.Ticker, cfg.Strategy, tradeID, intent.SignalTime, string(intent.Side), string(intent.Action), shares, intent.Price),
			TradeID:    tradeID,
			ExitReason: intent.Reason,
		})
	}
	return rows, trades
}

// RowsFromTrades expands matched trades into per-side journal rows, one for
// the entry leg and one for the exit leg, assigning a trade id when the
// matcher did not.
func RowsFromTrades(trades []market.Trade, strategy string) []market.JournalRow {
	rows := make([]market.JournalRow, 0, 2*len(trades))
	for i := range trades {
		t := &trades[i]
		if t.TradeID == "" {
			t.TradeID = uuid.NewString()
		}
		rows = append(rows,
			market.JournalRow{
				Datetime:   t.EntryTime,
				Ticker:     t.Ticker,
				Side:       t.Side,
				Price:      t.EntryPrice,
				Shares:     t.Shares,
				Commission: t.Commission,
				Action:     rowAction(t.Side, market.ActionOpen),
				Execution:  confighash.ExecutionID(t.Ticker, strategy, t.TradeID, t.EntryTime, string(t.Side), string(market.ActionOpen), t.Shares, t.EntryPrice),
				TradeID:    t.TradeID,
			},
			market.JournalRow{
				Datetime:   t.ExitTime,
				Ticker:     t.Ticker,
				Side:       t.Side,
				Price:      t.ExitPrice,
				Shares:     t.Shares,
				Commission: t.Commission,
				Action:     rowAction(t.Side, market.ActionClose),
				Execution:  confighash.ExecutionID(t.Ticker, strategy, t.TradeID, t.ExitTime, string(t.Side), string(market.ActionClose), t.Shares, t.ExitPrice),
				TradeID:    t.TradeID,
				ExitReason: t.ExitReason,
			})
	}
	return rows
}

func rowAction(side market.Side, action market.Action) market.JournalRowAction {
	entering := action == market.ActionOpen || action == market.ActionScaleIn
	if side == market.Short {
		if entering {
			return market.SellToOpen
		}
		return market.BuyToClose
	}
	if entering {
		return market.BuyToOpen
	}
	return market.SellToClose
}

func buildTrade(ticker string, entry openEntry, exit market.Signal, shares float64, frame *market.Frame, strategy string) market.Trade {
	grossPnL := shares * (exit.Price - entry.price)
	if entry.side == market.Short {
		grossPnL = shares * (entry.price - exit.Price)
	}
	capitalAtEntry := shares * entry.price
	pnlPct := 0.0
	if capitalAtEntry > 0 {
		pnlPct = grossPnL / capitalAtEntry * 100
	}
	return market.Trade{
		Ticker:        ticker,
		EntryTime:     entry.time,
		ExitTime:      exit.SignalTime,
		EntryPrice:    entry.price,
		ExitPrice:     exit.Price,
		Shares:        shares,
		Side:          entry.side,
		GrossPnL:      grossPnL,
		GrossPnLPct:   pnlPct,
		NetPnL:        grossPnL,
		Efficiency:    Efficiency(entry.price, exit.Price, entry.time, exit.SignalTime, frame),
		TimeHeldHours: exit.SignalTime.Sub(entry.time).Hours(),
		Strategy:      strategy,
		ExitReason:    exit.Reason,
	}
}

// Efficiency measures how much of the best available move the trade
// captured, clipped to [0, 100]. Zero when the denominator is non-positive
// or OHLCV is missing. Bar times align to UTC before slicing.
func Efficiency(entryPrice, exitPrice float64, entryTime, exitTime time.Time, frame *market.Frame) float64 {
	if frame.Len() == 0 {
		return 0
	}
	bars := frame.Between(entryTime.UTC(), exitTime.UTC())
	if len(bars) == 0 {
		return 0
	}
	maxHigh := bars[0].High
	for _, b := range bars[1:] {
		if b.High > maxHigh {
			maxHigh = b.High
		}
	}
	denom := maxHigh - entryPrice
	if denom <= 0 {
		return 0
	}
	eff := (exitPrice - entryPrice) / denom * 100
	if eff < 0 {
		return 0
	}
	if eff > 100 {
		return 100
	}
	return eff
}
