package engine

import (
	"github.com/tradeforge/backtester/internal/types"
)

// Portfolio is the single mutable aggregate of one backtest run. It is owned
// exclusively by the run's engine; no other component holds a mutable
// reference to it. It is mutated once per bar in a fixed order: mark
// positions, apply exits, apply entries, record an equity point.
type Portfolio struct {
	cash        float64
	positions   map[string][]*types.Position
	trades      []types.Trade
	equityCurve []types.EquityPoint
	realizedPnL float64
	totalFees   float64
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(initialCapital float64) *Portfolio {
	return &Portfolio{
		cash:        initialCapital,
		positions:   make(map[string][]*types.Position),
		trades:      nil,
		equityCurve: nil,
		realizedPnL: 0,
		totalFees:   0,
	}
}

// Cash returns the current cash balance (excluding unrealized P&L).
func (p *Portfolio) Cash() float64 {
	return p.cash
}

// RealizedPnL returns the total realized profit/loss from closed positions.
func (p *Portfolio) RealizedPnL() float64 {
	return p.realizedPnL
}

// TotalFees returns the sum of all commissions paid.
func (p *Portfolio) TotalFees() float64 {
	return p.totalFees
}

// Positions returns the open positions for a symbol. The returned slice is
// the portfolio's own; callers must not retain it across bars.
func (p *Portfolio) Positions(symbol string) []*types.Position {
	return p.positions[symbol]
}

// AllPositions returns every open position across symbols.
func (p *Portfolio) AllPositions() []*types.Position {
	var all []*types.Position
	for _, positions := range p.positions {
		all = append(all, positions...)
	}

	return all
}

// OpenPositionCount returns the number of open positions for a symbol.
func (p *Portfolio) OpenPositionCount(symbol string) int {
	return len(p.positions[symbol])
}

// Equity returns the mark-to-market account value at the given price: cash
// plus the signed market value of every open position. Short exposure counts
// as a liability.
func (p *Portfolio) Equity(price float64) float64 {
	equity := p.cash

	for _, positions := range p.positions {
		for _, position := range positions {
			equity += position.Side.Sign() * position.MarketValue(price)
		}
	}

	return equity
}

// addPosition registers a newly opened position and debits its entry cost.
func (p *Portfolio) addPosition(position *types.Position) {
	notional := position.Size * position.EntryPrice

	if position.Side == types.SideLong {
		p.cash -= notional + position.EntryFee
	} else {
		// Short entries credit the sale proceeds; the exposure itself is
		// carried as a liability in Equity.
		p.cash += notional - position.EntryFee
	}

	p.totalFees += position.EntryFee
	p.positions[position.Symbol] = append(p.positions[position.Symbol], position)
}

// removePosition settles a closed position's exit leg and records the trade.
func (p *Portfolio) removePosition(position *types.Position, trade types.Trade, exitFee float64) {
	notional := position.Size * trade.ExitPrice

	if position.Side == types.SideLong {
		p.cash += notional - exitFee
	} else {
		p.cash -= notional + exitFee
	}

	p.totalFees += exitFee
	p.realizedPnL += trade.PnL

	remaining := p.positions[position.Symbol][:0]
	for _, open := range p.positions[position.Symbol] {
		if open.ID != position.ID {
			remaining = append(remaining, open)
		}
	}

	if len(remaining) == 0 {
		delete(p.positions, position.Symbol)
	} else {
		p.positions[position.Symbol] = remaining
	}

	p.trades = append(p.trades, trade)
}

// RecordEquityPoint appends one mark-to-market valuation to the equity curve.
func (p *Portfolio) RecordEquityPoint(point types.EquityPoint) {
	p.equityCurve = append(p.equityCurve, point)
}

// Trades returns the append-only realized trade list.
func (p *Portfolio) Trades() []types.Trade {
	return p.trades
}

// EquityCurve returns the per-bar equity curve recorded so far.
func (p *Portfolio) EquityCurve() []types.EquityPoint {
	return p.equityCurve
}
