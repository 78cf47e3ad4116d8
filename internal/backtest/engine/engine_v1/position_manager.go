package engine

import (
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/backtest/engine/engine_v1/commission"
	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/internal/utils"
	"github.com/tradeforge/backtester/pkg/errors"
)

// PositionManager opens, marks, and closes positions against a portfolio.
// IDs come from a per-run monotonic counter so that identical inputs yield
// byte-identical results across runs.
type PositionManager struct {
	model     commission.Model
	precision int
	log       *logger.Logger

	positionSeq int
	tradeSeq    int
}

// NewPositionManager creates a position manager for one run.
func NewPositionManager(model commission.Model, decimalPrecision int, log *logger.Logger) *PositionManager {
	return &PositionManager{
		model:       model,
		precision:   decimalPrecision,
		log:         log,
		positionSeq: 0,
		tradeSeq:    0,
	}
}

func (m *PositionManager) nextPositionID() string {
	m.positionSeq++

	return fmt.Sprintf("pos-%06d", m.positionSeq)
}

func (m *PositionManager) nextTradeID() string {
	m.tradeSeq++

	return fmt.Sprintf("trd-%06d", m.tradeSeq)
}

// Size derives the entry quantity for an intent from the sizing config and
// the portfolio's current state. A zero return means the entry cannot be
// afforded and is skipped.
func (m *PositionManager) Size(portfolio *Portfolio, sizing strategy.PositionSizing, price float64, equity float64) (float64, error) {
	if price <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidPrice, "cannot size entry at price %f", price)
	}

	var quantity float64

	switch sizing.Method {
	case strategy.SizingFixedFraction:
		budget := equity * sizing.Value
		if cash := portfolio.Cash(); budget > cash {
			budget = cash
		}
		quantity = utils.CalculateMaxQuantity(budget, price, m.model)
	case strategy.SizingFixedQuantity:
		quantity = sizing.Value
	case strategy.SizingFixedNotional:
		quantity = utils.CalculateMaxQuantity(sizing.Value, price, m.model)
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidSizing, "unknown sizing method %q", sizing.Method)
	}

	return utils.RoundToDecimalPrecision(quantity, m.precision), nil
}

// Open creates a new position from a sized entry and debits the portfolio.
// Protective stop and take-profit levels are derived from the risk limits at
// entry time and never move afterwards.
func (m *PositionManager) Open(portfolio *Portfolio, symbol string, side types.Side, size float64,
	price float64, barIndex int, barTime time.Time, risk strategy.RiskLimits) (*types.Position, error) {
	if size <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidQuantity, "cannot open position with size %f", size)
	}

	if price <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPrice, "cannot open position at price %f", price)
	}

	entryFee := m.model.Calculate(size, price)
	if side == types.SideLong && size*price+entryFee > portfolio.Cash() {
		return nil, errors.Newf(errors.ErrCodeEntryRejected,
			"entry notional %f exceeds available cash %f", size*price+entryFee, portfolio.Cash())
	}

	position := &types.Position{
		ID:         m.nextPositionID(),
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: price,
		EntryTime:  barTime,
		EntryBar:   barIndex,
		StopLoss:   protectiveStop(side, price, risk.StopLossPct),
		TakeProfit: profitTarget(side, price, risk.TakeProfitPct),
		EntryFee:   entryFee,
	}

	portfolio.addPosition(position)

	m.log.Debug("opened position",
		zap.String("id", position.ID),
		zap.String("side", string(side)),
		zap.Float64("size", size),
		zap.Float64("price", price),
		zap.Int("bar", barIndex),
	)

	return position, nil
}

// Close converts an open position into a realized trade at the given exit
// price and settles the portfolio.
func (m *PositionManager) Close(portfolio *Portfolio, position *types.Position,
	price float64, barTime time.Time, reason types.ExitReason) types.Trade {
	exitFee := m.model.Calculate(position.Size, price)
	commissionTotal := position.EntryFee + exitFee

	pnl := types.RealizedPnL(position.Side, position.EntryPrice, price, position.Size, commissionTotal)

	var pnlPct float64
	if notional := position.EntryPrice * position.Size; notional > 0 {
		pnlPct = pnl / notional
	}

	trade := types.Trade{
		ID:         m.nextTradeID(),
		PositionID: position.ID,
		Symbol:     position.Symbol,
		Side:       position.Side,
		EntryPrice: position.EntryPrice,
		ExitPrice:  price,
		EntryTime:  position.EntryTime,
		ExitTime:   barTime,
		Size:       position.Size,
		Commission: commissionTotal,
		PnL:        pnl,
		PnLPct:     pnlPct,
		ExitReason: reason,
	}

	portfolio.removePosition(position, trade, exitFee)

	m.log.Debug("closed position",
		zap.String("id", position.ID),
		zap.Float64("price", price),
		zap.Float64("pnl", pnl),
		zap.String("reason", string(reason)),
	)

	return trade
}

// CloseAll closes every open position in the symbol at the given price.
// Closing with no open positions is a no-op, so a second exit intent in the
// same bar settles nothing twice.
func (m *PositionManager) CloseAll(portfolio *Portfolio, symbol string,
	price float64, barTime time.Time, reason types.ExitReason) []types.Trade {
	open := portfolio.Positions(symbol)
	if len(open) == 0 {
		return nil
	}

	// Copy before closing; removePosition mutates the underlying slice.
	toClose := make([]*types.Position, len(open))
	copy(toClose, open)

	trades := make([]types.Trade, 0, len(toClose))
	for _, position := range toClose {
		trades = append(trades, m.Close(portfolio, position, price, barTime, reason))
	}

	return trades
}

// MarkToMarket refreshes unrealized P&L on every open position at the
// given price.
func (m *PositionManager) MarkToMarket(portfolio *Portfolio, price float64) {
	for _, position := range portfolio.AllPositions() {
		diff := price - position.EntryPrice
		position.UnrealizedPnL = position.Side.Sign() * diff * position.Size
	}
}

// stopHit is one triggered protective exit for the current bar.
type stopHit struct {
	position  *types.Position
	exitPrice float64
	reason    types.ExitReason
}

// CheckProtectiveStops scans open positions against the bar's range. A bar
// that crosses both the stop and the target resolves to the stop; the
// simulation cannot know intra-bar ordering, so it assumes the worse fill.
// Exits fill at the protective level itself, not at the bar close.
func (m *PositionManager) CheckProtectiveStops(portfolio *Portfolio, symbol string, bar types.Candle) []stopHit {
	var hits []stopHit

	for _, position := range portfolio.Positions(symbol) {
		if hit, ok := checkStop(position, bar); ok {
			hits = append(hits, hit)
		}
	}

	return hits
}

func checkStop(position *types.Position, bar types.Candle) (stopHit, bool) {
	stop, stopErr := position.StopLoss.Take()
	target, targetErr := position.TakeProfit.Take()

	if position.Side == types.SideLong {
		if stopErr == nil && bar.Low <= stop {
			return stopHit{position: position, exitPrice: stop, reason: types.ExitReasonStopLoss}, true
		}

		if targetErr == nil && bar.High >= target {
			return stopHit{position: position, exitPrice: target, reason: types.ExitReasonTakeProfit}, true
		}

		return stopHit{}, false
	}

	if stopErr == nil && bar.High >= stop {
		return stopHit{position: position, exitPrice: stop, reason: types.ExitReasonStopLoss}, true
	}

	if targetErr == nil && bar.Low <= target {
		return stopHit{position: position, exitPrice: target, reason: types.ExitReasonTakeProfit}, true
	}

	return stopHit{}, false
}

// protectiveStop derives the stop-loss level from the entry price. A zero
// fraction disables the stop.
func protectiveStop(side types.Side, entryPrice float64, stopLossPct float64) optional.Option[float64] {
	if stopLossPct <= 0 {
		return optional.None[float64]()
	}

	if side == types.SideLong {
		return optional.Some(entryPrice * (1 - stopLossPct))
	}

	return optional.Some(entryPrice * (1 + stopLossPct))
}

// profitTarget derives the take-profit level from the entry price. A zero
// fraction disables the target.
func profitTarget(side types.Side, entryPrice float64, takeProfitPct float64) optional.Option[float64] {
	if takeProfitPct <= 0 {
		return optional.None[float64]()
	}

	if side == types.SideLong {
		return optional.Some(entryPrice * (1 + takeProfitPct))
	}

	return optional.Some(entryPrice * (1 - takeProfitPct))
}
