package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tradeforge/backtester/internal/backtest/engine/engine_v1/commission"
	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

type PositionManagerTestSuite struct {
	suite.Suite
	manager   *PositionManager
	portfolio *Portfolio
	at        time.Time
}

func TestPositionManagerTestSuite(t *testing.T) {
	suite.Run(t, new(PositionManagerTestSuite))
}

func (suite *PositionManagerTestSuite) SetupTest() {
	suite.manager = NewPositionManager(commission.NewZero(), 4, logger.NewNopLogger())
	suite.portfolio = NewPortfolio(10000)
	suite.at = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
}

func (suite *PositionManagerTestSuite) TestSizingMethods() {
	fraction := strategy.PositionSizing{Method: strategy.SizingFixedFraction, Value: 0.5}
	size, err := suite.manager.Size(suite.portfolio, fraction, 100, 10000)
	suite.Require().NoError(err)
	suite.InDelta(50, size, 1e-9)

	quantity := strategy.PositionSizing{Method: strategy.SizingFixedQuantity, Value: 7}
	size, err = suite.manager.Size(suite.portfolio, quantity, 100, 10000)
	suite.Require().NoError(err)
	suite.InDelta(7, size, 1e-9)

	notional := strategy.PositionSizing{Method: strategy.SizingFixedNotional, Value: 2500}
	size, err = suite.manager.Size(suite.portfolio, notional, 100, 10000)
	suite.Require().NoError(err)
	suite.InDelta(25, size, 1e-9)
}

func (suite *PositionManagerTestSuite) TestFractionSizingBoundedByCash() {
	// Equity includes an open position's value, but a new entry can only
	// spend what is actually in cash.
	_, err := suite.manager.Open(suite.portfolio, "TEST", types.SideLong, 80, 100, 0, suite.at, strategy.RiskLimits{})
	suite.Require().NoError(err)
	suite.InDelta(2000, suite.portfolio.Cash(), 1e-9)

	fraction := strategy.PositionSizing{Method: strategy.SizingFixedFraction, Value: 0.5}
	size, err := suite.manager.Size(suite.portfolio, fraction, 100, 10000)
	suite.Require().NoError(err)
	suite.InDelta(20, size, 1e-9)
}

func (suite *PositionManagerTestSuite) TestMonotonicIDs() {
	first, err := suite.manager.Open(suite.portfolio, "TEST", types.SideLong, 10, 100, 0, suite.at, strategy.RiskLimits{})
	suite.Require().NoError(err)

	second, err := suite.manager.Open(suite.portfolio, "TEST", types.SideLong, 10, 100, 1, suite.at, strategy.RiskLimits{})
	suite.Require().NoError(err)

	suite.Equal("pos-000001", first.ID)
	suite.Equal("pos-000002", second.ID)

	trade := suite.manager.Close(suite.portfolio, first, 100, suite.at, types.ExitReasonSignal)
	suite.Equal("trd-000001", trade.ID)
	suite.Equal("pos-000001", trade.PositionID)
}

func (suite *PositionManagerTestSuite) TestProtectiveLevelsShortSide() {
	risk := strategy.RiskLimits{StopLossPct: 0.02, TakeProfitPct: 0.04}

	position, err := suite.manager.Open(suite.portfolio, "TEST", types.SideShort, 10, 100, 0, suite.at, risk)
	suite.Require().NoError(err)

	stop, takeErr := position.StopLoss.Take()
	suite.Require().NoError(takeErr)
	suite.InDelta(102, stop, 1e-9)

	target, takeErr := position.TakeProfit.Take()
	suite.Require().NoError(takeErr)
	suite.InDelta(96, target, 1e-9)

	// A bar trading up through the stop triggers it.
	bar := types.Candle{Symbol: "TEST", High: 103, Low: 99, Close: 101}
	hits := suite.manager.CheckProtectiveStops(suite.portfolio, "TEST", bar)
	suite.Require().Len(hits, 1)
	suite.Equal(types.ExitReasonStopLoss, hits[0].reason)
	suite.InDelta(102, hits[0].exitPrice, 1e-9)
}

func (suite *PositionManagerTestSuite) TestShortPnL() {
	position, err := suite.manager.Open(suite.portfolio, "TEST", types.SideShort, 10, 100, 0, suite.at, strategy.RiskLimits{})
	suite.Require().NoError(err)

	// Short entry credits the sale; equity stays flat at entry.
	suite.InDelta(11000, suite.portfolio.Cash(), 1e-9)
	suite.InDelta(10000, suite.portfolio.Equity(100), 1e-9)

	trade := suite.manager.Close(suite.portfolio, position, 90, suite.at.Add(time.Hour), types.ExitReasonSignal)
	suite.InDelta(100, trade.PnL, 1e-9)
	suite.InDelta(10100, suite.portfolio.Cash(), 1e-9)
	suite.Empty(suite.portfolio.AllPositions())
}

func (suite *PositionManagerTestSuite) TestCloseAllIsIdempotent() {
	_, err := suite.manager.Open(suite.portfolio, "TEST", types.SideLong, 10, 100, 0, suite.at, strategy.RiskLimits{})
	suite.Require().NoError(err)

	trades := suite.manager.CloseAll(suite.portfolio, "TEST", 100, suite.at, types.ExitReasonSignal)
	suite.Len(trades, 1)

	trades = suite.manager.CloseAll(suite.portfolio, "TEST", 100, suite.at, types.ExitReasonSignal)
	suite.Empty(trades)
	suite.Len(suite.portfolio.Trades(), 1)
}

func (suite *PositionManagerTestSuite) TestCommissionBothLegs() {
	manager := NewPositionManager(commission.NewPercentage(0.001), 4, logger.NewNopLogger())

	position, err := manager.Open(suite.portfolio, "TEST", types.SideLong, 10, 100, 0, suite.at, strategy.RiskLimits{})
	suite.Require().NoError(err)
	suite.InDelta(1.0, position.EntryFee, 1e-9)

	trade := manager.Close(suite.portfolio, position, 110, suite.at.Add(time.Hour), types.ExitReasonSignal)
	suite.InDelta(2.1, trade.Commission, 1e-9)
	suite.InDelta(100-2.1, trade.PnL, 1e-9)
	suite.InDelta(2.1, suite.portfolio.TotalFees(), 1e-9)
}

func (suite *PositionManagerTestSuite) TestLongEntryExceedingCashRejected() {
	_, err := suite.manager.Open(suite.portfolio, "TEST", types.SideLong, 200, 100,
		0, suite.at, strategy.RiskLimits{})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeEntryRejected))
	suite.InDelta(10000, suite.portfolio.Cash(), 1e-9)
}
