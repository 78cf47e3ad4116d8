package types

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type TradeTestSuite struct {
	suite.Suite
}

func TestTradeSuite(t *testing.T) {
	suite.Run(t, new(TradeTestSuite))
}

func (suite *TradeTestSuite) TestRealizedPnLLong() {
	pnl := RealizedPnL(SideLong, 100.0, 110.0, 10, 1.0)
	suite.InDelta(99.0, pnl, 0.0001)
}

func (suite *TradeTestSuite) TestRealizedPnLLongLoss() {
	pnl := RealizedPnL(SideLong, 100.0, 95.0, 10, 0)
	suite.InDelta(-50.0, pnl, 0.0001)
}

func (suite *TradeTestSuite) TestRealizedPnLShort() {
	pnl := RealizedPnL(SideShort, 100.0, 90.0, 10, 1.0)
	suite.InDelta(99.0, pnl, 0.0001)
}

func (suite *TradeTestSuite) TestRealizedPnLShortLoss() {
	pnl := RealizedPnL(SideShort, 100.0, 105.0, 10, 0)
	suite.InDelta(-50.0, pnl, 0.0001)
}

func (suite *TradeTestSuite) TestSideSign() {
	suite.Equal(1.0, SideLong.Sign())
	suite.Equal(-1.0, SideShort.Sign())
}

func (suite *TradeTestSuite) TestSignalTriggered() {
	suite.True(SignalEvent{Strength: 1}.Triggered())
	suite.True(SignalEvent{Strength: -0.4}.Triggered())
	suite.False(SignalEvent{Strength: 0}.Triggered())
}

func (suite *TradeTestSuite) TestRunStatusTerminal() {
	suite.False(RunStatusPending.Terminal())
	suite.False(RunStatusRunning.Terminal())
	suite.True(RunStatusCompleted.Terminal())
	suite.True(RunStatusFailed.Terminal())
	suite.True(RunStatusCancelled.Terminal())
}
