package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/strategy"
)

type RiskManagerTestSuite struct {
	suite.Suite
	log *logger.Logger
}

func TestRiskManagerTestSuite(t *testing.T) {
	suite.Run(t, new(RiskManagerTestSuite))
}

func (suite *RiskManagerTestSuite) SetupTest() {
	suite.log = logger.NewNopLogger()
}

func (suite *RiskManagerTestSuite) TestNoLimitsNeverTriggers() {
	risk := NewRiskManager(strategy.RiskLimits{}, 10000, suite.log)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	verdict := risk.Observe(at, 1)
	suite.False(verdict.Kill)
	suite.False(verdict.ForceClose)
	suite.False(verdict.BlockEntries)
}

func (suite *RiskManagerTestSuite) TestMaxDrawdownKills() {
	risk := NewRiskManager(strategy.RiskLimits{MaxDrawdownPct: 0.15}, 10000, suite.log)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	verdict := risk.Observe(at, 9000)
	suite.False(verdict.Kill)

	// Peak moves up with equity, so the drawdown is measured from the high
	// water mark and not from start capital.
	risk.Observe(at.Add(time.Hour), 12000)

	verdict = risk.Observe(at.Add(2*time.Hour), 10100)
	suite.True(verdict.Kill)
	suite.True(verdict.ForceClose)

	// The kill switch stays engaged for the rest of the run, even if equity
	// recovers, but positions are only force-closed once.
	verdict = risk.Observe(at.Add(3*time.Hour), 20000)
	suite.True(verdict.Kill)
	suite.False(verdict.ForceClose)
	suite.True(verdict.BlockEntries)
	suite.False(risk.AllowEntry(1, 20000))
}

func (suite *RiskManagerTestSuite) TestDailyLossBlocksAndResets() {
	risk := NewRiskManager(strategy.RiskLimits{DailyLossLimitPct: 0.05}, 10000, suite.log)
	day1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	verdict := risk.Observe(day1, 10000)
	suite.False(verdict.BlockEntries)

	verdict = risk.Observe(day1.Add(3*time.Hour), 9400)
	suite.True(verdict.ForceClose)
	suite.True(verdict.BlockEntries)
	suite.False(verdict.Kill)

	// Still blocked for the rest of the day, but no second forced close.
	verdict = risk.Observe(day1.Add(5*time.Hour), 9400)
	suite.False(verdict.ForceClose)
	suite.True(verdict.BlockEntries)

	// The loss baseline and the block reset at the UTC day boundary.
	day2 := day1.Add(24 * time.Hour)
	verdict = risk.Observe(day2, 9400)
	suite.False(verdict.BlockEntries)

	suite.True(risk.AllowEntry(100, 9400))
}

func (suite *RiskManagerTestSuite) TestPositionSizeLimitRejects() {
	risk := NewRiskManager(strategy.RiskLimits{MaxPositionPct: 0.25}, 10000, suite.log)

	suite.True(risk.AllowEntry(2500, 10000))
	suite.False(risk.AllowEntry(2501, 10000))
}
