package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tradeforge/backtester/internal/backtest/engine"
	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/signal"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// fakeBridge returns a canned compute result without any external call.
type fakeBridge struct {
	result *signal.ComputeResult
	err    error
	calls  int
}

func (b *fakeBridge) Compute(ctx context.Context, def *strategy.Definition, candles []types.Candle) (*signal.ComputeResult, error) {
	b.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return b.result, b.err
}

type BacktestEngineV1TestSuite struct {
	suite.Suite
	log *logger.Logger
}

func TestBacktestEngineV1TestSuite(t *testing.T) {
	suite.Run(t, new(BacktestEngineV1TestSuite))
}

func (suite *BacktestEngineV1TestSuite) SetupTest() {
	suite.log = logger.NewNopLogger()
}

// makeCandles builds an hourly series whose close prices follow the given
// values, with a small intra-bar range around each close.
func makeCandles(closes []float64) []types.Candle {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]types.Candle, len(closes))

	for i, price := range closes {
		candles[i] = types.Candle{
			Symbol:    "TEST",
			Timeframe: types.Timeframe1h,
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price * 1.005,
			Low:       price * 0.995,
			Close:     price,
			Volume:    1000,
		}
	}

	return candles
}

func flatCloses(n int, price float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}

	return closes
}

func testDefinition() *strategy.Definition {
	return &strategy.Definition{
		Name:          "ma-crossover",
		Version:       "1.0.0",
		SchemaVersion: "1.0.0",
		LookbackBars:  5,
		EntryRules: []strategy.EntryRule{
			{Signal: "ma_crossover", Type: "golden_cross", Side: types.SideLong},
		},
		ExitRules: []strategy.ExitRule{
			{Signal: "ma_crossover", Type: "death_cross"},
		},
		Sizing: strategy.PositionSizing{
			Method: strategy.SizingFixedFraction,
			Value:  0.5,
		},
	}
}

func event(bar int, name, kind string) types.SignalEvent {
	return types.SignalEvent{BarIndex: bar, Name: name, Type: kind, Strength: 1}
}

func (suite *BacktestEngineV1TestSuite) run(def *strategy.Definition, candles []types.Candle,
	bridge signal.Bridge) (*types.BacktestResult, error) {
	e := NewBacktestEngineV1(DefaultConfig(), bridge, suite.log)
	e.SetRunID("test-run")

	return e.Run(context.Background(), def, candles, engine.LifecycleCallbacks{})
}

func (suite *BacktestEngineV1TestSuite) TestEntryAndSignalExit() {
	closes := flatCloses(20, 100)
	candles := makeCandles(closes)

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events: []types.SignalEvent{
			event(6, "ma_crossover", "golden_cross"),
			event(12, "ma_crossover", "death_cross"),
		},
	}}

	result, err := suite.run(testDefinition(), candles, bridge)
	suite.Require().NoError(err)
	suite.Require().NotNil(result)

	suite.Equal(1, bridge.calls)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(types.SideLong, trade.Side)
	suite.Equal(types.ExitReasonSignal, trade.ExitReason)
	suite.Equal(6, result.EquityCurve[6].BarIndex)
	suite.Len(result.EquityCurve, 20)
	suite.False(result.Cancelled)
	suite.Equal(20, result.BarsRun)
}

func (suite *BacktestEngineV1TestSuite) TestLookbackGatesEntries() {
	candles := makeCandles(flatCloses(10, 100))

	// Event lands inside the warm-up window and must be ignored.
	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 8,
		Events:       []types.SignalEvent{event(3, "ma_crossover", "golden_cross")},
	}}

	result, err := suite.run(testDefinition(), candles, bridge)
	suite.Require().NoError(err)
	suite.Empty(result.Trades)
}

func (suite *BacktestEngineV1TestSuite) TestProtectiveStopLoss() {
	closes := flatCloses(20, 100)
	// Entry at bar 6, then the price collapses through the 2% stop at bar 9.
	closes[9] = 95
	for i := 10; i < 20; i++ {
		closes[i] = 95
	}

	candles := makeCandles(closes)

	def := testDefinition()
	def.Risk.StopLossPct = 0.02

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events:       []types.SignalEvent{event(6, "ma_crossover", "golden_cross")},
	}}

	result, err := suite.run(def, candles, bridge)
	suite.Require().NoError(err)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(types.ExitReasonStopLoss, trade.ExitReason)
	suite.InDelta(98.0, trade.ExitPrice, 1e-9)
	suite.Less(trade.PnL, 0.0)
}

func (suite *BacktestEngineV1TestSuite) TestStopLossBeatsTakeProfitOnSameBar() {
	closes := flatCloses(12, 100)
	candles := makeCandles(closes)

	// Bar 8 sweeps both protective levels; the stop must win.
	candles[8].Low = 90
	candles[8].High = 110

	def := testDefinition()
	def.Risk.StopLossPct = 0.02
	def.Risk.TakeProfitPct = 0.02

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events:       []types.SignalEvent{event(6, "ma_crossover", "golden_cross")},
	}}

	result, err := suite.run(def, candles, bridge)
	suite.Require().NoError(err)
	suite.Require().Len(result.Trades, 1)
	suite.Equal(types.ExitReasonStopLoss, result.Trades[0].ExitReason)
}

func (suite *BacktestEngineV1TestSuite) TestMaxDrawdownKillSwitch() {
	closes := flatCloses(30, 100)
	// A sustained adverse move: equity loss on the open position exceeds 15%
	// of peak equity while the position stays open.
	for i := 10; i < 30; i++ {
		closes[i] = 60
	}

	candles := makeCandles(closes)

	def := testDefinition()
	def.Risk.MaxDrawdownPct = 0.15
	def.Sizing.Value = 1.0

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events: []types.SignalEvent{
			event(6, "ma_crossover", "golden_cross"),
			// A later entry signal that must be suppressed by the kill switch.
			event(20, "ma_crossover", "golden_cross"),
		},
	}}

	result, err := suite.run(def, candles, bridge)
	suite.Require().NoError(err)

	// The breach closes the only position; the bar-20 entry signal is
	// suppressed for the rest of the run.
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(types.ExitReasonRiskTrigger, trade.ExitReason)
	suite.Equal(candles[10].OpenTime, trade.ExitTime)
	suite.Equal(30, result.BarsRun)
	suite.Len(result.EquityCurve, 30)
	suite.False(result.Cancelled)
}

func (suite *BacktestEngineV1TestSuite) TestCancellationReturnsPartialResult() {
	candles := makeCandles(flatCloses(100, 100))

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events:       []types.SignalEvent{event(10, "ma_crossover", "golden_cross")},
	}}

	ctx, cancel := context.WithCancel(context.Background())

	e := NewBacktestEngineV1(DefaultConfig(), bridge, suite.log)
	e.SetRunID("test-run")

	callbacks := engine.LifecycleCallbacks{
		OnProcessData: func(current, total int) error {
			if current == 30 {
				cancel()
			}

			return nil
		},
	}

	result, err := e.Run(ctx, testDefinition(), candles, callbacks)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRunCancelled))

	suite.Require().NotNil(result)
	suite.True(result.Cancelled)
	suite.Equal(30, result.BarsRun)
	suite.Len(result.EquityCurve, 30)

	// The open position from bar 10 was force-closed at the last processed bar.
	suite.Require().Len(result.Trades, 1)
	suite.Equal(types.ExitReasonCancelled, result.Trades[0].ExitReason)
}

func (suite *BacktestEngineV1TestSuite) TestEndOfDataForceClose() {
	candles := makeCandles(flatCloses(15, 100))

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events:       []types.SignalEvent{event(8, "ma_crossover", "golden_cross")},
	}}

	result, err := suite.run(testDefinition(), candles, bridge)
	suite.Require().NoError(err)
	suite.Require().Len(result.Trades, 1)
	suite.Equal(types.ExitReasonTimeExit, result.Trades[0].ExitReason)
	suite.Equal(candles[14].OpenTime, result.Trades[0].ExitTime)
}

func (suite *BacktestEngineV1TestSuite) TestBridgeFailureFailsRun() {
	candles := makeCandles(flatCloses(10, 100))

	bridge := &fakeBridge{err: errors.New(errors.ErrCodeComputeFailed, "module trapped")}

	result, err := suite.run(testDefinition(), candles, bridge)
	suite.Require().Error(err)
	suite.Nil(result)
	suite.True(errors.HasCode(err, errors.ErrCodeComputeFailed))
}

func (suite *BacktestEngineV1TestSuite) TestMalformedCandlesRejected() {
	candles := makeCandles(flatCloses(10, 100))
	candles[4].OpenTime = candles[3].OpenTime

	bridge := &fakeBridge{result: &signal.ComputeResult{LookbackBars: 5}}

	result, err := suite.run(testDefinition(), candles, bridge)
	suite.Require().Error(err)
	suite.Nil(result)
	suite.True(errors.IsDataError(err))
	suite.Equal(0, bridge.calls)
}

func (suite *BacktestEngineV1TestSuite) TestDeterminism() {
	closes := flatCloses(50, 100)
	for i := 20; i < 30; i++ {
		closes[i] = 104
	}

	candles := makeCandles(closes)

	def := testDefinition()
	def.Risk.StopLossPct = 0.03
	def.Risk.TakeProfitPct = 0.03

	events := []types.SignalEvent{
		event(7, "ma_crossover", "golden_cross"),
		event(35, "ma_crossover", "death_cross"),
		event(40, "ma_crossover", "golden_cross"),
	}

	runOnce := func() *types.BacktestResult {
		bridge := &fakeBridge{result: &signal.ComputeResult{LookbackBars: 5, Events: events}}
		result, err := suite.run(def, candles, bridge)
		suite.Require().NoError(err)

		return result
	}

	first := runOnce()
	second := runOnce()

	suite.Equal(first.Trades, second.Trades)
	suite.Equal(first.EquityCurve, second.EquityCurve)
	suite.Equal(first.Metrics, second.Metrics)
	suite.Equal(first.EndCapital, second.EndCapital)
}

func (suite *BacktestEngineV1TestSuite) TestCashConservation() {
	candles := makeCandles(flatCloses(20, 100))

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events: []types.SignalEvent{
			event(6, "ma_crossover", "golden_cross"),
			event(12, "ma_crossover", "death_cross"),
		},
	}}

	config := DefaultConfig()
	config.Broker = "percentage"

	e := NewBacktestEngineV1(config, bridge, suite.log)
	e.SetRunID("test-run")

	result, err := e.Run(context.Background(), testDefinition(), candles, engine.LifecycleCallbacks{})
	suite.Require().NoError(err)

	// Flat price plus fees on both legs: the run must end below start
	// capital by exactly the total P&L delta.
	var netPnL float64
	for _, trade := range result.Trades {
		netPnL += trade.PnL
	}

	suite.InDelta(result.StartCapital+netPnL, result.EndCapital, 1e-6)
	suite.Greater(result.Metrics.TotalFees, 0.0)
}

func (suite *BacktestEngineV1TestSuite) TestOppositeEntryReversesPosition() {
	candles := makeCandles(flatCloses(20, 100))

	def := testDefinition()
	def.ExitRules = nil
	def.EntryRules = append(def.EntryRules,
		strategy.EntryRule{Signal: "ma_crossover", Type: "death_cross", Side: types.SideShort})

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events: []types.SignalEvent{
			event(6, "ma_crossover", "golden_cross"),
			event(12, "ma_crossover", "death_cross"),
		},
	}}

	result, err := suite.run(def, candles, bridge)
	suite.Require().NoError(err)
	suite.Require().Len(result.Trades, 2)

	// The short entry at bar 12 closes the long before opening.
	suite.Equal(types.SideLong, result.Trades[0].Side)
	suite.Equal(types.ExitReasonSignal, result.Trades[0].ExitReason)
	suite.Equal(candles[12].OpenTime, result.Trades[0].ExitTime)

	suite.Equal(types.SideShort, result.Trades[1].Side)
	suite.Equal(types.ExitReasonTimeExit, result.Trades[1].ExitReason)
}

func (suite *BacktestEngineV1TestSuite) TestSecondEntrySignalIgnoredWhilePositionOpen() {
	candles := makeCandles(flatCloses(20, 100))

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events: []types.SignalEvent{
			event(6, "ma_crossover", "golden_cross"),
			// A second same-side entry while the first position is still
			// open must not open or scale anything.
			event(9, "ma_crossover", "golden_cross"),
		},
	}}

	result, err := suite.run(testDefinition(), candles, bridge)
	suite.Require().NoError(err)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal("pos-000001", trade.PositionID)
	suite.Equal(candles[6].OpenTime, trade.EntryTime)
	suite.Equal(types.ExitReasonTimeExit, trade.ExitReason)
}

func (suite *BacktestEngineV1TestSuite) TestScalingBoundedByMaxConcurrentPositions() {
	candles := makeCandles(flatCloses(20, 100))

	def := testDefinition()
	def.ExitRules = nil
	def.Sizing.AllowScaling = true
	def.Sizing.MaxConcurrentPositions = 2

	bridge := &fakeBridge{result: &signal.ComputeResult{
		LookbackBars: 5,
		Events: []types.SignalEvent{
			event(6, "ma_crossover", "golden_cross"),
			event(8, "ma_crossover", "golden_cross"),
			// Third entry exceeds the concurrency bound and is dropped.
			event(10, "ma_crossover", "golden_cross"),
		},
	}}

	result, err := suite.run(def, candles, bridge)
	suite.Require().NoError(err)
	suite.Require().Len(result.Trades, 2)

	suite.Equal("pos-000001", result.Trades[0].PositionID)
	suite.Equal("pos-000002", result.Trades[1].PositionID)
	suite.Equal(candles[6].OpenTime, result.Trades[0].EntryTime)
	suite.Equal(candles[8].OpenTime, result.Trades[1].EntryTime)
}
