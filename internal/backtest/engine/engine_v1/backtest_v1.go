package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/backtest/engine"
	"github.com/tradeforge/backtester/internal/backtest/engine/engine_v1/commission"
	"github.com/tradeforge/backtester/internal/backtest/engine/engine_v1/stats"
	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/signal"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// BacktestEngineV1 is the reference engine implementation. One instance
// executes one run at a time; concurrent runs each get their own instance
// and therefore never share portfolio state.
type BacktestEngineV1 struct {
	config Config
	bridge signal.Bridge
	log    *logger.Logger

	// runID, when set, overrides the generated run identifier. The
	// controller sets it so engine and registry agree on the ID.
	runID string
}

// NewBacktestEngineV1 creates an engine with the given run config and
// signal computation bridge.
func NewBacktestEngineV1(config Config, bridge signal.Bridge, log *logger.Logger) *BacktestEngineV1 {
	return &BacktestEngineV1{
		config: config,
		bridge: bridge,
		log:    log,
		runID:  "",
	}
}

// SetRunID fixes the run identifier instead of generating one.
func (e *BacktestEngineV1) SetRunID(id string) {
	e.runID = id
}

// Run implements engine.Engine.
func (e *BacktestEngineV1) Run(ctx context.Context, def *strategy.Definition,
	candles []types.Candle, callbacks engine.LifecycleCallbacks) (*types.BacktestResult, error) {
	runID := e.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	finish := func(status types.RunStatus) {
		if callbacks.OnRunEnd != nil {
			callbacks.OnRunEnd(runID, status)
		}
	}

	if err := def.Validate(); err != nil {
		finish(types.RunStatusFailed)

		return nil, err
	}

	if err := types.ValidateCandles(candles); err != nil {
		finish(types.RunStatusFailed)

		return nil, err
	}

	if timeout, err := e.config.RunTimeout.Take(); err == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if callbacks.OnRunStart != nil {
		if err := callbacks.OnRunStart(runID, len(candles)); err != nil {
			finish(types.RunStatusFailed)

			return nil, err
		}
	}

	run := newRunState(runID, e.config, def, candles, e.log)

	// The single bulk computation call. Everything the strategy wants to say
	// about this candle sequence arrives here; the per-bar loop below never
	// leaves the process again.
	computed, err := e.compute(ctx, def, candles)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.GetCode(err) != errors.ErrCodeComputeTimeout {
			// Cancelled mid-computation. The bridge has already torn down the
			// module; report a partial (empty) result.
			result := run.buildResult(true)
			finish(types.RunStatusCancelled)

			return result, errors.Wrap(errors.ErrCodeRunCancelled, "run cancelled during signal computation", ctxErr)
		}

		finish(types.RunStatusFailed)

		return nil, err
	}

	lookback := def.LookbackBars
	if computed.LookbackBars > lookback {
		lookback = computed.LookbackBars
	}

	eventsByBar := computed.EventsByBar()

	e.log.Info("starting backtest loop",
		zap.String("run_id", runID),
		zap.Int("bars", len(candles)),
		zap.Int("lookback", lookback),
		zap.Int("events", len(computed.Events)),
	)

	for i := range candles {
		// Bar boundaries are the only cancellation points inside the loop.
		if err := ctx.Err(); err != nil {
			run.forceCloseAtLastBar(types.ExitReasonCancelled)
			result := run.buildResult(true)
			finish(types.RunStatusCancelled)

			return result, errors.Wrap(errors.ErrCodeRunCancelled, "run cancelled", err)
		}

		run.processBar(i, eventsByBar[i], lookback)

		if callbacks.OnProcessData != nil {
			if err := callbacks.OnProcessData(i+1, len(candles)); err != nil {
				finish(types.RunStatusFailed)

				return nil, err
			}
		}
	}

	run.closeRemaining()

	result := run.buildResult(false)
	finish(types.RunStatusCompleted)

	e.log.Info("backtest finished",
		zap.String("run_id", runID),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("end_capital", result.EndCapital),
	)

	return result, nil
}

// compute makes the bulk bridge call under the configured timeout and
// validates the returned signal set.
func (e *BacktestEngineV1) compute(ctx context.Context, def *strategy.Definition,
	candles []types.Candle) (*signal.ComputeResult, error) {
	computeCtx := ctx

	if timeout, err := e.config.ComputeTimeout.Take(); err == nil {
		var cancel context.CancelFunc
		computeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := e.bridge.Compute(computeCtx, def, candles)
	if err != nil {
		return nil, err
	}

	if err := signal.ValidateResult(result, len(candles)); err != nil {
		return nil, err
	}

	return result, nil
}

// runState is the per-run mutable simulation state.
type runState struct {
	def       *strategy.Definition
	candles   []types.Candle
	symbol    string
	portfolio *Portfolio
	positions *PositionManager
	processor *SignalProcessor
	risk      *RiskManager
	log       *logger.Logger

	runID   string
	config  Config
	barsRun int
}

func newRunState(runID string, config Config, def *strategy.Definition,
	candles []types.Candle, log *logger.Logger) *runState {
	symbol := ""
	if len(candles) > 0 {
		symbol = candles[0].Symbol
	}

	return &runState{
		def:       def,
		candles:   candles,
		symbol:    symbol,
		portfolio: NewPortfolio(config.InitialCapital),
		positions: NewPositionManager(commission.ForBroker(config.Broker), config.DecimalPrecision, log),
		processor: NewSignalProcessor(log),
		risk:      NewRiskManager(def.Risk, config.InitialCapital, log),
		log:       log,
		runID:     runID,
		config:    config,
		barsRun:   0,
	}
}

// processBar runs one bar through the fixed pipeline: mark to market, risk
// assessment with forced exits, protective stop scan, signal-driven exits
// before entries, then one equity point.
func (s *runState) processBar(i int, events []types.SignalEvent, lookback int) {
	bar := s.candles[i]
	price := bar.Close

	s.positions.MarkToMarket(s.portfolio, price)
	equity := s.portfolio.Equity(price)

	assessment := s.risk.Observe(bar.OpenTime, equity)

	if assessment.ForceClose {
		s.positions.CloseAll(s.portfolio, s.symbol, price, bar.OpenTime, types.ExitReasonRiskTrigger)
	}

	for _, hit := range s.positions.CheckProtectiveStops(s.portfolio, s.symbol, bar) {
		s.positions.Close(s.portfolio, hit.position, hit.exitPrice, bar.OpenTime, hit.reason)
	}

	// Warm-up bars feed indicator state only; they are not eligible for
	// trading decisions.
	if i >= lookback {
		exits, entries := s.processor.Process(s.def, i, events)

		if len(exits) > 0 {
			s.positions.CloseAll(s.portfolio, s.symbol, price, bar.OpenTime, types.ExitReasonSignal)
		}

		for _, intent := range entries {
			s.applyEntry(intent, i, bar, price)
		}
	}

	s.recordEquity(i, bar)
	s.barsRun = i + 1
}

// applyEntry sizes and gates one entry intent. Rejections are silent from
// the run's perspective; the bar simply produces no position.
func (s *runState) applyEntry(intent types.TradeIntent, i int, bar types.Candle, price float64) {
	// An entry signal against the open direction is a reversal: close
	// everything first, then size the new side from the settled equity.
	for _, position := range s.portfolio.Positions(s.symbol) {
		if position.Side != intent.Side {
			s.positions.CloseAll(s.portfolio, s.symbol, price, bar.OpenTime, types.ExitReasonSignal)
			break
		}
	}

	if s.portfolio.OpenPositionCount(s.symbol) >= s.def.MaxConcurrent() {
		return
	}

	size, err := s.positions.Size(s.portfolio, s.def.Sizing, price, s.portfolio.Equity(price))
	if err != nil || size <= 0 {
		return
	}

	if !s.risk.AllowEntry(size*price, s.portfolio.Equity(price)) {
		s.log.Debug("entry rejected",
			zap.String("run_id", s.runID),
			zap.Int("bar", i),
			zap.String("reason", intent.Reason),
		)

		return
	}

	if _, err := s.positions.Open(s.portfolio, s.symbol, intent.Side, size,
		price, i, bar.OpenTime, s.def.Risk); err != nil {
		s.log.Warn("entry failed", zap.Error(err))
	}
}

func (s *runState) recordEquity(i int, bar types.Candle) {
	s.portfolio.RecordEquityPoint(types.EquityPoint{
		BarIndex: i,
		Time:     bar.OpenTime,
		Cash:     s.portfolio.Cash(),
		Equity:   s.portfolio.Equity(bar.Close),
	})
}

// forceCloseAtLastBar closes any still-open positions at the last processed
// bar's close. Used on cancellation so the partial result carries fully
// realized trades.
func (s *runState) forceCloseAtLastBar(reason types.ExitReason) {
	if s.barsRun == 0 {
		return
	}

	last := s.candles[s.barsRun-1]
	s.positions.CloseAll(s.portfolio, s.symbol, last.Close, last.OpenTime, reason)
}

// closeRemaining force-closes open positions at the final processed bar so
// every completed run yields fully realized trades.
func (s *runState) closeRemaining() {
	if s.barsRun == 0 {
		return
	}

	last := s.candles[s.barsRun-1]
	s.positions.CloseAll(s.portfolio, s.symbol, last.Close, last.OpenTime, types.ExitReasonTimeExit)
}

// buildResult snapshots the run into an immutable result record.
func (s *runState) buildResult(cancelled bool) *types.BacktestResult {
	var timeframe types.Timeframe
	if len(s.candles) > 0 {
		timeframe = s.candles[0].Timeframe
	}

	trades := s.portfolio.Trades()
	curve := s.portfolio.EquityCurve()

	endCapital := s.config.InitialCapital
	if len(curve) > 0 {
		endCapital = curve[len(curve)-1].Equity
	}

	// The final equity point predates any end-of-run forced close fees, so
	// recompute from cash once everything is flat.
	if len(s.portfolio.AllPositions()) == 0 {
		endCapital = s.portfolio.Cash()
	}

	return &types.BacktestResult{
		ID:           s.runID,
		StrategyName: s.def.Name,
		Symbol:       s.symbol,
		Timeframe:    timeframe,
		StartCapital: s.config.InitialCapital,
		EndCapital:   endCapital,
		Cancelled:    cancelled,
		BarsTotal:    len(s.candles),
		BarsRun:      s.barsRun,
		Trades:       trades,
		EquityCurve:  curve,
		Metrics:      stats.Summarize(trades, curve, timeframe),
	}
}

var _ engine.Engine = (*BacktestEngineV1)(nil)
