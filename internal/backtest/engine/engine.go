package engine

import (
	"context"

	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
)

// Lifecycle callback types for backtest phases.
// Callbacks with an error return can abort execution by returning an error.

// OnRunStartCallback is called once after input validation, before the bulk
// signal computation. totalBars is the number of bars the run will process.
type OnRunStartCallback func(runID string, totalBars int) error

// OnProcessDataCallback is called for each bar processed.
type OnProcessDataCallback func(current int, total int) error

// OnRunEndCallback is called when the run finishes, with the terminal status.
type OnRunEndCallback func(runID string, status types.RunStatus)

// LifecycleCallbacks holds all lifecycle callback functions for the backtest
// engine. Nil fields are not invoked.
type LifecycleCallbacks struct {
	OnRunStart    OnRunStartCallback
	OnProcessData OnProcessDataCallback
	OnRunEnd      OnRunEndCallback
}

// Engine executes one backtest run: a validated strategy definition plus a
// time-ordered candle sequence in, a deterministic result out. A run owns its
// portfolio state exclusively; concurrent runs never share mutable state.
type Engine interface {
	// Run executes the simulation. Cancellation is cooperative through ctx:
	// the engine checks at bar boundaries and returns a partial result
	// flagged cancelled, alongside a cancellation error.
	Run(ctx context.Context, def *strategy.Definition, candles []types.Candle, callbacks LifecycleCallbacks) (*types.BacktestResult, error)
}
