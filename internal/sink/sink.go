// Package sink persists finished backtest results.
package sink

import (
	"context"

	"github.com/tradeforge/backtester/internal/types"
)

// ResultSink writes one finished (or partially finished) run result to a
// backing store. Implementations must tolerate being called with a
// cancelled run's partial result.
type ResultSink interface {
	// Write persists the result. The result is immutable; implementations
	// must not modify it.
	Write(ctx context.Context, result *types.BacktestResult) error

	// Close releases the sink's resources.
	Close() error
}
