// Package datasource provides candle sources for backtest runs. A source
// produces a validated, time-ordered candle sequence for one symbol and
// timeframe; it never retries or pages on behalf of the engine.
package datasource

import (
	"context"
	"time"

	"github.com/moznion/go-optional"

	"github.com/tradeforge/backtester/internal/types"
)

// CandleSource fetches candles for one symbol and timeframe. From and to
// bound the candle open times inclusively; None leaves that side unbounded.
type CandleSource interface {
	Fetch(ctx context.Context, symbol string, timeframe types.Timeframe,
		from optional.Option[time.Time], to optional.Option[time.Time]) ([]types.Candle, error)

	// Count returns how many candles Fetch would produce for the range.
	Count(ctx context.Context, symbol string,
		from optional.Option[time.Time], to optional.Option[time.Time]) (int, error)

	// Close releases the source's resources.
	Close() error
}
