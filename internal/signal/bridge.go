package signal

import (
	"context"

	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// ComputeResult is the complete output of one bulk computation call:
// every indicator series and every signal event for the whole candle
// sequence, tagged by bar index.
type ComputeResult struct {
	// LookbackBars is the computation unit's declared warm-up window. The
	// engine trims signal evaluation to bars at or beyond this window.
	LookbackBars int `json:"lookback_bars"`
	// IndicatorSeries maps indicator name to a per-bar value series. Every
	// series has exactly one value per candle; warm-up bars carry NaN or 0
	// as the unit sees fit.
	IndicatorSeries map[string][]float64 `json:"indicator_series"`
	// Events are the signal events for the whole run, in bar order.
	Events []types.SignalEvent `json:"events"`
}

// Bridge invokes the strategy-authored computation unit. The call is made
// exactly once per backtest run with the full candle sequence; per-bar
// invocation is a correctness-and-performance defect this contract forbids.
type Bridge interface {
	Compute(ctx context.Context, def *strategy.Definition, candles []types.Candle) (*ComputeResult, error)
}

// ValidateResult checks a compute result against the engine's schema. Any
// violation rejects the whole result; a partially trusted signal set would
// silently corrupt downstream trading decisions.
func ValidateResult(result *ComputeResult, numCandles int) error {
	if result == nil {
		return errors.New(errors.ErrCodeComputeBadSchema, "compute result is nil")
	}

	if result.LookbackBars < 0 || result.LookbackBars >= numCandles {
		return errors.Newf(errors.ErrCodeComputeBadLookback,
			"lookback %d out of range for %d candles", result.LookbackBars, numCandles)
	}

	for name, series := range result.IndicatorSeries {
		if len(series) != numCandles {
			return errors.Newf(errors.ErrCodeComputeBadSchema,
				"indicator series %q has %d values, expected %d", name, len(series), numCandles)
		}
	}

	lastIndex := -1

	for i, event := range result.Events {
		if event.Name == "" {
			return errors.Newf(errors.ErrCodeComputeBadSchema, "event %d is missing a signal name", i)
		}

		if event.BarIndex < 0 || event.BarIndex >= numCandles {
			return errors.Newf(errors.ErrCodeComputeBadEventIndex,
				"event %d has bar index %d, valid range is [0, %d)", i, event.BarIndex, numCandles)
		}

		if event.BarIndex < lastIndex {
			return errors.Newf(errors.ErrCodeComputeBadEventIndex,
				"event %d at bar %d is out of order", i, event.BarIndex)
		}

		lastIndex = event.BarIndex
	}

	return nil
}

// EventsByBar groups the result's events by bar index for O(1) per-bar
// lookup in the engine loop.
func (r *ComputeResult) EventsByBar() map[int][]types.SignalEvent {
	byBar := make(map[int][]types.SignalEvent, len(r.Events))
	for _, event := range r.Events {
		byBar[event.BarIndex] = append(byBar[event.BarIndex], event)
	}

	return byBar
}
