package types

import (
	"time"

	"github.com/tradeforge/backtester/pkg/errors"
)

// Timeframe is the fixed bar interval of a candle series.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the bar interval as a time.Duration.
// Unknown timeframes default to one hour.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// PeriodsPerYear returns the implied sampling frequency of the timeframe,
// used to annualize per-bar return statistics.
func (t Timeframe) PeriodsPerYear() float64 {
	const hoursPerYear = 365 * 24

	return hoursPerYear / t.Duration().Hours()
}

// Candle is one OHLC price observation for a fixed time interval.
// Candles are immutable once produced and totally ordered by OpenTime
// within a symbol/timeframe.
type Candle struct {
	Symbol    string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Timeframe Timeframe `yaml:"timeframe" json:"timeframe" csv:"timeframe"`
	OpenTime  time.Time `yaml:"open_time" json:"open_time" csv:"open_time"`
	Open      float64   `yaml:"open" json:"open" csv:"open"`
	High      float64   `yaml:"high" json:"high" csv:"high"`
	Low       float64   `yaml:"low" json:"low" csv:"low"`
	Close     float64   `yaml:"close" json:"close" csv:"close"`
	Volume    float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// ValidateCandles checks the engine's input invariant: a non-empty series
// belonging to a single symbol and timeframe, with strictly increasing open
// times. Any violation is a data error and fails the run before the first bar.
func ValidateCandles(candles []Candle) error {
	if len(candles) == 0 {
		return errors.New(errors.ErrCodeEmptyCandles, "candle series is empty")
	}

	symbol := candles[0].Symbol
	timeframe := candles[0].Timeframe

	for i, candle := range candles {
		if candle.Symbol != symbol {
			return errors.Newf(errors.ErrCodeMixedSymbols,
				"candle %d has symbol %q, expected %q", i, candle.Symbol, symbol)
		}

		if candle.Timeframe != timeframe {
			return errors.Newf(errors.ErrCodeMixedTimeframes,
				"candle %d has timeframe %q, expected %q", i, candle.Timeframe, timeframe)
		}

		if i == 0 {
			continue
		}

		if candle.OpenTime.Equal(candles[i-1].OpenTime) {
			return errors.Newf(errors.ErrCodeDuplicateTimestamp,
				"candle %d duplicates open time %s", i, candle.OpenTime)
		}

		if candle.OpenTime.Before(candles[i-1].OpenTime) {
			return errors.Newf(errors.ErrCodeUnsortedCandles,
				"candle %d open time %s precedes candle %d", i, candle.OpenTime, i-1)
		}
	}

	return nil
}
