package datasource

import (
	"context"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/moznion/go-optional"

	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// csvRow is one candle line in a CSV export. Times are RFC 3339.
type csvRow struct {
	Time   string  `csv:"time"`
	Symbol string  `csv:"symbol"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

// CSVSource reads the whole file once at construction and serves slices of
// it. Suited to small fixture files and local experiments.
type CSVSource struct {
	rows []csvRow
	log  *logger.Logger
}

// NewCSVSource loads candles from a CSV file.
func NewCSVSource(path string, log *logger.Logger) (*CSVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataFetchFailed, "failed to open csv file", err)
	}
	defer file.Close()

	var rows []csvRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataParseFailed, "failed to parse csv candles", err)
	}

	return &CSVSource{rows: rows, log: log}, nil
}

// Fetch implements CandleSource.
func (c *CSVSource) Fetch(ctx context.Context, symbol string, timeframe types.Timeframe,
	from optional.Option[time.Time], to optional.Option[time.Time]) ([]types.Candle, error) {
	start, startErr := from.Take()
	end, endErr := to.Take()

	var candles []types.Candle

	for _, row := range c.rows {
		if row.Symbol != symbol {
			continue
		}

		openTime, err := time.Parse(time.RFC3339, row.Time)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeDataParseFailed, err, "bad candle time %q", row.Time)
		}

		openTime = openTime.UTC()

		if startErr == nil && openTime.Before(start) {
			continue
		}

		if endErr == nil && openTime.After(end) {
			continue
		}

		candles = append(candles, types.Candle{
			Symbol:    row.Symbol,
			Timeframe: timeframe,
			OpenTime:  openTime,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}

	if err := types.ValidateCandles(candles); err != nil {
		return nil, err
	}

	return candles, nil
}

// Count implements CandleSource.
func (c *CSVSource) Count(ctx context.Context, symbol string,
	from optional.Option[time.Time], to optional.Option[time.Time]) (int, error) {
	start, startErr := from.Take()
	end, endErr := to.Take()

	count := 0

	for _, row := range c.rows {
		if row.Symbol != symbol {
			continue
		}

		openTime, err := time.Parse(time.RFC3339, row.Time)
		if err != nil {
			return 0, errors.Wrapf(errors.ErrCodeDataParseFailed, err, "bad candle time %q", row.Time)
		}

		if startErr == nil && openTime.UTC().Before(start) {
			continue
		}

		if endErr == nil && openTime.UTC().After(end) {
			continue
		}

		count++
	}

	return count, nil
}

// Close implements CandleSource.
func (c *CSVSource) Close() error {
	return nil
}

var _ CandleSource = (*CSVSource)(nil)
