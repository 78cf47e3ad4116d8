package datasource

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// PolygonSource fetches aggregate bars from the Polygon REST API.
type PolygonSource struct {
	client *polygon.Client
	log    *logger.Logger
}

// NewPolygonSource creates a source backed by the Polygon REST API.
func NewPolygonSource(apiKey string, log *logger.Logger) (*PolygonSource, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "polygon api key is not set")
	}

	return &PolygonSource{
		client: polygon.New(apiKey),
		log:    log,
	}, nil
}

// aggParams maps a timeframe onto Polygon's multiplier/timespan pair.
func aggParams(timeframe types.Timeframe) (int, models.Timespan, error) {
	switch timeframe {
	case types.Timeframe1m:
		return 1, models.Minute, nil
	case types.Timeframe5m:
		return 5, models.Minute, nil
	case types.Timeframe15m:
		return 15, models.Minute, nil
	case types.Timeframe30m:
		return 30, models.Minute, nil
	case types.Timeframe1h:
		return 1, models.Hour, nil
	case types.Timeframe4h:
		return 4, models.Hour, nil
	case types.Timeframe1d:
		return 1, models.Day, nil
	default:
		return 0, "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported timeframe %q", timeframe)
	}
}

// Fetch implements CandleSource. An unbounded side defaults to a one-year
// window ending now; Polygon requires explicit range bounds.
func (p *PolygonSource) Fetch(ctx context.Context, symbol string, timeframe types.Timeframe,
	from optional.Option[time.Time], to optional.Option[time.Time]) ([]types.Candle, error) {
	multiplier, timespan, err := aggParams(timeframe)
	if err != nil {
		return nil, err
	}

	end := to.TakeOr(time.Now().UTC())
	start := from.TakeOr(end.AddDate(-1, 0, 0))

	params := models.ListAggsParams{
		Ticker:     symbol,
		From:       models.Millis(start),
		To:         models.Millis(end),
		Multiplier: multiplier,
		Timespan:   timespan,
	}

	p.log.Debug("fetching polygon aggregates",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(timeframe)),
		zap.Time("from", start),
		zap.Time("to", end),
	)

	iter := p.client.ListAggs(ctx, &params)

	var candles []types.Candle

	for iter.Next() {
		agg := iter.Item()

		candles = append(candles, types.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  time.Time(agg.Timestamp).UTC(),
			Open:      agg.Open,
			High:      agg.High,
			Low:       agg.Low,
			Close:     agg.Close,
			Volume:    agg.Volume,
		})
	}

	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataFetchFailed, "polygon aggregates request failed", err)
	}

	if err := types.ValidateCandles(candles); err != nil {
		return nil, err
	}

	return candles, nil
}

// Count implements CandleSource by fetching the range and counting it; the
// aggregates API has no dedicated count endpoint.
func (p *PolygonSource) Count(ctx context.Context, symbol string,
	from optional.Option[time.Time], to optional.Option[time.Time]) (int, error) {
	candles, err := p.Fetch(ctx, symbol, types.Timeframe1d, from, to)
	if err != nil {
		return 0, err
	}

	return len(candles), nil
}

// Close implements CandleSource.
func (p *PolygonSource) Close() error {
	return nil
}

var _ CandleSource = (*PolygonSource)(nil)
