package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// DuckDBSource serves candles from a parquet file through an in-process
// DuckDB view. The parquet schema is the one the download tooling writes:
// time, symbol, open, high, low, close, volume.
type DuckDBSource struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// NewDuckDBSource opens a DuckDB database at the given path. An empty path
// opens an in-memory database.
func NewDuckDBSource(path string, log *logger.Logger) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataFetchFailed, "failed to open duckdb", err)
	}

	return &DuckDBSource{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Initialize points the candles view at a parquet file. Calling it again
// replaces the view.
func (d *DuckDBSource) Initialize(parquetPath string) error {
	d.log.Debug("initializing duckdb candle source", zap.String("path", parquetPath))

	if _, err := d.db.Exec(`DROP VIEW IF EXISTS candles;`); err != nil {
		return errors.Wrap(errors.ErrCodeDataFetchFailed, "failed to drop candles view", err)
	}

	// CREATE VIEW has no placeholder support; the path is interpolated.
	query := fmt.Sprintf(`CREATE VIEW candles AS SELECT * FROM read_parquet('%s');`, parquetPath)
	if _, err := d.db.Exec(query); err != nil {
		return errors.Wrap(errors.ErrCodeDataFetchFailed, "failed to create candles view", err)
	}

	return nil
}

// Fetch implements CandleSource.
func (d *DuckDBSource) Fetch(ctx context.Context, symbol string, timeframe types.Timeframe,
	from optional.Option[time.Time], to optional.Option[time.Time]) ([]types.Candle, error) {
	query := d.sq.
		Select("time", "symbol", "open", "high", "low", "close", "volume").
		From("candles").
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("time ASC")

	if start, err := from.Take(); err == nil {
		query = query.Where(squirrel.GtOrEq{"time": start})
	}

	if end, err := to.Take(); err == nil {
		query = query.Where(squirrel.LtOrEq{"time": end})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataFetchFailed, "failed to build candle query", err)
	}

	rows, err := d.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataFetchFailed, "candle query failed", err)
	}
	defer rows.Close()

	var candles []types.Candle

	for rows.Next() {
		var candle types.Candle
		if err := rows.Scan(&candle.OpenTime, &candle.Symbol,
			&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDataParseFailed, "failed to scan candle row", err)
		}

		candle.OpenTime = candle.OpenTime.UTC()
		candle.Timeframe = timeframe
		candles = append(candles, candle)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataFetchFailed, "candle row iteration failed", err)
	}

	if err := types.ValidateCandles(candles); err != nil {
		return nil, err
	}

	return candles, nil
}

// Count implements CandleSource.
func (d *DuckDBSource) Count(ctx context.Context, symbol string,
	from optional.Option[time.Time], to optional.Option[time.Time]) (int, error) {
	query := d.sq.
		Select("COUNT(*)").
		From("candles").
		Where(squirrel.Eq{"symbol": symbol})

	if start, err := from.Take(); err == nil {
		query = query.Where(squirrel.GtOrEq{"time": start})
	}

	if end, err := to.Take(); err == nil {
		query = query.Where(squirrel.LtOrEq{"time": end})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeDataFetchFailed, "failed to build count query", err)
	}

	var count int
	if err := d.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeDataFetchFailed, "candle count failed", err)
	}

	return count, nil
}

// Close implements CandleSource.
func (d *DuckDBSource) Close() error {
	return d.db.Close()
}

var _ CandleSource = (*DuckDBSource)(nil)
