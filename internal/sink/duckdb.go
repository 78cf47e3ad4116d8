package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// DuckDBSink persists run results into an in-process DuckDB database and
// exports each run's trades and equity curve as parquet files, with the
// metrics alongside as YAML.
type DuckDBSink struct {
	db        *sql.DB
	sq        squirrel.StatementBuilderType
	log       *logger.Logger
	outputDir string
	mu        sync.Mutex
}

// NewDuckDBSink opens the sink database at path (empty for in-memory) and
// creates the result tables. Exports land under outputDir/<run-id>/.
func NewDuckDBSink(path string, outputDir string, log *logger.Logger) (*DuckDBSink, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSinkFailed, "failed to create output directory", err)
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSinkFailed, "failed to open duckdb", err)
	}

	sink := &DuckDBSink{
		db:        db,
		sq:        squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		log:       log,
		outputDir: outputDir,
	}

	if err := sink.createTables(); err != nil {
		db.Close()

		return nil, err
	}

	return sink, nil
}

func (s *DuckDBSink) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			strategy_name TEXT,
			symbol TEXT,
			timeframe TEXT,
			start_capital DOUBLE,
			end_capital DOUBLE,
			cancelled BOOLEAN,
			bars_total INTEGER,
			bars_run INTEGER,
			total_pnl DOUBLE,
			sharpe_ratio DOUBLE,
			max_drawdown_pct DOUBLE
		);

		CREATE TABLE IF NOT EXISTS trades (
			run_id TEXT,
			id TEXT,
			position_id TEXT,
			symbol TEXT,
			side TEXT,
			entry_price DOUBLE,
			exit_price DOUBLE,
			entry_time TIMESTAMP,
			exit_time TIMESTAMP,
			size DOUBLE,
			commission DOUBLE,
			pnl DOUBLE,
			pnl_pct DOUBLE,
			exit_reason TEXT
		);

		CREATE TABLE IF NOT EXISTS equity_curve (
			run_id TEXT,
			bar_index INTEGER,
			time TIMESTAMP,
			cash DOUBLE,
			equity DOUBLE
		);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to create result tables", err)
	}

	return nil
}

// Write implements ResultSink.
func (s *DuckDBSink) Write(ctx context.Context, result *types.BacktestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertRun(ctx, result); err != nil {
		return err
	}

	if err := s.insertTrades(ctx, result); err != nil {
		return err
	}

	if err := s.insertEquityCurve(ctx, result); err != nil {
		return err
	}

	if err := s.export(result); err != nil {
		return err
	}

	s.log.Info("result persisted",
		zap.String("run_id", result.ID),
		zap.Int("trades", len(result.Trades)),
		zap.String("output_dir", filepath.Join(s.outputDir, result.ID)),
	)

	return nil
}

func (s *DuckDBSink) insertRun(ctx context.Context, result *types.BacktestResult) error {
	query := s.sq.
		Insert("runs").
		Columns("id", "strategy_name", "symbol", "timeframe", "start_capital", "end_capital",
			"cancelled", "bars_total", "bars_run", "total_pnl", "sharpe_ratio", "max_drawdown_pct").
		Values(result.ID, result.StrategyName, result.Symbol, string(result.Timeframe),
			result.StartCapital, result.EndCapital, result.Cancelled, result.BarsTotal,
			result.BarsRun, result.Metrics.TotalPnL, result.Metrics.SharpeRatio,
			result.Metrics.MaxDrawdownPct)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to build run insert", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to insert run", err)
	}

	return nil
}

func (s *DuckDBSink) insertTrades(ctx context.Context, result *types.BacktestResult) error {
	if len(result.Trades) == 0 {
		return nil
	}

	query := s.sq.
		Insert("trades").
		Columns("run_id", "id", "position_id", "symbol", "side", "entry_price", "exit_price",
			"entry_time", "exit_time", "size", "commission", "pnl", "pnl_pct", "exit_reason")

	for _, trade := range result.Trades {
		query = query.Values(result.ID, trade.ID, trade.PositionID, trade.Symbol,
			string(trade.Side), trade.EntryPrice, trade.ExitPrice, trade.EntryTime,
			trade.ExitTime, trade.Size, trade.Commission, trade.PnL, trade.PnLPct,
			string(trade.ExitReason))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to build trade insert", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to insert trades", err)
	}

	return nil
}

func (s *DuckDBSink) insertEquityCurve(ctx context.Context, result *types.BacktestResult) error {
	if len(result.EquityCurve) == 0 {
		return nil
	}

	query := s.sq.
		Insert("equity_curve").
		Columns("run_id", "bar_index", "time", "cash", "equity")

	for _, point := range result.EquityCurve {
		query = query.Values(result.ID, point.BarIndex, point.Time, point.Cash, point.Equity)
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to build equity insert", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to insert equity curve", err)
	}

	return nil
}

// export writes the run's trades and equity curve as parquet and its
// metrics as YAML under outputDir/<run-id>/.
func (s *DuckDBSink) export(result *types.BacktestResult) error {
	runDir := filepath.Join(s.outputDir, result.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to create run output directory", err)
	}

	tradesPath := filepath.Join(runDir, "trades.parquet")

	_, err := s.db.Exec(fmt.Sprintf(
		`COPY (SELECT * FROM trades WHERE run_id = '%s') TO '%s' (FORMAT PARQUET)`,
		result.ID, tradesPath))
	if err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to export trades parquet", err)
	}

	equityPath := filepath.Join(runDir, "equity_curve.parquet")

	_, err = s.db.Exec(fmt.Sprintf(
		`COPY (SELECT * FROM equity_curve WHERE run_id = '%s') TO '%s' (FORMAT PARQUET)`,
		result.ID, equityPath))
	if err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to export equity parquet", err)
	}

	metricsPath := filepath.Join(runDir, "metrics.yaml")
	if err := types.WriteMetrics(metricsPath, result.Metrics); err != nil {
		return errors.Wrap(errors.ErrCodeSinkFailed, "failed to write metrics yaml", err)
	}

	return nil
}

// Runs lists persisted run IDs, most recent rows last.
func (s *DuckDBSink) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSinkFailed, "failed to list runs", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(errors.ErrCodeSinkFailed, "failed to scan run id", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Close implements ResultSink.
func (s *DuckDBSink) Close() error {
	return s.db.Close()
}

var _ ResultSink = (*DuckDBSink)(nil)
