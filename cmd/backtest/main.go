package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/tradeforge/backtester/internal/backtest/engine"
	engine_v1 "github.com/tradeforge/backtester/internal/backtest/engine/engine_v1"
	"github.com/tradeforge/backtester/internal/datasource"
	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/signal/wasm"
	"github.com/tradeforge/backtester/internal/sink"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// backtestAction runs one backtest end to end: load the strategy, fetch the
// candles, run the engine with a progress bar, persist and print the result.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	l, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer l.Sync()

	def, err := strategy.LoadFile(cmd.String("strategy"))
	if err != nil {
		return fmt.Errorf("failed to load strategy: %w", err)
	}

	wasmPath := cmd.String("wasm")
	if wasmPath == "" {
		wasmPath = def.ComputeUnit
	}

	if wasmPath == "" {
		return fmt.Errorf("no computation unit: pass --wasm or set compute_unit in the strategy")
	}

	bridge, err := wasm.NewComputeBridge(wasmPath, l)
	if err != nil {
		return fmt.Errorf("failed to load computation unit: %w", err)
	}
	defer bridge.Close(context.Background())

	source, err := openSource(cmd.String("data"), l)
	if err != nil {
		return err
	}
	defer source.Close()

	from := optional.None[time.Time]()
	if start := cmd.Timestamp("start"); !start.IsZero() {
		from = optional.Some(start)
	}

	to := optional.None[time.Time]()
	if end := cmd.Timestamp("end"); !end.IsZero() {
		to = optional.Some(end)
	}

	candles, err := source.Fetch(ctx, cmd.String("symbol"), types.Timeframe(cmd.String("timeframe")), from, to)
	if err != nil {
		return fmt.Errorf("failed to fetch candles: %w", err)
	}

	config := engine_v1.DefaultConfig()
	if configPath := cmd.String("config"); configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read engine config: %w", err)
		}

		config, err = engine_v1.ParseConfig(string(content))
		if err != nil {
			return err
		}
	}

	if capital := cmd.Float("capital"); capital > 0 {
		config.InitialCapital = capital
	}

	resultSink, err := sink.NewDuckDBSink("", cmd.String("output"), l)
	if err != nil {
		return err
	}
	defer resultSink.Close()

	var bar *progressbar.ProgressBar

	callbacks := engine.LifecycleCallbacks{
		OnRunStart: func(runID string, totalBars int) error {
			bar = progressbar.Default(int64(totalBars), "backtesting")

			return nil
		},
		OnProcessData: func(current, total int) error {
			if bar != nil {
				_ = bar.Set(current)
			}

			return nil
		},
	}

	e := engine_v1.NewBacktestEngineV1(config, bridge, l)

	result, runErr := e.Run(ctx, def, candles, callbacks)

	if result == nil {
		return runErr
	}

	// Cancelled runs still produced a partial result worth keeping.
	if runErr != nil && !errors.HasCode(runErr, errors.ErrCodeRunCancelled) {
		return runErr
	}

	if err := resultSink.Write(context.Background(), result); err != nil {
		return err
	}

	printSummary(result)

	return nil
}

// openSource picks the candle source by file extension.
func openSource(path string, l *logger.Logger) (datasource.CandleSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return datasource.NewCSVSource(path, l)
	case ".parquet":
		source, err := datasource.NewDuckDBSource("", l)
		if err != nil {
			return nil, err
		}

		if err := source.Initialize(path); err != nil {
			source.Close()

			return nil, err
		}

		return source, nil
	default:
		return nil, fmt.Errorf("unsupported data file %q: want .csv or .parquet", path)
	}
}

func printSummary(result *types.BacktestResult) {
	status := "completed"
	if result.Cancelled {
		status = fmt.Sprintf("cancelled after %d/%d bars", result.BarsRun, result.BarsTotal)
	}

	fmt.Printf("\nrun %s (%s)\n", result.ID, status)
	fmt.Printf("  strategy:       %s\n", result.StrategyName)
	fmt.Printf("  symbol:         %s %s\n", result.Symbol, result.Timeframe)
	fmt.Printf("  capital:        %.2f -> %.2f\n", result.StartCapital, result.EndCapital)
	fmt.Printf("  trades:         %d (win rate %.1f%%)\n", result.Metrics.TotalTrades, result.Metrics.WinRate*100)
	fmt.Printf("  total pnl:      %.2f (fees %.2f)\n", result.Metrics.TotalPnL, result.Metrics.TotalFees)
	fmt.Printf("  profit factor:  %.2f\n", result.Metrics.ProfitFactor)
	fmt.Printf("  sharpe:         %.2f\n", result.Metrics.SharpeRatio)
	fmt.Printf("  max drawdown:   %.2f (%.1f%%)\n", result.Metrics.MaxDrawdown, result.Metrics.MaxDrawdownPct*100)
}

func main() {
	// Missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Run one backtest against historical candles",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "strategy",
				Aliases:  []string{"s"},
				Usage:    "Path to the strategy definition YAML",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "wasm",
				Usage: "Path to the strategy computation unit (defaults to the definition's compute_unit)",
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Candle data file (.csv or .parquet)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "symbol",
				Usage:    "Symbol to backtest",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "timeframe",
				Usage: "Candle timeframe (1m, 5m, 15m, 30m, 1h, 4h, 1d)",
				Value: "1h",
			},
			&cli.TimestampFlag{
				Name:  "start",
				Usage: "Start date in `YYYY-MM-DD` format",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02", time.RFC3339},
				},
			},
			&cli.TimestampFlag{
				Name:  "end",
				Usage: "End date in `YYYY-MM-DD` format",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02", time.RFC3339},
				},
			},
			&cli.FloatFlag{
				Name:  "capital",
				Usage: "Initial capital (overrides the engine config)",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Engine config YAML",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Results output directory",
				Value:   "./results",
			},
		},
		Action: backtestAction,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
