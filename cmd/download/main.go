package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/marcboeker/go-duckdb"
	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/tradeforge/backtester/internal/types"
)

// downloadAction fetches aggregate bars from Polygon and writes them as a
// parquet file in the schema the backtest candle source reads: time, symbol,
// open, high, low, close, volume.
func downloadAction(ctx context.Context, cmd *cli.Command) error {
	apiKey := os.Getenv("POLYGON_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("POLYGON_API_KEY is not set")
	}

	symbol := cmd.String("symbol")
	timeframe := types.Timeframe(cmd.String("timeframe"))
	start := cmd.Timestamp("start")
	end := cmd.Timestamp("end")
	outDir := cmd.String("output")

	multiplier, timespan, err := polygonParams(timeframe)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(outDir, fmt.Sprintf("%s_%s_%s_%s.parquet",
		symbol, timeframe, start.Format("2006-01-02"), end.Format("2006-01-02")))

	// Stage rows in an in-memory DuckDB table, then export once.
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE candles (
			time TIMESTAMP,
			symbol TEXT,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO candles VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()

		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	client := polygon.New(apiKey)

	totalDays := int(end.Sub(start).Hours()/24) + 1
	bar := progressbar.Default(int64(totalDays), "downloading")

	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			tx.Rollback()

			return err
		}

		params := models.ListAggsParams{
			Ticker:     symbol,
			From:       models.Millis(date),
			To:         models.Millis(date.Add(24*time.Hour - time.Second)),
			Multiplier: multiplier,
			Timespan:   timespan,
		}

		iter := client.ListAggs(ctx, &params)

		for iter.Next() {
			agg := iter.Item()

			_, err := stmt.Exec(time.Time(agg.Timestamp).UTC(), symbol,
				agg.Open, agg.High, agg.Low, agg.Close, agg.Volume)
			if err != nil {
				tx.Rollback()

				return fmt.Errorf("failed to insert candle: %w", err)
			}
		}

		if err := iter.Err(); err != nil {
			tx.Rollback()

			return fmt.Errorf("polygon request failed: %w", err)
		}

		_ = bar.Add(1)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit staged candles: %w", err)
	}

	_, err = db.Exec(fmt.Sprintf(`COPY (SELECT * FROM candles ORDER BY time) TO '%s' (FORMAT PARQUET)`, outputPath))
	if err != nil {
		return fmt.Errorf("failed to export parquet: %w", err)
	}

	log.Printf("wrote %s", outputPath)

	return nil
}

func polygonParams(timeframe types.Timeframe) (int, models.Timespan, error) {
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
		return 0, "", fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}

func main() {
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "download",
		Usage: "Download historical candles into parquet for backtesting",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "symbol",
				Aliases:  []string{"s"},
				Usage:    "Ticker symbol",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "timeframe",
				Usage: "Candle timeframe (1m, 5m, 15m, 30m, 1h, 4h, 1d)",
				Value: "1h",
			},
			&cli.TimestampFlag{
				Name:     "start",
				Usage:    "Start date in `YYYY-MM-DD` format",
				Required: true,
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.TimestampFlag{
				Name:  "end",
				Usage: "End date in `YYYY-MM-DD` format",
				Value: time.Now(),
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output directory",
				Value:   "./data",
			},
		},
		Action: downloadAction,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
