package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/api"
	"github.com/tradeforge/backtester/internal/backtest/controller"
	"github.com/tradeforge/backtester/internal/datasource"
	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/sink"
)

// serveAction starts the run-controller daemon: a REST surface over a shared
// candle source, a run registry, and a result sink.
func serveAction(ctx context.Context, cmd *cli.Command) error {
	l, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer l.Sync()

	source, err := openSource(cmd.String("data"), l)
	if err != nil {
		return err
	}
	defer source.Close()

	resultSink, err := sink.NewDuckDBSink(cmd.String("db"), cmd.String("output"), l)
	if err != nil {
		return err
	}
	defer resultSink.Close()

	ctrl := controller.NewController(resultSink, l)
	defer ctrl.Close()

	server := api.NewServer(ctrl, source, l)

	httpServer := &http.Server{
		Addr:              cmd.String("listen"),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() {
		l.Info("backtestd listening", zap.String("addr", httpServer.Addr))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	l.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}

// openSource picks the candle source from the --data flag. Polygon is used
// when no file is given and POLYGON_API_KEY is set.
func openSource(path string, l *logger.Logger) (datasource.CandleSource, error) {
	if path == "" {
		return datasource.NewPolygonSource(os.Getenv("POLYGON_API_KEY"), l)
	}

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

func main() {
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "backtestd",
		Usage: "HTTP daemon hosting concurrent backtest runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "HTTP listen address",
				Value: ":8080",
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: "Candle data file (.csv or .parquet); omit to use Polygon with POLYGON_API_KEY",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Result database file (empty for in-memory)",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Results output directory",
				Value: "./results",
			},
		},
		Action: serveAction,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
