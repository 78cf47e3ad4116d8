package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunStatus is the externally visible lifecycle state of a backtest run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// EquityPoint is one mark-to-market valuation of the portfolio, recorded
// once per bar after all of the bar's trading activity.
type EquityPoint struct {
	BarIndex int       `yaml:"bar_index" json:"bar_index" csv:"bar_index"`
	Time     time.Time `yaml:"time" json:"time" csv:"time"`
	Cash     float64   `yaml:"cash" json:"cash" csv:"cash"`
	Equity   float64   `yaml:"equity" json:"equity" csv:"equity"`
}

// Metrics summarizes a run's trade list and equity curve.
type Metrics struct {
	TotalTrades    int     `yaml:"total_trades" json:"total_trades"`
	WinningTrades  int     `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades   int     `yaml:"losing_trades" json:"losing_trades"`
	WinRate        float64 `yaml:"win_rate" json:"win_rate"`
	ProfitFactor   float64 `yaml:"profit_factor" json:"profit_factor"`
	SharpeRatio    float64 `yaml:"sharpe_ratio" json:"sharpe_ratio"`
	MaxDrawdown    float64 `yaml:"max_drawdown" json:"max_drawdown"`
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	TotalPnL       float64 `yaml:"total_pnl" json:"total_pnl"`
	TotalFees      float64 `yaml:"total_fees" json:"total_fees"`
}

// BacktestResult is the complete output of one run. It is created once at
// run completion (or partial completion on cancellation) and immutable
// thereafter.
type BacktestResult struct {
	ID           string        `yaml:"id" json:"id"`
	StrategyName string        `yaml:"strategy_name" json:"strategy_name"`
	Symbol       string        `yaml:"symbol" json:"symbol"`
	Timeframe    Timeframe     `yaml:"timeframe" json:"timeframe"`
	StartCapital float64       `yaml:"start_capital" json:"start_capital"`
	EndCapital   float64       `yaml:"end_capital" json:"end_capital"`
	Cancelled    bool          `yaml:"cancelled" json:"cancelled"`
	BarsTotal    int           `yaml:"bars_total" json:"bars_total"`
	BarsRun      int           `yaml:"bars_run" json:"bars_run"`
	Trades       []Trade       `yaml:"trades" json:"trades"`
	EquityCurve  []EquityPoint `yaml:"equity_curve" json:"equity_curve"`
	Metrics      Metrics       `yaml:"metrics" json:"metrics"`
}

// WriteMetrics writes a run's metrics to a YAML file.
func WriteMetrics(path string, metrics Metrics) error {
	data, err := yaml.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics to file: %w", err)
	}

	return nil
}
