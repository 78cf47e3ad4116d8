// Package stats computes summary metrics for a finished backtest run. Every
// function here is a pure function of its inputs so that identical runs
// summarize identically.
package stats

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/tradeforge/backtester/internal/types"
)

// Summarize computes the run metrics from the realized trade list and the
// per-bar equity curve.
func Summarize(trades []types.Trade, equityCurve []types.EquityPoint, timeframe types.Timeframe) types.Metrics {
	metrics := types.Metrics{}

	var grossProfit, grossLoss float64

	for _, trade := range trades {
		metrics.TotalTrades++
		metrics.TotalPnL += trade.PnL
		metrics.TotalFees += trade.Commission

		if trade.PnL > 0 {
			metrics.WinningTrades++
			grossProfit += trade.PnL
		} else if trade.PnL < 0 {
			metrics.LosingTrades++
			grossLoss += -trade.PnL
		}
	}

	if metrics.TotalTrades > 0 {
		metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	}

	metrics.ProfitFactor = profitFactor(grossProfit, grossLoss)
	metrics.SharpeRatio = sharpeRatio(equityCurve, timeframe)
	metrics.MaxDrawdown, metrics.MaxDrawdownPct = maxDrawdown(equityCurve)

	return metrics
}

// profitFactor is gross profit over gross loss. With no losing trades the
// ratio is unbounded; it is reported as the gross profit itself so the value
// stays finite and serializable.
func profitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		return grossProfit
	}

	return grossProfit / grossLoss
}

// sharpeRatio computes the annualized Sharpe ratio from per-bar equity
// returns, with a zero risk-free rate. Curves shorter than three points
// carry at most one return and yield zero.
func sharpeRatio(equityCurve []types.EquityPoint, timeframe types.Timeframe) float64 {
	if len(equityCurve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(equityCurve)-1)

	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1].Equity
		if prev == 0 {
			continue
		}

		returns = append(returns, (equityCurve[i].Equity-prev)/prev)
	}

	if len(returns) < 2 {
		return 0
	}

	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}

	stdDev, err := stats.StandardDeviationSample(returns)
	if err != nil || stdDev == 0 {
		return 0
	}

	return mean / stdDev * math.Sqrt(timeframe.PeriodsPerYear())
}

// maxDrawdown scans the equity curve for the largest peak-to-trough decline,
// reported both in currency and as a fraction of the peak.
func maxDrawdown(equityCurve []types.EquityPoint) (float64, float64) {
	var peak, worst, worstPct float64

	for _, point := range equityCurve {
		if point.Equity > peak {
			peak = point.Equity
		}

		decline := peak - point.Equity
		if decline > worst {
			worst = decline
		}

		if peak > 0 {
			if pct := decline / peak; pct > worstPct {
				worstPct = pct
			}
		}
	}

	return worst, worstPct
}
