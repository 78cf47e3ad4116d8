package utils

import (
	"math"

	"github.com/tradeforge/backtester/internal/backtest/engine/engine_v1/commission"
)

// CalculateMaxQuantity calculates the maximum quantity that can be bought with the given balance and respecting decimal precision.
func CalculateMaxQuantity(balance float64, price float64, model commission.Model) float64 {
	// Handle edge cases
	if price <= 0 || balance <= 0 {
		return 0
	}

	// Initial rough estimate (ignoring fees)
	maxQty := balance / price

	// Iteratively refine by accounting for fees
	for i := 0; i < 10; i++ { // Usually converges quickly, limit iterations
		totalCost := maxQty*price + model.Calculate(maxQty, price)
		if totalCost <= balance {
			break
		}
		// Adjust quantity down proportionally
		adjustment := balance / totalCost
		maxQty = maxQty * adjustment
	}

	return maxQty
}

// RoundToDecimalPrecision rounds the quantity down to the specified decimal precision.
func RoundToDecimalPrecision(quantity float64, decimalPrecision int) float64 {
	multiplier := math.Pow10(decimalPrecision)

	return math.Floor(quantity*multiplier) / multiplier
}
