package utils

import (
	"math"
)

// RoundToDecimalPrecision floors the quantity to the specified decimal
// precision. Flooring, not rounding, so a cash-constrained quantity never
// rounds up past the constraint.
func RoundToDecimalPrecision(quantity float64, decimalPrecision int) float64 {
	multiplier := math.Pow10(decimalPrecision)

	return math.Floor(quantity*multiplier) / multiplier
}

// CalculateMaxQuantity calculates the largest quantity affordable with the
// given cash at the given price, leaving room for the fee. feeFor maps a
// notional to its fee for the order type in use.
func CalculateMaxQuantity(cash float64, price float64, decimalPrecision int, feeFor func(notional float64) float64) float64 {
	if price <= 0 || cash <= 0 {
		return 0
	}

	maxQty := cash / price

	// Iteratively refine by accounting for fees; converges quickly
	for i := 0; i < 10; i++ {
		fee := feeFor(maxQty * price)

		totalCost := maxQty*price + fee
		if totalCost <= cash {
			break
		}

		maxQty = (cash - fee) / price
	}

	if maxQty < 0 {
		return 0
	}

	return RoundToDecimalPrecision(maxQty, decimalPrecision)
}
