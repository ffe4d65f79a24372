package execution

import (
	"fmt"
	"math"
)

// SizeOrders converts target weight deltas into integer lot counts.
//
// Each instrument's notional (delta_w * portfolio value) is divided by
// price * lot size and rounded half-to-even. Instruments with a
// non-positive price or lot size are not tradable and yield zero lots.
// The sign of each result follows the sign of the corresponding delta.
func SizeOrders(deltaW []float64, portfolioValue float64, prices, lotSizes []float64) ([]int, error) {
	n := len(deltaW)
	if len(prices) != n || len(lotSizes) != n {
		return nil, fmt.Errorf("size orders: delta_w, prices, and lot_sizes must share the same length")
	}
	if portfolioValue < 0 {
		return nil, fmt.Errorf("size orders: portfolio value must be non-negative, got %f", portfolioValue)
	}

	lots := make([]int, n)
	for i := 0; i < n; i++ {
		if prices[i] <= 0 || lotSizes[i] <= 0 {
			continue
		}
		notional := deltaW[i] * portfolioValue
		lots[i] = int(math.RoundToEven(notional / (prices[i] * lotSizes[i])))
	}
	return lots, nil
}

// TargetToLots is a compatibility alias for SizeOrders.
func TargetToLots(deltaW []float64, portfolioValue float64, prices, lotSizes []float64) ([]int, error) {
	return SizeOrders(deltaW, portfolioValue, prices, lotSizes)
}
