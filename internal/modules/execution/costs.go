// Package execution is the execution-decision core of the rebalancing
// engine: transaction cost estimation, lot sizing, the tax-lot ledger with
// Italian capital-gains rules, the drift/benefit gate, and the final
// trade/no-trade decision.
package execution

import (
	"fmt"
	"math"
)

// impactExponent is the Almgren-Chriss nonlinearity applied to participation.
const impactExponent = 1.5

// TradingCosts computes per-instrument transaction costs following the
// Almgren-Chriss decomposition: explicit fee, half-spread slippage, and
// nonlinear market impact scaled by participation (|q|/ADV).
//
// Instruments with ADV <= 0 contribute zero impact rather than dividing by
// zero. All slices must share the same length.
func TradingCosts(prices, spreads, q, fees, adv, eta []float64) ([]float64, error) {
	n := len(prices)
	if len(spreads) != n || len(q) != n || len(fees) != n || len(adv) != n || len(eta) != n {
		return nil, fmt.Errorf("trading costs: all inputs must share the same length")
	}

	costs := make([]float64, n)
	for i := 0; i < n; i++ {
		qty := math.Abs(q[i])
		halfSpread := 0.5 * prices[i] * spreads[i] * qty

		impact := 0.0
		if adv[i] > 0 {
			impact = eta[i] * math.Pow(qty/adv[i], impactExponent)
		}

		costs[i] = fees[i] + halfSpread + impact
	}
	return costs, nil
}

// AlmgrenChrissCost returns the total transaction cost across all
// instruments. Fees may be nil (no fees), a single element (broadcast to
// every instrument), or one entry per instrument.
func AlmgrenChrissCost(orderQty, prices, spreads, adv, eta, fees []float64) (float64, error) {
	n := len(orderQty)
	if len(prices) != n || len(spreads) != n || len(adv) != n || len(eta) != n {
		return 0, fmt.Errorf("almgren-chriss cost: order_qty, prices, spreads, adv, and eta must share the same length")
	}

	perInstrument := make([]float64, n)
	switch len(fees) {
	case 0:
		// no explicit fees
	case 1:
		for i := range perInstrument {
			perInstrument[i] = fees[0]
		}
	case n:
		copy(perInstrument, fees)
	default:
		return 0, fmt.Errorf("almgren-chriss cost: fees must be empty, scalar, or share the order_qty length")
	}

	costs, err := TradingCosts(prices, spreads, orderQty, perInstrument, adv, eta)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for _, c := range costs {
		total += c
	}
	return total, nil
}
