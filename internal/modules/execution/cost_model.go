// Package execution provides the shared fill-price and commission model.
// Both the backtest and the live loop price orders through these functions,
// so simulated and live cost accounting cannot drift apart.
package execution

import "github.com/aristath/helmsman/internal/domain"

// FillPrice applies slippage to a mid price. Buys fill above mid, sells
// below, by slippageBps basis points.
func FillPrice(mid float64, side domain.Side, slippageBps float64) float64 {
	adj := slippageBps / 10000.0
	if side == domain.SideSell {
		return mid * (1 - adj)
	}
	return mid * (1 + adj)
}

// Commission computes the fee on a notional amount at the given rate.
func Commission(notional, rate float64) float64 {
	return notional * rate
}
