// Package performance derives run metrics from the append-only snapshot
// history: Sharpe ratio, max drawdown, win rate. All state updates are O(1)
// per observation.
package performance

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/helmsman/internal/domain"
)

// DefaultPeriodsPerYear annualizes daily-tick observations (US trading
// days).
const DefaultPeriodsPerYear = 252.0

// tradingSecondsPerDay is a 6.5-hour exchange session.
const tradingSecondsPerDay = 6.5 * 3600

// PeriodsPerYearForInterval converts a live polling interval into an
// annualization factor, so multi-minute cycles do not reuse the daily
// sqrt(252) scaling.
func PeriodsPerYearForInterval(intervalSeconds int) float64 {
	if intervalSeconds <= 0 {
		return DefaultPeriodsPerYear
	}
	return DefaultPeriodsPerYear * tradingSecondsPerDay / float64(intervalSeconds)
}

// Tracker accumulates portfolio observations and realized trade outcomes
// for one run.
type Tracker struct {
	mu             sync.Mutex
	initialCapital float64
	periodsPerYear float64
	lastValue      float64
	peak           float64
	maxDrawdown    float64
	dailyReturns   []float64
	observations   int
	totalTrades    int
	closedTrades   int
	wins           int
	log            zerolog.Logger
}

// New creates a tracker. periodsPerYear scales the Sharpe annualization;
// pass DefaultPeriodsPerYear for daily ticks.
func New(initialCapital, periodsPerYear float64, log zerolog.Logger) *Tracker {
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	return &Tracker{
		initialCapital: initialCapital,
		periodsPerYear: periodsPerYear,
		log:            log.With().Str("component", "performance").Logger(),
	}
}

// Observe folds one snapshot into the running statistics: the return
// against the previous observation, the running peak, and the max drawdown.
func (t *Tracker) Observe(snapshot domain.PortfolioSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	value := snapshot.TotalValue
	if t.observations > 0 && t.lastValue > 0 {
		t.dailyReturns = append(t.dailyReturns, (value-t.lastValue)/t.lastValue)
	}
	t.observations++
	t.lastValue = value

	if value > t.peak {
		t.peak = value
	}
	if t.peak > 0 {
		drawdown := (value - t.peak) / t.peak
		if drawdown < t.maxDrawdown {
			t.maxDrawdown = drawdown
		}
	}
}

// RecordExecution counts one filled order of either side.
func (t *Tracker) RecordExecution() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalTrades++
}

// RecordSale counts a closed leg using the realized P&L returned by the
// ledger at sell time, not a later mark-to-market.
func (t *Tracker) RecordSale(realizedPL float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closedTrades++
	if realizedPL > 0 {
		t.wins++
	}
}

// Metrics computes the derived metrics. Zero-trade or single-sample inputs
// report 0.0 everywhere rather than NaN or an error.
func (t *Tracker) Metrics() domain.PerformanceMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := domain.PerformanceMetrics{
		TotalTrades: t.totalTrades,
		Wins:        t.wins,
		MaxDrawdown: t.maxDrawdown,
	}

	if len(t.dailyReturns) > 0 {
		m.DailyReturns = make([]float64, len(t.dailyReturns))
		copy(m.DailyReturns, t.dailyReturns)
	}

	if t.observations > 0 && t.initialCapital > 0 {
		m.CumulativeReturn = (t.lastValue - t.initialCapital) / t.initialCapital
	}

	if len(t.dailyReturns) >= 2 {
		mean := stat.Mean(t.dailyReturns, nil)
		stdev := stat.StdDev(t.dailyReturns, nil)
		if stdev > 0 {
			m.Sharpe = mean / stdev * math.Sqrt(t.periodsPerYear)
		}
	}

	if t.closedTrades > 0 {
		m.WinRate = float64(t.wins) / float64(t.closedTrades)
	}

	return m
}
