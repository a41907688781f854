package performance

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/helmsman/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func snapshotAt(value float64) domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{Timestamp: time.Now(), TotalValue: value}
}

func observeAll(t *Tracker, values ...float64) {
	for _, v := range values {
		t.Observe(snapshotAt(v))
	}
}

func TestMetrics_EmptyTrackerIsAllZero(t *testing.T) {
	tr := New(100000, DefaultPeriodsPerYear, testLogger())

	m := tr.Metrics()

	assert.Equal(t, 0.0, m.Sharpe)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 0.0, m.WinRate)
	assert.Equal(t, 0.0, m.CumulativeReturn)
	assert.Empty(t, m.DailyReturns)
}

func TestMetrics_SingleSampleIsNeutral(t *testing.T) {
	tr := New(100000, DefaultPeriodsPerYear, testLogger())
	observeAll(tr, 100000)

	m := tr.Metrics()

	assert.Equal(t, 0.0, m.Sharpe)
	assert.Equal(t, 0.0, m.CumulativeReturn)
	assert.False(t, math.IsNaN(m.Sharpe))
}

func TestMetrics_DecliningSnapshots(t *testing.T) {
	tr := New(100000, DefaultPeriodsPerYear, testLogger())

	observeAll(tr, 100000, 95000, 90000)
	m := tr.Metrics()

	assert.InDelta(t, -0.05, m.DailyReturns[0], 1e-9)
	assert.InDelta(t, -0.05263157894, m.DailyReturns[1], 1e-9)
	assert.InDelta(t, -0.10, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, -0.10, m.CumulativeReturn, 1e-9)
}

func TestMetrics_DrawdownTracksRunningPeak(t *testing.T) {
	tr := New(100000, DefaultPeriodsPerYear, testLogger())

	// New peak at 120k, then a drop to 96k: 20% off the peak even though
	// the run is still up overall.
	observeAll(tr, 100000, 120000, 96000, 110000)
	m := tr.Metrics()

	assert.InDelta(t, -0.20, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 0.10, m.CumulativeReturn, 1e-9)
}

func TestMetrics_MonotonicGrowthHasZeroDrawdown(t *testing.T) {
	tr := New(100000, DefaultPeriodsPerYear, testLogger())

	observeAll(tr, 100000, 101000, 102500, 104000)

	assert.Equal(t, 0.0, tr.Metrics().MaxDrawdown)
}

func TestMetrics_SharpeMatchesManualComputation(t *testing.T) {
	tr := New(100000, DefaultPeriodsPerYear, testLogger())

	observeAll(tr, 100000, 101000, 102010, 100989.9)
	m := tr.Metrics()

	// returns: +1%, +1%, -1%
	mean := (0.01 + 0.01 - 0.01) / 3
	variance := (math.Pow(0.01-mean, 2)*2 + math.Pow(-0.01-mean, 2)) / 2
	expected := mean / math.Sqrt(variance) * math.Sqrt(252)

	assert.InDelta(t, expected, m.Sharpe, 1e-6)
}

func TestMetrics_ConstantValuesHaveZeroSharpe(t *testing.T) {
	tr := New(100000, DefaultPeriodsPerYear, testLogger())

	observeAll(tr, 100000, 100000, 100000, 100000)
	m := tr.Metrics()

	assert.Equal(t, 0.0, m.Sharpe)
	assert.False(t, math.IsNaN(m.Sharpe))
}

func TestRecordSale_WinRate(t *testing.T) {
	tr := New(100000, DefaultPeriodsPerYear, testLogger())

	tr.RecordSale(120)
	tr.RecordSale(-30)
	tr.RecordSale(45)
	tr.RecordSale(0) // break-even is not a win

	m := tr.Metrics()
	assert.Equal(t, 2, m.Wins)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
}

func TestRecordExecution_CountsAllFills(t *testing.T) {
	tr := New(100000, DefaultPeriodsPerYear, testLogger())

	tr.RecordExecution()
	tr.RecordExecution()
	tr.RecordSale(10)

	assert.Equal(t, 2, tr.Metrics().TotalTrades)
}

func TestPeriodsPerYearForInterval_ScalesWithCadence(t *testing.T) {
	// A full trading day per cycle annualizes like a daily backtest.
	assert.InDelta(t, 252.0, PeriodsPerYearForInterval(int(6.5*3600)), 1e-9)

	// Five-minute cycles observe far more periods per year.
	fiveMin := PeriodsPerYearForInterval(300)
	assert.InDelta(t, 252*6.5*3600/300, fiveMin, 1e-9)

	assert.Equal(t, DefaultPeriodsPerYear, PeriodsPerYearForInterval(0))
}
