package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
)

func walkDays(t *testing.T, source *RandomWalkSource, ticker string, start time.Time, n int) []float64 {
	t.Helper()
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		price, err := source.PriceAt(start.AddDate(0, 0, i), ticker)
		require.NoError(t, err)
		out = append(out, price)
	}
	return out
}

func TestRandomWalkSource_SameSeedSamePath(t *testing.T) {
	start := map[string]float64{"AAPL": 150, "MSFT": 300}
	day0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	a := NewRandomWalkSource(7, 0.001, 0.02, start)
	b := NewRandomWalkSource(7, 0.001, 0.02, start)

	assert.Equal(t, walkDays(t, a, "AAPL", day0, 10), walkDays(t, b, "AAPL", day0, 10))
	assert.Equal(t, walkDays(t, a, "MSFT", day0, 10), walkDays(t, b, "MSFT", day0, 10))
}

func TestRandomWalkSource_DifferentSeedsDiverge(t *testing.T) {
	start := map[string]float64{"AAPL": 150}
	day0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	a := NewRandomWalkSource(1, 0, 0.02, start)
	b := NewRandomWalkSource(2, 0, 0.02, start)

	assert.NotEqual(t, walkDays(t, a, "AAPL", day0, 5), walkDays(t, b, "AAPL", day0, 5))
}

func TestRandomWalkSource_SameDayIsStable(t *testing.T) {
	source := NewRandomWalkSource(42, 0, 0.05, map[string]float64{"AAPL": 100})
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	first, err := source.PriceAt(day, "AAPL")
	require.NoError(t, err)
	second, err := source.PriceAt(day, "AAPL")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRandomWalkSource_UnknownTickerIsMarketDataError(t *testing.T) {
	source := NewRandomWalkSource(42, 0, 0.02, map[string]float64{"AAPL": 100})

	_, err := source.PriceAt(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "TSLA")

	require.Error(t, err)
	assert.True(t, domain.IsMarketDataError(err))
}

func TestRandomWalkSource_PricesNeverReachZero(t *testing.T) {
	source := NewRandomWalkSource(9, -0.2, 0.5, map[string]float64{"PENNY": 0.05})
	day0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, price := range walkDays(t, source, "PENNY", day0, 200) {
		assert.Greater(t, price, 0.0)
	}
}

func TestRandomWalkSource_ClosesUpToServesVisitedDays(t *testing.T) {
	source := NewRandomWalkSource(42, 0.001, 0.02, map[string]float64{"AAPL": 150})
	day0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	walked := walkDays(t, source, "AAPL", day0, 10)

	all, err := source.ClosesUpTo("AAPL", day0.AddDate(0, 0, 9), 0)
	require.NoError(t, err)
	assert.Equal(t, walked, all)

	tail, err := source.ClosesUpTo("AAPL", day0.AddDate(0, 0, 9), 3)
	require.NoError(t, err)
	assert.Equal(t, walked[7:], tail)

	early, err := source.ClosesUpTo("AAPL", day0.AddDate(0, 0, 4), 0)
	require.NoError(t, err)
	assert.Equal(t, walked[:5], early)
}

func TestRandomWalkSource_ClosesUpToBeforeAnyVisitIsEmpty(t *testing.T) {
	source := NewRandomWalkSource(42, 0, 0.02, map[string]float64{"AAPL": 150})

	closes, err := source.ClosesUpTo("AAPL", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 0)

	require.NoError(t, err)
	assert.Empty(t, closes)
}
