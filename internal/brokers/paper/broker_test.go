package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func fixedQuotes(prices map[string]float64) QuoteFunc {
	return func(ctx context.Context, ticker string) (domain.Quote, error) {
		price, ok := prices[ticker]
		if !ok {
			return domain.Quote{}, errors.New("unknown symbol")
		}
		return domain.Quote{Timestamp: time.Now(), Ticker: ticker, Price: price}, nil
	}
}

func TestBuyMarketOrder_FillsWithSlippageAndCommission(t *testing.T) {
	b := New(fixedQuotes(map[string]float64{"AAPL": 150}), 100000, 0.001, 5, testLogger())

	result, err := b.BuyMarketOrder(context.Background(), "AAPL", 10)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", result.Ticker)
	assert.Equal(t, domain.SideBuy, result.Side)
	assert.Equal(t, 10.0, result.Shares)
	assert.InDelta(t, 150.075, result.FillPrice, 1e-9)
	assert.NotEmpty(t, result.OrderID)

	balance, err := b.GetAccountBalance(context.Background())
	require.NoError(t, err)
	// 10 * 150.075 = 1500.75 plus 1.50075 commission.
	assert.InDelta(t, 100000-1500.75-1.50075, balance.Cash, 1e-9)
	assert.Equal(t, "USD", balance.Currency)
	assert.Equal(t, 10.0, b.Holdings()["AAPL"])
}

func TestBuyMarketOrder_InsufficientCashIsBrokerError(t *testing.T) {
	b := New(fixedQuotes(map[string]float64{"AAPL": 150}), 100, 0.001, 0, testLogger())

	_, err := b.BuyMarketOrder(context.Background(), "AAPL", 10)

	require.Error(t, err)
	assert.True(t, domain.IsBrokerCallError(err))
	assert.ErrorIs(t, err, domain.ErrInsufficientCash)

	balance, _ := b.GetAccountBalance(context.Background())
	assert.Equal(t, 100.0, balance.Cash)
	assert.Empty(t, b.Holdings())
}

func TestSellMarketOrder_WithoutPositionIsBrokerError(t *testing.T) {
	b := New(fixedQuotes(map[string]float64{"AAPL": 150}), 1000, 0, 0, testLogger())

	_, err := b.SellMarketOrder(context.Background(), "AAPL", 5)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestSellMarketOrder_ClampsToHeldShares(t *testing.T) {
	b := New(fixedQuotes(map[string]float64{"AAPL": 100}), 10000, 0, 0, testLogger())
	_, err := b.BuyMarketOrder(context.Background(), "AAPL", 10)
	require.NoError(t, err)

	result, err := b.SellMarketOrder(context.Background(), "AAPL", 50)
	require.NoError(t, err)

	assert.Equal(t, 10.0, result.Shares)
	assert.Empty(t, b.Holdings())

	balance, _ := b.GetAccountBalance(context.Background())
	assert.InDelta(t, 10000.0, balance.Cash, 1e-9)
}

func TestSellMarketOrder_AppliesSlippageAgainstSeller(t *testing.T) {
	b := New(fixedQuotes(map[string]float64{"AAPL": 100}), 10000, 0, 10, testLogger())
	_, err := b.BuyMarketOrder(context.Background(), "AAPL", 10)
	require.NoError(t, err)

	result, err := b.SellMarketOrder(context.Background(), "AAPL", 10)
	require.NoError(t, err)

	assert.InDelta(t, 99.9, result.FillPrice, 1e-9)
}

func TestGetPrice_WrapsQuoteFailures(t *testing.T) {
	b := New(fixedQuotes(map[string]float64{}), 1000, 0, 0, testLogger())

	_, err := b.GetPrice(context.Background(), "TSLA")

	require.Error(t, err)
	assert.True(t, domain.IsBrokerCallError(err))
}

func TestBuyMarketOrder_RejectsNonPositiveShares(t *testing.T) {
	b := New(fixedQuotes(map[string]float64{"AAPL": 150}), 1000, 0, 0, testLogger())

	_, err := b.BuyMarketOrder(context.Background(), "AAPL", 0)

	require.Error(t, err)
	assert.True(t, domain.IsBrokerCallError(err))
}
