package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Message(t *testing.T) {
	err := NewValidationError("tickers", "at least one ticker is required")

	assert.Equal(t, "invalid configuration: tickers: at least one ticker is required", err.Error())
}

func TestMarketDataError_Message(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	bare := NewMarketDataError("AAPL", date, nil)
	assert.Equal(t, "market data unavailable for AAPL on 2024-03-15", bare.Error())

	wrapped := NewMarketDataError("AAPL", date, errors.New("connection reset"))
	assert.Equal(t, "market data unavailable for AAPL on 2024-03-15: connection reset", wrapped.Error())
}

func TestMarketDataError_UnwrapsCause(t *testing.T) {
	cause := errors.New("feed timeout")
	err := NewMarketDataError("MSFT", time.Now(), cause)

	assert.ErrorIs(t, err, cause)
}

func TestIsMarketDataError_SeesThroughWrapping(t *testing.T) {
	inner := NewMarketDataError("GOOG", time.Now(), nil)
	outer := fmt.Errorf("tick failed: %w", inner)

	assert.True(t, IsMarketDataError(outer))
	assert.False(t, IsMarketDataError(errors.New("something else")))
	assert.False(t, IsMarketDataError(nil))
}

func TestBrokerCallError_Message(t *testing.T) {
	err := NewBrokerCallError("buy", "TSLA", errors.New("order rejected"))

	assert.Equal(t, "broker buy failed for TSLA: order rejected", err.Error())
}

func TestBrokerCallError_UnwrapsCause(t *testing.T) {
	cause := errors.New("http 503")
	err := NewBrokerCallError("quote", "NVDA", cause)

	assert.ErrorIs(t, err, cause)
}

func TestIsBrokerCallError_SeesThroughWrapping(t *testing.T) {
	inner := NewBrokerCallError("sell", "AMZN", errors.New("timeout"))
	outer := fmt.Errorf("cycle: %w", inner)

	assert.True(t, IsBrokerCallError(outer))
	assert.False(t, IsBrokerCallError(ErrInsufficientCash))
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	assert.NotErrorIs(t, ErrInsufficientCash, ErrNoPosition)
	assert.NotErrorIs(t, ErrKillSwitchEngaged, ErrInsufficientCash)

	wrapped := fmt.Errorf("order denied: %w", ErrKillSwitchEngaged)
	assert.ErrorIs(t, wrapped, ErrKillSwitchEngaged)
}
