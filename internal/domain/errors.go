package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for single-order rejections. They reject one order and
// never terminate a run.
var (
	// ErrInsufficientCash is returned by the ledger when a buy would drive
	// cash negative. There are no partial fills.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrNoPosition is returned by the ledger when selling a ticker that is
	// not held.
	ErrNoPosition = errors.New("no position")

	// ErrKillSwitchEngaged blocks executions until an explicit deactivation.
	// The process keeps running for monitoring while it is set.
	ErrKillSwitchEngaged = errors.New("kill switch engaged")
)

// ValidationError reports a bad configuration value. It surfaces at
// construction time and is fatal.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a config field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// MarketDataError reports a missing or failed price lookup for one ticker
// at one instant. Recovered locally: the ticker is skipped for that tick.
type MarketDataError struct {
	Ticker string
	Date   time.Time
	Err    error
}

func (e *MarketDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("market data unavailable for %s on %s: %v", e.Ticker, e.Date.Format("2006-01-02"), e.Err)
	}
	return fmt.Sprintf("market data unavailable for %s on %s", e.Ticker, e.Date.Format("2006-01-02"))
}

func (e *MarketDataError) Unwrap() error { return e.Err }

// NewMarketDataError builds a MarketDataError for a ticker/date pair.
func NewMarketDataError(ticker string, date time.Time, err error) *MarketDataError {
	return &MarketDataError{Ticker: ticker, Date: date, Err: err}
}

// BrokerCallError reports a failed broker operation (rejected or timed-out
// order, quote failure). It is recorded and counted; the loop continues.
type BrokerCallError struct {
	Op     string
	Ticker string
	Err    error
}

func (e *BrokerCallError) Error() string {
	return fmt.Sprintf("broker %s failed for %s: %v", e.Op, e.Ticker, e.Err)
}

func (e *BrokerCallError) Unwrap() error { return e.Err }

// NewBrokerCallError wraps a broker failure with its operation and ticker.
func NewBrokerCallError(op, ticker string, err error) *BrokerCallError {
	return &BrokerCallError{Op: op, Ticker: ticker, Err: err}
}

// IsMarketDataError reports whether err is a per-ticker data gap.
func IsMarketDataError(err error) bool {
	var mde *MarketDataError
	return errors.As(err, &mde)
}

// IsBrokerCallError reports whether err is a recorded broker failure.
func IsBrokerCallError(err error) bool {
	var bce *BrokerCallError
	return errors.As(err, &bce)
}
