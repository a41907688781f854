package domain

import (
	"context"
	"time"
)

// DecisionProvider produces trading decisions for a point in time.
// Implementations live outside the engine (AI agents, rule engines); the
// engine only consumes the interface. Implementations must treat the
// context argument as read-only.
type DecisionProvider interface {
	// Decide returns zero or more decisions for the given instant.
	// One decision per ticker at most; tickers without an opinion are
	// simply absent (equivalent to HOLD).
	Decide(ts time.Time, pc PortfolioContext) ([]Decision, error)
}

// PriceSource supplies historical prices to the backtest loop.
// A missing price is reported as a MarketDataError, not a zero value.
type PriceSource interface {
	// PriceAt returns the price for ticker on the given date.
	PriceAt(date time.Time, ticker string) (float64, error)
}

// BrokerAdapter abstracts the broker used by the live loop.
// Wire protocol and authentication are the adapter's concern; the engine
// only sees quotes, balances and fills. All calls honor ctx cancellation,
// and an in-flight call must resolve (or time out internally) before the
// loop exits.
type BrokerAdapter interface {
	GetPrice(ctx context.Context, ticker string) (Quote, error)
	GetAccountBalance(ctx context.Context) (Balance, error)
	BuyMarketOrder(ctx context.Context, ticker string, shares float64) (*ExecutionResult, error)
	SellMarketOrder(ctx context.Context, ticker string, shares float64) (*ExecutionResult, error)
}

// Confirmer gates capital-at-risk orders behind an external yes/no.
// Production supplies a human prompt; tests supply a scripted one.
type Confirmer interface {
	Confirm(intent TradeIntent) bool
}

// TradeJournal persists trades and snapshots as a run progresses.
// Persistence failures are the caller's to log; they never stop a run.
type TradeJournal interface {
	RecordTrade(trade Trade) error
	RecordSnapshot(runID string, snapshot PortfolioSnapshot) error
}
