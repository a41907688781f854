// Package paper provides a broker adapter that fills orders instantly
// against a quote source. It keeps its own simulated cash and positions, so
// PAPER mode exercises the entire live pipeline without a real account.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/execution"
)

// QuoteSource supplies the quotes paper fills execute against. The live
// feed client satisfies it, as does any scripted source in tests.
type QuoteSource interface {
	Quote(ctx context.Context, ticker string) (domain.Quote, error)
}

// QuoteFunc adapts a plain function to QuoteSource.
type QuoteFunc func(ctx context.Context, ticker string) (domain.Quote, error)

// Quote calls f.
func (f QuoteFunc) Quote(ctx context.Context, ticker string) (domain.Quote, error) {
	return f(ctx, ticker)
}

// Broker simulates a brokerage account: market orders fill immediately at
// the quoted price adjusted for slippage, commission debits cash, and
// holdings accumulate at weighted-average cost.
type Broker struct {
	mu             sync.Mutex
	quotes         QuoteSource
	cash           float64
	currency       string
	holdings       map[string]float64
	slippageBps    float64
	commissionRate float64
	log            zerolog.Logger
}

var _ domain.BrokerAdapter = (*Broker)(nil)

// New creates a paper broker seeded with starting cash.
func New(quotes QuoteSource, startingCash float64, commissionRate, slippageBps float64, log zerolog.Logger) *Broker {
	return &Broker{
		quotes:         quotes,
		cash:           startingCash,
		currency:       "USD",
		holdings:       make(map[string]float64),
		slippageBps:    slippageBps,
		commissionRate: commissionRate,
		log:            log.With().Str("component", "paper_broker").Logger(),
	}
}

// GetPrice returns the current quote for a ticker. Failures surface as
// BrokerCallError so the live loop counts them without stopping.
func (b *Broker) GetPrice(ctx context.Context, ticker string) (domain.Quote, error) {
	quote, err := b.quotes.Quote(ctx, ticker)
	if err != nil {
		return domain.Quote{}, domain.NewBrokerCallError("get_price", ticker, err)
	}
	return quote, nil
}

// GetAccountBalance returns the simulated cash balance.
func (b *Broker) GetAccountBalance(ctx context.Context) (domain.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.Balance{Currency: b.currency, Cash: b.cash}, nil
}

// BuyMarketOrder fills a buy at the quoted price plus slippage.
func (b *Broker) BuyMarketOrder(ctx context.Context, ticker string, shares float64) (*domain.ExecutionResult, error) {
	return b.fill(ctx, ticker, domain.SideBuy, shares)
}

// SellMarketOrder fills a sell at the quoted price minus slippage.
func (b *Broker) SellMarketOrder(ctx context.Context, ticker string, shares float64) (*domain.ExecutionResult, error) {
	return b.fill(ctx, ticker, domain.SideSell, shares)
}

func (b *Broker) fill(ctx context.Context, ticker string, side domain.Side, shares float64) (*domain.ExecutionResult, error) {
	op := "buy_market"
	if side == domain.SideSell {
		op = "sell_market"
	}
	if shares <= 0 {
		return nil, domain.NewBrokerCallError(op, ticker, fmt.Errorf("share count %.4f is not positive", shares))
	}

	quote, err := b.quotes.Quote(ctx, ticker)
	if err != nil {
		return nil, domain.NewBrokerCallError(op, ticker, err)
	}

	fillPrice := execution.FillPrice(quote.Price, side, b.slippageBps)
	commission := execution.Commission(shares*fillPrice, b.commissionRate)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch side {
	case domain.SideBuy:
		cost := shares*fillPrice + commission
		if cost > b.cash {
			return nil, domain.NewBrokerCallError(op, ticker,
				fmt.Errorf("order needs %.2f, account holds %.2f: %w", cost, b.cash, domain.ErrInsufficientCash))
		}
		b.cash -= cost
		b.holdings[ticker] += shares
	case domain.SideSell:
		held := b.holdings[ticker]
		if held <= 0 {
			return nil, domain.NewBrokerCallError(op, ticker, domain.ErrNoPosition)
		}
		if shares > held {
			shares = held
		}
		b.cash += shares*fillPrice - commission
		b.holdings[ticker] -= shares
		if b.holdings[ticker] <= 0 {
			delete(b.holdings, ticker)
		}
	}

	result := &domain.ExecutionResult{
		Timestamp: time.Now(),
		OrderID:   uuid.NewString(),
		Ticker:    ticker,
		Side:      side,
		Shares:    shares,
		FillPrice: fillPrice,
	}

	b.log.Info().
		Str("order_id", result.OrderID).
		Str("ticker", ticker).
		Str("side", string(side)).
		Float64("shares", shares).
		Float64("fill", fillPrice).
		Float64("cash", b.cash).
		Msg("Paper order filled")

	return result, nil
}

// Holdings returns a copy of the simulated share counts.
func (b *Broker) Holdings() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]float64, len(b.holdings))
	for ticker, shares := range b.holdings {
		out[ticker] = shares
	}
	return out
}
