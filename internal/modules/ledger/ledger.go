// Package ledger owns cash and position accounting. It is the only writer
// of truth about holdings: every mutation goes through ApplyBuy/ApplySell,
// and every observation through MarkToMarket.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// position is the ledger's internal holding record. lastPrice remembers the
// most recent fill or committed valuation so positions without a fresh quote
// still value deterministically.
type position struct {
	quantity  float64
	avgCost   float64
	lastPrice float64
}

// Ledger tracks cash and positions for exactly one runner instance.
// The mutex exists for concurrent reads from the monitoring API; all writes
// are funneled through the single runner goroutine that owns the instance.
type Ledger struct {
	mu             sync.Mutex
	positions      map[string]*position
	initialCapital float64
	cash           float64
	prevValue      float64
	log            zerolog.Logger
}

// New creates a ledger seeded with the starting capital.
func New(initialCapital float64, log zerolog.Logger) *Ledger {
	return &Ledger{
		positions:      make(map[string]*position),
		initialCapital: initialCapital,
		cash:           initialCapital,
		prevValue:      initialCapital,
		log:            log.With().Str("component", "ledger").Logger(),
	}
}

// ApplyBuy debits cash and upserts the position at a new weighted-average
// cost. Fails with ErrInsufficientCash when the total cost exceeds available
// cash; there are no partial fills.
func (l *Ledger) ApplyBuy(ticker string, shares, price, commission float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	totalCost := shares*price + commission
	if totalCost > l.cash {
		return fmt.Errorf("buy %s %.4f @ %.4f needs %.2f, have %.2f: %w",
			ticker, shares, price, totalCost, l.cash, domain.ErrInsufficientCash)
	}

	l.cash -= totalCost

	pos, ok := l.positions[ticker]
	if !ok {
		pos = &position{}
		l.positions[ticker] = pos
	}
	newQty := pos.quantity + shares
	pos.avgCost = (pos.quantity*pos.avgCost + shares*price) / newQty
	pos.quantity = newQty
	pos.lastPrice = price

	l.log.Debug().
		Str("ticker", ticker).
		Float64("shares", shares).
		Float64("price", price).
		Float64("cash", l.cash).
		Msg("Buy applied")

	return nil
}

// ApplySell credits proceeds minus commission and returns the realized P&L
// for the sold leg. A request exceeding the held quantity is clamped to the
// held quantity, never driven negative. The position entry is removed when
// its quantity reaches zero. Fails with ErrNoPosition for unheld tickers.
func (l *Ledger) ApplySell(ticker string, shares, price, commission float64) (realizedPL, filledShares float64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[ticker]
	if !ok {
		return 0, 0, fmt.Errorf("sell %s: %w", ticker, domain.ErrNoPosition)
	}

	if shares > pos.quantity {
		l.log.Warn().
			Str("ticker", ticker).
			Float64("requested", shares).
			Float64("held", pos.quantity).
			Msg("Sell clamped to held quantity")
		shares = pos.quantity
	}

	l.cash += shares*price - commission
	realizedPL = shares*(price-pos.avgCost) - commission

	pos.quantity -= shares
	pos.lastPrice = price
	if pos.quantity <= 0 {
		delete(l.positions, ticker)
	}

	l.log.Debug().
		Str("ticker", ticker).
		Float64("shares", shares).
		Float64("price", price).
		Float64("realized_pl", realizedPL).
		Float64("cash", l.cash).
		Msg("Sell applied")

	return realizedPL, shares, nil
}

// MarkToMarket produces a snapshot of the portfolio at the given prices.
// It is read-only: calling it twice with identical prices yields identical
// snapshots. Positions missing from the price map are valued at their last
// known price (the average cost if never priced).
func (l *Ledger) MarkToMarket(now time.Time, prices map[string]float64) domain.PortfolioSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	views := make(map[string]domain.PositionView, len(l.positions))
	total := l.cash
	for ticker, pos := range l.positions {
		price := pos.lastPrice
		if price == 0 {
			price = pos.avgCost
		}
		if p, ok := prices[ticker]; ok {
			price = p
		}
		marketValue := pos.quantity * price
		views[ticker] = domain.PositionView{
			Ticker:       ticker,
			Quantity:     pos.quantity,
			AvgCost:      pos.avgCost,
			Price:        price,
			MarketValue:  marketValue,
			UnrealizedPL: (price - pos.avgCost) * pos.quantity,
		}
		total += marketValue
	}

	dailyReturn := 0.0
	if l.prevValue > 0 {
		dailyReturn = (total - l.prevValue) / l.prevValue
	}
	cumulativeReturn := 0.0
	if l.initialCapital > 0 {
		cumulativeReturn = (total - l.initialCapital) / l.initialCapital
	}

	return domain.PortfolioSnapshot{
		Timestamp:        now,
		Positions:        views,
		Cash:             l.cash,
		TotalValue:       total,
		DailyReturn:      dailyReturn,
		CumulativeReturn: cumulativeReturn,
	}
}

// CommitSnapshot advances the reference point used for the next snapshot's
// daily return and folds the snapshot's prices back into the positions.
// Runners call it once per tick, after the snapshot is recorded.
func (l *Ledger) CommitSnapshot(snapshot domain.PortfolioSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prevValue = snapshot.TotalValue
	for ticker, view := range snapshot.Positions {
		if pos, ok := l.positions[ticker]; ok {
			pos.lastPrice = view.Price
		}
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// InitialCapital returns the capital the ledger was seeded with.
func (l *Ledger) InitialCapital() float64 {
	return l.initialCapital
}

// NumPositions returns the count of open positions.
func (l *Ledger) NumPositions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// HoldsTicker reports whether a position is open in the given ticker.
func (l *Ledger) HoldsTicker(ticker string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.positions[ticker]
	return ok
}

// Positions returns a copy of the open positions.
func (l *Ledger) Positions() map[string]domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]domain.Position, len(l.positions))
	for ticker, pos := range l.positions {
		out[ticker] = domain.Position{
			Ticker:   ticker,
			Quantity: pos.quantity,
			AvgCost:  pos.avgCost,
		}
	}
	return out
}

// Context assembles the read-only portfolio context handed to decision
// providers.
func (l *Ledger) Context(prices map[string]float64) domain.PortfolioContext {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make(map[string]domain.Position, len(l.positions))
	total := l.cash
	for ticker, pos := range l.positions {
		positions[ticker] = domain.Position{
			Ticker:   ticker,
			Quantity: pos.quantity,
			AvgCost:  pos.avgCost,
		}
		price := pos.lastPrice
		if price == 0 {
			price = pos.avgCost
		}
		if p, ok := prices[ticker]; ok {
			price = p
		}
		total += pos.quantity * price
	}

	return domain.PortfolioContext{
		Positions:    positions,
		Cash:         l.cash,
		TotalValue:   total,
		NumPositions: len(positions),
	}
}
