package backtest

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// RandomWalkSource synthesizes daily prices as a random walk around a
// configurable drift. The generator is injected through the seed, never
// pulled from the global source: two instances built with the same seed and
// parameters produce identical paths. Prices are cached per ticker and day,
// so asking for the same (ticker, date) twice returns the same value.
//
// Paths advance in first-lookup order. The simulation loop queries tickers
// in their configured order, which keeps whole runs reproducible.
type RandomWalkSource struct {
	mu    sync.Mutex
	rng   *rand.Rand
	drift float64
	vol   float64
	last  map[string]float64
	days  map[string]map[string]float64
}

var _ domain.PriceSource = (*RandomWalkSource)(nil)

// NewRandomWalkSource creates a source seeded with the given tickers and
// starting prices. drift is the deterministic per-day return, vol the
// half-width of the uniform noise around it (0.02 means +-2%).
func NewRandomWalkSource(seed int64, drift, vol float64, start map[string]float64) *RandomWalkSource {
	last := make(map[string]float64, len(start))
	for ticker, price := range start {
		last[ticker] = price
	}
	return &RandomWalkSource{
		rng:   rand.New(rand.NewSource(seed)),
		drift: drift,
		vol:   vol,
		last:  last,
		days:  make(map[string]map[string]float64),
	}
}

// PriceAt returns the walk's price for ticker on date, generating the next
// step on first access. Tickers absent from the starting map report a
// MarketDataError.
func (s *RandomWalkSource) PriceAt(date time.Time, ticker string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.last[ticker]
	if !ok {
		return 0, domain.NewMarketDataError(ticker, date, nil)
	}

	day := date.Format("2006-01-02")
	if cached, ok := s.days[ticker][day]; ok {
		return cached, nil
	}

	step := s.drift + (s.rng.Float64()*2-1)*s.vol
	price := base * (1 + step)
	if price < 0.01 {
		price = 0.01
	}

	s.last[ticker] = price
	if s.days[ticker] == nil {
		s.days[ticker] = make(map[string]float64)
	}
	s.days[ticker][day] = price

	return price, nil
}

// ClosesUpTo returns the walk's generated closes for ticker through date,
// oldest first, capped at limit. Only days already visited by PriceAt
// appear, which inside a simulation run means every day processed so far.
func (s *RandomWalkSource) ClosesUpTo(ticker string, date time.Time, limit int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	generated := s.days[ticker]
	if len(generated) == 0 {
		return nil, nil
	}

	cutoff := date.Format("2006-01-02")
	days := make([]string, 0, len(generated))
	for day := range generated {
		if day <= cutoff {
			days = append(days, day)
		}
	}
	sort.Strings(days)

	if limit > 0 && len(days) > limit {
		days = days[len(days)-limit:]
	}

	closes := make([]float64, len(days))
	for i, day := range days {
		closes[i] = generated[day]
	}
	return closes, nil
}

// PriceFunc adapts a plain function to the price source port. Handy for
// scripted fixtures.
type PriceFunc func(date time.Time, ticker string) (float64, error)

// PriceAt calls f.
func (f PriceFunc) PriceAt(date time.Time, ticker string) (float64, error) {
	return f(date, ticker)
}
