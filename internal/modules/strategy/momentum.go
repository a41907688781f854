package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// crossThreshold is the minimum relative SMA spread before the crossover
// counts as a signal; anything tighter is noise.
const crossThreshold = 0.002

// convictionScale maps the spread onto [0, 1]: a 2% spread is full
// conviction.
const convictionScale = 0.02

// ClosesSource supplies ascending daily closes up to a date. The history
// store satisfies it.
type ClosesSource interface {
	ClosesUpTo(ticker string, date time.Time, limit int) ([]float64, error)
}

// MomentumProvider trades a fast/slow SMA crossover per ticker: buy when
// the fast average pulls above the slow one, sell the held position when it
// drops below. Tickers without enough history stay silent.
type MomentumProvider struct {
	closes  ClosesSource
	tickers []string
	fast    int
	slow    int
	sizePct float64
	log     zerolog.Logger
}

var _ domain.DecisionProvider = (*MomentumProvider)(nil)

// NewMomentumProvider creates a provider over the given tickers. fast must
// be shorter than slow; sizePct is the position size each buy requests.
func NewMomentumProvider(closes ClosesSource, tickers []string, fast, slow int, sizePct float64, log zerolog.Logger) (*MomentumProvider, error) {
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, domain.NewValidationError("sma_periods", fmt.Sprintf("need 0 < fast < slow, got %d/%d", fast, slow))
	}
	if sizePct <= 0 {
		return nil, domain.NewValidationError("position_size_pct", "must be positive")
	}
	return &MomentumProvider{
		closes:  closes,
		tickers: append([]string(nil), tickers...),
		fast:    fast,
		slow:    slow,
		sizePct: sizePct,
		log:     log.With().Str("component", "momentum").Logger(),
	}, nil
}

// Decide evaluates the crossover for every configured ticker. A ticker
// whose history lookup fails is skipped for this tick.
func (p *MomentumProvider) Decide(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
	var decisions []domain.Decision
	for _, ticker := range p.tickers {
		closes, err := p.closes.ClosesUpTo(ticker, ts, p.slow+1)
		if err != nil {
			p.log.Warn().Err(err).Str("ticker", ticker).Msg("Close history unavailable")
			continue
		}
		if len(closes) < p.slow {
			continue
		}

		spread, ok := p.spread(closes)
		if !ok {
			continue
		}

		_, held := pc.Positions[ticker]
		switch {
		case spread > crossThreshold && !held:
			decisions = append(decisions, domain.Decision{
				Ticker:          ticker,
				Action:          domain.ActionBuy,
				Reasoning:       fmt.Sprintf("SMA%d %.2f%% above SMA%d", p.fast, spread*100, p.slow),
				PositionSizePct: p.sizePct,
				Conviction:      conviction(spread),
			})
		case spread < -crossThreshold && held:
			decisions = append(decisions, domain.Decision{
				Ticker:          ticker,
				Action:          domain.ActionSell,
				Reasoning:       fmt.Sprintf("SMA%d %.2f%% below SMA%d", p.fast, -spread*100, p.slow),
				PositionSizePct: p.sizePct,
				Conviction:      conviction(spread),
			})
		}
	}
	return decisions, nil
}

// spread returns the relative gap between the fast and slow SMA of closes.
func (p *MomentumProvider) spread(closes []float64) (float64, bool) {
	fastSeries := talib.Sma(closes, p.fast)
	slowSeries := talib.Sma(closes, p.slow)
	if len(fastSeries) == 0 || len(slowSeries) == 0 {
		return 0, false
	}
	fast := fastSeries[len(fastSeries)-1]
	slow := slowSeries[len(slowSeries)-1]
	if math.IsNaN(fast) || math.IsNaN(slow) || slow == 0 {
		return 0, false
	}
	return (fast - slow) / slow, true
}

func conviction(spread float64) float64 {
	c := math.Abs(spread) / convictionScale
	if c > 1 {
		c = 1
	}
	return c
}
