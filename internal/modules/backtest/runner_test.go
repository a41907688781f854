package backtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type providerFunc func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error)

func (f providerFunc) Decide(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
	return f(ts, pc)
}

func flatPrices(quotes map[string]float64) PriceFunc {
	return func(date time.Time, ticker string) (float64, error) {
		price, ok := quotes[ticker]
		if !ok {
			return 0, domain.NewMarketDataError(ticker, date, nil)
		}
		return price, nil
	}
}

func baseConfig(tickers ...string) Config {
	return Config{
		RunID:          "run-test",
		Tickers:        tickers,
		StartDate:      time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
		InitialCapital: 100000,
		CommissionRate: 0.001,
		SlippageBps:    0,
		Limits: domain.RiskLimits{
			MaxPositionSizeUSD: 1000000,
			MaxDailyLossPct:    50,
			MaxDailyTrades:     100,
			MaxPositions:       10,
		},
	}
}

func buyOnce(ticker string, pct float64) providerFunc {
	return func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		if pc.NumPositions > 0 {
			return nil, nil
		}
		return []domain.Decision{{
			Ticker:          ticker,
			Action:          domain.ActionBuy,
			Reasoning:       "initial entry",
			PositionSizePct: pct,
		}}, nil
	}
}

func TestRunner_BuyAndHoldAccounting(t *testing.T) {
	cfg := baseConfig("AAPL")
	r, err := New(cfg, buyOnce("AAPL", 1.5), flatPrices(map[string]float64{"AAPL": 150}), nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, "AAPL", trade.Ticker)
	assert.Equal(t, domain.SideBuy, trade.Side)
	assert.Equal(t, domain.ModePaper, trade.Mode)
	assert.Equal(t, "run-test", trade.RunID)
	assert.Equal(t, 10.0, trade.Shares)
	assert.InDelta(t, 150.0, trade.FillPrice, 1e-9)
	assert.InDelta(t, 1.5, trade.Commission, 1e-9)
	assert.InDelta(t, 1501.5, trade.TotalCost, 1e-9)
	assert.Zero(t, trade.RealizedPL)

	require.Len(t, result.PortfolioHistory, 5)
	first := result.PortfolioHistory[0]
	assert.InDelta(t, 98498.5, first.Cash, 1e-9)
	assert.InDelta(t, 99998.5, first.TotalValue, 1e-9)
	require.Contains(t, first.Positions, "AAPL")
	assert.Equal(t, 10.0, first.Positions["AAPL"].Quantity)
	assert.Equal(t, 150.0, first.Positions["AAPL"].AvgCost)

	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 1, result.Metrics.TotalTrades)
	assert.Equal(t, "run-test", result.RunID)
	assert.Equal(t, domain.ModePaper, result.Mode)
	assert.Equal(t, "PAPER", result.Config["mode"])
}

func TestRunner_SkipsWeekends(t *testing.T) {
	cfg := baseConfig("AAPL")
	cfg.StartDate = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	cfg.EndDate = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	noop := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		return nil, nil
	})
	r, err := New(cfg, noop, flatPrices(map[string]float64{"AAPL": 150}), nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.PortfolioHistory, 2)
	assert.Equal(t, time.Friday, result.PortfolioHistory[0].Timestamp.Weekday())
	assert.Equal(t, time.Monday, result.PortfolioHistory[1].Timestamp.Weekday())
}

func TestRunner_MissingPriceSkipsOnlyThatTicker(t *testing.T) {
	gapDay := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	prices := PriceFunc(func(date time.Time, ticker string) (float64, error) {
		if ticker == "MSFT" && date.Equal(gapDay) {
			return 0, domain.NewMarketDataError(ticker, date, nil)
		}
		if ticker == "AAPL" {
			return 100, nil
		}
		return 200, nil
	})
	buyBoth := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		return []domain.Decision{
			{Ticker: "AAPL", Action: domain.ActionBuy, PositionSizePct: 0.5},
			{Ticker: "MSFT", Action: domain.ActionBuy, PositionSizePct: 0.5},
		}, nil
	})

	r, err := New(baseConfig("AAPL", "MSFT"), buyBoth, prices, nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	byDay := make(map[string][]domain.Trade)
	for _, trade := range result.Trades {
		day := trade.Timestamp.Format("2006-01-02")
		byDay[day] = append(byDay[day], trade)
	}

	require.Len(t, byDay["2024-01-10"], 1)
	assert.Equal(t, "AAPL", byDay["2024-01-10"][0].Ticker)
	assert.Len(t, byDay["2024-01-09"], 2)
	assert.Len(t, byDay["2024-01-11"], 2)

	assert.Len(t, result.PortfolioHistory, 5)
	assert.Equal(t, 0, result.Errors)

	// The held MSFT position still values on the gap day, at its last
	// known price.
	gapSnap := result.PortfolioHistory[2]
	require.Contains(t, gapSnap.Positions, "MSFT")
	assert.InDelta(t, 200.0, gapSnap.Positions["MSFT"].Price, 1e-9)
}

func TestRunner_ProviderErrorCountsAndRunContinues(t *testing.T) {
	failDay := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	flaky := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		if ts.Equal(failDay) {
			return nil, errors.New("upstream model unavailable")
		}
		return nil, nil
	})

	r, err := New(baseConfig("AAPL"), flaky, flatPrices(map[string]float64{"AAPL": 150}), nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Errors)
	assert.Len(t, result.PortfolioHistory, 5)
	assert.Empty(t, result.Trades)
}

func TestRunner_ProviderPanicIsContained(t *testing.T) {
	calls := 0
	panicky := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		calls++
		if calls == 1 {
			panic("nil map write in strategy")
		}
		return nil, nil
	})

	cfg := baseConfig("AAPL")
	cfg.EndDate = time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	r, err := New(cfg, panicky, flatPrices(map[string]float64{"AAPL": 150}), nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Errors)
	assert.Len(t, result.PortfolioHistory, 2)
}

func TestRunner_InsufficientCashRejectsOrderNotRun(t *testing.T) {
	cfg := baseConfig("AAPL")
	cfg.InitialCapital = 1000

	greedy := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		return []domain.Decision{{Ticker: "AAPL", Action: domain.ActionBuy, PositionSizePct: 600}}, nil
	})

	bus := events.NewBus(testLogger())
	rejections := 0
	bus.Subscribe(events.OrderRejected, func(e *events.Event) { rejections++ })

	r, err := New(cfg, greedy, flatPrices(map[string]float64{"AAPL": 100}), nil, bus, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Equal(t, 0, result.Errors)
	assert.Len(t, result.PortfolioHistory, 5)
	assert.Equal(t, 5, rejections)
	assert.InDelta(t, 1000.0, result.PortfolioHistory[4].Cash, 1e-9)
}

func TestRunner_KillSwitchDeniesAllExecutions(t *testing.T) {
	bus := events.NewBus(testLogger())
	var reasons []string
	bus.Subscribe(events.OrderRejected, func(e *events.Event) {
		if data, ok := e.GetTypedData().(*events.OrderRejectedData); ok {
			reasons = append(reasons, data.Reason)
		}
	})

	r, err := New(baseConfig("AAPL"), buyOnce("AAPL", 1.5), flatPrices(map[string]float64{"AAPL": 150}), nil, bus, testLogger())
	require.NoError(t, err)
	r.Gate().ActivateKillSwitch("maintenance")

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Len(t, result.PortfolioHistory, 5)
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0], "kill switch")
}

func TestRunner_MaxPositionsBlocksNewTickerOnly(t *testing.T) {
	cfg := baseConfig("AAPL", "MSFT")
	cfg.Limits.MaxPositions = 1

	buyBoth := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		if pc.NumPositions > 0 {
			return nil, nil
		}
		return []domain.Decision{
			{Ticker: "AAPL", Action: domain.ActionBuy, PositionSizePct: 1},
			{Ticker: "MSFT", Action: domain.ActionBuy, PositionSizePct: 1},
		}, nil
	})

	r, err := New(cfg, buyBoth, flatPrices(map[string]float64{"AAPL": 100, "MSFT": 200}), nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, "AAPL", result.Trades[0].Ticker)
}

func TestRunner_SellClampsCommissionToActualFill(t *testing.T) {
	day := 0
	flipper := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		day++
		switch day {
		case 1:
			return []domain.Decision{{Ticker: "AAPL", Action: domain.ActionBuy, PositionSizePct: 1}}, nil
		case 2:
			// Sized far beyond the held 10 shares.
			return []domain.Decision{{Ticker: "AAPL", Action: domain.ActionSell, PositionSizePct: 90}}, nil
		default:
			return nil, nil
		}
	})

	r, err := New(baseConfig("AAPL"), flipper, flatPrices(map[string]float64{"AAPL": 100}), nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	sell := result.Trades[1]
	assert.Equal(t, domain.SideSell, sell.Side)
	assert.Equal(t, 10.0, sell.Shares)
	assert.InDelta(t, 1.0, sell.Commission, 1e-9)
	assert.InDelta(t, -(10*100.0 - 1.0), sell.TotalCost, 1e-9)
	// Bought 10 @ 100 with 1.00 commission, sold flat: only commissions lost.
	assert.InDelta(t, -1.0, sell.RealizedPL, 1e-9)
}

func TestRunner_SellWithoutPositionIsRejected(t *testing.T) {
	seller := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		return []domain.Decision{{Ticker: "AAPL", Action: domain.ActionSell, PositionSizePct: 10}}, nil
	})

	r, err := New(baseConfig("AAPL"), seller, flatPrices(map[string]float64{"AAPL": 100}), nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Equal(t, 0, result.Errors)
	assert.InDelta(t, 100000.0, result.PortfolioHistory[4].Cash, 1e-9)
}

func TestRunner_DeterministicGivenSameSeed(t *testing.T) {
	alternate := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		if pc.NumPositions == 0 {
			return []domain.Decision{{Ticker: "AAPL", Action: domain.ActionBuy, PositionSizePct: 10}}, nil
		}
		if ts.Day()%2 == 0 {
			return []domain.Decision{{Ticker: "AAPL", Action: domain.ActionSell, PositionSizePct: 100}}, nil
		}
		return nil, nil
	})

	run := func() domain.RunResult {
		cfg := baseConfig("AAPL")
		cfg.EndDate = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
		source := NewRandomWalkSource(42, 0.0005, 0.02, map[string]float64{"AAPL": 150})
		r, err := New(cfg, alternate, source, nil, nil, testLogger())
		require.NoError(t, err)
		result, err := r.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	first := run()
	second := run()

	require.Equal(t, len(first.Trades), len(second.Trades))
	require.NotEmpty(t, first.Trades)
	for i := range first.Trades {
		a, b := first.Trades[i], second.Trades[i]
		label := fmt.Sprintf("trade %d", i)
		assert.Equal(t, a.Ticker, b.Ticker, label)
		assert.Equal(t, a.Side, b.Side, label)
		assert.Equal(t, a.Shares, b.Shares, label)
		assert.Equal(t, a.FillPrice, b.FillPrice, label)
		assert.Equal(t, a.TotalCost, b.TotalCost, label)
		assert.Equal(t, a.RealizedPL, b.RealizedPL, label)
	}

	require.Equal(t, len(first.PortfolioHistory), len(second.PortfolioHistory))
	for i := range first.PortfolioHistory {
		assert.Equal(t, first.PortfolioHistory[i].TotalValue, second.PortfolioHistory[i].TotalValue)
	}
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestRunner_ContextCancelReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancelAfterFirst := providerFunc(func(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
		cancel()
		return nil, nil
	})

	r, err := New(baseConfig("AAPL"), cancelAfterFirst, flatPrices(map[string]float64{"AAPL": 150}), nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, result.PortfolioHistory, 1)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	valid := baseConfig("AAPL")
	provider := buyOnce("AAPL", 1)
	prices := flatPrices(map[string]float64{"AAPL": 150})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }},
		{"no tickers", func(c *Config) { c.Tickers = nil }},
		{"end before start", func(c *Config) { c.EndDate = c.StartDate.AddDate(0, 0, -1) }},
		{"negative commission", func(c *Config) { c.CommissionRate = -0.001 }},
		{"negative slippage", func(c *Config) { c.SlippageBps = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := New(cfg, provider, prices, nil, nil, testLogger())
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	_, err := New(valid, nil, prices, nil, nil, testLogger())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = New(valid, provider, nil, nil, nil, testLogger())
	require.ErrorAs(t, err, &verr)
}

func TestRunner_GeneratesRunIDWhenMissing(t *testing.T) {
	cfg := baseConfig("AAPL")
	cfg.RunID = ""

	r, err := New(cfg, buyOnce("AAPL", 1), flatPrices(map[string]float64{"AAPL": 150}), nil, nil, testLogger())
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
}
