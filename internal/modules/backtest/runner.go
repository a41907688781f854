// Package backtest drives the day-stepped portfolio simulation: for every
// weekday in the configured window it fetches prices, queries the decision
// provider, executes authorized orders against the ledger and snapshots the
// result. Decision providers and price sources are injected ports, so the
// same loop replays history, synthetic walks or scripted fixtures.
package backtest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/execution"
	"github.com/aristath/helmsman/internal/modules/journal"
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/internal/modules/markethours"
	"github.com/aristath/helmsman/internal/modules/performance"
	"github.com/aristath/helmsman/internal/modules/risk"
)

// Config holds everything one simulation run needs up front. Validation
// failures surface at construction and are fatal.
type Config struct {
	RunID          string
	Mode           domain.Mode
	Tickers        []string
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital float64
	CommissionRate float64
	SlippageBps    float64
	Limits         domain.RiskLimits
	PeriodsPerYear float64
}

func (c Config) validate() error {
	if c.InitialCapital <= 0 {
		return domain.NewValidationError("initial_capital", "must be positive")
	}
	if len(c.Tickers) == 0 {
		return domain.NewValidationError("tickers", "at least one ticker is required")
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return domain.NewValidationError("start_date", "start and end dates are required")
	}
	if c.EndDate.Before(c.StartDate) {
		return domain.NewValidationError("end_date", "must not precede start_date")
	}
	if c.CommissionRate < 0 {
		return domain.NewValidationError("commission_rate", "must not be negative")
	}
	if c.SlippageBps < 0 {
		return domain.NewValidationError("slippage_bps", "must not be negative")
	}
	return nil
}

func (c Config) snapshot() map[string]any {
	return map[string]any{
		"mode":                  string(c.Mode),
		"tickers":               append([]string(nil), c.Tickers...),
		"start_date":            c.StartDate.Format("2006-01-02"),
		"end_date":              c.EndDate.Format("2006-01-02"),
		"initial_capital":       c.InitialCapital,
		"commission_rate":       c.CommissionRate,
		"slippage_bps":          c.SlippageBps,
		"max_positions":         c.Limits.MaxPositions,
		"max_position_size_usd": c.Limits.MaxPositionSizeUSD,
		"max_daily_trades":      c.Limits.MaxDailyTrades,
		"max_daily_loss_pct":    c.Limits.MaxDailyLossPct,
	}
}

// Runner executes one simulation from start to finish. It owns its ledger,
// risk gate and performance tracker; nothing is shared between runs. Run is
// single-shot: build a fresh Runner for the next simulation.
type Runner struct {
	cfg      Config
	provider domain.DecisionProvider
	prices   domain.PriceSource
	journal  domain.TradeJournal
	bus      *events.Bus
	ledger   *ledger.Ledger
	gate     *risk.Gate
	tracker  *performance.Tracker
	log      zerolog.Logger

	trades  []domain.Trade
	history []domain.PortfolioSnapshot
	errors  int
}

// New builds a runner for the given configuration. The journal and bus may
// be nil; a nil journal means nothing is persisted.
func New(cfg Config, provider domain.DecisionProvider, prices domain.PriceSource, jrnl domain.TradeJournal, bus *events.Bus, log zerolog.Logger) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, domain.NewValidationError("decision_provider", "is required")
	}
	if prices == nil {
		return nil, domain.NewValidationError("price_source", "is required")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModePaper
	}
	if jrnl == nil {
		jrnl = journal.Nop{}
	}

	return &Runner{
		cfg:      cfg,
		provider: provider,
		prices:   prices,
		journal:  jrnl,
		bus:      bus,
		ledger:   ledger.New(cfg.InitialCapital, log),
		gate:     risk.New(cfg.Limits, log),
		tracker:  performance.New(cfg.InitialCapital, cfg.PeriodsPerYear, log),
		log:      log.With().Str("component", "backtest").Str("run_id", cfg.RunID).Logger(),
	}, nil
}

// Gate exposes the runner's risk gate for operator controls.
func (r *Runner) Gate() *risk.Gate {
	return r.gate
}

// Run walks every weekday in [StartDate, EndDate] and returns the result
// bundle. Cancelling ctx stops the loop at the next day boundary and
// returns the partial result alongside ctx.Err().
func (r *Runner) Run(ctx context.Context) (domain.RunResult, error) {
	startedAt := time.Now()
	r.log.Info().
		Str("start", r.cfg.StartDate.Format("2006-01-02")).
		Str("end", r.cfg.EndDate.Format("2006-01-02")).
		Strs("tickers", r.cfg.Tickers).
		Float64("capital", r.cfg.InitialCapital).
		Msg("Backtest started")
	r.emitRunStatus("started")

	var runErr error
	day := midnightUTC(r.cfg.StartDate)
	end := midnightUTC(r.cfg.EndDate)
	for !day.After(end) {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if markethours.IsWeekday(day) {
			r.step(day)
		}
		day = day.AddDate(0, 0, 1)
	}

	result := domain.RunResult{
		StartedAt:        startedAt,
		FinishedAt:       time.Now(),
		RunID:            r.cfg.RunID,
		Mode:             r.cfg.Mode,
		Config:           r.cfg.snapshot(),
		Trades:           r.trades,
		PortfolioHistory: r.history,
		Metrics:          r.tracker.Metrics(),
		Errors:           r.errors,
	}

	r.log.Info().
		Int("trades", len(result.Trades)).
		Int("snapshots", len(result.PortfolioHistory)).
		Int("errors", result.Errors).
		Float64("final_value", r.ledger.MarkToMarket(end, nil).TotalValue).
		Msg("Backtest finished")
	r.emitRunStatus("finished")

	return result, runErr
}

// step runs one simulated trading day: prices, decisions, executions,
// snapshot. Every failure inside is contained to its ticker or
// skipped for the day; the loop always reaches the snapshot.
func (r *Runner) step(day time.Time) {
	r.gate.CheckDailyReset(day)

	prices := make(map[string]float64, len(r.cfg.Tickers))
	for _, ticker := range r.cfg.Tickers {
		price, err := r.prices.PriceAt(day, ticker)
		if err != nil {
			if domain.IsMarketDataError(err) {
				r.log.Warn().
					Str("ticker", ticker).
					Str("date", day.Format("2006-01-02")).
					Msg("No price, ticker skipped for this day")
			} else {
				r.errors++
				r.log.Error().Err(err).Str("ticker", ticker).Msg("Price lookup failed")
				r.emitError(err, ticker)
			}
			continue
		}
		prices[ticker] = price
	}

	for _, dec := range r.queryDecisions(day, prices) {
		if dec.Action == domain.ActionHold {
			continue
		}
		if _, ok := prices[dec.Ticker]; !ok {
			r.log.Debug().Str("ticker", dec.Ticker).Msg("Decision skipped, no price this day")
			continue
		}
		r.executeDecision(day, dec, prices)
	}

	snap := r.ledger.MarkToMarket(day, prices)
	r.ledger.CommitSnapshot(snap)
	r.tracker.Observe(snap)
	r.history = append(r.history, snap)
	if err := r.journal.RecordSnapshot(r.cfg.RunID, snap); err != nil {
		r.log.Warn().Err(err).Msg("Snapshot not persisted")
	}
	if r.bus != nil {
		r.bus.EmitTyped("backtest", &events.SnapshotData{
			Cash:        snap.Cash,
			TotalValue:  snap.TotalValue,
			DailyReturn: snap.DailyReturn,
			Positions:   len(snap.Positions),
		})
	}
}

// queryDecisions asks the provider for the day's decisions. Provider errors
// and panics cost one error count and yield no decisions; the day still
// snapshots.
func (r *Runner) queryDecisions(day time.Time, prices map[string]float64) (decisions []domain.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			r.errors++
			r.log.Error().
				Interface("panic", rec).
				Str("date", day.Format("2006-01-02")).
				Msg("Decision provider panicked")
			decisions = nil
		}
	}()

	pc := r.ledger.Context(prices)
	decisions, err := r.provider.Decide(day, pc)
	if err != nil {
		r.errors++
		r.log.Error().Err(err).Str("date", day.Format("2006-01-02")).Msg("Decision provider failed")
		r.emitError(err, "")
		return nil
	}
	return decisions
}

// executeDecision runs one decision through the gate, the cost model and
// the ledger. Rejections log and emit; a panic is contained to this ticker
// and counted.
func (r *Runner) executeDecision(day time.Time, dec domain.Decision, prices map[string]float64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.errors++
			r.log.Error().
				Interface("panic", rec).
				Str("ticker", dec.Ticker).
				Msg("Decision execution panicked")
		}
	}()

	price := prices[dec.Ticker]
	pc := r.ledger.Context(prices)
	held := 0.0
	holds := false
	if pos, ok := pc.Positions[dec.Ticker]; ok {
		holds = true
		held = pos.Quantity
	}

	auth := r.gate.Authorize(day, dec, price, pc.TotalValue, pc.NumPositions, holds)
	if !auth.Allowed {
		r.log.Info().
			Str("ticker", dec.Ticker).
			Str("action", string(dec.Action)).
			Str("reason", auth.Reason).
			Msg("Order denied")
		r.emitRejection(dec, auth.Reason)
		return
	}
	if auth.ClampWarning != "" {
		r.log.Warn().Str("ticker", dec.Ticker).Msg(auth.ClampWarning)
	}

	switch dec.Action {
	case domain.ActionBuy:
		r.executeBuy(day, dec, price, auth.Shares, prices)
	case domain.ActionSell:
		r.executeSell(day, dec, price, auth.Shares, held, prices)
	}
}

func (r *Runner) executeBuy(day time.Time, dec domain.Decision, mid, shares float64, prices map[string]float64) {
	fill := execution.FillPrice(mid, domain.SideBuy, r.cfg.SlippageBps)
	commission := execution.Commission(shares*fill, r.cfg.CommissionRate)
	if err := r.ledger.ApplyBuy(dec.Ticker, shares, fill, commission); err != nil {
		r.log.Info().Err(err).Str("ticker", dec.Ticker).Msg("Buy rejected")
		r.emitRejection(dec, err.Error())
		return
	}
	r.recordTrade(day, dec, domain.SideBuy, shares, fill, commission, shares*fill+commission, 0, prices)
}

func (r *Runner) executeSell(day time.Time, dec domain.Decision, mid, shares, held float64, prices map[string]float64) {
	fill := execution.FillPrice(mid, domain.SideSell, r.cfg.SlippageBps)
	// Commission is charged on the actual fill, so clamp before pricing it.
	if held > 0 && shares > held {
		r.log.Warn().
			Str("ticker", dec.Ticker).
			Float64("requested", shares).
			Float64("held", held).
			Msg("Sell clamped to held quantity")
		shares = held
	}
	commission := execution.Commission(shares*fill, r.cfg.CommissionRate)
	realized, filled, err := r.ledger.ApplySell(dec.Ticker, shares, fill, commission)
	if err != nil {
		r.log.Info().Err(err).Str("ticker", dec.Ticker).Msg("Sell rejected")
		r.emitRejection(dec, err.Error())
		return
	}
	r.recordTrade(day, dec, domain.SideSell, filled, fill, commission, -(filled*fill - commission), realized, prices)
	r.tracker.RecordSale(realized)
}

func (r *Runner) recordTrade(day time.Time, dec domain.Decision, side domain.Side, shares, fill, commission, totalCost, realized float64, prices map[string]float64) {
	valueAfter := r.ledger.Context(prices).TotalValue

	trade := domain.Trade{
		Timestamp:           day,
		ID:                  uuid.NewString(),
		RunID:               r.cfg.RunID,
		Ticker:              dec.Ticker,
		Side:                side,
		Mode:                r.cfg.Mode,
		Reason:              dec.Reasoning,
		Shares:              shares,
		FillPrice:           fill,
		Commission:          commission,
		TotalCost:           totalCost,
		RealizedPL:          realized,
		PortfolioValueAfter: valueAfter,
	}
	r.trades = append(r.trades, trade)
	r.tracker.RecordExecution()
	r.gate.RecordTrade(realized, valueAfter)

	if err := r.journal.RecordTrade(trade); err != nil {
		r.log.Warn().Err(err).Str("trade_id", trade.ID).Msg("Trade not persisted")
	}

	r.log.Info().
		Str("ticker", trade.Ticker).
		Str("side", string(side)).
		Float64("shares", shares).
		Float64("fill", fill).
		Float64("realized_pl", realized).
		Float64("value_after", valueAfter).
		Msg("Trade executed")

	if r.bus != nil {
		r.bus.EmitTyped("backtest", &events.TradeExecutedData{
			Ticker:     trade.Ticker,
			Side:       string(side),
			Mode:       string(trade.Mode),
			Shares:     shares,
			Price:      fill,
			Commission: commission,
		})
	}
}

func (r *Runner) emitRejection(dec domain.Decision, reason string) {
	if r.bus == nil {
		return
	}
	r.bus.EmitTyped("backtest", &events.OrderRejectedData{
		Ticker: dec.Ticker,
		Side:   string(dec.Action),
		Reason: reason,
	})
}

func (r *Runner) emitError(err error, ticker string) {
	if r.bus == nil {
		return
	}
	ctx := map[string]interface{}{}
	if ticker != "" {
		ctx["ticker"] = ticker
	}
	r.bus.EmitError("backtest", err, ctx)
}

func (r *Runner) emitRunStatus(status string) {
	if r.bus == nil {
		return
	}
	r.bus.EmitTyped("backtest", &events.RunStatusData{
		RunID:  r.cfg.RunID,
		Mode:   string(r.cfg.Mode),
		Status: status,
		Trades: len(r.trades),
	})
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
