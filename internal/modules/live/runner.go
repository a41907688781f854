// Package live implements the polling trade loop: one cooperative cycle
// per decision interval, gated on the kill switch and trading hours,
// executing through a BrokerAdapter. The loop suspends only at its sleep
// points; an in-flight broker call always resolves before the runner exits.
package live

import (
	"context"
	"fmt"
	"sync"
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

const (
	defaultKillSwitchRetry = 30 * time.Second
	defaultClosedRetry     = 5 * time.Minute
)

// Config holds the live loop's settings.
type Config struct {
	RunID                 string
	Mode                  domain.Mode
	Tickers               []string
	InitialCapital        float64
	CommissionRate        float64
	Limits                domain.RiskLimits
	DecisionInterval      time.Duration
	KillSwitchRetry       time.Duration
	ClosedRetry           time.Duration
	TradingStartHour      int
	TradingEndHour        int
	Location              *time.Location
	RequireConfirmation   bool
	BrokerRateLimitPerSec float64
	PeriodsPerYear        float64
}

func (c Config) validate() error {
	switch c.Mode {
	case domain.ModeDryRun, domain.ModePaper, domain.ModeLive:
	default:
		return domain.NewValidationError("mode", fmt.Sprintf("unrecognized mode %q", c.Mode))
	}
	if c.InitialCapital <= 0 {
		return domain.NewValidationError("initial_capital", "must be positive")
	}
	if len(c.Tickers) == 0 {
		return domain.NewValidationError("tickers", "at least one ticker is required")
	}
	if c.DecisionInterval <= 0 {
		return domain.NewValidationError("decision_interval_seconds", "must be positive")
	}
	if c.CommissionRate < 0 {
		return domain.NewValidationError("commission_rate", "must not be negative")
	}
	return nil
}

// Runner is the live-mode orchestrator. One instance owns one ledger, one
// risk gate and one tracker; none of that state is shared with other runs.
type Runner struct {
	cfg       Config
	broker    domain.BrokerAdapter
	provider  domain.DecisionProvider
	confirmer domain.Confirmer
	journal   domain.TradeJournal
	bus       *events.Bus
	hours     *markethours.Service
	ledger    *ledger.Ledger
	gate      *risk.Gate
	tracker   *performance.Tracker
	log       zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex
	state      domain.RunnerState
	userPaused bool
	trades     []domain.Trade
	history    []domain.PortfolioSnapshot
	errors     int
	cycles     int
	startedAt  time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a runner. The confirmer may be nil except in LIVE mode with
// confirmation required, where its absence is a configuration error rather
// than a silent auto-approve.
func New(cfg Config, broker domain.BrokerAdapter, provider domain.DecisionProvider, confirmer domain.Confirmer, jrnl domain.TradeJournal, bus *events.Bus, log zerolog.Logger) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if broker == nil {
		return nil, domain.NewValidationError("broker", "is required")
	}
	if provider == nil {
		return nil, domain.NewValidationError("decision_provider", "is required")
	}
	if cfg.Mode == domain.ModeLive && cfg.RequireConfirmation && confirmer == nil {
		return nil, domain.NewValidationError("confirmer", "required in LIVE mode with confirmation on")
	}

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.KillSwitchRetry <= 0 {
		cfg.KillSwitchRetry = defaultKillSwitchRetry
	}
	if cfg.ClosedRetry <= 0 {
		cfg.ClosedRetry = defaultClosedRetry
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = performance.PeriodsPerYearForInterval(int(cfg.DecisionInterval.Seconds()))
	}
	if confirmer == nil {
		confirmer = AutoConfirmer{}
	}
	if jrnl == nil {
		jrnl = journal.Nop{}
	}

	return &Runner{
		cfg:       cfg,
		broker:    broker,
		provider:  provider,
		confirmer: confirmer,
		journal:   jrnl,
		bus:       bus,
		hours:     markethours.New(cfg.TradingStartHour, cfg.TradingEndHour, cfg.Location, log),
		ledger:    ledger.New(cfg.InitialCapital, log),
		gate:      risk.New(cfg.Limits, log),
		tracker:   performance.New(cfg.InitialCapital, cfg.PeriodsPerYear, log),
		log:       log.With().Str("component", "live").Str("run_id", cfg.RunID).Logger(),
		now:       time.Now,
		state:     domain.RunnerStopped,
		stopCh:    make(chan struct{}),
	}, nil
}

// Run drives the loop until ctx is cancelled or Stop is called. Broker and
// data failures never end the loop; only the operator does.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.state != domain.RunnerStopped {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("runner is already %s", state)
	}
	r.state = domain.RunnerRunning
	r.startedAt = r.now()
	r.mu.Unlock()
	r.emitState(domain.RunnerStopped, domain.RunnerRunning)

	r.log.Info().
		Str("mode", string(r.cfg.Mode)).
		Strs("tickers", r.cfg.Tickers).
		Dur("interval", r.cfg.DecisionInterval).
		Msg("Live runner started")
	r.rateLimitSelfCheck()
	defer func() {
		r.setState(domain.RunnerStopped)
		r.log.Info().Msg("Live runner stopped")
	}()

	for {
		now := r.now()
		r.gate.CheckDailyReset(now)

		if r.isUserPaused() {
			r.setState(domain.RunnerPaused)
			if !r.sleep(ctx, r.cfg.KillSwitchRetry) {
				return nil
			}
			continue
		}

		if engaged, reason := r.gate.KillSwitchActive(); engaged {
			r.setState(domain.RunnerPaused)
			r.log.Debug().Str("reason", reason).Msg("Kill switch engaged, holding")
			if !r.sleep(ctx, r.cfg.KillSwitchRetry) {
				return nil
			}
			continue
		}

		if !r.hours.IsTradingTime(now) {
			r.setState(domain.RunnerPaused)
			r.log.Debug().Time("next_open", r.hours.NextOpen(now)).Msg("Outside trading hours")
			if !r.sleep(ctx, r.cfg.ClosedRetry) {
				return nil
			}
			continue
		}

		r.setState(domain.RunnerRunning)
		r.cycle(ctx, now)

		if !r.sleep(ctx, r.cfg.DecisionInterval) {
			return nil
		}
	}
}

// cycle evaluates every configured ticker sequentially, then snapshots.
func (r *Runner) cycle(ctx context.Context, now time.Time) {
	r.mu.Lock()
	r.cycles++
	r.mu.Unlock()

	prices := make(map[string]float64, len(r.cfg.Tickers))
	for _, ticker := range r.cfg.Tickers {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}
		r.evaluateTicker(ctx, now, ticker, prices)
	}
	r.snapshot(now, prices)
}

// evaluateTicker runs one ticker through the pipeline: quote, balance,
// decision, authorization, execution. Each stage failure is contained here.
func (r *Runner) evaluateTicker(ctx context.Context, now time.Time, ticker string, prices map[string]float64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.countError()
			r.log.Error().Interface("panic", rec).Str("ticker", ticker).Msg("Ticker evaluation panicked")
		}
	}()

	quote, err := r.broker.GetPrice(ctx, ticker)
	if err != nil {
		r.log.Warn().
			Err(domain.NewMarketDataError(ticker, now, err)).
			Msg("Quote unavailable, ticker skipped")
		return
	}
	prices[ticker] = quote.Price

	balance, err := r.broker.GetAccountBalance(ctx)
	if err != nil {
		r.countError()
		r.log.Error().Err(err).Str("ticker", ticker).Msg("Balance fetch failed")
		r.emitError(err, ticker)
		return
	}

	pc := r.contextWith(balance.Cash, prices)
	decisions, err := r.provider.Decide(now, pc)
	if err != nil {
		r.countError()
		r.log.Error().Err(err).Str("ticker", ticker).Msg("Decision provider failed")
		r.emitError(err, ticker)
		return
	}

	for _, dec := range decisions {
		if dec.Ticker != ticker || dec.Action == domain.ActionHold {
			continue
		}
		r.executeDecision(ctx, now, dec, quote, pc)
	}
}

// contextWith builds the decision context from the ledger's positions and
// the broker's cash. The broker balance is authoritative for cash in live
// mode; the ledger total is adjusted to match.
func (r *Runner) contextWith(cash float64, prices map[string]float64) domain.PortfolioContext {
	pc := r.ledger.Context(prices)
	pc.TotalValue += cash - pc.Cash
	pc.Cash = cash
	return pc
}

func (r *Runner) executeDecision(ctx context.Context, now time.Time, dec domain.Decision, quote domain.Quote, pc domain.PortfolioContext) {
	_, holds := pc.Positions[dec.Ticker]
	auth := r.gate.Authorize(now, dec, quote.Price, pc.TotalValue, pc.NumPositions, holds)
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

	side := domain.SideBuy
	if dec.Action == domain.ActionSell {
		side = domain.SideSell
	}

	if r.cfg.Mode == domain.ModeDryRun {
		r.log.Info().
			Str("ticker", dec.Ticker).
			Str("side", string(side)).
			Float64("shares", auth.Shares).
			Float64("price", quote.Price).
			Str("reason", dec.Reasoning).
			Msg("Dry run, order not sent")
		return
	}

	if r.cfg.Mode == domain.ModeLive && r.cfg.RequireConfirmation {
		intent := domain.TradeIntent{
			Ticker:    dec.Ticker,
			Side:      side,
			Shares:    auth.Shares,
			Price:     quote.Price,
			Notional:  auth.Shares * quote.Price,
			Reasoning: dec.Reasoning,
		}
		if !r.confirmer.Confirm(intent) {
			r.log.Warn().
				Str("ticker", dec.Ticker).
				Str("side", string(side)).
				Msg("Order declined by confirmer")
			r.emitRejection(dec, "confirmation declined")
			return
		}
	}

	var result *domain.ExecutionResult
	var err error
	if side == domain.SideBuy {
		result, err = r.broker.BuyMarketOrder(ctx, dec.Ticker, auth.Shares)
	} else {
		result, err = r.broker.SellMarketOrder(ctx, dec.Ticker, auth.Shares)
	}
	if err != nil {
		r.countError()
		r.log.Error().Err(err).Str("ticker", dec.Ticker).Msg("Order submission failed")
		r.emitError(err, dec.Ticker)
		return
	}

	r.recordFill(now, dec, side, result)
}

// recordFill mirrors a broker fill into the ledger and records the Trade.
// The fill already happened; a ledger mismatch is logged and counted but
// the trade is still recorded.
func (r *Runner) recordFill(now time.Time, dec domain.Decision, side domain.Side, result *domain.ExecutionResult) {
	commission := execution.Commission(result.Shares*result.FillPrice, r.cfg.CommissionRate)

	shares := result.Shares
	realized := 0.0
	if side == domain.SideBuy {
		if err := r.ledger.ApplyBuy(dec.Ticker, shares, result.FillPrice, commission); err != nil {
			r.countError()
			r.log.Error().Err(err).Str("ticker", dec.Ticker).Msg("Fill not applied to ledger")
		}
	} else {
		pl, filled, err := r.ledger.ApplySell(dec.Ticker, shares, result.FillPrice, commission)
		if err != nil {
			r.countError()
			r.log.Error().Err(err).Str("ticker", dec.Ticker).Msg("Fill not applied to ledger")
		} else {
			realized = pl
			shares = filled
		}
	}

	totalCost := shares*result.FillPrice + commission
	if side == domain.SideSell {
		totalCost = -(shares*result.FillPrice - commission)
	}
	valueAfter := r.ledger.Context(map[string]float64{dec.Ticker: result.FillPrice}).TotalValue

	trade := domain.Trade{
		Timestamp:           now,
		ID:                  uuid.NewString(),
		RunID:               r.cfg.RunID,
		Ticker:              dec.Ticker,
		Side:                side,
		Mode:                r.cfg.Mode,
		OrderID:             result.OrderID,
		Reason:              dec.Reasoning,
		Shares:              shares,
		FillPrice:           result.FillPrice,
		Commission:          commission,
		TotalCost:           totalCost,
		RealizedPL:          realized,
		PortfolioValueAfter: valueAfter,
	}

	r.mu.Lock()
	r.trades = append(r.trades, trade)
	r.mu.Unlock()

	r.tracker.RecordExecution()
	if side == domain.SideSell {
		r.tracker.RecordSale(realized)
	}
	r.gate.RecordTrade(realized, valueAfter)

	if err := r.journal.RecordTrade(trade); err != nil {
		r.log.Warn().Err(err).Str("trade_id", trade.ID).Msg("Trade not persisted")
	}

	r.log.Info().
		Str("ticker", trade.Ticker).
		Str("side", string(side)).
		Str("order_id", trade.OrderID).
		Float64("shares", shares).
		Float64("fill", result.FillPrice).
		Float64("realized_pl", realized).
		Msg("Trade executed")

	if r.bus != nil {
		r.bus.EmitTyped("live", &events.TradeExecutedData{
			Ticker:     trade.Ticker,
			Side:       string(side),
			OrderID:    trade.OrderID,
			Mode:       string(trade.Mode),
			Shares:     shares,
			Price:      result.FillPrice,
			Commission: commission,
		})
	}
}

func (r *Runner) snapshot(now time.Time, prices map[string]float64) {
	snap := r.ledger.MarkToMarket(now, prices)
	r.ledger.CommitSnapshot(snap)
	r.tracker.Observe(snap)

	r.mu.Lock()
	r.history = append(r.history, snap)
	r.mu.Unlock()

	if err := r.journal.RecordSnapshot(r.cfg.RunID, snap); err != nil {
		r.log.Warn().Err(err).Msg("Snapshot not persisted")
	}
	if r.bus != nil {
		r.bus.EmitTyped("live", &events.SnapshotData{
			Cash:        snap.Cash,
			TotalValue:  snap.TotalValue,
			DailyReturn: snap.DailyReturn,
			Positions:   len(snap.Positions),
		})
	}
}

// rateLimitSelfCheck compares the worst-case broker calls per cycle against
// the configured rate budget. An unsafe interval warns once and keeps
// going; the operator may know better.
func (r *Runner) rateLimitSelfCheck() {
	if r.cfg.BrokerRateLimitPerSec <= 0 {
		return
	}
	worstCalls := float64(len(r.cfg.Tickers)) * 3
	budget := r.cfg.BrokerRateLimitPerSec * r.cfg.DecisionInterval.Seconds()
	if worstCalls > budget {
		r.log.Warn().
			Float64("worst_case_calls", worstCalls).
			Float64("budget", budget).
			Dur("interval", r.cfg.DecisionInterval).
			Msg("Decision interval may exceed broker rate limit")
	}
}

// Stop ends the loop at its next suspension point. Safe to call more than
// once and before Run.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// Pause idles the loop without stopping it. Takes effect at the next cycle
// boundary.
func (r *Runner) Pause() {
	r.mu.Lock()
	r.userPaused = true
	r.mu.Unlock()
	r.log.Info().Msg("Runner paused by operator")
}

// Resume clears an operator pause.
func (r *Runner) Resume() {
	r.mu.Lock()
	r.userPaused = false
	r.mu.Unlock()
	r.log.Info().Msg("Runner resumed by operator")
}

func (r *Runner) isUserPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userPaused
}

// State returns the loop's lifecycle state.
func (r *Runner) State() domain.RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(to domain.RunnerState) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()
	if from != to {
		r.emitState(from, to)
	}
}

func (r *Runner) emitState(from, to domain.RunnerState) {
	r.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("Runner state changed")
	if r.bus != nil {
		r.bus.EmitTyped("live", &events.RunnerStateData{From: string(from), To: string(to)})
	}
}

// Gate exposes the risk gate for operator controls (kill switch API).
func (r *Runner) Gate() *risk.Gate {
	return r.gate
}

// RunID returns this run's identifier.
func (r *Runner) RunID() string {
	return r.cfg.RunID
}

// Mode returns the configured execution mode.
func (r *Runner) Mode() domain.Mode {
	return r.cfg.Mode
}

// Errors returns the count of contained failures so far.
func (r *Runner) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// Cycles returns how many evaluation cycles have completed.
func (r *Runner) Cycles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

func (r *Runner) countError() {
	r.mu.Lock()
	r.errors++
	r.mu.Unlock()
}

// Metrics returns the tracker's current statistics.
func (r *Runner) Metrics() domain.PerformanceMetrics {
	return r.tracker.Metrics()
}

// Trades returns a copy of the recorded trades, oldest first. A positive
// limit keeps only the most recent entries.
func (r *Runner) Trades(limit int) []domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()

	trades := r.trades
	if limit > 0 && limit < len(trades) {
		trades = trades[len(trades)-limit:]
	}
	out := make([]domain.Trade, len(trades))
	copy(out, trades)
	return out
}

// LatestSnapshot returns the most recent portfolio snapshot, if any cycle
// has completed.
func (r *Runner) LatestSnapshot() (domain.PortfolioSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return domain.PortfolioSnapshot{}, false
	}
	return r.history[len(r.history)-1], true
}

// Result assembles the run's result bundle from its state so far.
func (r *Runner) Result() domain.RunResult {
	r.mu.Lock()
	trades := make([]domain.Trade, len(r.trades))
	copy(trades, r.trades)
	history := make([]domain.PortfolioSnapshot, len(r.history))
	copy(history, r.history)
	errCount := r.errors
	startedAt := r.startedAt
	r.mu.Unlock()

	return domain.RunResult{
		StartedAt:        startedAt,
		FinishedAt:       r.now(),
		RunID:            r.cfg.RunID,
		Mode:             r.cfg.Mode,
		Config:           r.configSnapshot(),
		Trades:           trades,
		PortfolioHistory: history,
		Metrics:          r.tracker.Metrics(),
		Errors:           errCount,
	}
}

func (r *Runner) configSnapshot() map[string]any {
	return map[string]any{
		"mode":                      string(r.cfg.Mode),
		"tickers":                   append([]string(nil), r.cfg.Tickers...),
		"initial_capital":           r.cfg.InitialCapital,
		"commission_rate":           r.cfg.CommissionRate,
		"decision_interval_seconds": int(r.cfg.DecisionInterval.Seconds()),
		"require_confirmation":      r.cfg.RequireConfirmation,
		"trading_start_hour":        r.cfg.TradingStartHour,
		"trading_end_hour":          r.cfg.TradingEndHour,
		"max_positions":             r.cfg.Limits.MaxPositions,
		"max_position_size_usd":     r.cfg.Limits.MaxPositionSizeUSD,
		"max_daily_trades":          r.cfg.Limits.MaxDailyTrades,
		"max_daily_loss_pct":        r.cfg.Limits.MaxDailyLossPct,
	}
}

func (r *Runner) emitRejection(dec domain.Decision, reason string) {
	if r.bus == nil {
		return
	}
	r.bus.EmitTyped("live", &events.OrderRejectedData{
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
	r.bus.EmitError("live", err, ctx)
}

// sleep blocks for d or until the runner is told to stop. Returns false
// when the loop should exit.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
