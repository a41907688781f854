// Package risk provides the stateful authorization gate consulted before
// every execution: daily caps, position sizing, and the kill switch.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// KillSwitchReasonDailyLoss marks an automatic engage after the daily loss
// limit is breached. Disengaging always stays a manual operator action.
const KillSwitchReasonDailyLoss = "daily loss limit breached"

// Gate authorizes orders for exactly one runner instance. It is an injected
// value, never a global: production wires one per run, tests script their
// own.
type Gate struct {
	mu               sync.Mutex
	limits           domain.RiskLimits
	dailyTradeCount  int
	dailyPnL         float64
	killSwitchActive bool
	killSwitchReason string
	lastResetDate    time.Time
	log              zerolog.Logger
}

// New creates a gate enforcing the given limits.
func New(limits domain.RiskLimits, log zerolog.Logger) *Gate {
	return &Gate{
		limits: limits,
		log:    log.With().Str("component", "risk_gate").Logger(),
	}
}

// CheckDailyReset zeroes the daily counters when the calendar day has
// rolled over. It runs at the top of every Authorize call and may also be
// invoked directly by loop code.
func (g *Gate) CheckDailyReset(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDailyResetLocked(now)
}

func (g *Gate) checkDailyResetLocked(now time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if g.lastResetDate.Equal(today) {
		return
	}
	if !g.lastResetDate.IsZero() {
		g.log.Info().
			Int("trades", g.dailyTradeCount).
			Float64("pnl", g.dailyPnL).
			Str("date", g.lastResetDate.Format("2006-01-02")).
			Msg("Daily counters reset")
	}
	g.dailyTradeCount = 0
	g.dailyPnL = 0
	g.lastResetDate = today
}

// Authorize runs the ordered checks for one decision and returns whether
// the order may proceed, with the sized share count when it may.
//
// Check order: kill switch, daily trade cap, position-size clamp (warning
// only), zero-share floor, then the max-positions cap. The last applies only
// to a BUY opening a new ticker; closing is never refused for that reason.
func (g *Gate) Authorize(now time.Time, decision domain.Decision, price, portfolioValue float64, numPositions int, holdsTicker bool) domain.AuthResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.checkDailyResetLocked(now)

	if g.killSwitchActive {
		return domain.AuthResult{Reason: "kill switch engaged"}
	}

	if g.dailyTradeCount >= g.limits.MaxDailyTrades {
		return domain.AuthResult{
			Reason: fmt.Sprintf("daily trade limit reached (%d)", g.limits.MaxDailyTrades),
		}
	}

	positionValue := decision.PositionSizePct / 100 * portfolioValue
	if positionValue < 0 {
		positionValue = 0
	}
	clampWarning := ""
	if positionValue > g.limits.MaxPositionSizeUSD {
		clampWarning = fmt.Sprintf("position value %.2f clamped to %.2f", positionValue, g.limits.MaxPositionSizeUSD)
		positionValue = g.limits.MaxPositionSizeUSD
		g.log.Warn().
			Str("ticker", decision.Ticker).
			Float64("max_usd", g.limits.MaxPositionSizeUSD).
			Msg("Position size clamped")
	}

	if price <= 0 {
		return domain.AuthResult{Reason: "no usable price", ClampWarning: clampWarning}
	}
	shares := math.Floor(positionValue / price)
	if shares <= 0 {
		return domain.AuthResult{Reason: "position size rounds to zero shares", ClampWarning: clampWarning}
	}

	if decision.Action == domain.ActionBuy && !holdsTicker && numPositions >= g.limits.MaxPositions {
		return domain.AuthResult{
			Reason:       fmt.Sprintf("max positions reached (%d)", g.limits.MaxPositions),
			ClampWarning: clampWarning,
		}
	}

	return domain.AuthResult{Allowed: true, Shares: shares, ClampWarning: clampWarning}
}

// RecordTrade bumps the daily counters after an execution. When the
// accumulated daily loss breaches the configured percentage of portfolio
// value, the gate engages the kill switch itself; disengaging remains a
// manual call.
func (g *Gate) RecordTrade(realizedPL, portfolioValue float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dailyTradeCount++
	g.dailyPnL += realizedPL

	if g.killSwitchActive || portfolioValue <= 0 || g.limits.MaxDailyLossPct <= 0 {
		return
	}
	if g.dailyPnL <= -(g.limits.MaxDailyLossPct/100)*portfolioValue {
		g.killSwitchActive = true
		g.killSwitchReason = KillSwitchReasonDailyLoss
		g.log.Error().
			Float64("daily_pnl", g.dailyPnL).
			Float64("limit_pct", g.limits.MaxDailyLossPct).
			Msg("Kill switch engaged automatically")
	}
}

// ActivateKillSwitch blocks all further authorizations until an explicit
// DeactivateKillSwitch. Sticky: conditions improving later does not clear
// it.
func (g *Gate) ActivateKillSwitch(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.killSwitchActive = true
	g.killSwitchReason = reason
	g.log.Error().Str("reason", reason).Msg("Kill switch engaged")
}

// DeactivateKillSwitch clears the kill switch. This is the only way it
// clears.
func (g *Gate) DeactivateKillSwitch() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.killSwitchActive = false
	g.killSwitchReason = ""
	g.log.Warn().Msg("Kill switch disengaged")
}

// KillSwitchActive reports the switch state and the engage reason.
func (g *Gate) KillSwitchActive() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killSwitchActive, g.killSwitchReason
}

// DailyStats returns the current daily counters.
func (g *Gate) DailyStats() (trades int, pnl float64, lastReset time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyTradeCount, g.dailyPnL, g.lastResetDate
}

// Limits returns the static limits the gate enforces.
func (g *Gate) Limits() domain.RiskLimits {
	return g.limits
}
