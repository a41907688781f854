// Package domain provides core domain models and types.
package domain

import "time"

// Side represents the direction of an order or trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Action represents a decision outcome
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Mode represents the execution mode of a runner
type Mode string

const (
	// ModeDryRun logs intended orders without executing anything
	ModeDryRun Mode = "DRY_RUN"
	// ModePaper executes against a simulated broker
	ModePaper Mode = "PAPER"
	// ModeLive executes with real capital through a broker adapter
	ModeLive Mode = "LIVE"
)

// RunnerState represents the lifecycle state of the live loop
type RunnerState string

const (
	RunnerStopped RunnerState = "STOPPED"
	RunnerRunning RunnerState = "RUNNING"
	RunnerPaused  RunnerState = "PAUSED"
)

// Position represents a single holding.
// Owned exclusively by the ledger; mutated only through ApplyBuy/ApplySell.
type Position struct {
	Ticker   string  `json:"ticker"`
	Quantity float64 `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// PositionView is a position enriched with a market price, as it appears
// inside a snapshot.
type PositionView struct {
	Ticker       string  `json:"ticker"`
	Quantity     float64 `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	Price        float64 `json:"price"`
	MarketValue  float64 `json:"market_value"`
	UnrealizedPL float64 `json:"unrealized_pl"`
}

// PortfolioSnapshot is one observation of portfolio state.
// Immutable once appended to a run's history.
type PortfolioSnapshot struct {
	Timestamp        time.Time               `json:"timestamp"`
	Positions        map[string]PositionView `json:"positions"`
	Cash             float64                 `json:"cash"`
	TotalValue       float64                 `json:"total_value"`
	DailyReturn      float64                 `json:"daily_return"`
	CumulativeReturn float64                 `json:"cumulative_return"`
}

// Trade represents one executed order leg. Append-only, never mutated.
// TotalCost is signed: positive cash out for buys, negative (proceeds) for
// sells. RealizedPL is populated on sells only.
type Trade struct {
	Timestamp           time.Time `json:"timestamp"`
	ID                  string    `json:"id"`
	RunID               string    `json:"run_id"`
	Ticker              string    `json:"ticker"`
	Side                Side      `json:"side"`
	Mode                Mode      `json:"mode"`
	OrderID             string    `json:"order_id,omitempty"`
	Reason              string    `json:"reason,omitempty"`
	Shares              float64   `json:"shares"`
	FillPrice           float64   `json:"fill_price"`
	Commission          float64   `json:"commission"`
	TotalCost           float64   `json:"total_cost"`
	RealizedPL          float64   `json:"realized_pl"`
	PortfolioValueAfter float64   `json:"portfolio_value_after"`
}

// TradeIntent describes an authorized order before it reaches the broker.
// This is what a Confirmer sees.
type TradeIntent struct {
	Ticker    string  `json:"ticker"`
	Side      Side    `json:"side"`
	Shares    float64 `json:"shares"`
	Price     float64 `json:"price"`
	Notional  float64 `json:"notional"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Decision is the read-only input produced by a DecisionProvider.
type Decision struct {
	Ticker          string   `json:"ticker"`
	Action          Action   `json:"action"`
	Reasoning       string   `json:"reasoning,omitempty"`
	RiskFactors     []string `json:"risk_factors,omitempty"`
	PositionSizePct float64  `json:"position_size_pct"`
	Conviction      float64  `json:"conviction"`
}

// Quote is a single observed price
type Quote struct {
	Timestamp time.Time `json:"timestamp"`
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
}

// Balance is a broker account cash balance
type Balance struct {
	Currency string  `json:"currency"`
	Cash     float64 `json:"cash"`
}

// ExecutionResult is what a broker reports back for a filled order
type ExecutionResult struct {
	Timestamp time.Time `json:"timestamp"`
	OrderID   string    `json:"order_id"`
	Ticker    string    `json:"ticker"`
	Side      Side      `json:"side"`
	Shares    float64   `json:"shares"`
	FillPrice float64   `json:"fill_price"`
}

// PortfolioContext is the portfolio summary handed to a DecisionProvider.
type PortfolioContext struct {
	Positions    map[string]Position `json:"positions"`
	Cash         float64             `json:"cash"`
	TotalValue   float64             `json:"total_value"`
	NumPositions int                 `json:"num_positions"`
}

// RiskLimits bundles the static limits the risk gate enforces.
type RiskLimits struct {
	MaxPositionSizeUSD float64 `json:"max_position_size_usd"`
	MaxDailyLossPct    float64 `json:"max_daily_loss_pct"`
	MaxDailyTrades     int     `json:"max_daily_trades"`
	MaxPositions       int     `json:"max_positions"`
}

// AuthResult is the outcome of a risk authorization check.
// Shares is the sized order quantity when Allowed; ClampWarning is set when
// the requested position value was clamped to the configured maximum.
type AuthResult struct {
	Reason       string  `json:"reason,omitempty"`
	ClampWarning string  `json:"clamp_warning,omitempty"`
	Shares       float64 `json:"shares"`
	Allowed      bool    `json:"allowed"`
}

// PerformanceMetrics is the derived view over a run's snapshot history.
type PerformanceMetrics struct {
	DailyReturns     []float64 `json:"daily_returns,omitempty"`
	CumulativeReturn float64   `json:"cumulative_return"`
	Sharpe           float64   `json:"sharpe"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	WinRate          float64   `json:"win_rate"`
	TotalTrades      int       `json:"total_trades"`
	Wins             int       `json:"wins"`
}

// RunResult is the serializable artifact a completed run emits.
type RunResult struct {
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       time.Time           `json:"finished_at"`
	RunID            string              `json:"run_id"`
	Mode             Mode                `json:"mode"`
	Config           map[string]any      `json:"config"`
	Trades           []Trade             `json:"trades"`
	PortfolioHistory []PortfolioSnapshot `json:"portfolio_history"`
	Metrics          PerformanceMetrics  `json:"metrics"`
	Errors           int                 `json:"errors"`
}
