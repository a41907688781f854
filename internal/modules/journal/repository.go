// Package journal persists executed trades and portfolio snapshots to the
// journal database. The journal is the immutable audit trail: rows are
// inserted once and never updated or deleted.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// Repository handles trade and snapshot persistence in journal.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new journal repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "journal").Logger(),
	}
}

var _ domain.TradeJournal = (*Repository)(nil)

// RecordTrade appends an executed trade to the audit trail.
// RealizedPL is stored as NULL for buys; a buy never realizes P&L.
func (r *Repository) RecordTrade(trade domain.Trade) error {
	query := `
		INSERT INTO trades (
			id, run_id, executed_at, ticker, side, mode, order_id, reason,
			shares, fill_price, commission, total_cost, realized_pl,
			portfolio_value_after
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var realizedPL interface{}
	if trade.Side == domain.SideSell {
		realizedPL = trade.RealizedPL
	}

	_, err := r.db.Exec(
		query,
		trade.ID,
		trade.RunID,
		trade.Timestamp.UTC().Format(time.RFC3339Nano),
		trade.Ticker,
		string(trade.Side),
		string(trade.Mode),
		trade.OrderID,
		trade.Reason,
		trade.Shares,
		trade.FillPrice,
		trade.Commission,
		trade.TotalCost,
		realizedPL,
		trade.PortfolioValueAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	r.log.Debug().
		Str("trade_id", trade.ID).
		Str("ticker", trade.Ticker).
		Str("side", string(trade.Side)).
		Float64("shares", trade.Shares).
		Msg("Trade journaled")

	return nil
}

// RecordSnapshot appends a portfolio snapshot for a run.
func (r *Repository) RecordSnapshot(runID string, snapshot domain.PortfolioSnapshot) error {
	positionsJSON, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot positions: %w", err)
	}

	query := `
		INSERT INTO snapshots (
			run_id, taken_at, cash, total_value, daily_return,
			cumulative_return, positions_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(
		query,
		runID,
		snapshot.Timestamp.UTC().Format(time.RFC3339Nano),
		snapshot.Cash,
		snapshot.TotalValue,
		snapshot.DailyReturn,
		snapshot.CumulativeReturn,
		string(positionsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

// ListTrades retrieves trades ordered most recent first, with an optional limit.
func (r *Repository) ListTrades(limit *int) ([]domain.Trade, error) {
	query := `
		SELECT id, run_id, executed_at, ticker, side, mode, order_id, reason,
		       shares, fill_price, commission, total_cost, realized_pl,
		       portfolio_value_after
		FROM trades
		ORDER BY executed_at DESC
	`
	if limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *limit)
	}

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	return r.scanTrades(rows)
}

// TradesByRun retrieves all trades for a run in execution order.
func (r *Repository) TradesByRun(runID string) ([]domain.Trade, error) {
	query := `
		SELECT id, run_id, executed_at, ticker, side, mode, order_id, reason,
		       shares, fill_price, commission, total_cost, realized_pl,
		       portfolio_value_after
		FROM trades
		WHERE run_id = ?
		ORDER BY executed_at ASC
	`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades by run: %w", err)
	}
	defer rows.Close()

	return r.scanTrades(rows)
}

// SnapshotsByRun retrieves all snapshots for a run in chronological order.
func (r *Repository) SnapshotsByRun(runID string) ([]domain.PortfolioSnapshot, error) {
	query := `
		SELECT taken_at, cash, total_value, daily_return, cumulative_return,
		       positions_json
		FROM snapshots
		WHERE run_id = ?
		ORDER BY taken_at ASC
	`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots by run: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.PortfolioSnapshot
	for rows.Next() {
		var snap domain.PortfolioSnapshot
		var takenAt string
		var positionsJSON string

		if err := rows.Scan(
			&takenAt,
			&snap.Cash,
			&snap.TotalValue,
			&snap.DailyReturn,
			&snap.CumulativeReturn,
			&positionsJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, takenAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot time %q: %w", takenAt, err)
		}
		snap.Timestamp = ts

		if err := json.Unmarshal([]byte(positionsJSON), &snap.Positions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot positions: %w", err)
		}

		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// TradeCount returns the total number of journaled trades.
func (r *Repository) TradeCount() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM trades").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

// scanTrades is a helper to scan multiple trades
func (r *Repository) scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade

	for rows.Next() {
		var t domain.Trade
		var executedAt string
		var side, mode string
		var orderID, reason sql.NullString
		var realizedPL sql.NullFloat64

		err := rows.Scan(
			&t.ID,
			&t.RunID,
			&executedAt,
			&t.Ticker,
			&side,
			&mode,
			&orderID,
			&reason,
			&t.Shares,
			&t.FillPrice,
			&t.Commission,
			&t.TotalCost,
			&realizedPL,
			&t.PortfolioValueAfter,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, executedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trade time %q: %w", executedAt, err)
		}
		t.Timestamp = ts
		t.Side = domain.Side(side)
		t.Mode = domain.Mode(mode)
		t.OrderID = orderID.String
		t.Reason = reason.String
		if realizedPL.Valid {
			t.RealizedPL = realizedPL.Float64
		}

		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}
