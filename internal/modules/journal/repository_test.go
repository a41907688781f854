package journal

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/helmsman/internal/domain"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE trades (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		executed_at TEXT NOT NULL,
		ticker TEXT NOT NULL,
		side TEXT NOT NULL,
		mode TEXT NOT NULL,
		order_id TEXT,
		reason TEXT,
		shares REAL NOT NULL,
		fill_price REAL NOT NULL,
		commission REAL NOT NULL,
		total_cost REAL NOT NULL,
		realized_pl REAL,
		portfolio_value_after REAL NOT NULL
	)`)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		taken_at TEXT NOT NULL,
		cash REAL NOT NULL,
		total_value REAL NOT NULL,
		daily_return REAL NOT NULL,
		cumulative_return REAL NOT NULL,
		positions_json TEXT NOT NULL
	)`)
	require.NoError(t, err)

	return NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
}

func sampleTrade(id, runID string, side domain.Side, at time.Time) domain.Trade {
	t := domain.Trade{
		Timestamp:           at,
		ID:                  id,
		RunID:               runID,
		Ticker:              "AAPL",
		Side:                side,
		Mode:                domain.ModePaper,
		OrderID:             "order-1",
		Reason:              "momentum crossover",
		Shares:              10,
		FillPrice:           150.075,
		Commission:          1.5,
		TotalCost:           1502.25,
		PortfolioValueAfter: 99998.5,
	}
	if side == domain.SideSell {
		t.RealizedPL = 48.0
		t.TotalCost = -1499.25
	}
	return t
}

func TestRepository_RecordAndListTrades(t *testing.T) {
	repo := setupTestRepo(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordTrade(sampleTrade("t1", "run-1", domain.SideBuy, base)))
	require.NoError(t, repo.RecordTrade(sampleTrade("t2", "run-1", domain.SideSell, base.Add(time.Hour))))

	trades, err := repo.ListTrades(nil)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Most recent first.
	assert.Equal(t, "t2", trades[0].ID)
	assert.Equal(t, domain.SideSell, trades[0].Side)
	assert.Equal(t, 48.0, trades[0].RealizedPL)

	assert.Equal(t, "t1", trades[1].ID)
	assert.Equal(t, domain.SideBuy, trades[1].Side)
	assert.Equal(t, "momentum crossover", trades[1].Reason)
	assert.True(t, trades[1].Timestamp.Equal(base))
}

func TestRepository_BuyStoresNullRealizedPL(t *testing.T) {
	repo := setupTestRepo(t)

	trade := sampleTrade("t1", "run-1", domain.SideBuy, time.Now().UTC())
	trade.RealizedPL = 123.0 // must not be persisted for a buy
	require.NoError(t, repo.RecordTrade(trade))

	trades, err := repo.ListTrades(nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Zero(t, trades[0].RealizedPL)
}

func TestRepository_ListTradesHonorsLimit(t *testing.T) {
	repo := setupTestRepo(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		trade := sampleTrade("", "run-1", domain.SideBuy, base.Add(time.Duration(i)*time.Minute))
		trade.ID = string(rune('a' + i))
		require.NoError(t, repo.RecordTrade(trade))
	}

	limit := 2
	trades, err := repo.ListTrades(&limit)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "e", trades[0].ID)
	assert.Equal(t, "d", trades[1].ID)
}

func TestRepository_TradesByRunFiltersAndOrders(t *testing.T) {
	repo := setupTestRepo(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordTrade(sampleTrade("t1", "run-1", domain.SideBuy, base.Add(time.Hour))))
	require.NoError(t, repo.RecordTrade(sampleTrade("t2", "run-2", domain.SideBuy, base)))
	require.NoError(t, repo.RecordTrade(sampleTrade("t3", "run-1", domain.SideSell, base.Add(2*time.Hour))))

	trades, err := repo.TradesByRun("run-1")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t1", trades[0].ID)
	assert.Equal(t, "t3", trades[1].ID)
}

func TestRepository_SnapshotRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)

	snap := domain.PortfolioSnapshot{
		Timestamp: time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC),
		Cash:      98498.5,
		Positions: map[string]domain.PositionView{
			"AAPL": {
				Ticker:       "AAPL",
				Quantity:     10,
				AvgCost:      150.225,
				Price:        152.0,
				MarketValue:  1520.0,
				UnrealizedPL: 17.75,
			},
		},
		TotalValue:       100018.5,
		DailyReturn:      0.000185,
		CumulativeReturn: 0.000185,
	}
	require.NoError(t, repo.RecordSnapshot("run-1", snap))

	snapshots, err := repo.SnapshotsByRun("run-1")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	got := snapshots[0]
	assert.True(t, got.Timestamp.Equal(snap.Timestamp))
	assert.Equal(t, snap.Cash, got.Cash)
	assert.Equal(t, snap.TotalValue, got.TotalValue)
	require.Contains(t, got.Positions, "AAPL")
	assert.Equal(t, 10.0, got.Positions["AAPL"].Quantity)
	assert.Equal(t, 152.0, got.Positions["AAPL"].Price)
}

func TestRepository_SnapshotsByRunEmptyRun(t *testing.T) {
	repo := setupTestRepo(t)

	snapshots, err := repo.SnapshotsByRun("missing")
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestRepository_TradeCount(t *testing.T) {
	repo := setupTestRepo(t)

	count, err := repo.TradeCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, repo.RecordTrade(sampleTrade("t1", "run-1", domain.SideBuy, time.Now().UTC())))

	count, err = repo.TradeCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNop_ImplementsJournal(t *testing.T) {
	var j domain.TradeJournal = Nop{}
	assert.NoError(t, j.RecordTrade(domain.Trade{}))
	assert.NoError(t, j.RecordSnapshot("run", domain.PortfolioSnapshot{}))
}
