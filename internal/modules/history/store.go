// Package history provides the daily bar store backing backtests.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
)

const dateFormat = "2006-01-02"

// Bar is one daily OHLCV observation.
type Bar struct {
	Ticker string  `json:"ticker"`
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume,omitempty"`
}

// Store provides access to historical daily bars. It satisfies the
// price source contract used by the backtest runner: a missing bar is a
// market data error, never a zero price.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore opens (and if needed initializes) the bar database at path.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_bars (
			ticker TEXT NOT NULL,
			date TEXT NOT NULL,
			open_price REAL NOT NULL,
			high_price REAL NOT NULL,
			low_price REAL NOT NULL,
			close_price REAL NOT NULL,
			volume INTEGER,
			PRIMARY KEY (ticker, date)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create daily_bars table: %w", err)
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "history").Logger(),
	}, nil
}

var _ domain.PriceSource = (*Store)(nil)

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertBar inserts or replaces a single bar.
func (s *Store) UpsertBar(bar Bar) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daily_bars
			(ticker, date, open_price, high_price, low_price, close_price, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bar.Ticker, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bar %s %s: %w", bar.Ticker, bar.Date, err)
	}
	return nil
}

// UpsertBars inserts or replaces a batch of bars in one transaction.
func (s *Store) UpsertBars(bars []Bar) error {
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO daily_bars
				(ticker, date, open_price, high_price, low_price, close_price, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare bar insert: %w", err)
		}
		defer stmt.Close()

		for _, bar := range bars {
			if _, err := stmt.Exec(bar.Ticker, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
				return fmt.Errorf("failed to insert bar %s %s: %w", bar.Ticker, bar.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bar import failed: %w", err)
	}

	s.log.Debug().Int("bars", len(bars)).Msg("Bars imported")
	return nil
}

// PriceAt returns the closing price for ticker on the given date.
// A missing bar yields a market data error so callers can skip the
// ticker for that day.
func (s *Store) PriceAt(date time.Time, ticker string) (float64, error) {
	day := date.Format(dateFormat)

	var closePrice float64
	err := s.db.QueryRow(
		"SELECT close_price FROM daily_bars WHERE ticker = ? AND date = ?",
		ticker, day,
	).Scan(&closePrice)

	if err == sql.ErrNoRows {
		return 0, domain.NewMarketDataError(ticker, date, fmt.Errorf("no bar for %s", day))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query close for %s %s: %w", ticker, day, err)
	}

	return closePrice, nil
}

// Bars fetches the most recent bars for a ticker, newest first.
func (s *Store) Bars(ticker string, limit int) ([]Bar, error) {
	rows, err := s.db.Query(`
		SELECT ticker, date, open_price, high_price, low_price, close_price, volume
		FROM daily_bars
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT ?`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var b Bar
		var volume sql.NullInt64

		if err := rows.Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		if volume.Valid {
			b.Volume = volume.Int64
		}

		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}

// ClosesUpTo returns closing prices for a ticker up to and including the
// given date, oldest first, capped at limit. This is the input shape the
// indicator-based strategies consume.
func (s *Store) ClosesUpTo(ticker string, date time.Time, limit int) ([]float64, error) {
	day := date.Format(dateFormat)

	rows, err := s.db.Query(`
		SELECT close_price FROM (
			SELECT date, close_price
			FROM daily_bars
			WHERE ticker = ? AND date <= ?
			ORDER BY date DESC
			LIMIT ?
		) ORDER BY date ASC`, ticker, day, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closes: %w", err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan close: %w", err)
		}
		closes = append(closes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closes: %w", err)
	}

	return closes, nil
}

// Tickers lists the distinct tickers present in the store.
func (s *Store) Tickers() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT ticker FROM daily_bars ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, ticker)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickers: %w", err)
	}

	return tickers, nil
}

// BarCount returns the number of stored bars across all tickers.
func (s *Store) BarCount() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM daily_bars").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}
	return count, nil
}
