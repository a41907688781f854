package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ImportCSV loads daily bars from a CSV file into the store and returns
// the number of imported rows.
//
// Expected columns: ticker,date,open,high,low,close[,volume] with a
// header row. Dates must be YYYY-MM-DD.
func (s *Store) ImportCSV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < 6 {
		return 0, fmt.Errorf("CSV header has %d columns, expected at least 6", len(header))
	}

	var bars []Bar
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return 0, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		bar, err := parseBarRecord(record)
		if err != nil {
			return 0, fmt.Errorf("invalid CSV line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	if err := s.UpsertBars(bars); err != nil {
		return 0, err
	}

	s.log.Info().Int("bars", len(bars)).Str("file", path).Msg("CSV import complete")
	return len(bars), nil
}

func parseBarRecord(record []string) (Bar, error) {
	if len(record) < 6 {
		return Bar{}, fmt.Errorf("row has %d columns, expected at least 6", len(record))
	}

	ticker := strings.ToUpper(strings.TrimSpace(record[0]))
	if ticker == "" {
		return Bar{}, fmt.Errorf("empty ticker")
	}

	date := strings.TrimSpace(record[1])
	if _, err := time.Parse(dateFormat, date); err != nil {
		return Bar{}, fmt.Errorf("bad date %q: %w", date, err)
	}

	prices := make([]float64, 4)
	for i, name := range []string{"open", "high", "low", "close"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[2+i]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("bad %s %q: %w", name, record[2+i], err)
		}
		if v <= 0 {
			return Bar{}, fmt.Errorf("%s must be positive, got %v", name, v)
		}
		prices[i] = v
	}

	bar := Bar{
		Ticker: ticker,
		Date:   date,
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
	}

	if len(record) > 6 && strings.TrimSpace(record[6]) != "" {
		volume, err := strconv.ParseInt(strings.TrimSpace(record[6]), 10, 64)
		if err != nil {
			return Bar{}, fmt.Errorf("bad volume %q: %w", record[6], err)
		}
		bar.Volume = volume
	}

	return bar, nil
}
