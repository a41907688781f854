package journal

import "github.com/aristath/helmsman/internal/domain"

// Nop is a TradeJournal that discards everything. Used in dry-run mode
// and in backtests that don't persist.
type Nop struct{}

var _ domain.TradeJournal = Nop{}

// RecordTrade discards the trade.
func (Nop) RecordTrade(domain.Trade) error { return nil }

// RecordSnapshot discards the snapshot.
func (Nop) RecordSnapshot(string, domain.PortfolioSnapshot) error { return nil }
