// Package di wires the application graph: storage, the trading surface,
// and background jobs. Wiring order mirrors startup order, storage first.
package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/feed"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/history"
	"github.com/aristath/helmsman/internal/modules/journal"
	"github.com/aristath/helmsman/internal/modules/live"
	"github.com/aristath/helmsman/internal/reliability"
	"github.com/aristath/helmsman/internal/results"
	"github.com/aristath/helmsman/internal/scheduler"
)

// Container holds the wired dependency graph for one process.
//
// Optional members are nil when their configuration is absent: persistence
// members without a data directory, the feed without a feed URL, the
// archive service without object-store credentials.
type Container struct {
	Config *config.Config
	Bus    *events.Bus

	JournalDB   *database.DB
	JournalRepo *journal.Repository
	Journal     domain.TradeJournal
	Results     *results.Store
	History     *history.Store

	Feed     *feed.Stream
	Broker   domain.BrokerAdapter
	Provider domain.DecisionProvider
	Runner   *live.Runner

	Scheduler *scheduler.Scheduler
	Archive   *reliability.ArchiveService

	log zerolog.Logger
}

// Close releases database handles and the feed connection. Safe to call
// on a partially wired container.
func (c *Container) Close() {
	if c.Feed != nil {
		if err := c.Feed.Stop(); err != nil {
			c.log.Error().Err(err).Msg("Failed to stop quote feed")
		}
	}
	if c.History != nil {
		if err := c.History.Close(); err != nil {
			c.log.Error().Err(err).Msg("Failed to close history store")
		}
	}
	if c.JournalDB != nil {
		if err := c.JournalDB.Close(); err != nil {
			c.log.Error().Err(err).Msg("Failed to close journal database")
		}
	}
}
