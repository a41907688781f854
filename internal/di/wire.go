package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/brokers/paper"
	"github.com/aristath/helmsman/internal/clients/feed"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/backtest"
	"github.com/aristath/helmsman/internal/modules/history"
	"github.com/aristath/helmsman/internal/modules/journal"
	"github.com/aristath/helmsman/internal/modules/live"
	"github.com/aristath/helmsman/internal/modules/strategy"
	"github.com/aristath/helmsman/internal/reliability"
	"github.com/aristath/helmsman/internal/results"
	"github.com/aristath/helmsman/internal/scheduler"
)

// defaultWalkStart seeds every ticker of the synthetic walk. The level is
// arbitrary; only returns matter.
const defaultWalkStart = 100.0

// Wire builds the part of the graph every subcommand shares: event bus,
// persistence, and the archive service when object-store credentials are
// configured. The trading surface is wired per command via WireLive or
// BacktestRunner.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Bus:    events.NewBus(log),
		log:    log.With().Str("component", "di").Logger(),
	}

	if err := c.initStorage(log); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := c.initArchive(ctx, log); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize archive service: %w", err)
	}

	return c, nil
}

func (c *Container) initStorage(log zerolog.Logger) error {
	cfg := c.Config
	c.Journal = journal.Nop{}

	if cfg.DataDir != "" {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, "journal.db"),
			Profile: database.ProfileLedger,
			Name:    "journal",
		})
		if err != nil {
			return err
		}
		c.JournalDB = db

		if err := db.Migrate(); err != nil {
			return err
		}

		c.JournalRepo = journal.NewRepository(db.Conn(), log)
		c.Journal = c.JournalRepo
		c.Results = results.NewStore(filepath.Join(cfg.DataDir, "results"), log)
	}

	if cfg.HistoryDBPath != "" {
		store, err := history.NewStore(cfg.HistoryDBPath, log)
		if err != nil {
			return err
		}
		c.History = store
	}

	return nil
}

func (c *Container) initArchive(ctx context.Context, log zerolog.Logger) error {
	cfg := c.Config
	if !cfg.ArchiveConfigured() {
		return nil
	}
	if cfg.DataDir == "" {
		c.log.Warn().Msg("Archive credentials set but no data directory, nothing to archive")
		return nil
	}

	store, err := reliability.NewObjectStore(ctx, cfg.ArchiveEndpoint,
		cfg.ArchiveAccessKeyID, cfg.ArchiveSecretAccessKey, cfg.ArchiveBucket, log)
	if err != nil {
		return err
	}

	c.Archive = reliability.NewArchiveService(store, c.JournalDB,
		filepath.Join(cfg.DataDir, "results"), cfg.DataDir, log)
	return nil
}

// WireLive builds the polling trade loop surface: quote source, paper
// broker, decision provider, runner, and the background job scheduler.
func (c *Container) WireLive(log zerolog.Logger) error {
	cfg := c.Config

	walk := backtest.NewRandomWalkSource(cfg.RandomSeed, cfg.WalkDrift, cfg.WalkVol, walkStarts(cfg.Tickers))

	var quotes paper.QuoteSource
	if cfg.FeedURL != "" {
		c.Feed = feed.NewStream(cfg.FeedURL, cfg.FeedSID, cfg.Tickers, c.Bus, log)
		quotes = c.Feed
	} else {
		quotes = walkQuotes{walk: walk}
	}

	c.Broker = paper.New(quotes, cfg.InitialCapital, cfg.CommissionRate, cfg.SlippageBps, log)
	if cfg.Mode == domain.ModeLive {
		c.log.Warn().Msg("No live broker adapter is built in, orders fill against the paper simulator")
	}

	provider, err := c.buildProvider(walk, log)
	if err != nil {
		return err
	}
	c.Provider = provider

	var confirmer domain.Confirmer
	if cfg.Mode == domain.ModeLive && cfg.RequireConfirmation {
		confirmer = live.NewStdinConfirmer(log)
	}

	runner, err := live.New(live.Config{
		Mode:                  cfg.Mode,
		Tickers:               cfg.Tickers,
		InitialCapital:        cfg.InitialCapital,
		CommissionRate:        cfg.CommissionRate,
		Limits:                cfg.RiskLimits(),
		DecisionInterval:      time.Duration(cfg.DecisionIntervalSeconds) * time.Second,
		TradingStartHour:      cfg.TradingStartHour,
		TradingEndHour:        cfg.TradingEndHour,
		RequireConfirmation:   cfg.RequireConfirmation,
		BrokerRateLimitPerSec: cfg.BrokerRateLimitPerSec,
	}, c.Broker, c.Provider, confirmer, c.Journal, c.Bus, log)
	if err != nil {
		return err
	}
	c.Runner = runner

	return c.initJobs(log)
}

func (c *Container) initJobs(log zerolog.Logger) error {
	cfg := c.Config
	if c.Archive == nil && cfg.DataDir == "" {
		return nil
	}

	c.Scheduler = scheduler.New(log)

	if c.Archive != nil {
		job := reliability.NewArchiveJob(c.Archive, cfg.ArchiveRetentionDays, log)
		if err := c.Scheduler.AddJob(cfg.ArchiveSchedule, job); err != nil {
			return err
		}
	}

	if cfg.DataDir != "" {
		job := reliability.NewMaintenanceJob(c.JournalDB, cfg.DataDir, log)
		if err := c.Scheduler.AddJob(cfg.MaintenanceSchedule, job); err != nil {
			return err
		}
	}

	return nil
}

// BacktestRunner wires a simulation over [StartDate, EndDate]. The price
// source follows the configuration; the momentum provider reads closes
// from the same source that prices the simulation, so decisions and fills
// never disagree about history.
func (c *Container) BacktestRunner(log zerolog.Logger) (*backtest.Runner, error) {
	cfg := c.Config

	var (
		prices domain.PriceSource
		closes strategy.ClosesSource
	)
	switch cfg.PriceSource {
	case "history":
		if c.History == nil {
			return nil, domain.NewValidationError("history_db", "history price source requires a history database")
		}
		prices = c.History
		closes = c.History
	default:
		walk := backtest.NewRandomWalkSource(cfg.RandomSeed, cfg.WalkDrift, cfg.WalkVol, walkStarts(cfg.Tickers))
		prices = walk
		closes = walk
	}

	provider, err := buildProviderFrom(cfg, closes, log)
	if err != nil {
		return nil, err
	}

	return backtest.New(backtest.Config{
		Mode:           cfg.Mode,
		Tickers:        cfg.Tickers,
		StartDate:      cfg.StartDate,
		EndDate:        cfg.EndDate,
		InitialCapital: cfg.InitialCapital,
		CommissionRate: cfg.CommissionRate,
		SlippageBps:    cfg.SlippageBps,
		Limits:         cfg.RiskLimits(),
	}, provider, prices, c.Journal, c.Bus, log)
}

// buildProvider picks the decision provider for the live loop. Momentum
// closes come from the history store when one is open, otherwise from the
// walk that also serves paper quotes.
func (c *Container) buildProvider(walk *backtest.RandomWalkSource, log zerolog.Logger) (domain.DecisionProvider, error) {
	var closes strategy.ClosesSource = walk
	if c.History != nil {
		closes = c.History
	}
	return buildProviderFrom(c.Config, closes, log)
}

func buildProviderFrom(cfg *config.Config, closes strategy.ClosesSource, log zerolog.Logger) (domain.DecisionProvider, error) {
	switch cfg.Provider {
	case "hold":
		return strategy.HoldProvider{}, nil
	default:
		return strategy.NewMomentumProvider(closes, cfg.Tickers,
			cfg.MomentumFast, cfg.MomentumSlow, cfg.PositionSizePct, log)
	}
}

// walkQuotes serves paper-mode quotes from the synthetic walk when no feed
// is configured. The walk steps once per calendar day, so intraday cycles
// see a stable price.
type walkQuotes struct {
	walk *backtest.RandomWalkSource
}

var _ paper.QuoteSource = walkQuotes{}

func (w walkQuotes) Quote(_ context.Context, ticker string) (domain.Quote, error) {
	now := time.Now()
	price, err := w.walk.PriceAt(now, ticker)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{Timestamp: now, Ticker: ticker, Price: price}, nil
}

func walkStarts(tickers []string) map[string]float64 {
	starts := make(map[string]float64, len(tickers))
	for _, ticker := range tickers {
		starts[ticker] = defaultWalkStart
	}
	return starts
}
