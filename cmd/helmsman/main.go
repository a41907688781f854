// Package main is the entry point for the helmsman trading engine.
//
// The binary runs one of three subcommands:
//
//	helmsman backtest   simulate the configured strategy over a date range
//	helmsman live       run the polling trade loop with the HTTP API
//	helmsman version    print build metadata
//
// Configuration comes from environment variables, with .env support. The
// startup sequence is: load and validate configuration, build the logger,
// wire the dependency graph, then hand control to the subcommand. Only
// configuration errors are fatal; runtime errors inside a run are counted
// and surfaced through the status API and the result bundle.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/di"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/server"
	"github.com/aristath/helmsman/internal/version"
	"github.com/aristath/helmsman/pkg/logger"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <backtest|live|version>\n", os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "version":
		fmt.Println("helmsman " + version.String())
		return
	case "backtest", "live":
	default:
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		// Fall back to a default logger so the configuration error is
		// still reported in structured form.
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().
		Str("version", version.Version).
		Str("command", cmd).
		Str("mode", string(cfg.Mode)).
		Strs("tickers", cfg.Tickers).
		Msg("Starting helmsman")

	if err := run(cmd, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Run failed")
	}
}

func run(cmd string, cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()

	if cmd == "backtest" {
		return runBacktest(ctx, container, log)
	}
	return runLive(ctx, container, log)
}

func runBacktest(ctx context.Context, c *di.Container, log zerolog.Logger) error {
	runner, err := c.BacktestRunner(log)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if c.Results != nil {
		path, werr := c.Results.Write(result)
		if werr != nil {
			log.Error().Err(werr).Msg("Failed to write result bundle")
		} else {
			log.Info().Str("path", path).Msg("Result bundle written")
		}
	}

	printSummary(result)

	if c.Archive != nil {
		if aerr := c.Archive.CreateAndUpload(ctx); aerr != nil {
			log.Error().Err(aerr).Msg("Archive upload failed")
		}
	}

	return nil
}

func runLive(ctx context.Context, c *di.Container, log zerolog.Logger) error {
	if err := c.WireLive(log); err != nil {
		return err
	}

	if c.Feed != nil {
		if err := c.Feed.Start(); err != nil {
			log.Warn().Err(err).Msg("Quote feed connect failed, retrying in background")
		}
	}

	// Journal reads stay nil unless persistence is on; assigning a nil
	// *Repository directly would hide the nil behind the interface.
	var history server.TradeHistory
	if c.JournalRepo != nil {
		history = c.JournalRepo
	}

	srv := server.New(server.Config{Port: c.Config.Port}, c.Runner, history, c.Results, c.Bus, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	if c.Scheduler != nil {
		c.Scheduler.Start()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Runner.Run(ctx)
	}()

	log.Info().Int("port", c.Config.Port).Msg("Live loop started")

	var err error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received, stopping runner")
		err = <-runErr
	case err = <-runErr:
	}

	// Shutdown order: runner has already drained, then the HTTP surface,
	// then background jobs, then storage via the deferred container close.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("Server forced to shutdown")
	}

	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}

	if c.Results != nil {
		result := c.Runner.Result()
		if _, werr := c.Results.Write(result); werr != nil {
			log.Error().Err(werr).Msg("Failed to write result bundle")
		}
	}

	return err
}

func printSummary(result domain.RunResult) {
	m := result.Metrics

	fmt.Printf("\nRun %s  mode=%s  trades=%d  errors=%d\n",
		result.RunID, result.Mode, len(result.Trades), result.Errors)
	if n := len(result.PortfolioHistory); n > 0 {
		fmt.Printf("  %-20s %12.2f\n", "Final value", result.PortfolioHistory[n-1].TotalValue)
	}
	fmt.Printf("  %-20s %11.2f%%\n", "Cumulative return", m.CumulativeReturn*100)
	fmt.Printf("  %-20s %12.3f\n", "Sharpe", m.Sharpe)
	fmt.Printf("  %-20s %11.2f%%\n", "Max drawdown", m.MaxDrawdown*100)
	fmt.Printf("  %-20s %11.2f%%\n", "Win rate", m.WinRate*100)
	fmt.Printf("  %-20s %8d / %d\n", "Wins", m.Wins, m.TotalTrades)
}
