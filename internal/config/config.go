// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/helmsman/internal/domain"
)

// DateFormat is the wire format for configured dates.
const DateFormat = "2006-01-02"

// Config holds application configuration
type Config struct {
	// Run surface
	Mode           domain.Mode
	Tickers        []string
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital float64
	CommissionRate float64
	SlippageBps    float64

	// Backtest wiring
	PriceSource     string // "randomwalk" or "history"
	HistoryDBPath   string // Daily-bar SQLite store; defaults under DataDir
	Provider        string // "momentum" or "hold"
	MomentumFast    int
	MomentumSlow    int
	PositionSizePct float64
	WalkDrift       float64
	WalkVol         float64

	// Risk limits
	MaxPositions       int
	MaxPositionSizeUSD float64
	MaxDailyTrades     int
	MaxDailyLossPct    float64

	// Live loop
	DecisionIntervalSeconds int
	RequireConfirmation     bool
	TradingStartHour        int
	TradingEndHour          int
	BrokerRateLimitPerSec   float64
	FeedURL                 string

	// Ambient
	DataDir    string // Base directory for journal DB and run artifacts; empty disables persistence
	Port       int
	LogLevel   string
	LogPretty  bool
	RandomSeed int64

	// Archive upload, active only when endpoint, credentials and bucket are
	// all set
	ArchiveEndpoint        string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	ArchiveBucket          string
	ArchiveRetentionDays   int
	ArchiveSchedule        string // cron spec with seconds field
	MaintenanceSchedule    string
	FeedSID                string // session id for the quote stream
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	startDate, err := parseDate("HELMSMAN_START_DATE", getEnv("HELMSMAN_START_DATE", ""))
	if err != nil {
		return nil, err
	}
	endDate, err := parseDate("HELMSMAN_END_DATE", getEnv("HELMSMAN_END_DATE", ""))
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("HELMSMAN_DATA_DIR", "")
	if dataDir != "" {
		absDataDir, err := filepath.Abs(dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
		}
		if err := os.MkdirAll(absDataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dataDir = absDataDir
	}

	cfg := &Config{
		Mode:           domain.Mode(strings.ToUpper(getEnv("HELMSMAN_MODE", string(domain.ModeDryRun)))),
		Tickers:        getEnvAsSlice("HELMSMAN_TICKERS", nil),
		StartDate:      startDate,
		EndDate:        endDate,
		InitialCapital: getEnvAsFloat("HELMSMAN_INITIAL_CAPITAL", 100000),
		CommissionRate: getEnvAsFloat("HELMSMAN_COMMISSION_RATE", 0.001),
		SlippageBps:    getEnvAsFloat("HELMSMAN_SLIPPAGE_BPS", 5),

		PriceSource:     strings.ToLower(getEnv("HELMSMAN_PRICE_SOURCE", "randomwalk")),
		HistoryDBPath:   getEnv("HELMSMAN_HISTORY_DB", ""),
		Provider:        strings.ToLower(getEnv("HELMSMAN_PROVIDER", "momentum")),
		MomentumFast:    getEnvAsInt("HELMSMAN_MOMENTUM_FAST", 10),
		MomentumSlow:    getEnvAsInt("HELMSMAN_MOMENTUM_SLOW", 30),
		PositionSizePct: getEnvAsFloat("HELMSMAN_POSITION_SIZE_PCT", 20),
		WalkDrift:       getEnvAsFloat("HELMSMAN_WALK_DRIFT", 0.0002),
		WalkVol:         getEnvAsFloat("HELMSMAN_WALK_VOL", 0.02),

		MaxPositions:       getEnvAsInt("HELMSMAN_MAX_POSITIONS", 10),
		MaxPositionSizeUSD: getEnvAsFloat("HELMSMAN_MAX_POSITION_SIZE_USD", 10000),
		MaxDailyTrades:     getEnvAsInt("HELMSMAN_MAX_DAILY_TRADES", 20),
		MaxDailyLossPct:    getEnvAsFloat("HELMSMAN_MAX_DAILY_LOSS_PCT", 5),

		DecisionIntervalSeconds: getEnvAsInt("HELMSMAN_DECISION_INTERVAL_SECONDS", 300),
		RequireConfirmation:     getEnvAsBool("HELMSMAN_REQUIRE_CONFIRMATION", true),
		TradingStartHour:        getEnvAsInt("HELMSMAN_TRADING_START_HOUR", 9),
		TradingEndHour:          getEnvAsInt("HELMSMAN_TRADING_END_HOUR", 16),
		BrokerRateLimitPerSec:   getEnvAsFloat("HELMSMAN_BROKER_RATE_LIMIT_PER_SEC", 2),
		FeedURL:                 getEnv("HELMSMAN_FEED_URL", ""),

		DataDir:    dataDir,
		Port:       getEnvAsInt("HELMSMAN_PORT", 8090),
		LogLevel:   getEnv("HELMSMAN_LOG_LEVEL", "info"),
		LogPretty:  getEnvAsBool("HELMSMAN_LOG_PRETTY", false),
		RandomSeed: int64(getEnvAsInt("HELMSMAN_RANDOM_SEED", 42)),

		ArchiveEndpoint:        getEnv("HELMSMAN_ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKeyID:     getEnv("HELMSMAN_ARCHIVE_ACCESS_KEY_ID", ""),
		ArchiveSecretAccessKey: getEnv("HELMSMAN_ARCHIVE_SECRET_ACCESS_KEY", ""),
		ArchiveBucket:          getEnv("HELMSMAN_ARCHIVE_BUCKET", ""),
		ArchiveRetentionDays:   getEnvAsInt("HELMSMAN_ARCHIVE_RETENTION_DAYS", 30),
		ArchiveSchedule:        getEnv("HELMSMAN_ARCHIVE_SCHEDULE", "0 0 2 * * *"),
		MaintenanceSchedule:    getEnv("HELMSMAN_MAINTENANCE_SCHEDULE", "0 30 1 * * *"),
		FeedSID:                getEnv("HELMSMAN_FEED_SID", ""),
	}

	if cfg.HistoryDBPath == "" && cfg.DataDir != "" {
		cfg.HistoryDBPath = filepath.Join(cfg.DataDir, "history.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration and returns a ValidationError on the
// first bad field. Called at construction; failures are fatal.
func (c *Config) Validate() error {
	switch c.Mode {
	case domain.ModeDryRun, domain.ModePaper, domain.ModeLive:
	default:
		return domain.NewValidationError("mode", fmt.Sprintf("unrecognized mode %q", c.Mode))
	}
	if len(c.Tickers) == 0 {
		return domain.NewValidationError("tickers", "at least one ticker is required")
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return domain.NewValidationError("end_date", "end date is before start date")
	}
	if c.InitialCapital <= 0 {
		return domain.NewValidationError("initial_capital", "must be positive")
	}
	if c.CommissionRate < 0 {
		return domain.NewValidationError("commission_rate", "must not be negative")
	}
	if c.SlippageBps < 0 {
		return domain.NewValidationError("slippage_bps", "must not be negative")
	}
	switch c.PriceSource {
	case "", "randomwalk":
	case "history":
		if c.HistoryDBPath == "" {
			return domain.NewValidationError("history_db", "required when price source is history")
		}
	default:
		return domain.NewValidationError("price_source", fmt.Sprintf("unrecognized source %q", c.PriceSource))
	}
	switch c.Provider {
	case "", "hold":
	case "momentum":
		if c.MomentumFast <= 0 || c.MomentumSlow <= c.MomentumFast {
			return domain.NewValidationError("momentum_windows", "fast window must be positive and smaller than slow")
		}
		if c.PositionSizePct <= 0 || c.PositionSizePct > 100 {
			return domain.NewValidationError("position_size_pct", "must be in (0, 100]")
		}
	default:
		return domain.NewValidationError("provider", fmt.Sprintf("unrecognized provider %q", c.Provider))
	}
	if c.MaxPositions <= 0 {
		return domain.NewValidationError("max_positions", "must be positive")
	}
	if c.MaxPositionSizeUSD <= 0 {
		return domain.NewValidationError("max_position_size_usd", "must be positive")
	}
	if c.MaxDailyTrades <= 0 {
		return domain.NewValidationError("max_daily_trades", "must be positive")
	}
	if c.MaxDailyLossPct <= 0 {
		return domain.NewValidationError("max_daily_loss_pct", "must be positive")
	}
	if c.DecisionIntervalSeconds <= 0 {
		return domain.NewValidationError("decision_interval_seconds", "must be positive")
	}
	if c.TradingStartHour < 0 || c.TradingEndHour > 24 || c.TradingStartHour >= c.TradingEndHour {
		return domain.NewValidationError("trading_hours", "start hour must be before end hour within [0,24]")
	}
	return nil
}

// ArchiveConfigured reports whether the object-store upload surface is
// fully specified.
func (c *Config) ArchiveConfigured() bool {
	return c.ArchiveEndpoint != "" && c.ArchiveAccessKeyID != "" &&
		c.ArchiveSecretAccessKey != "" && c.ArchiveBucket != ""
}

// RiskLimits extracts the risk gate limits from the config.
func (c *Config) RiskLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSizeUSD: c.MaxPositionSizeUSD,
		MaxDailyLossPct:    c.MaxDailyLossPct,
		MaxDailyTrades:     c.MaxDailyTrades,
		MaxPositions:       c.MaxPositions,
	}
}

// AsMap renders the recognized option surface for inclusion in run results.
func (c *Config) AsMap() map[string]any {
	return map[string]any{
		"mode":                      string(c.Mode),
		"tickers":                   c.Tickers,
		"start_date":                formatDate(c.StartDate),
		"end_date":                  formatDate(c.EndDate),
		"initial_capital":           c.InitialCapital,
		"commission_rate":           c.CommissionRate,
		"slippage_bps":              c.SlippageBps,
		"max_positions":             c.MaxPositions,
		"max_position_size_usd":     c.MaxPositionSizeUSD,
		"max_daily_trades":          c.MaxDailyTrades,
		"max_daily_loss_pct":        c.MaxDailyLossPct,
		"decision_interval_seconds": c.DecisionIntervalSeconds,
		"require_confirmation":      c.RequireConfirmation,
		"trading_start_hour":        c.TradingStartHour,
		"trading_end_hour":          c.TradingEndHour,
		"price_source":              c.PriceSource,
		"provider":                  c.Provider,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateFormat)
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateFormat, value)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, fmt.Sprintf("expected %s: %v", DateFormat, err))
	}
	return t, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
