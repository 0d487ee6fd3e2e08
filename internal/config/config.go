// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/fluxtrade/execpipe/internal/ledger"
	"github.com/fluxtrade/execpipe/internal/risk"
	"github.com/fluxtrade/execpipe/internal/router"
	"github.com/fluxtrade/execpipe/internal/sched"
	"github.com/fluxtrade/execpipe/internal/types"
	"github.com/fluxtrade/execpipe/internal/venue"
)

// Config represents the full application configuration.
type Config struct {
	Account   AccountConfig   `yaml:"account"`
	Risk      RiskConfig      `yaml:"risk"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Router    RouterConfig    `yaml:"router"`
	Venues    []VenueConfig   `yaml:"venues"`
	Journal   JournalConfig   `yaml:"journal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
}

// AccountConfig holds account-level settings.
type AccountConfig struct {
	AgentID         string  `yaml:"agent_id"`
	StartingEquity  float64 `yaml:"starting_equity"`
	OrderTimeoutSec int     `yaml:"order_timeout_sec"`
}

// RiskConfig holds the admission gate limits.
type RiskConfig struct {
	MaxPositionSizeUSD   float64 `yaml:"max_position_size_usd"`
	MaxDailyLossUSD      float64 `yaml:"max_daily_loss_usd"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
	MaxLeverage          float64 `yaml:"max_leverage"`
	MinTradeIntervalMs   int     `yaml:"min_trade_interval_ms"`
	MaxOrdersPerSecond   int     `yaml:"max_orders_per_second"`
	MaxSymbolExposurePct float64 `yaml:"max_symbol_exposure_pct"`
}

// LedgerConfig holds position limits and the starting cash balance.
type LedgerConfig struct {
	DefaultMaxPosition   float64            `yaml:"default_max_position"`
	MaxTotalExposure     float64            `yaml:"max_total_exposure"`
	InitialCashBalance   float64            `yaml:"initial_cash_balance"`
	MaxPositionPerSymbol map[string]float64 `yaml:"max_position_per_symbol"`
}

// SchedulerConfig holds algorithm selection and slicing settings.
// Zero-valued fields keep the built-in defaults.
type SchedulerConfig struct {
	DefaultAlgorithm    string            `yaml:"default_algorithm"`
	TWAPMinQuantity     float64           `yaml:"twap_min_quantity"`
	VWAPMinQuantity     float64           `yaml:"vwap_min_quantity"`
	MaxExecutionTimeSec int               `yaml:"max_execution_time_sec"`
	SymbolOverrides     map[string]string `yaml:"symbol_overrides"`
	Seed                int64             `yaml:"seed"`

	TWAP    TWAPSection    `yaml:"twap"`
	VWAP    VWAPSection    `yaml:"vwap"`
	Iceberg IcebergSection `yaml:"iceberg"`
	Cost    CostSection    `yaml:"cost"`
}

// TWAPSection holds TWAP slicing settings.
type TWAPSection struct {
	Slices                   int     `yaml:"slices"`
	IntervalSec              int     `yaml:"interval_sec"`
	MaxIntervalJitterSec     int     `yaml:"max_interval_jitter_sec"`
	MinExecutionPct          float64 `yaml:"min_execution_pct"`
	DisableSizeRandomization bool    `yaml:"disable_size_randomization"`
	SizeDeviationPct         float64 `yaml:"size_deviation_pct"`
}

// VWAPSection holds VWAP slicing settings.
type VWAPSection struct {
	WindowSec            int     `yaml:"window_sec"`
	MaxParticipationRate float64 `yaml:"max_participation_rate"`
	MinExecutionPct      float64 `yaml:"min_execution_pct"`
	LiquidityBandPct     float64 `yaml:"liquidity_band_pct"`
}

// IcebergSection holds iceberg slicing settings.
type IcebergSection struct {
	VisiblePct         float64 `yaml:"visible_pct"`
	RefreshIntervalSec int     `yaml:"refresh_interval_sec"`
}

// CostSection holds cost estimator settings.
type CostSection struct {
	VolatilityWindow int     `yaml:"volatility_window"`
	MinSlices        int     `yaml:"min_slices"`
	MaxSlices        int     `yaml:"max_slices"`
	ImpactCoeff      float64 `yaml:"impact_coeff"`
	VolWeight        float64 `yaml:"vol_weight"`
	LiquidityBandPct float64 `yaml:"liquidity_band_pct"`
	ImpactPerSlice   float64 `yaml:"impact_per_slice"`
}

// RouterConfig holds routing and retry settings.
type RouterConfig struct {
	MaxRetries       int                `yaml:"max_retries"`
	BaseDelayMs      int                `yaml:"base_delay_ms"`
	MaxDelayMs       int                `yaml:"max_delay_ms"`
	AttemptCacheSize int                `yaml:"attempt_cache_size"`
	AttemptCacheTrim int                `yaml:"attempt_cache_trim"`
	InitialTrust     map[string]float64 `yaml:"initial_trust"`
}

// VenueConfig holds one simulated venue's settings.
type VenueConfig struct {
	Name               string  `yaml:"name"`
	FillDelayMs        int     `yaml:"fill_delay_ms"`
	SlippageBps        float64 `yaml:"slippage_bps"`
	FeeRate            float64 `yaml:"fee_rate"`
	FailureRate        float64 `yaml:"failure_rate"`
	MaxOrdersPerSecond int     `yaml:"max_orders_per_second"`
	Seed               int64   `yaml:"seed"`
}

// JournalConfig holds execution journal settings.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled bool     `yaml:"enabled"`
	Events  []string `yaml:"events"`
	// WebhookURL adds an HTTP channel next to the console channel.
	WebhookURL string `yaml:"webhook_url"`
	// TelegramBotToken and TelegramChatID add a Telegram channel.
	// Both are usually supplied via ${VAR} expansion.
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Default returns a configuration that runs the pipeline against
// three simulated venues without a config file. Limits admit the
// synthetic order flow and slicing runs on a one-second scale, so a
// bare replay finishes in well under a minute.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			AgentID:         "agent-1",
			StartingEquity:  1000000,
			OrderTimeoutSec: 15,
		},
		Risk: RiskConfig{
			MaxPositionSizeUSD:   600000,
			MaxDailyLossUSD:      10000,
			MaxDrawdownPct:       20,
			MaxLeverage:          10,
			MaxOrdersPerSecond:   1000,
			MaxSymbolExposurePct: 90,
		},
		Ledger: LedgerConfig{
			DefaultMaxPosition: 25000,
			MaxTotalExposure:   5000000,
			InitialCashBalance: 1000000,
		},
		Scheduler: SchedulerConfig{
			DefaultAlgorithm:    "DMA",
			MaxExecutionTimeSec: 10,
			TWAP:                TWAPSection{Slices: 4, IntervalSec: 1},
			VWAP:                VWAPSection{WindowSec: 2},
			Iceberg:             IcebergSection{VisiblePct: 0.25, RefreshIntervalSec: 1},
		},
		Venues: []VenueConfig{
			{Name: "sim-alpha", FillDelayMs: 5, SlippageBps: 1.0, FeeRate: 0.0002, FailureRate: 0.05, MaxOrdersPerSecond: 200},
			{Name: "sim-beta", FillDelayMs: 12, SlippageBps: 2.0, FeeRate: 0.0001, FailureRate: 0.10, MaxOrdersPerSecond: 200},
			{Name: "sim-gamma", FillDelayMs: 2, SlippageBps: 3.5, FeeRate: 0.0003, FailureRate: 0.02, MaxOrdersPerSecond: 200},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Shutdown: ShutdownConfig{TimeoutSec: 30},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment
// variables in the form $VAR or ${VAR} are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration, collecting every problem into
// one error. Some omitted fields are defaulted instead of rejected.
func (c *Config) Validate() error {
	var errs []string

	// Account validation
	if c.Account.AgentID == "" {
		c.Account.AgentID = "agent-1"
	}
	if c.Account.StartingEquity <= 0 {
		errs = append(errs, "account.starting_equity must be positive")
	}
	if c.Account.OrderTimeoutSec <= 0 {
		c.Account.OrderTimeoutSec = 30 // default
	}

	// Risk validation
	if c.Risk.MaxPositionSizeUSD <= 0 {
		errs = append(errs, "risk.max_position_size_usd must be positive")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		errs = append(errs, "risk.max_daily_loss_usd must be positive")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		errs = append(errs, "risk.max_drawdown_pct must be between 0 and 100")
	}
	if c.Risk.MaxLeverage <= 0 {
		errs = append(errs, "risk.max_leverage must be positive")
	}
	if c.Risk.MinTradeIntervalMs < 0 {
		errs = append(errs, "risk.min_trade_interval_ms must not be negative")
	}
	if c.Risk.MaxOrdersPerSecond <= 0 {
		errs = append(errs, "risk.max_orders_per_second must be positive")
	}
	if c.Risk.MaxSymbolExposurePct <= 0 || c.Risk.MaxSymbolExposurePct > 100 {
		errs = append(errs, "risk.max_symbol_exposure_pct must be between 0 and 100")
	}

	// Ledger validation
	if c.Ledger.DefaultMaxPosition <= 0 {
		errs = append(errs, "ledger.default_max_position must be positive")
	}
	if c.Ledger.MaxTotalExposure <= 0 {
		errs = append(errs, "ledger.max_total_exposure must be positive")
	}
	if c.Ledger.InitialCashBalance < 0 {
		errs = append(errs, "ledger.initial_cash_balance must not be negative")
	}
	for symbol, limit := range c.Ledger.MaxPositionPerSymbol {
		if limit <= 0 {
			errs = append(errs, fmt.Sprintf("ledger.max_position_per_symbol[%s] must be positive", symbol))
		}
	}

	// Scheduler validation
	if c.Scheduler.DefaultAlgorithm != "" {
		if _, ok := sched.ParseAlgorithm(c.Scheduler.DefaultAlgorithm); !ok {
			errs = append(errs, fmt.Sprintf("scheduler.default_algorithm '%s' is not dispatchable", c.Scheduler.DefaultAlgorithm))
		}
	}
	for symbol, mode := range c.Scheduler.SymbolOverrides {
		if _, ok := sched.ParseAlgorithm(mode); !ok {
			errs = append(errs, fmt.Sprintf("scheduler.symbol_overrides[%s] '%s' is not dispatchable", symbol, mode))
		}
	}
	if c.Scheduler.TWAPMinQuantity < 0 || c.Scheduler.VWAPMinQuantity < 0 {
		errs = append(errs, "scheduler size thresholds must not be negative")
	}
	if c.Scheduler.TWAPMinQuantity > 0 && c.Scheduler.VWAPMinQuantity > 0 &&
		c.Scheduler.VWAPMinQuantity < c.Scheduler.TWAPMinQuantity {
		errs = append(errs, "scheduler.vwap_min_quantity must be >= scheduler.twap_min_quantity")
	}
	if c.Scheduler.Cost.MinSlices > 0 && c.Scheduler.Cost.MaxSlices > 0 &&
		c.Scheduler.Cost.MaxSlices < c.Scheduler.Cost.MinSlices {
		errs = append(errs, "scheduler.cost.max_slices must be >= scheduler.cost.min_slices")
	}

	// Router validation
	if c.Router.MaxRetries < 0 {
		errs = append(errs, "router.max_retries must not be negative")
	}
	if c.Router.BaseDelayMs > 0 && c.Router.MaxDelayMs > 0 && c.Router.MaxDelayMs < c.Router.BaseDelayMs {
		errs = append(errs, "router.max_delay_ms must be >= router.base_delay_ms")
	}
	if c.Router.AttemptCacheSize > 0 && c.Router.AttemptCacheTrim > c.Router.AttemptCacheSize {
		errs = append(errs, "router.attempt_cache_trim must be <= router.attempt_cache_size")
	}
	for name, trust := range c.Router.InitialTrust {
		if trust < 0 || trust > 1 {
			errs = append(errs, fmt.Sprintf("router.initial_trust[%s] must be between 0 and 1", name))
		}
	}

	// Venue validation
	if len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue is required")
	}
	seen := make(map[string]bool)
	for i, v := range c.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("venues[%d].name is required", i))
			continue
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("venues: duplicate name '%s'", v.Name))
		}
		seen[v.Name] = true
		if v.FailureRate < 0 || v.FailureRate > 1 {
			errs = append(errs, fmt.Sprintf("venues[%s].failure_rate must be between 0 and 1", v.Name))
		}
		if v.SlippageBps < 0 {
			errs = append(errs, fmt.Sprintf("venues[%s].slippage_bps must not be negative", v.Name))
		}
		if v.FeeRate < 0 {
			errs = append(errs, fmt.Sprintf("venues[%s].fee_rate must not be negative", v.Name))
		}
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}

	// Metrics defaults
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 {
			c.Metrics.Port = 9090
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToRiskLimits converts to risk.Limits.
func (c *Config) ToRiskLimits() risk.Limits {
	return risk.Limits{
		MaxPositionSizeUSD:   c.Risk.MaxPositionSizeUSD,
		MaxDailyLossUSD:      c.Risk.MaxDailyLossUSD,
		MaxDrawdownPct:       c.Risk.MaxDrawdownPct,
		MaxLeverage:          c.Risk.MaxLeverage,
		MinTradeInterval:     time.Duration(c.Risk.MinTradeIntervalMs) * time.Millisecond,
		MaxOrdersPerSecond:   int64(c.Risk.MaxOrdersPerSecond),
		MaxSymbolExposurePct: c.Risk.MaxSymbolExposurePct,
	}
}

// ToLedgerConfig converts to ledger.Config.
func (c *Config) ToLedgerConfig() ledger.Config {
	perSymbol := make(map[string]decimal.Decimal, len(c.Ledger.MaxPositionPerSymbol))
	for symbol, limit := range c.Ledger.MaxPositionPerSymbol {
		perSymbol[symbol] = decimal.NewFromFloat(limit)
	}
	return ledger.Config{
		MaxPositionPerSymbol: perSymbol,
		DefaultMaxPosition:   decimal.NewFromFloat(c.Ledger.DefaultMaxPosition),
		MaxTotalExposure:     decimal.NewFromFloat(c.Ledger.MaxTotalExposure),
		InitialCashBalance:   decimal.NewFromFloat(c.Ledger.InitialCashBalance),
	}
}

// ToSchedulerConfig converts to sched.Config, keeping built-in
// defaults for every zero-valued field.
func (c *Config) ToSchedulerConfig() sched.Config {
	out := sched.DefaultConfig()
	s := c.Scheduler

	if algo, ok := sched.ParseAlgorithm(s.DefaultAlgorithm); ok {
		out.DefaultAlgorithm = algo
	}
	if s.TWAPMinQuantity > 0 {
		out.TWAPMinQuantity = decimal.NewFromFloat(s.TWAPMinQuantity)
	}
	if s.VWAPMinQuantity > 0 {
		out.VWAPMinQuantity = decimal.NewFromFloat(s.VWAPMinQuantity)
	}
	if s.MaxExecutionTimeSec > 0 {
		out.MaxExecutionTime = time.Duration(s.MaxExecutionTimeSec) * time.Second
	}
	if len(s.SymbolOverrides) > 0 {
		out.SymbolOverrides = make(map[string]sched.Algorithm, len(s.SymbolOverrides))
		for symbol, mode := range s.SymbolOverrides {
			if algo, ok := sched.ParseAlgorithm(mode); ok {
				out.SymbolOverrides[symbol] = algo
			}
		}
	}
	out.Seed = s.Seed

	if s.TWAP.Slices > 0 {
		out.TWAP.Slices = s.TWAP.Slices
	}
	if s.TWAP.IntervalSec > 0 {
		out.TWAP.Interval = time.Duration(s.TWAP.IntervalSec) * time.Second
	}
	if s.TWAP.MaxIntervalJitterSec > 0 {
		out.TWAP.MaxIntervalJitter = time.Duration(s.TWAP.MaxIntervalJitterSec) * time.Second
	}
	if s.TWAP.MinExecutionPct > 0 {
		out.TWAP.MinExecutionPct = s.TWAP.MinExecutionPct
	}
	if s.TWAP.DisableSizeRandomization {
		out.TWAP.RandomizeSizes = false
	}
	if s.TWAP.SizeDeviationPct > 0 {
		out.TWAP.SizeDeviationPct = s.TWAP.SizeDeviationPct
	}

	if s.VWAP.WindowSec > 0 {
		out.VWAP.Window = time.Duration(s.VWAP.WindowSec) * time.Second
	}
	if s.VWAP.MaxParticipationRate > 0 {
		out.VWAP.MaxParticipationRate = s.VWAP.MaxParticipationRate
	}
	if s.VWAP.MinExecutionPct > 0 {
		out.VWAP.MinExecutionPct = s.VWAP.MinExecutionPct
	}
	if s.VWAP.LiquidityBandPct > 0 {
		out.VWAP.LiquidityBandPct = s.VWAP.LiquidityBandPct
	}

	if s.Iceberg.VisiblePct > 0 {
		out.Iceberg.VisiblePct = s.Iceberg.VisiblePct
	}
	if s.Iceberg.RefreshIntervalSec > 0 {
		out.Iceberg.RefreshInterval = time.Duration(s.Iceberg.RefreshIntervalSec) * time.Second
	}

	if s.Cost.VolatilityWindow > 0 {
		out.Cost.VolatilityWindow = s.Cost.VolatilityWindow
	}
	if s.Cost.MinSlices > 0 {
		out.Cost.MinSlices = s.Cost.MinSlices
	}
	if s.Cost.MaxSlices > 0 {
		out.Cost.MaxSlices = s.Cost.MaxSlices
	}
	if s.Cost.ImpactCoeff > 0 {
		out.Cost.ImpactCoeff = s.Cost.ImpactCoeff
	}
	if s.Cost.VolWeight > 0 {
		out.Cost.VolWeight = s.Cost.VolWeight
	}
	if s.Cost.LiquidityBandPct > 0 {
		out.Cost.LiquidityBandPct = s.Cost.LiquidityBandPct
	}
	if s.Cost.ImpactPerSlice > 0 {
		out.Cost.ImpactPerSlice = s.Cost.ImpactPerSlice
	}

	return out
}

// ToRouterConfig converts to router.Config, keeping built-in defaults
// for zero-valued fields.
func (c *Config) ToRouterConfig() router.Config {
	out := router.DefaultConfig()
	if c.Router.MaxRetries > 0 {
		out.Retry.MaxRetries = c.Router.MaxRetries
	}
	if c.Router.BaseDelayMs > 0 {
		out.Retry.BaseDelay = time.Duration(c.Router.BaseDelayMs) * time.Millisecond
	}
	if c.Router.MaxDelayMs > 0 {
		out.Retry.MaxDelay = time.Duration(c.Router.MaxDelayMs) * time.Millisecond
	}
	if c.Router.AttemptCacheSize > 0 {
		out.AttemptCacheSize = c.Router.AttemptCacheSize
	}
	if c.Router.AttemptCacheTrim > 0 {
		out.AttemptCacheTrim = c.Router.AttemptCacheTrim
	}
	return out
}

// ToSimConfigs converts the venue list to simulated venue configs.
func (c *Config) ToSimConfigs() []venue.SimConfig {
	out := make([]venue.SimConfig, 0, len(c.Venues))
	for _, v := range c.Venues {
		cfg := venue.DefaultSimConfig(v.Name)
		if v.FillDelayMs > 0 {
			cfg.FillDelay = time.Duration(v.FillDelayMs) * time.Millisecond
		}
		if v.SlippageBps > 0 {
			cfg.SlippageBps = v.SlippageBps
		}
		if v.FeeRate > 0 {
			cfg.FeeRate = decimal.NewFromFloat(v.FeeRate)
		}
		cfg.FailureRate = v.FailureRate
		cfg.MaxOrdersPerSecond = v.MaxOrdersPerSecond
		cfg.Seed = v.Seed
		out = append(out, cfg)
	}
	return out
}

// VenueNames returns the configured venue names in declaration order.
func (c *Config) VenueNames() []string {
	names := make([]string, 0, len(c.Venues))
	for _, v := range c.Venues {
		names = append(names, v.Name)
	}
	return names
}

// StartingEquityDecimal returns starting equity as decimal.
func (c *Config) StartingEquityDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Account.StartingEquity)
}

// OrderTimeout returns the per-order execution timeout.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Account.OrderTimeoutSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
