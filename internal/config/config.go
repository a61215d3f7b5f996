// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// clockLayout parses schedule fields like "09:45".
const clockLayout = "15:04"

// Defaults applied after decode. The strategy-level values mirror the
// standard strategy parameter defaults.
const (
	defaultMode            = "backtest"
	defaultLogLevel        = "info"
	defaultTimezone        = "America/New_York"
	defaultScheduleStart   = "09:45"
	defaultScheduleStop    = "16:00"
	defaultCloseCutoff     = "15:45"
	defaultFrequency       = time.Hour
	defaultDte             = 45
	defaultDteWindow       = 7
	defaultDteThreshold    = 21
	defaultProfitTarget    = 0.6
	defaultStopLossMult    = 1.5
	defaultDelta           = 10.0
	defaultWingSize        = 10.0
	defaultSpreadRatio     = 0.3
	defaultLimitExpiration = 8 * time.Hour
	defaultMaxOrderQty     = 1
	defaultMaxActive       = 20
	defaultStoragePath     = "data/positions.json"
	defaultListenAddr      = ":8080"
	defaultUnderlying      = "SPX"
	defaultInitialCash     = 100_000.0
	defaultInitialPrice    = 4500.0
	defaultVolatility      = 0.20
	defaultRiskFreeRate    = 0.001
	defaultStrikeStep      = 5.0
	defaultStrikeSpan      = 40
)

// Config is the complete engine configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Strategies  []StrategyConfig  `yaml:"strategies"`
	Risk        RiskConfig        `yaml:"risk"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig selects the run mode and log verbosity.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // backtest | paper
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ScheduleConfig defines the trading window and scan cadence. Clock
// fields are "HH:MM" in the configured timezone.
type ScheduleConfig struct {
	Timezone          string `yaml:"timezone"`
	Start             string `yaml:"start"`
	Stop              string `yaml:"stop"`
	Frequency         string `yaml:"frequency"`
	MarketCloseCutoff string `yaml:"market_close_cutoff"`
}

// BacktestConfig drives the simulated market: a lognormal spot walk with
// chains priced at a flat volatility.
type BacktestConfig struct {
	StartDate    string  `yaml:"start_date"` // YYYY-MM-DD
	EndDate      string  `yaml:"end_date"`
	Underlying   string  `yaml:"underlying"`
	InitialCash  float64 `yaml:"initial_cash"`
	InitialPrice float64 `yaml:"initial_price"`
	Volatility   float64 `yaml:"volatility"`
	Drift        float64 `yaml:"drift"` // annualized
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	StrikeStep   float64 `yaml:"strike_step"`
	StrikeSpan   int     `yaml:"strike_span"` // strikes each side of spot
	Seed         int64   `yaml:"seed"`
}

// StrategyConfig is one entry of the strategy list. Pointer fields
// distinguish "unset" from a meaningful zero: nil picks the default.
type StrategyConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// Entry scheduling.
	Dte                           *int   `yaml:"dte"`
	DteWindow                     int    `yaml:"dte_window"`
	UseFurthestExpiry             *bool  `yaml:"use_furthest_expiry"`
	DynamicDteSelection           bool   `yaml:"dynamic_dte_selection"`
	AllowMultipleEntriesPerExpiry bool   `yaml:"allow_multiple_entries_per_expiry"`
	MaxActivePositions            int    `yaml:"max_active_positions"`
	MinimumTradeScheduleDistance  string `yaml:"minimum_trade_schedule_distance"`

	// Leg assembly.
	Credit        *bool    `yaml:"credit"`
	Delta         float64  `yaml:"delta"`
	PutDelta      float64  `yaml:"put_delta"`
	CallDelta     float64  `yaml:"call_delta"`
	NetDelta      *float64 `yaml:"net_delta"`
	Strike        float64  `yaml:"strike"`
	PutStrike     float64  `yaml:"put_strike"`
	CallStrike    float64  `yaml:"call_strike"`
	FromPrice     float64  `yaml:"from_price"`
	ToPrice       float64  `yaml:"to_price"`
	WingSize      float64  `yaml:"wing_size"`
	PutWingSize   float64  `yaml:"put_wing_size"`
	CallWingSize  float64  `yaml:"call_wing_size"`
	LeftWingSize  float64  `yaml:"left_wing_size"`
	RightWingSize float64  `yaml:"right_wing_size"`
	Right         string   `yaml:"right"` // put | call, butterfly only

	// Sizing and limit orders.
	TargetPremium                     float64 `yaml:"target_premium"`
	TargetPremiumPct                  float64 `yaml:"target_premium_pct"`
	MaxOrderQuantity                  int     `yaml:"max_order_quantity"`
	UseLimitOrders                    *bool   `yaml:"use_limit_orders"`
	LimitOrderRelativePriceAdjustment float64 `yaml:"limit_order_relative_price_adjustment"`
	LimitOrderAbsolutePrice           float64 `yaml:"limit_order_absolute_price"`
	LimitOrderExpiration              string  `yaml:"limit_order_expiration"`
	Slippage                          float64 `yaml:"slippage"`

	// Exits.
	ProfitTarget       float64 `yaml:"profit_target"`
	StopLossMultiplier float64 `yaml:"stop_loss_multiplier"`
	DteThreshold       *int    `yaml:"dte_threshold"`
	ForceDteThreshold  bool    `yaml:"force_dte_threshold"`
	DitThreshold       int     `yaml:"dit_threshold"`
	HardDitThreshold   int     `yaml:"hard_dit_threshold"`

	// Order validation.
	ValidateQuantity     *bool   `yaml:"validate_quantity"`
	ValidateBidAskSpread bool    `yaml:"validate_bid_ask_spread"`
	BidAskSpreadRatio    float64 `yaml:"bid_ask_spread_ratio"`
}

// RiskConfig caps exposure across every strategy.
type RiskConfig struct {
	// MaxActivePositions bounds open plus working positions over all books.
	MaxActivePositions int `yaml:"max_active_positions"`
	// PortfolioFloor liquidates everything when portfolio value drops to
	// this dollar level. Zero disables.
	PortfolioFloor float64 `yaml:"portfolio_floor"`
}

// StorageConfig locates the position snapshot file.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig exposes the read-only status server.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads, expands and validates the configuration file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate applies defaults and checks that the configuration is
// consistent.
func (c *Config) Validate() error {
	c.applyDefaults()

	switch c.Environment.Mode {
	case "backtest", "paper":
	default:
		return fmt.Errorf("environment.mode must be 'backtest' or 'paper'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug, info, warn or error")
	}

	start, err := parseClock(c.Schedule.Start)
	if err != nil {
		return fmt.Errorf("schedule.start invalid: %w", err)
	}
	stop, err := parseClock(c.Schedule.Stop)
	if err != nil {
		return fmt.Errorf("schedule.stop invalid: %w", err)
	}
	if start >= stop {
		return fmt.Errorf("schedule.start %s must precede schedule.stop %s",
			c.Schedule.Start, c.Schedule.Stop)
	}
	if _, err := parseClock(c.Schedule.MarketCloseCutoff); err != nil {
		return fmt.Errorf("schedule.market_close_cutoff invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Schedule.Frequency); err != nil {
		return fmt.Errorf("schedule.frequency invalid: %w", err)
	}

	if c.Environment.Mode == "backtest" {
		from, err := time.Parse("2006-01-02", c.Backtest.StartDate)
		if err != nil {
			return fmt.Errorf("backtest.start_date invalid: %w", err)
		}
		to, err := time.Parse("2006-01-02", c.Backtest.EndDate)
		if err != nil {
			return fmt.Errorf("backtest.end_date invalid: %w", err)
		}
		if to.Before(from) {
			return fmt.Errorf("backtest.end_date %s precedes start_date %s",
				c.Backtest.EndDate, c.Backtest.StartDate)
		}
		if c.Backtest.Volatility <= 0 {
			return fmt.Errorf("backtest.volatility must be > 0")
		}
		if c.Backtest.StrikeStep <= 0 {
			return fmt.Errorf("backtest.strike_step must be > 0")
		}
		if c.Backtest.StrikeSpan < 1 {
			return fmt.Errorf("backtest.strike_span must be >= 1")
		}
		if c.Backtest.InitialCash <= 0 {
			return fmt.Errorf("backtest.initial_cash must be > 0")
		}
		if c.Backtest.InitialPrice <= 0 {
			return fmt.Errorf("backtest.initial_price must be > 0")
		}
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	seen := make(map[string]bool, len(c.Strategies))
	for i := range c.Strategies {
		s := &c.Strategies[i]
		if s.Kind == "" {
			return fmt.Errorf("strategies[%d].kind is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("strategy name %q is not unique", s.Name)
		}
		seen[s.Name] = true
		if err := s.validate(); err != nil {
			return fmt.Errorf("strategy %q: %w", s.Name, err)
		}
	}

	if c.Risk.MaxActivePositions < 1 {
		return fmt.Errorf("risk.max_active_positions must be >= 1")
	}
	if c.Risk.PortfolioFloor < 0 {
		return fmt.Errorf("risk.portfolio_floor must be >= 0")
	}
	if c.Dashboard.Enabled && c.Dashboard.ListenAddr == "" {
		return fmt.Errorf("dashboard.listen_addr is required when the dashboard is enabled")
	}

	return nil
}

func (s *StrategyConfig) validate() error {
	if s.TargetDte() < 0 {
		return fmt.Errorf("dte must be >= 0")
	}
	if s.DteWindow < 0 {
		return fmt.Errorf("dte_window must be >= 0")
	}
	if s.ProfitTarget <= 0 {
		return fmt.Errorf("profit_target must be > 0")
	}
	if s.StopLossMultiplier <= 0 {
		return fmt.Errorf("stop_loss_multiplier must be > 0")
	}
	if s.Slippage < 0 {
		return fmt.Errorf("slippage must be >= 0")
	}
	if s.BidAskSpreadRatio <= 0 {
		return fmt.Errorf("bid_ask_spread_ratio must be > 0")
	}
	if s.MaxOrderQuantity < 1 {
		return fmt.Errorf("max_order_quantity must be >= 1")
	}
	if s.MaxActivePositions < 0 {
		return fmt.Errorf("max_active_positions must be >= 0")
	}
	if s.TargetPremiumPct < 0 || s.TargetPremiumPct > 1 {
		return fmt.Errorf("target_premium_pct must be between 0 and 1")
	}
	if s.DteExitThreshold() < 0 {
		return fmt.Errorf("dte_threshold must be >= 0")
	}
	if s.DitThreshold < 0 || s.HardDitThreshold < 0 {
		return fmt.Errorf("dit thresholds must be >= 0")
	}
	if s.Right != "" && s.Right != "put" && s.Right != "call" {
		return fmt.Errorf("right must be 'put' or 'call', got %q", s.Right)
	}
	if s.LimitOrderExpiration != "" {
		if _, err := time.ParseDuration(s.LimitOrderExpiration); err != nil {
			return fmt.Errorf("limit_order_expiration invalid: %w", err)
		}
	}
	if s.MinimumTradeScheduleDistance != "" {
		if _, err := time.ParseDuration(s.MinimumTradeScheduleDistance); err != nil {
			return fmt.Errorf("minimum_trade_schedule_distance invalid: %w", err)
		}
	}
	return nil
}

// applyDefaults fills unset fields. Delta defaults stay out of the way
// when the corresponding strike or price bound pins the selection.
func (c *Config) applyDefaults() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = defaultMode
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = defaultLogLevel
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.Start == "" {
		c.Schedule.Start = defaultScheduleStart
	}
	if c.Schedule.Stop == "" {
		c.Schedule.Stop = defaultScheduleStop
	}
	if c.Schedule.MarketCloseCutoff == "" {
		c.Schedule.MarketCloseCutoff = defaultCloseCutoff
	}
	if c.Schedule.Frequency == "" {
		c.Schedule.Frequency = defaultFrequency.String()
	}

	if c.Backtest.Underlying == "" {
		c.Backtest.Underlying = defaultUnderlying
	}
	if c.Backtest.InitialCash == 0 {
		c.Backtest.InitialCash = defaultInitialCash
	}
	if c.Backtest.InitialPrice == 0 {
		c.Backtest.InitialPrice = defaultInitialPrice
	}
	if c.Backtest.Volatility == 0 {
		c.Backtest.Volatility = defaultVolatility
	}
	if c.Backtest.RiskFreeRate == 0 {
		c.Backtest.RiskFreeRate = defaultRiskFreeRate
	}
	if c.Backtest.StrikeStep == 0 {
		c.Backtest.StrikeStep = defaultStrikeStep
	}
	if c.Backtest.StrikeSpan == 0 {
		c.Backtest.StrikeSpan = defaultStrikeSpan
	}

	for i := range c.Strategies {
		s := &c.Strategies[i]
		if s.Name == "" {
			s.Name = s.Kind
		}
		if s.ProfitTarget == 0 {
			s.ProfitTarget = defaultProfitTarget
		}
		if s.StopLossMultiplier == 0 {
			s.StopLossMultiplier = defaultStopLossMult
		}
		if s.DteWindow == 0 {
			s.DteWindow = defaultDteWindow
		}
		if s.MaxOrderQuantity == 0 {
			s.MaxOrderQuantity = defaultMaxOrderQty
		}
		if s.BidAskSpreadRatio == 0 {
			s.BidAskSpreadRatio = defaultSpreadRatio
		}
		if s.Delta == 0 && s.Strike == 0 && s.FromPrice == 0 && s.ToPrice == 0 {
			s.Delta = defaultDelta
		}
		if s.PutDelta == 0 && s.PutStrike == 0 {
			s.PutDelta = defaultDelta
		}
		if s.CallDelta == 0 && s.CallStrike == 0 {
			s.CallDelta = defaultDelta
		}
		if s.WingSize == 0 {
			s.WingSize = defaultWingSize
		}
		if s.PutWingSize == 0 {
			s.PutWingSize = defaultWingSize
		}
		if s.CallWingSize == 0 {
			s.CallWingSize = defaultWingSize
		}
		if s.LeftWingSize == 0 {
			s.LeftWingSize = defaultWingSize
		}
		if s.RightWingSize == 0 {
			s.RightWingSize = defaultWingSize
		}
	}

	if c.Risk.MaxActivePositions == 0 {
		c.Risk.MaxActivePositions = defaultMaxActive
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Dashboard.ListenAddr == "" {
		c.Dashboard.ListenAddr = defaultListenAddr
	}
}

// IsBacktest reports whether the engine replays a simulated market.
func (c *Config) IsBacktest() bool {
	return c.Environment.Mode == "backtest"
}

// IsCredit reports whether the strategy sells its structure. Unset
// defaults to selling, as every kind but the butterfly usually does.
func (s *StrategyConfig) IsCredit() bool {
	return s.Credit == nil || *s.Credit
}

// TargetDte returns the entry days-to-expiry target.
func (s *StrategyConfig) TargetDte() int {
	if s.Dte == nil {
		return defaultDte
	}
	return *s.Dte
}

// MinDte returns the lower bound of the expiry selection window.
func (s *StrategyConfig) MinDte() int {
	min := s.TargetDte() - s.DteWindow
	if min < 0 {
		return 0
	}
	return min
}

// DteExitThreshold returns the DTE exit level; zero disables the exit.
func (s *StrategyConfig) DteExitThreshold() int {
	if s.DteThreshold == nil {
		return defaultDteThreshold
	}
	return *s.DteThreshold
}

// UsesLimitOrders reports whether entries and exits go out as combo
// limit orders. Unset defaults to true.
func (s *StrategyConfig) UsesLimitOrders() bool {
	return s.UseLimitOrders == nil || *s.UseLimitOrders
}

// ValidatesQuantity reports whether sized orders above the quantity cap
// are rejected. Unset defaults to true.
func (s *StrategyConfig) ValidatesQuantity() bool {
	return s.ValidateQuantity == nil || *s.ValidateQuantity
}

// UsesFurthestExpiry reports whether ties in the expiry window resolve
// to the furthest expiry. Unset defaults to true.
func (s *StrategyConfig) UsesFurthestExpiry() bool {
	return s.UseFurthestExpiry == nil || *s.UseFurthestExpiry
}

// LimitTTL returns the lifetime of unfilled limit orders.
func (s *StrategyConfig) LimitTTL() time.Duration {
	d, err := time.ParseDuration(s.LimitOrderExpiration)
	if err != nil || d <= 0 {
		return defaultLimitExpiration
	}
	return d
}

// EntrySpacing returns the minimum distance between consecutive entries.
func (s *StrategyConfig) EntrySpacing() time.Duration {
	d, err := time.ParseDuration(s.MinimumTradeScheduleDistance)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Location resolves the schedule timezone.
func (sc *ScheduleConfig) Location() *time.Location {
	tz := sc.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		loc = time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// ScanInterval returns the configured time between scans.
func (sc *ScheduleConfig) ScanInterval() time.Duration {
	d, err := time.ParseDuration(sc.Frequency)
	if err != nil || d <= 0 {
		return defaultFrequency
	}
	return d
}

// StartOffset returns the trading window start as an offset from
// midnight in the schedule timezone.
func (sc *ScheduleConfig) StartOffset() time.Duration {
	return clockOrDefault(sc.Start, defaultScheduleStart)
}

// StopOffset returns the trading window stop offset.
func (sc *ScheduleConfig) StopOffset() time.Duration {
	return clockOrDefault(sc.Stop, defaultScheduleStop)
}

// CutoffOffset returns the expiration-day market close cutoff offset.
func (sc *ScheduleConfig) CutoffOffset() time.Duration {
	return clockOrDefault(sc.MarketCloseCutoff, defaultCloseCutoff)
}

// Contains reports whether now falls inside the trading window:
// weekdays, inclusive start, exclusive stop.
func (sc *ScheduleConfig) Contains(now time.Time) bool {
	local := now.In(sc.Location())
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	offset := local.Sub(midnight)
	return offset >= sc.StartOffset() && offset < sc.StopOffset()
}

// StartTime parses the backtest start date in the given location.
func (b *BacktestConfig) StartTime(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", b.StartDate, loc)
}

// EndTime parses the backtest end date in the given location.
func (b *BacktestConfig) EndTime(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", b.EndDate, loc)
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func clockOrDefault(s, fallback string) time.Duration {
	if d, err := parseClock(s); err == nil {
		return d
	}
	d, _ := parseClock(fallback)
	return d
}
