// Package config loads trading-core configuration from a YAML file with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the trading core.
type Config struct {
	Observability ObservabilityConfig `mapstructure:"observability"`
	Connectors    ConnectorsConfig    `mapstructure:"connectors"`
	Risk          RiskConfig          `mapstructure:"risk"`
	Router        RouterConfig        `mapstructure:"router"`
	Scanner       ScannerConfig       `mapstructure:"scanner"`
	Detector      DetectorConfig      `mapstructure:"detector"`
	Allocator     AllocatorConfig     `mapstructure:"allocator"`
	Execution     ExecutionConfig     `mapstructure:"execution"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Storage       StorageConfig       `mapstructure:"storage"`
	// Symbols is the traded symbol universe shared by the Scanner,
	// Detector and every venue's market stream subscription.
	Symbols []string `mapstructure:"symbols"`
}

// ObservabilityConfig controls the logger and metrics namespace.
type ObservabilityConfig struct {
	ServiceName string `mapstructure:"service_name"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsNS   string `mapstructure:"metrics_namespace"`
}

// VenueCredentials holds per-venue secrets. Never logged or serialized with
// their real values; String redacts everything but the key id's last four
// characters, matching the venue connectors' own redaction in debug output.
type VenueCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`
	// PrivateKeyPEM is used by Coinbase Advanced Trade's JWT ES256 signing.
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
}

func (c VenueCredentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return "****" + s[len(s)-4:]
	}
	return fmt.Sprintf("VenueCredentials{APIKey:%s}", redact(c.APIKey))
}

// FeeConfig is one venue's maker/taker/withdrawal fee schedule, parsed as
// decimal strings the same way every other money figure in config is.
type FeeConfig struct {
	Maker      string `mapstructure:"maker"`
	Taker      string `mapstructure:"taker"`
	Withdrawal string `mapstructure:"withdrawal"`
}

// ConnectorConfig is the per-venue connection configuration.
type ConnectorConfig struct {
	Enabled     bool             `mapstructure:"enabled"`
	BaseURL     string           `mapstructure:"base_url"`
	WSBaseURL   string           `mapstructure:"ws_base_url"`
	Credentials VenueCredentials `mapstructure:"credentials"`
	RatePerSec  float64          `mapstructure:"rate_per_sec"`
	Timeout     time.Duration    `mapstructure:"timeout"`
	Fees        FeeConfig        `mapstructure:"fees"`
}

// ConnectorsConfig groups the three in-scope venues.
type ConnectorsConfig struct {
	Coinbase  ConnectorConfig `mapstructure:"coinbase"`
	BinanceUS ConnectorConfig `mapstructure:"binanceus"`
	Kraken    ConnectorConfig `mapstructure:"kraken"`
}

// RiskConfig bounds order acceptance and the Risk Monitor's loss tracking.
//
//   - DailyResetBoundary is the UTC-midnight-relative offset at which
//     cumulative daily loss resets to zero (default 0, i.e. exactly UTC
//     midnight).
type RiskConfig struct {
	MaxOrderSize         string        `mapstructure:"max_order_size"`
	MaxPositionSize      string        `mapstructure:"max_position_size"`
	MaxPortfolioExposure string        `mapstructure:"max_portfolio_exposure"`
	DailyLossThreshold   string        `mapstructure:"daily_loss_threshold"`
	DrawdownThresholdPct float64       `mapstructure:"drawdown_threshold_pct"`
	ConsecutiveLossLimit int           `mapstructure:"consecutive_loss_limit"`
	DailyResetBoundary   time.Duration `mapstructure:"daily_reset_boundary"`
}

// RouterConfig tunes venue selection.
type RouterConfig struct {
	MinScoreThreshold float64 `mapstructure:"min_score_threshold"`
	BaselineFee       string  `mapstructure:"baseline_fee"`
	EWMAAlpha         float64 `mapstructure:"ewma_alpha"`
}

// ScannerConfig tunes the volatility scanner.
type ScannerConfig struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	StaleMultiple  float64       `mapstructure:"stale_multiple"`
	WeightSigma    float64       `mapstructure:"weight_sigma"`
	WeightSurge    float64       `mapstructure:"weight_volume_surge"`
	WeightMomentum float64       `mapstructure:"weight_momentum"`
	WeightSpread   float64       `mapstructure:"weight_spread"`
}

// DetectorConfig tunes the opportunity detector.
//
//   - MaxVolatility gates admission on the Scanner's per-symbol volatility
//     score (0 disables the check, matching the "<=0 disables" idiom used
//     elsewhere in this config).
type DetectorConfig struct {
	MinProfitPct   float64 `mapstructure:"min_profit_pct"`
	MinConfidence  float64 `mapstructure:"min_confidence"`
	MaxRisk        float64 `mapstructure:"max_risk"`
	MaxPositionCap string  `mapstructure:"max_position_cap"`
	MaxVolatility  float64 `mapstructure:"max_volatility"`
}

// AllocatorConfig tunes the capital allocator.
type AllocatorConfig struct {
	RebalanceInterval time.Duration `mapstructure:"rebalance_interval"`
	Strategy          string        `mapstructure:"strategy"` // balanced|aggressive|weighted
}

// ExecutionConfig tunes the two-leg execution engine.
type ExecutionConfig struct {
	MaxConcurrentLegs int           `mapstructure:"max_concurrent_legs"`
	DeadlineSlack     time.Duration `mapstructure:"deadline_slack"`
}

// EngineConfig tunes the orchestrator's task cadences and admission filter.
type EngineConfig struct {
	ScanPeriod           time.Duration `mapstructure:"scan_period"`
	DetectPeriod         time.Duration `mapstructure:"detect_period"`
	AllocatePeriod       time.Duration `mapstructure:"allocate_period"`
	MonitorPeriod        time.Duration `mapstructure:"monitor_period"`
	MaxDailyAllocation   string        `mapstructure:"max_daily_allocation"`
	ShutdownGracePeriod  time.Duration `mapstructure:"shutdown_grace_period"`
}

// StorageConfig configures the persistence port implementation.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"` // memory|postgres
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// Load reads configuration from a YAML file with TRADING_* environment
// overrides for sensitive fields (venue credentials, DB DSN).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("observability.service_name", "trading-core")
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.metrics_namespace", "trading_core")

	v.SetDefault("router.min_score_threshold", 0.0)
	v.SetDefault("router.baseline_fee", "0.002")
	v.SetDefault("router.ewma_alpha", 0.1)

	v.SetDefault("scanner.update_interval", 100*time.Millisecond)
	v.SetDefault("scanner.stale_multiple", 2.0)
	v.SetDefault("scanner.weight_sigma", 0.4)
	v.SetDefault("scanner.weight_volume_surge", 0.3)
	v.SetDefault("scanner.weight_momentum", 0.2)
	v.SetDefault("scanner.weight_spread", 0.1)

	v.SetDefault("detector.min_profit_pct", 0.001)
	v.SetDefault("detector.min_confidence", 0.6)
	v.SetDefault("detector.max_risk", 0.7)
	v.SetDefault("detector.max_volatility", 0.0)

	v.SetDefault("connectors.coinbase.fees.maker", "0.004")
	v.SetDefault("connectors.coinbase.fees.taker", "0.006")
	v.SetDefault("connectors.binanceus.fees.maker", "0.001")
	v.SetDefault("connectors.binanceus.fees.taker", "0.001")
	v.SetDefault("connectors.kraken.fees.maker", "0.0016")
	v.SetDefault("connectors.kraken.fees.taker", "0.0026")

	v.SetDefault("allocator.rebalance_interval", 5*time.Second)
	v.SetDefault("allocator.strategy", "aggressive")

	v.SetDefault("execution.max_concurrent_legs", 2)
	v.SetDefault("execution.deadline_slack", 200*time.Millisecond)

	v.SetDefault("engine.scan_period", 100*time.Millisecond)
	v.SetDefault("engine.detect_period", 50*time.Millisecond)
	v.SetDefault("engine.allocate_period", 5*time.Second)
	v.SetDefault("engine.monitor_period", 10*time.Second)
	v.SetDefault("engine.shutdown_grace_period", time.Second)

	v.SetDefault("risk.daily_reset_boundary", time.Duration(0))
	v.SetDefault("risk.drawdown_threshold_pct", 0.1)
	v.SetDefault("risk.consecutive_loss_limit", 5)

	v.SetDefault("storage.driver", "memory")
}

func applyEnvOverrides(cfg *Config) {
	override := func(dst *string, envVar string) {
		if val := os.Getenv(envVar); val != "" {
			*dst = val
		}
	}
	override(&cfg.Connectors.Coinbase.Credentials.APIKey, "TRADING_COINBASE_API_KEY")
	override(&cfg.Connectors.Coinbase.Credentials.APISecret, "TRADING_COINBASE_API_SECRET")
	override(&cfg.Connectors.Coinbase.Credentials.Passphrase, "TRADING_COINBASE_PASSPHRASE")
	override(&cfg.Connectors.Coinbase.Credentials.PrivateKeyPEM, "TRADING_COINBASE_PRIVATE_KEY_PEM")
	override(&cfg.Connectors.BinanceUS.Credentials.APIKey, "TRADING_BINANCEUS_API_KEY")
	override(&cfg.Connectors.BinanceUS.Credentials.APISecret, "TRADING_BINANCEUS_API_SECRET")
	override(&cfg.Connectors.Kraken.Credentials.APIKey, "TRADING_KRAKEN_API_KEY")
	override(&cfg.Connectors.Kraken.Credentials.APISecret, "TRADING_KRAKEN_API_SECRET")
	override(&cfg.Storage.PostgresDSN, "TRADING_STORAGE_POSTGRES_DSN")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required when storage.driver=postgres")
	}
	if c.Engine.ScanPeriod <= 0 || c.Engine.DetectPeriod <= 0 || c.Engine.AllocatePeriod <= 0 || c.Engine.MonitorPeriod <= 0 {
		return fmt.Errorf("engine task periods must be positive")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.min_confidence must be in [0,1]")
	}
	if c.Detector.MaxRisk < 0 || c.Detector.MaxRisk > 1 {
		return fmt.Errorf("detector.max_risk must be in [0,1]")
	}
	return nil
}
