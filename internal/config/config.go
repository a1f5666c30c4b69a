// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Exchange names accepted in app.exchange
const (
	ExchangePaper       = "paper"
	ExchangeKraken      = "kraken"
	ExchangeBinanceSpot = "binance_spot"
)

// Journal drivers
const (
	JournalMemory = "memory"
	JournalSQLite = "sqlite"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig                 `yaml:"app"`
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
	Grid      GridConfig                `yaml:"grid"`
	Fees      FeeConfig                 `yaml:"fees"`
	Server    ServerConfig              `yaml:"server"`
	Telemetry TelemetryConfig           `yaml:"telemetry"`
	Journal   JournalConfig             `yaml:"journal"`
	Alerts    AlertConfig               `yaml:"alerts"`
	Paper     PaperConfig               `yaml:"paper"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Exchange     string `yaml:"exchange"`
	LogLevel     string `yaml:"log_level"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// ExchangeConfig contains exchange-specific configuration
type ExchangeConfig struct {
	APIKey         Secret  `yaml:"api_key"`
	SecretKey      Secret  `yaml:"secret_key"`
	BaseURL        string  `yaml:"base_url"`   // Optional override for API URL
	RateLimit      float64 `yaml:"rate_limit"` // Requests per second
	Burst          int     `yaml:"burst"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the per-request timeout
func (e ExchangeConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// GridConfig contains the grid parameters
type GridConfig struct {
	Pair                string  `yaml:"pair"`
	LowerBound          float64 `yaml:"lower_bound"`
	UpperBound          float64 `yaml:"upper_bound"`
	LevelCount          int     `yaml:"level_count"`
	BandSize            int     `yaml:"band_size"` // 0 lets every level take both sides
	InvestmentCap       float64 `yaml:"investment_cap"`
	TickIntervalSeconds int     `yaml:"tick_interval_seconds"`
	PriceDecimals       int     `yaml:"price_decimals"` // -1 keeps levels unrounded
	QtyDecimals         int     `yaml:"qty_decimals"`
	MinOrderValue       float64 `yaml:"min_order_value"`
	MaxOrderSize        float64 `yaml:"max_order_size"` // 0 disables the cap
	SellAccounting      string  `yaml:"sell_accounting"`
}

// TickInterval returns the polling cadence
func (g GridConfig) TickInterval() time.Duration {
	return time.Duration(g.TickIntervalSeconds) * time.Second
}

// FeeConfig contains the fee model settings
type FeeConfig struct {
	MakerRate         float64 `yaml:"maker_rate"`
	TakerRate         float64 `yaml:"taker_rate"`
	FetchFromExchange bool    `yaml:"fetch_from_exchange"`
}

// ServerConfig contains the status server settings
type ServerConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Trace exporters
const (
	TracesOff    = "off"
	TracesStdout = "stdout"
)

// TelemetryConfig contains telemetry settings. Each signal is switched on its own.
type TelemetryConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics"`
	Traces        string `yaml:"traces"`     // off | stdout
	LogBridge     bool   `yaml:"log_bridge"` // mirror zap records into the OTel log pipeline
	ServiceName   string `yaml:"service_name"`
}

// JournalConfig selects where completed trades are written
type JournalConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// AlertConfig contains notification settings
type AlertConfig struct {
	SlackWebhookURL Secret `yaml:"slack_webhook_url"`
	PoolSize        int    `yaml:"pool_size"`
}

// PaperConfig configures the in-memory exchange
type PaperConfig struct {
	AutoMatch    bool    `yaml:"auto_match"`
	Price        float64 `yaml:"price"`
	BaseBalance  float64 `yaml:"base_balance"`
	QuoteBalance float64 `yaml:"quote_balance"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadEnv loads variables from a .env file when it exists. Variables already set win.
func LoadEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, f := range filenames {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file with environment variable expansion.
// Keys missing from the file keep their DefaultConfig values.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateAppConfig()...)
	errs = append(errs, c.validateGridConfig()...)
	errs = append(errs, c.validateFeeConfig()...)
	errs = append(errs, c.validateJournalConfig()...)

	if !contains([]string{"", TracesOff, TracesStdout}, c.Telemetry.Traces) {
		errs = append(errs, ValidationError{Field: "telemetry.traces", Value: c.Telemetry.Traces, Message: "must be off or stdout"})
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, ValidationError{Field: "server.port", Value: c.Server.Port, Message: "must be between 1 and 65535"})
	}

	return errors.Join(errs...)
}

func (c *Config) validateAppConfig() []error {
	var errs []error

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		errs = append(errs, ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		})
	}

	validExchanges := []string{ExchangePaper, ExchangeKraken, ExchangeBinanceSpot}
	if !contains(validExchanges, c.App.Exchange) {
		errs = append(errs, ValidationError{
			Field:   "app.exchange",
			Value:   c.App.Exchange,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		})
		return errs
	}

	if c.App.Exchange == ExchangePaper {
		if c.Paper.Price <= 0 {
			errs = append(errs, ValidationError{Field: "paper.price", Value: c.Paper.Price, Message: "must be positive"})
		}
		return errs
	}

	exchange, exists := c.Exchanges[c.App.Exchange]
	if !exists {
		return append(errs, ValidationError{
			Field:   "exchanges." + c.App.Exchange,
			Message: "exchange configuration not found in exchanges section",
		})
	}
	if exchange.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("exchanges.%s.api_key", c.App.Exchange),
			Message: "API key is required",
		})
	}
	if exchange.SecretKey == "" {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("exchanges.%s.secret_key", c.App.Exchange),
			Message: "secret key is required",
		})
	}
	if exchange.RateLimit < 0 || exchange.Burst < 0 {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("exchanges.%s.rate_limit", c.App.Exchange),
			Value:   exchange.RateLimit,
			Message: "rate limit and burst cannot be negative",
		})
	}
	return errs
}

func (c *Config) validateGridConfig() []error {
	var errs []error
	g := c.Grid

	if parts := strings.Split(g.Pair, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		errs = append(errs, ValidationError{Field: "grid.pair", Value: g.Pair, Message: "must look like BASE/QUOTE"})
	}
	if g.UpperBound <= g.LowerBound {
		errs = append(errs, ValidationError{Field: "grid.upper_bound", Value: g.UpperBound, Message: "must exceed grid.lower_bound"})
	}
	if g.LowerBound <= 0 {
		errs = append(errs, ValidationError{Field: "grid.lower_bound", Value: g.LowerBound, Message: "must be positive"})
	}
	if g.LevelCount < 1 {
		errs = append(errs, ValidationError{Field: "grid.level_count", Value: g.LevelCount, Message: "must be at least 1"})
	}
	if g.BandSize < 0 {
		errs = append(errs, ValidationError{Field: "grid.band_size", Value: g.BandSize, Message: "cannot be negative"})
	}
	if g.InvestmentCap <= 0 {
		errs = append(errs, ValidationError{Field: "grid.investment_cap", Value: g.InvestmentCap, Message: "must be positive"})
	}
	if g.TickIntervalSeconds < 1 {
		errs = append(errs, ValidationError{Field: "grid.tick_interval_seconds", Value: g.TickIntervalSeconds, Message: "must be at least 1"})
	}
	if g.PriceDecimals < -1 || g.PriceDecimals > 18 {
		errs = append(errs, ValidationError{Field: "grid.price_decimals", Value: g.PriceDecimals, Message: "must be between -1 and 18"})
	}
	if g.QtyDecimals < 0 {
		errs = append(errs, ValidationError{Field: "grid.qty_decimals", Value: g.QtyDecimals, Message: "cannot be negative"})
	}
	if g.MinOrderValue < 0 || g.MaxOrderSize < 0 {
		errs = append(errs, ValidationError{Field: "grid.min_order_value", Value: g.MinOrderValue, Message: "order limits cannot be negative"})
	}
	if !contains([]string{"", "placement", "fill"}, g.SellAccounting) {
		errs = append(errs, ValidationError{Field: "grid.sell_accounting", Value: g.SellAccounting, Message: "must be placement or fill"})
	}
	return errs
}

func (c *Config) validateFeeConfig() []error {
	var errs []error
	if c.Fees.MakerRate < 0 || c.Fees.MakerRate > 1 {
		errs = append(errs, ValidationError{Field: "fees.maker_rate", Value: c.Fees.MakerRate, Message: "must be between 0 and 1"})
	}
	if c.Fees.TakerRate < 0 || c.Fees.TakerRate > 1 {
		errs = append(errs, ValidationError{Field: "fees.taker_rate", Value: c.Fees.TakerRate, Message: "must be between 0 and 1"})
	}
	return errs
}

func (c *Config) validateJournalConfig() []error {
	switch c.Journal.Driver {
	case JournalMemory:
		return nil
	case JournalSQLite:
		if c.Journal.Path == "" {
			return []error{ValidationError{Field: "journal.path", Message: "required for the sqlite driver"}}
		}
		return nil
	}
	return []error{ValidationError{Field: "journal.driver", Value: c.Journal.Driver, Message: "must be memory or sqlite"}}
}

// CurrentExchangeConfig returns the configuration for the selected exchange
func (c *Config) CurrentExchangeConfig() (*ExchangeConfig, error) {
	exchange, exists := c.Exchanges[c.App.Exchange]
	if !exists {
		return nil, fmt.Errorf("exchange configuration not found for: %s", c.App.Exchange)
	}
	return &exchange, nil
}

// String returns a YAML representation with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Decimal converts a configured float to a decimal without binary noise
func Decimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the configuration used when a key is not set
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Exchange: ExchangePaper,
			LogLevel: "INFO",
		},
		Exchanges: map[string]ExchangeConfig{},
		Grid: GridConfig{
			Pair:                "ETH/EUR",
			LowerBound:          1850,
			UpperBound:          4000,
			LevelCount:          10,
			BandSize:            5,
			InvestmentCap:       1000,
			TickIntervalSeconds: 60,
			PriceDecimals:       2,
			QtyDecimals:         8,
			MinOrderValue:       0,
			SellAccounting:      "placement",
		},
		Fees: FeeConfig{
			MakerRate: 0.0016,
			TakerRate: 0.0026,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    5000,
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
			Traces:        TracesOff,
			ServiceName:   "grid_trader",
		},
		Journal: JournalConfig{
			Driver: JournalMemory,
		},
		Alerts: AlertConfig{
			PoolSize: 2,
		},
		Paper: PaperConfig{
			AutoMatch:    true,
			Price:        2500,
			BaseBalance:  1,
			QuoteBalance: 5000,
		},
	}
}
