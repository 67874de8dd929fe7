package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var currencyPairPattern = regexp.MustCompile(`^[A-Z]{6}$`)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config from a YAML file, a .env file next to the
// working directory, and the process environment, in that order.
func NewConfig(configPath string) (*Config, error) {
	// 1. Optional .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, helpers.NewConfigurationError("failed to load .env", err)
	}

	// 2. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, helpers.NewConfigurationError(fmt.Sprintf("failed to read config file '%s'", configPath), err)
	}

	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a Config from YAML bytes, then applies defaults and env overrides.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, helpers.NewConfigurationError("failed to parse config from YAML", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills every zero value that has a sensible default.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "kimchi-observer"
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.ShutdownGraceSeconds == 0 {
		c.ShutdownGraceSeconds = 10
	}

	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = "kimchi.db"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 7
	}

	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 10
	}
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = "kimchi-observer/1.0"
	}

	if c.Redis.TTLSeconds == 0 {
		c.Redis.TTLSeconds = 300
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "premiums"
	}
	if c.Alert.CooldownSeconds == 0 {
		c.Alert.CooldownSeconds = 600
	}

	if c.Store.Shards == 0 {
		c.Store.Shards = 16
	}
	if c.Store.TTLSeconds == 0 {
		c.Store.TTLSeconds = 600
	}
	if c.Store.FreshnessSeconds == 0 {
		c.Store.FreshnessSeconds = 60
	}

	if c.Premium.Mode == "" {
		c.Premium.Mode = models.PremiumModeLive
	}
	if c.Premium.IntervalMs == 0 {
		if c.Premium.Mode == models.PremiumModeBatch {
			c.Premium.IntervalMs = 60_000
		} else {
			c.Premium.IntervalMs = 1_000
		}
	}
	if c.Premium.Mode == models.PremiumModeBatch {
		c.Premium.Persist = true
	}

	if c.Broadcast.IntervalMs == 0 {
		c.Broadcast.IntervalMs = 500
	}
	if c.Broadcast.WriteTimeoutMs == 0 {
		c.Broadcast.WriteTimeoutMs = 2000
	}
	if c.Broadcast.BufferSize == 0 {
		c.Broadcast.BufferSize = 16
	}

	if c.ExchangeRate.IntervalSeconds == 0 {
		c.ExchangeRate.IntervalSeconds = 300
	}
	if c.ExchangeRate.CurrencyPair == "" {
		c.ExchangeRate.CurrencyPair = "USDKRW"
	}
	if c.ExchangeRate.Currency == "" {
		c.ExchangeRate.Currency = "KRW"
	}

	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		if ex.MaxSymbols == 0 {
			ex.MaxSymbols = 100
		}
		if ex.PollIntervalSeconds == 0 {
			ex.PollIntervalSeconds = 5
		}
		if ex.MinRequestIntervalMs == 0 {
			ex.MinRequestIntervalMs = 200
		}
		if ex.RateLimitPenaltySeconds == 0 {
			ex.RateLimitPenaltySeconds = 60
		}
		if ex.IdleTimeoutSeconds == 0 {
			ex.IdleTimeoutSeconds = 60
		}
	}
}

// -----------------------------------------------------------------------------

// ApplyEnv overrides secrets and deployment settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DB_CONNECTION_STRING"); v != "" {
		c.Storage.DBConnectionString = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Alert.WebhookURL = v
		c.Alert.Enabled = true
	}
}

// -----------------------------------------------------------------------------

// Validate performs configuration validation. Every failure is a
// ConfigurationError, which is fatal at startup.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return helpers.NewConfigurationError(fmt.Sprintf(format, args...), nil)
	}

	if c.Host == "" {
		return invalid("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return invalid("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return invalid("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return invalid("database connection string cannot be empty for postgres")
		}
	default:
		return invalid("unsupported database type %q", c.Storage.DBType)
	}

	if c.Network.RequestTimeout <= 0 {
		return invalid("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return invalid("max retries cannot be negative")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return invalid("redis enabled without an address")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return invalid("kafka enabled without brokers")
	}
	if c.Alert.Enabled && (c.Alert.WebhookURL == "" || c.Alert.ThresholdPercent <= 0) {
		return invalid("alert requires a webhook url and a positive threshold")
	}

	if c.Store.Shards <= 0 || c.Store.FreshnessSeconds <= 0 || c.Store.TTLSeconds < c.Store.FreshnessSeconds {
		return invalid("store needs shards > 0 and ttl_seconds >= freshness_seconds > 0")
	}

	if c.Premium.Mode != models.PremiumModeLive && c.Premium.Mode != models.PremiumModeBatch {
		return invalid("premium mode must be %q or %q", models.PremiumModeLive, models.PremiumModeBatch)
	}
	if c.Premium.IntervalMs <= 0 {
		return invalid("premium interval must be greater than 0")
	}

	if c.Broadcast.BufferSize <= 0 || c.Broadcast.WriteTimeoutMs <= 0 {
		return invalid("broadcast buffer size and write timeout must be greater than 0")
	}

	if !currencyPairPattern.MatchString(c.ExchangeRate.CurrencyPair) {
		return invalid("currency pair %q must look like USDKRW", c.ExchangeRate.CurrencyPair)
	}
	if c.ExchangeRate.PrimaryURL == "" && c.ExchangeRate.SecondaryURL == "" {
		return invalid("at least one exchange rate source url must be configured")
	}

	if len(c.Exchanges) == 0 {
		return invalid("at least one exchange must be configured")
	}
	seen := make(map[string]bool)
	groups := make(map[string]int)
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return invalid("exchange %d must have a name", i)
		}
		if seen[ex.Name] {
			return invalid("exchange %q configured twice", ex.Name)
		}
		seen[ex.Name] = true
		if ex.Group != models.GroupDomestic && ex.Group != models.GroupGlobal {
			return invalid("exchange %q group must be %q or %q", ex.Name, models.GroupDomestic, models.GroupGlobal)
		}
		if ex.Enabled {
			groups[ex.Group]++
		}
	}
	if groups[models.GroupDomestic] == 0 || groups[models.GroupGlobal] == 0 {
		return invalid("need at least one enabled domestic and one enabled global exchange")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Exchange looks up an exchange config by name.
func (c *Config) Exchange(name string) (models.MExchangeConfig, bool) {
	for _, ex := range c.Exchanges {
		if ex.Name == name {
			return ex, true
		}
	}
	return models.MExchangeConfig{}, false
}

// -----------------------------------------------------------------------------

// Groups returns the exchange name to group mapping for enabled exchanges.
func (c *Config) Groups() map[string]string {
	out := make(map[string]string, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			out[ex.Name] = ex.Group
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
