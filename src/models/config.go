package models

// MConfig Structure
type MConfig struct {
	Name                 string              `yaml:"name"`
	Host                 string              `yaml:"host"`
	Port                 int                 `yaml:"port"`
	LogLevel             string              `yaml:"log_level"`
	LogFile              string              `yaml:"log_file"`
	GrpcHost             string              `yaml:"grpc_host"`
	GrpcPort             int                 `yaml:"grpc_port"`
	ShutdownGraceSeconds int                 `yaml:"shutdown_grace_seconds"`
	Storage              MStorageConfig      `yaml:"storage"`
	Network              MNetworkConfig      `yaml:"network"`
	Redis                MRedisConfig        `yaml:"redis"`
	Kafka                MKafkaConfig        `yaml:"kafka"`
	Alert                MAlertConfig        `yaml:"alert"`
	Store                MStoreConfig        `yaml:"store"`
	Premium              MPremiumConfig      `yaml:"premium"`
	Broadcast            MBroadcastConfig    `yaml:"broadcast"`
	ExchangeRate         MExchangeRateConfig `yaml:"exchange_rate"`
	Exchanges            []MExchangeConfig   `yaml:"exchanges"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"retries"`
	UserAgent      string `yaml:"user_agent"`
}

type MRedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type MKafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MAlertConfig struct {
	Enabled          bool    `yaml:"enabled"`
	WebhookURL       string  `yaml:"webhook_url"`
	ThresholdPercent float64 `yaml:"threshold_percent"`
	CooldownSeconds  int     `yaml:"cooldown_seconds"`
}

type MStoreConfig struct {
	Shards           int `yaml:"shards"`
	TTLSeconds       int `yaml:"ttl_seconds"`
	FreshnessSeconds int `yaml:"freshness_seconds"`
}

// Premium engine modes.
const (
	PremiumModeLive  = "live"
	PremiumModeBatch = "batch"
)

type MPremiumConfig struct {
	Mode       string   `yaml:"mode"`
	IntervalMs int      `yaml:"interval_ms"`
	Symbols    []string `yaml:"symbols"`
	Persist    bool     `yaml:"persist"`
}

type MBroadcastConfig struct {
	IntervalMs     int `yaml:"interval_ms"`
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
	BufferSize     int `yaml:"buffer_size"`
}

type MExchangeRateConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	CurrencyPair    string `yaml:"currency_pair"`
	Currency        string `yaml:"currency"`
	PrimaryURL      string `yaml:"primary_url"`
	SecondaryURL    string `yaml:"secondary_url"`
}

type MExchangeConfig struct {
	Name                    string   `yaml:"name"`
	Group                   string   `yaml:"group"`
	Enabled                 bool     `yaml:"enabled"`
	URL                     string   `yaml:"url"`
	RestURL                 string   `yaml:"rest_url"`
	Symbols                 []string `yaml:"symbols"`
	MaxSymbols              int      `yaml:"max_symbols"`
	PollIntervalSeconds     int      `yaml:"poll_interval_seconds"`
	MinRequestIntervalMs    int      `yaml:"min_request_interval_ms"`
	RateLimitPenaltySeconds int      `yaml:"rate_limit_penalty_seconds"`
	IdleTimeoutSeconds      int      `yaml:"idle_timeout_seconds"`
	QuoteCurrencies         []string `yaml:"quote_currencies"`
}

// -----------------------------------------------------------------------------

// LoggingOptions lets the logger pick level and file from the config.
func (c *MConfig) LoggingOptions() (string, string) {
	return c.LogLevel, c.LogFile
}
