package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string
	HTTPPort     string
	PostgresDSN  string
	KafkaBrokers []string

	CurrencyScale        int32
	MaxDrawsPerVote      int
	BatchTypes           []string
	MaxRetries           int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	RetryLongDelay       time.Duration
	RetryBatchSize       int
	RedemptionsPerSecond float64
	PollInterval         time.Duration

	TokenNativeProcessorURL string
	WalletProcessorURL      string
	ProcessorTimeout        time.Duration
}

// FileConfig is the optional YAML document named by CONFIG_FILE. Zero values
// keep the defaults.
type FileConfig struct {
	ServiceName  string   `yaml:"serviceName"`
	HTTPPort     string   `yaml:"httpPort"`
	PostgresDSN  string   `yaml:"postgresDSN"`
	KafkaBrokers []string `yaml:"kafkaBrokers"`

	Settlement struct {
		CurrencyScale   int32    `yaml:"currencyScale"`
		MaxDrawsPerVote int      `yaml:"maxDrawsPerVote"`
		BatchTypes      []string `yaml:"batchTypes"`
	} `yaml:"settlement"`

	Retry struct {
		MaxRetries           int           `yaml:"maxRetries"`
		BaseDelay            time.Duration `yaml:"baseDelay"`
		MaxDelay             time.Duration `yaml:"maxDelay"`
		LongDelay            time.Duration `yaml:"longDelay"`
		BatchSize            int           `yaml:"batchSize"`
		RedemptionsPerSecond float64       `yaml:"redemptionsPerSecond"`
		PollInterval         time.Duration `yaml:"pollInterval"`
	} `yaml:"retry"`

	Processors struct {
		TokenNativeURL string        `yaml:"tokenNativeURL"`
		WalletURL      string        `yaml:"walletURL"`
		Timeout        time.Duration `yaml:"timeout"`
	} `yaml:"processors"`
}

func Default() Config {
	return Config{
		ServiceName:  "rewards",
		HTTPPort:     "8080",
		KafkaBrokers: []string{"localhost:9092"},

		CurrencyScale:        3,
		MaxDrawsPerVote:      64,
		BatchTypes:           []string{"promotion", "sku"},
		MaxRetries:           10,
		RetryBaseDelay:       15 * time.Second,
		RetryMaxDelay:        time.Hour,
		RetryLongDelay:       5 * time.Second,
		RetryBatchSize:       50,
		RedemptionsPerSecond: 5,
		PollInterval:         2 * time.Second,
		ProcessorTimeout:     10 * time.Second,
	}
}

// Load applies defaults, then the CONFIG_FILE document when set, then
// environment overrides.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		Merge(&cfg, parsed)
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Merge(dst *Config, src FileConfig) {
	if src.ServiceName != "" {
		dst.ServiceName = src.ServiceName
	}
	if src.HTTPPort != "" {
		dst.HTTPPort = src.HTTPPort
	}
	if src.PostgresDSN != "" {
		dst.PostgresDSN = src.PostgresDSN
	}
	if len(src.KafkaBrokers) > 0 {
		dst.KafkaBrokers = src.KafkaBrokers
	}
	if src.Settlement.CurrencyScale > 0 {
		dst.CurrencyScale = src.Settlement.CurrencyScale
	}
	if src.Settlement.MaxDrawsPerVote > 0 {
		dst.MaxDrawsPerVote = src.Settlement.MaxDrawsPerVote
	}
	if len(src.Settlement.BatchTypes) > 0 {
		dst.BatchTypes = src.Settlement.BatchTypes
	}
	if src.Retry.MaxRetries > 0 {
		dst.MaxRetries = src.Retry.MaxRetries
	}
	if src.Retry.BaseDelay > 0 {
		dst.RetryBaseDelay = src.Retry.BaseDelay
	}
	if src.Retry.MaxDelay > 0 {
		dst.RetryMaxDelay = src.Retry.MaxDelay
	}
	if src.Retry.LongDelay > 0 {
		dst.RetryLongDelay = src.Retry.LongDelay
	}
	if src.Retry.BatchSize > 0 {
		dst.RetryBatchSize = src.Retry.BatchSize
	}
	if src.Retry.RedemptionsPerSecond > 0 {
		dst.RedemptionsPerSecond = src.Retry.RedemptionsPerSecond
	}
	if src.Retry.PollInterval > 0 {
		dst.PollInterval = src.Retry.PollInterval
	}
	if src.Processors.TokenNativeURL != "" {
		dst.TokenNativeProcessorURL = src.Processors.TokenNativeURL
	}
	if src.Processors.WalletURL != "" {
		dst.WalletProcessorURL = src.Processors.WalletURL
	}
	if src.Processors.Timeout > 0 {
		dst.ProcessorTimeout = src.Processors.Timeout
	}
}

func ApplyEnvOverrides(cfg *Config) error {
	if value := strings.TrimSpace(os.Getenv("SERVICE_NAME")); value != "" {
		cfg.ServiceName = value
	}
	if value := strings.TrimSpace(os.Getenv("HTTP_PORT")); value != "" {
		cfg.HTTPPort = value
	}
	if value := strings.TrimSpace(os.Getenv("POSTGRES_DSN")); value != "" {
		cfg.PostgresDSN = value
	}
	if brokers := envList("KAFKA_BROKERS"); len(brokers) > 0 {
		cfg.KafkaBrokers = brokers
	}
	if batchTypes := envList("BATCH_TYPES"); len(batchTypes) > 0 {
		cfg.BatchTypes = batchTypes
	}
	if value := strings.TrimSpace(os.Getenv("TOKEN_NATIVE_PROCESSOR_URL")); value != "" {
		cfg.TokenNativeProcessorURL = value
	}
	if value := strings.TrimSpace(os.Getenv("WALLET_PROCESSOR_URL")); value != "" {
		cfg.WalletProcessorURL = value
	}

	scale, err := envInt("CURRENCY_SCALE", int(cfg.CurrencyScale))
	if err != nil {
		return err
	}
	cfg.CurrencyScale = int32(scale)

	for name, target := range map[string]*int{
		"MAX_DRAWS_PER_VOTE": &cfg.MaxDrawsPerVote,
		"MAX_RETRIES":        &cfg.MaxRetries,
		"RETRY_BATCH_SIZE":   &cfg.RetryBatchSize,
	} {
		value, err := envInt(name, *target)
		if err != nil {
			return err
		}
		*target = value
	}

	for name, target := range map[string]*time.Duration{
		"RETRY_BASE_DELAY":  &cfg.RetryBaseDelay,
		"RETRY_MAX_DELAY":   &cfg.RetryMaxDelay,
		"RETRY_LONG_DELAY":  &cfg.RetryLongDelay,
		"POLL_INTERVAL":     &cfg.PollInterval,
		"PROCESSOR_TIMEOUT": &cfg.ProcessorTimeout,
	} {
		value, err := envDuration(name, *target)
		if err != nil {
			return err
		}
		*target = value
	}

	if raw := strings.TrimSpace(os.Getenv("REDEMPTIONS_PER_SECOND")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			return fmt.Errorf("REDEMPTIONS_PER_SECOND must be a positive number, got %q", raw)
		}
		cfg.RedemptionsPerSecond = value
	}
	return nil
}

func envList(name string) []string {
	var items []string
	for _, value := range strings.Split(os.Getenv(name), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			items = append(items, value)
		}
	}
	return items
}

func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return value, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", name, raw)
	}
	return value, nil
}
