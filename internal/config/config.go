// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Render    RenderConfig    `mapstructure:"render"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	RateLimitPerSecond int           `mapstructure:"rate_limit_per_second"`
	Mode               string        `mapstructure:"mode"`
}

// DatabaseConfig selects the gorm dialector and pool.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite | postgres
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// KafkaConfig defines Kafka producer settings.
type KafkaConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Brokers  []string       `mapstructure:"brokers"`
	Topic    string         `mapstructure:"topic"`
	DLQTopic string         `mapstructure:"dlq_topic"`
	Producer ProducerConfig `mapstructure:"producer"`
}

// ProducerConfig defines Sarama producer settings.
type ProducerConfig struct {
	RequiredAcks     string        `mapstructure:"required_acks"`
	CompressionCodec string        `mapstructure:"compression_codec"`
	FlushFrequency   time.Duration `mapstructure:"flush_frequency"`
	FlushMessages    int           `mapstructure:"flush_messages"`
	FlushBytes       int           `mapstructure:"flush_bytes"`
	RetryMax         int           `mapstructure:"retry_max"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	ReturnSuccesses  bool          `mapstructure:"return_successes"`
	ReturnErrors     bool          `mapstructure:"return_errors"`
}

// PublisherConfig defines the bill event publisher's internal settings.
type PublisherConfig struct {
	EventChannelCapacity int         `mapstructure:"event_channel_capacity"`
	NumWorkers           int         `mapstructure:"num_workers"`
	Retry                RetryConfig `mapstructure:"retry"`
}

// RetryConfig defines settings for the retry mechanism.
type RetryConfig struct {
	ChannelCapacity   int           `mapstructure:"channel_capacity"`
	NumWorkers        int           `mapstructure:"num_workers"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// BillingConfig holds billing defaults.
type BillingConfig struct {
	Currency string `mapstructure:"currency"`
	// DefaultCategory is used when neither the request nor the unit master names one.
	DefaultCategory string `mapstructure:"default_category"`
}

// RenderConfig holds the printed bill layout text.
type RenderConfig struct {
	TitleLines  []string `mapstructure:"title_lines"`
	FooterNotes []string `mapstructure:"footer_notes"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig defines metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.billing-engine")

	// BILLING_DATABASE_DSN overrides database.dsn
	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Printf("Config file not found: %s. Using defaults and environment variables.\n", configPath)
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.rate_limit_per_second", 200)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:billing.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "billing.bills")
	v.SetDefault("kafka.dlq_topic", "billing.bills.dlq")
	v.SetDefault("kafka.producer.required_acks", "leader")
	v.SetDefault("kafka.producer.compression_codec", "snappy")
	v.SetDefault("kafka.producer.flush_frequency", 100*time.Millisecond)
	v.SetDefault("kafka.producer.retry_max", 3)
	v.SetDefault("kafka.producer.retry_backoff", 100*time.Millisecond)
	v.SetDefault("kafka.producer.return_successes", false)
	v.SetDefault("kafka.producer.return_errors", true)

	v.SetDefault("publisher.event_channel_capacity", 1024)
	v.SetDefault("publisher.num_workers", 4)
	v.SetDefault("publisher.retry.channel_capacity", 256)
	v.SetDefault("publisher.retry.num_workers", 2)
	v.SetDefault("publisher.retry.max_retries", 5)
	v.SetDefault("publisher.retry.initial_backoff", 200*time.Millisecond)
	v.SetDefault("publisher.retry.max_backoff", 10*time.Second)
	v.SetDefault("publisher.retry.backoff_multiplier", 2.0)

	v.SetDefault("billing.currency", "Rs.")
	v.SetDefault("billing.default_category", "")

	v.SetDefault("render.title_lines", []string{"ELECTRICITY BILL"})
	v.SetDefault("render.footer_notes", []string{
		"Please pay the bill by the due date to avoid disconnection.",
		"This is a computer generated bill.",
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks critical configuration.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn must be specified")
	}
	if c.Server.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate_limit_per_second must be positive")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers must be specified")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic must be specified")
		}
		if c.Publisher.EventChannelCapacity <= 0 {
			return fmt.Errorf("event_channel_capacity must be positive")
		}
		if c.Publisher.NumWorkers <= 0 {
			return fmt.Errorf("num_workers must be positive")
		}
	}
	return nil
}
