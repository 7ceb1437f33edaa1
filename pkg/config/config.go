package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Hub struct {
		SendBufferSize    int `yaml:"send_buffer_size"`
		MaxMessagesPerSec int `yaml:"max_messages_per_sec"`
	} `yaml:"hub"`
	Classifier struct {
		BuyThreshold      int     `yaml:"buy_threshold"`
		RedBelow          int     `yaml:"red_below"`
		GreenAbove        int     `yaml:"green_above"`
		ConfidenceDivisor float64 `yaml:"confidence_divisor"`
	} `yaml:"classifier"`
	Control struct {
		AuthToken string `yaml:"auth_token"`
	} `yaml:"control"`
	Storage struct {
		Type   string `yaml:"type"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"storage"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		SignalsTopic string   `yaml:"signals_topic"`
		IngestTopic  string   `yaml:"ingest_topic"`
		LogTopic     string   `yaml:"log_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Bridge struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"bridge"`
	Market struct {
		Enabled      bool          `yaml:"enabled"`
		BaseURL      string        `yaml:"base_url"`
		APIKey       string        `yaml:"api_key"`
		Symbols      []string      `yaml:"symbols"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"market"`
	Cache struct {
		StatusTTL time.Duration `yaml:"status_ttl"`
		Redis     struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Replay struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"replay"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("CONTROL_AUTH_TOKEN"); v != "" {
		c.Control.AuthToken = v
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Storage.SQLite.Path = v
	}
	if v := os.Getenv("BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("MARKET_API_KEY"); v != "" {
		c.Market.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Market.Symbols = strings.Split(v, ",")
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Classifier.BuyThreshold == 0 {
		c.Classifier.BuyThreshold = 50
	}
	if c.Classifier.RedBelow == 0 {
		c.Classifier.RedBelow = 30
	}
	if c.Classifier.GreenAbove == 0 {
		c.Classifier.GreenAbove = 70
	}
	if c.Classifier.ConfidenceDivisor == 0 {
		c.Classifier.ConfidenceDivisor = 100
	}
	if c.Hub.SendBufferSize == 0 {
		c.Hub.SendBufferSize = 64
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "enigma_hub.db"
	}
	if c.Bridge.ReconnectDelay == 0 {
		c.Bridge.ReconnectDelay = 5 * time.Second
	}
	if c.Bridge.PingInterval == 0 {
		c.Bridge.PingInterval = 30 * time.Second
	}
	if c.Market.PollInterval == 0 {
		c.Market.PollInterval = 15 * time.Second
	}
	if c.Cache.StatusTTL == 0 {
		c.Cache.StatusTTL = 2 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Control.AuthToken == "" {
		return fmt.Errorf("control.auth_token is required")
	}
	if c.Storage.Type != "sqlite" && c.Storage.Type != "clickhouse" {
		return fmt.Errorf("storage.type must be 'sqlite' or 'clickhouse', got '%s'", c.Storage.Type)
	}
	if c.Classifier.RedBelow > c.Classifier.GreenAbove {
		return fmt.Errorf("classifier.red_below must not exceed classifier.green_above")
	}
	if c.Bridge.Enabled && c.Bridge.URL == "" {
		return fmt.Errorf("bridge.url is required when bridge is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Market.Enabled {
		if c.Market.BaseURL == "" {
			return fmt.Errorf("market.base_url is required when market polling is enabled")
		}
		if len(c.Market.Symbols) == 0 {
			return fmt.Errorf("market.symbols cannot be empty when market polling is enabled")
		}
	}
	if c.Replay.Enabled && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when replay is enabled")
	}
	return nil
}
