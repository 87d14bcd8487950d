package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Ingest struct {
		// Source selects where bars come from: the Kafka topic or the
		// live WebSocket collector.
		Source     string `yaml:"source" default:"kafka" validate:"oneof=kafka websocket"`
		MaxRPS     int    `yaml:"max_rps" default:"50"`
		BufferSize int    `yaml:"buffer_size" default:"2000"`
	} `yaml:"ingest"`
	Kafka struct {
		Brokers          []string `yaml:"brokers"`
		BarsTopic        string   `yaml:"bars_topic" default:"bars"`
		PredictionsTopic string   `yaml:"predictions_topic" default:"predictions"`
		RequiredAcks     int      `yaml:"required_acks" default:"-1"`
		Compression      string   `yaml:"compression" default:"gzip"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async" default:"true"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"barpulse"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1024"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"barpulse"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		AsyncInsert  bool          `yaml:"async_insert" default:"true"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl" default:"5m"`
	} `yaml:"redis"`
	Stream struct {
		URL            string        `yaml:"url"`
		Token          string        `yaml:"token"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	} `yaml:"stream"`
	Inference struct {
		URL             string        `yaml:"url" validate:"required"`
		Timeout         time.Duration `yaml:"timeout" default:"150ms"`
		ContractVersion string        `yaml:"contract_version" default:"v1"`
	} `yaml:"inference"`
	Pipeline struct {
		Warmup           int           `yaml:"warmup" default:"32"`
		HistorySize      int           `yaml:"history_size" default:"1000"`
		LatencyWindow    int           `yaml:"latency_window" default:"10"`
		WarnLatency      time.Duration `yaml:"warn_latency" default:"50ms"`
		CriticalLatency  time.Duration `yaml:"critical_latency" default:"200ms"`
		P95Budget        time.Duration `yaml:"p95_budget" default:"100ms"`
		BlockThreshold   float64       `yaml:"block_threshold" default:"5"`
		Cooldown         time.Duration `yaml:"cooldown" default:"10m"`
		AuditSize        int           `yaml:"audit_size" default:"256"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval" default:"30s"`
		SnapshotBuffer   int           `yaml:"snapshot_buffer" default:"4096"`
	} `yaml:"pipeline"`
}

var validate = validator.New()

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

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

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

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BARS_TOPIC"); v != "" {
		c.Kafka.BarsTopic = v
	}
	if v := os.Getenv("INFERENCE_URL"); v != "" {
		c.Inference.URL = v
	}
	if v := os.Getenv("STREAM_TOKEN"); v != "" {
		c.Stream.Token = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Stream.Symbols = strings.Split(v, ",")
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Ingest.Source == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required for kafka ingest")
	}
	if c.Ingest.Source == "websocket" && c.Stream.URL == "" {
		return fmt.Errorf("stream.url required for websocket ingest")
	}
	if c.Pipeline.CriticalLatency <= c.Pipeline.WarnLatency {
		return fmt.Errorf("pipeline.critical_latency must exceed warn_latency")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host required when enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when enabled")
	}
	return nil
}
