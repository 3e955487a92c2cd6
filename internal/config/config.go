package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Write modes for the PostgreSQL sink
const (
	WriteModeAppend = "append"
	WriteModeUpsert = "upsert"
)

// RetryConfig controls how a failed batch write is retried
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Config holds the global configuration for the streaming pipelines
type Config struct {
	// Source settings
	Brokers  string `yaml:"brokers"` // comma separated host:port list
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`

	// Database settings
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSchema   string `yaml:"db_schema"`
	DBTable    string `yaml:"db_table"`

	// Sink settings
	BatchSize    int           `yaml:"batch_size"` // rows per COPY chunk
	WriteMode    string        `yaml:"write_mode"` // append or upsert
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Console      bool          `yaml:"console"`     // enable the debug console pipeline
	ArchiveDir   string        `yaml:"archive_dir"` // enable the Parquet archive pipeline

	// Processing settings
	TriggerInterval time.Duration `yaml:"trigger_interval"`
	CheckpointDir   string        `yaml:"checkpoint_dir"`
	Workers         int           `yaml:"workers"`
	Retry           RetryConfig   `yaml:"retry"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	MetricsAddr     string        `yaml:"metrics_addr"`     // empty = no /metrics endpoint
	MetricsInterval time.Duration `yaml:"metrics_interval"` // system metrics logging
}

// DefaultConfig returns a configuration matching the reference deployment
func DefaultConfig() *Config {
	return &Config{
		Brokers:         "kafka:9092",
		Topic:           "flights_positions",
		ClientID:        "airstream-go",
		DBHost:          "postgres",
		DBPort:          5432,
		DBName:          "mydb",
		DBUser:          "admin",
		DBPassword:      "",
		DBSchema:        "public",
		DBTable:         "airports_clean",
		BatchSize:       1000,
		WriteMode:       WriteModeAppend,
		WriteTimeout:    2 * time.Minute,
		Console:         true,
		TriggerInterval: 10 * time.Second,
		CheckpointDir:   "/tmp/chk_airports",
		Workers:         runtime.NumCPU(),
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		MetricsInterval: 30 * time.Second,
	}
}

// LoadFile overlays a YAML file on top of the receiver
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// BrokerList splits the broker setting
func (c *Config) BrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.BrokerList()) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if c.DBTable == "" {
		return fmt.Errorf("db table is required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.WriteMode != WriteModeAppend && c.WriteMode != WriteModeUpsert {
		return fmt.Errorf("write mode must be %q or %q, got %q", WriteModeAppend, WriteModeUpsert, c.WriteMode)
	}
	if c.TriggerInterval < 100*time.Millisecond {
		return fmt.Errorf("trigger interval must be at least 100ms")
	}
	if c.CheckpointDir == "" {
		return fmt.Errorf("checkpoint directory is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative")
	}
	return nil
}
