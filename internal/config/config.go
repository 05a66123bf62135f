// Package config provides configuration management for the bundle host.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	SenderType string           `json:"SenderType"` // "none", "file", "kafka" or "redis"
	File       FileConfig       `json:"File"`
	Kafka      KafkaConfig      `json:"Kafka"`
	Redis      RedisConfig      `json:"Redis"`
	SOCKSProxy SOCKSConfig      `json:"SocksProxy"`
	Supervisor SupervisorConfig `json:"Supervisor"`
	Bundles    []BundleConfig   `json:"Bundles"`
	Hostname   string           `json:"Hostname"`
}

// FileConfig contains settings for the file event sender.
type FileConfig struct {
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	Console    bool   `json:"Console"`
	Pretty     bool   `json:"Pretty"`
}

// KafkaConfig contains Kafka connection settings.
type KafkaConfig struct {
	Brokers        []string      `json:"Brokers"`
	Topic          string        `json:"Topic"`
	Compression    string        `json:"Compression"`
	RequiredAcks   int           `json:"RequiredAcks"`
	MaxRetries     int           `json:"MaxRetries"`
	RetryBackoff   time.Duration `json:"RetryBackoff"`
	FlushFrequency time.Duration `json:"FlushFrequency"`
	FlushMessages  int           `json:"FlushMessages"`
	Timeout        time.Duration `json:"Timeout"`
	EnableTLS      bool          `json:"EnableTLS"`
	TLSCertFile    string        `json:"TLSCertFile"`
	TLSKeyFile     string        `json:"TLSKeyFile"`
	TLSCAFile      string        `json:"TLSCAFile"`
	SASLEnabled    bool          `json:"SASLEnabled"`
	SASLMechanism  string        `json:"SASLMechanism"`
	SASLUser       string        `json:"SASLUser"`
	SASLPassword   string        `json:"SASLPassword"`
}

// RedisConfig contains settings for the Redis stream event sender.
type RedisConfig struct {
	Address  string `json:"Address"`
	Password string `json:"Password"`
	DB       int    `json:"DB"`
	Stream   string `json:"Stream"`
	MaxLen   int64  `json:"MaxLen"`
}

// SOCKSConfig contains SOCKS5 proxy settings.
type SOCKSConfig struct {
	Host string `json:"Host"`
	Port int    `json:"Port"`
}

// SupervisorConfig controls how bundle workers are run and stopped.
type SupervisorConfig struct {
	// StopTimeout bounds how long a stop call waits for a worker. Zero waits
	// forever.
	StopTimeout  time.Duration `json:"StopTimeout"`
	LockOSThread bool          `json:"LockOSThread"`
}

// BundleConfig describes one bundle instance installed by the host.
type BundleConfig struct {
	Name     string        `json:"Name"`
	Interval time.Duration `json:"Interval"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SenderType: "file",
		File: FileConfig{
			FilePath:   "log/bundlehost/events.jsonl",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			Topic:          "bundle-lifecycle",
			Compression:    "snappy",
			RequiredAcks:   1,
			MaxRetries:     3,
			RetryBackoff:   100 * time.Millisecond,
			FlushFrequency: 500 * time.Millisecond,
			FlushMessages:  100,
			Timeout:        10 * time.Second,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Stream:  "bundle:lifecycle",
			MaxLen:  10000,
		},
	}
}

// Merge applies non-zero values from other to this config.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.SenderType != "" {
		c.SenderType = other.SenderType
	}
	if other.Hostname != "" {
		c.Hostname = other.Hostname
	}

	// File
	if other.File.FilePath != "" {
		c.File.FilePath = other.File.FilePath
	}
	if other.File.MaxSizeMB != 0 {
		c.File.MaxSizeMB = other.File.MaxSizeMB
	}
	if other.File.MaxBackups != 0 {
		c.File.MaxBackups = other.File.MaxBackups
	}
	c.File.Console = other.File.Console
	c.File.Pretty = other.File.Pretty

	// Kafka
	if len(other.Kafka.Brokers) > 0 {
		c.Kafka.Brokers = other.Kafka.Brokers
	}
	if other.Kafka.Topic != "" {
		c.Kafka.Topic = other.Kafka.Topic
	}
	if other.Kafka.Compression != "" {
		c.Kafka.Compression = other.Kafka.Compression
	}
	if other.Kafka.RequiredAcks != 0 {
		c.Kafka.RequiredAcks = other.Kafka.RequiredAcks
	}
	if other.Kafka.MaxRetries != 0 {
		c.Kafka.MaxRetries = other.Kafka.MaxRetries
	}
	if other.Kafka.RetryBackoff != 0 {
		c.Kafka.RetryBackoff = other.Kafka.RetryBackoff
	}
	if other.Kafka.FlushFrequency != 0 {
		c.Kafka.FlushFrequency = other.Kafka.FlushFrequency
	}
	if other.Kafka.FlushMessages != 0 {
		c.Kafka.FlushMessages = other.Kafka.FlushMessages
	}
	if other.Kafka.Timeout != 0 {
		c.Kafka.Timeout = other.Kafka.Timeout
	}
	c.Kafka.EnableTLS = other.Kafka.EnableTLS
	if other.Kafka.TLSCertFile != "" {
		c.Kafka.TLSCertFile = other.Kafka.TLSCertFile
	}
	if other.Kafka.TLSKeyFile != "" {
		c.Kafka.TLSKeyFile = other.Kafka.TLSKeyFile
	}
	if other.Kafka.TLSCAFile != "" {
		c.Kafka.TLSCAFile = other.Kafka.TLSCAFile
	}
	c.Kafka.SASLEnabled = other.Kafka.SASLEnabled
	if other.Kafka.SASLMechanism != "" {
		c.Kafka.SASLMechanism = other.Kafka.SASLMechanism
	}
	if other.Kafka.SASLUser != "" {
		c.Kafka.SASLUser = other.Kafka.SASLUser
	}
	if other.Kafka.SASLPassword != "" {
		c.Kafka.SASLPassword = other.Kafka.SASLPassword
	}

	// Redis
	if other.Redis.Address != "" {
		c.Redis.Address = other.Redis.Address
	}
	if other.Redis.Password != "" {
		c.Redis.Password = other.Redis.Password
	}
	if other.Redis.DB != 0 {
		c.Redis.DB = other.Redis.DB
	}
	if other.Redis.Stream != "" {
		c.Redis.Stream = other.Redis.Stream
	}
	if other.Redis.MaxLen != 0 {
		c.Redis.MaxLen = other.Redis.MaxLen
	}

	// SOCKS proxy
	if other.SOCKSProxy.Host != "" {
		c.SOCKSProxy.Host = other.SOCKSProxy.Host
	}
	if other.SOCKSProxy.Port != 0 {
		c.SOCKSProxy.Port = other.SOCKSProxy.Port
	}

	// Supervisor
	if other.Supervisor.StopTimeout != 0 {
		c.Supervisor.StopTimeout = other.Supervisor.StopTimeout
	}
	c.Supervisor.LockOSThread = other.Supervisor.LockOSThread

	if len(other.Bundles) > 0 {
		c.Bundles = other.Bundles
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch strings.ToLower(c.SenderType) {
	case "", "none", "file", "kafka", "redis":
	default:
		return fmt.Errorf("unknown sender type: %s (supported: none, file, kafka, redis)", c.SenderType)
	}

	if c.Supervisor.StopTimeout < 0 {
		return fmt.Errorf("Supervisor.StopTimeout must not be negative, got %s", c.Supervisor.StopTimeout)
	}

	seen := make(map[string]bool, len(c.Bundles))
	for i, b := range c.Bundles {
		if b.Name == "" {
			return fmt.Errorf("bundle %d has no name", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate bundle name %q", b.Name)
		}
		seen[b.Name] = true
		if b.Interval < 0 {
			return fmt.Errorf("bundle %q has negative interval %s", b.Name, b.Interval)
		}
	}
	return nil
}

// GetHostname returns the configured hostname or the system hostname.
func GetHostname(cfg *Config) string {
	if cfg.Hostname != "" {
		return cfg.Hostname
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
