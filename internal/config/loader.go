package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"bundleactivator/internal/logger"
)

// rawConfig is used for JSON unmarshaling with duration strings.
type rawConfig struct {
	SenderType string              `json:"SenderType"`
	File       FileConfig          `json:"File"`
	Kafka      rawKafkaConfig      `json:"Kafka"`
	Redis      RedisConfig         `json:"Redis"`
	SOCKSProxy SOCKSConfig         `json:"SocksProxy"`
	Supervisor rawSupervisorConfig `json:"Supervisor"`
	Bundles    []rawBundleConfig   `json:"Bundles"`
	Hostname   string              `json:"Hostname"`
}

type rawKafkaConfig struct {
	Brokers        []string `json:"Brokers"`
	Topic          string   `json:"Topic"`
	Compression    string   `json:"Compression"`
	RequiredAcks   int      `json:"RequiredAcks"`
	MaxRetries     int      `json:"MaxRetries"`
	RetryBackoff   string   `json:"RetryBackoff"`
	FlushFrequency string   `json:"FlushFrequency"`
	FlushMessages  int      `json:"FlushMessages"`
	Timeout        string   `json:"Timeout"`
	EnableTLS      bool     `json:"EnableTLS"`
	TLSCertFile    string   `json:"TLSCertFile"`
	TLSKeyFile     string   `json:"TLSKeyFile"`
	TLSCAFile      string   `json:"TLSCAFile"`
	SASLEnabled    bool     `json:"SASLEnabled"`
	SASLMechanism  string   `json:"SASLMechanism"`
	SASLUser       string   `json:"SASLUser"`
	SASLPassword   string   `json:"SASLPassword"`
}

type rawSupervisorConfig struct {
	StopTimeout  string `json:"StopTimeout"`
	LockOSThread bool   `json:"LockOSThread"`
}

type rawBundleConfig struct {
	Name     string `json:"Name"`
	Interval string `json:"Interval"`
}

type rawLoggingConfig struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	Format     string `json:"Format"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
}

// Load reads configuration from the specified file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from JSON bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg := DefaultConfig()
	parsed, err := convertRawConfig(&raw)
	if err != nil {
		return nil, err
	}

	cfg.Merge(parsed)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func convertRawConfig(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		SenderType: raw.SenderType,
		File:       raw.File,
		Redis:      raw.Redis,
		SOCKSProxy: raw.SOCKSProxy,
		Hostname:   raw.Hostname,
	}

	kafka, err := convertRawKafka(&raw.Kafka)
	if err != nil {
		return nil, err
	}
	cfg.Kafka = *kafka

	sup, err := convertRawSupervisor(&raw.Supervisor)
	if err != nil {
		return nil, err
	}
	cfg.Supervisor = *sup

	for _, rb := range raw.Bundles {
		b, err := convertRawBundle(&rb)
		if err != nil {
			return nil, err
		}
		cfg.Bundles = append(cfg.Bundles, *b)
	}

	return cfg, nil
}

func convertRawKafka(raw *rawKafkaConfig) (*KafkaConfig, error) {
	kafka := &KafkaConfig{
		Brokers:       raw.Brokers,
		Topic:         raw.Topic,
		Compression:   raw.Compression,
		RequiredAcks:  raw.RequiredAcks,
		MaxRetries:    raw.MaxRetries,
		FlushMessages: raw.FlushMessages,
		EnableTLS:     raw.EnableTLS,
		TLSCertFile:   raw.TLSCertFile,
		TLSKeyFile:    raw.TLSKeyFile,
		TLSCAFile:     raw.TLSCAFile,
		SASLEnabled:   raw.SASLEnabled,
		SASLMechanism: raw.SASLMechanism,
		SASLUser:      raw.SASLUser,
		SASLPassword:  raw.SASLPassword,
	}

	var err error
	if kafka.RetryBackoff, err = parseDuration("Kafka.RetryBackoff", raw.RetryBackoff); err != nil {
		return nil, err
	}
	if kafka.FlushFrequency, err = parseDuration("Kafka.FlushFrequency", raw.FlushFrequency); err != nil {
		return nil, err
	}
	if kafka.Timeout, err = parseDuration("Kafka.Timeout", raw.Timeout); err != nil {
		return nil, err
	}

	return kafka, nil
}

func convertRawSupervisor(raw *rawSupervisorConfig) (*SupervisorConfig, error) {
	timeout, err := parseDuration("Supervisor.StopTimeout", raw.StopTimeout)
	if err != nil {
		return nil, err
	}
	return &SupervisorConfig{
		StopTimeout:  timeout,
		LockOSThread: raw.LockOSThread,
	}, nil
}

func convertRawBundle(raw *rawBundleConfig) (*BundleConfig, error) {
	interval, err := parseDuration(fmt.Sprintf("interval for bundle %s", raw.Name), raw.Interval)
	if err != nil {
		return nil, err
	}
	return &BundleConfig{
		Name:     raw.Name,
		Interval: interval,
	}, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	return d, nil
}

// LoadLogging reads logging configuration from the specified file path.
func LoadLogging(path string) (*logger.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logging config file: %w", err)
	}
	return ParseLogging(data)
}

// ParseLogging parses logging configuration from JSON bytes.
func ParseLogging(data []byte) (*logger.Config, error) {
	var raw rawLoggingConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse logging config JSON: %w", err)
	}

	def := logger.DefaultConfig()

	// Merge: apply non-zero parsed values over defaults
	if raw.Level != "" {
		def.Level = raw.Level
	}
	if raw.FilePath != "" {
		def.FilePath = raw.FilePath
	}
	if raw.Format != "" {
		def.Format = raw.Format
	}
	if raw.MaxSizeMB != 0 {
		def.MaxSizeMB = raw.MaxSizeMB
	}
	if raw.MaxBackups != 0 {
		def.MaxBackups = raw.MaxBackups
	}
	if raw.MaxAgeDays != 0 {
		def.MaxAgeDays = raw.MaxAgeDays
	}
	def.Compress = raw.Compress
	def.Console = raw.Console

	return &def, nil
}

// LoadSplit loads configuration from two separate files:
// configPath (BundleHost.json) and loggingPath (Logging.json).
func LoadSplit(configPath, loggingPath string) (*Config, *logger.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	lc, err := LoadLogging(loggingPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load logging config: %w", err)
	}

	return cfg, lc, nil
}
