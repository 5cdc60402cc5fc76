package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/manangulati17/ai-scribe-backend/internal/audio"
)

// Config holds all service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Storage     StorageConfig     `yaml:"storage"`
	Session     SessionConfig     `yaml:"session"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains transport listener settings
type ServerConfig struct {
	UDP  UDPConfig  `yaml:"udp"`
	HTTP HTTPConfig `yaml:"http"`
}

// UDPConfig contains UDP streaming listener settings
type UDPConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	BufferSize    int    `yaml:"buffer_size"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
}

// HTTPConfig contains the request/monitoring API settings
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AudioConfig contains audio format settings
type AudioConfig struct {
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	BitDepth    int    `yaml:"bit_depth"`
	ArtifactDir string `yaml:"artifact_dir"`
}

// RecognitionConfig selects and tunes the recognition engine
type RecognitionConfig struct {
	Mode           string  `yaml:"mode"` // "mock" or "remote"
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	Language       string  `yaml:"language"`
	Model          string  `yaml:"model"`
	FlushSeconds   float64 `yaml:"flush_seconds"`
}

// RecoveryConfig selects the recovery ledger driver
type RecoveryConfig struct {
	Driver string      `yaml:"driver"` // "memory" or "redis"
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings for the recovery ledger
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

// StorageConfig contains durable ledger settings
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SessionConfig contains session lifecycle settings
type SessionConfig struct {
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and validates configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills optional settings that were omitted
func (c *Config) applyDefaults() {
	if c.Server.UDP.BufferSize == 0 {
		c.Server.UDP.BufferSize = 65536
	}
	if c.Server.UDP.ReadTimeoutMS == 0 {
		c.Server.UDP.ReadTimeoutMS = 1000
	}
	if c.Server.UDP.Workers == 0 {
		c.Server.UDP.Workers = 4
	}
	if c.Server.UDP.QueueSize == 0 {
		c.Server.UDP.QueueSize = 1000
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = audio.SampleRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = audio.Channels
	}
	if c.Audio.BitDepth == 0 {
		c.Audio.BitDepth = audio.BitsPerSample
	}
	if c.Audio.ArtifactDir == "" {
		c.Audio.ArtifactDir = "./artifacts"
	}
	if c.Recognition.Mode == "" {
		c.Recognition.Mode = "mock"
	}
	if c.Recognition.TimeoutSeconds == 0 {
		c.Recognition.TimeoutSeconds = 30
	}
	if c.Recognition.MaxConcurrent == 0 {
		c.Recognition.MaxConcurrent = 10
	}
	if c.Recognition.FlushSeconds == 0 {
		c.Recognition.FlushSeconds = 5
	}
	if c.Recovery.Driver == "" {
		c.Recovery.Driver = "memory"
	}
	if c.Recovery.Redis.TTLMinutes == 0 {
		c.Recovery.Redis.TTLMinutes = 60
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./scribe.db"
	}
	if c.Session.IdleTimeoutSeconds == 0 {
		c.Session.IdleTimeoutSeconds = 300
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate checks all configuration sections
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition: %w", err)
	}
	if err := c.Recovery.Validate(); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Validate checks server configuration
func (s *ServerConfig) Validate() error {
	if s.UDP.Port <= 0 || s.UDP.Port > 65535 {
		return fmt.Errorf("invalid UDP port: %d", s.UDP.Port)
	}
	if s.HTTP.Port <= 0 || s.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTP.Port)
	}
	if s.UDP.Port == s.HTTP.Port && s.UDP.Host == s.HTTP.Host {
		return fmt.Errorf("UDP and HTTP ports cannot be the same")
	}
	return nil
}

// Validate checks audio configuration. The engine assumes a fixed PCM
// format; anything else is a configuration error.
func (a *AudioConfig) Validate() error {
	if a.SampleRate != audio.SampleRate {
		return fmt.Errorf("unsupported sample rate: %d (must be %d)", a.SampleRate, audio.SampleRate)
	}
	if a.Channels != audio.Channels {
		return fmt.Errorf("unsupported channel count: %d (must be %d)", a.Channels, audio.Channels)
	}
	if a.BitDepth != audio.BitsPerSample {
		return fmt.Errorf("unsupported bit depth: %d (must be %d)", a.BitDepth, audio.BitsPerSample)
	}
	return nil
}

// Validate checks recognition configuration
func (r *RecognitionConfig) Validate() error {
	switch r.Mode {
	case "mock":
	case "remote":
		if r.Endpoint == "" {
			return fmt.Errorf("remote mode requires an endpoint")
		}
		if r.APIKey == "" {
			return fmt.Errorf("remote mode requires an API key")
		}
	default:
		return fmt.Errorf("invalid mode: %s (must be mock or remote)", r.Mode)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if r.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	return nil
}

// Validate checks recovery configuration
func (r *RecoveryConfig) Validate() error {
	switch r.Driver {
	case "memory":
	case "redis":
		if r.Redis.Addr == "" {
			return fmt.Errorf("redis driver requires an address")
		}
	default:
		return fmt.Errorf("invalid driver: %s (must be memory or redis)", r.Driver)
	}
	return nil
}

// Validate checks logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid level: %s", l.Level)
	}

	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid format: %s", l.Format)
	}

	return nil
}

// GetReadTimeout returns the UDP read timeout as a duration
func (u *UDPConfig) GetReadTimeout() time.Duration {
	return time.Duration(u.ReadTimeoutMS) * time.Millisecond
}

// GetTimeout returns the recognition request timeout as a duration
func (r *RecognitionConfig) GetTimeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// GetTTL returns the recovery record TTL as a duration
func (r *RedisConfig) GetTTL() time.Duration {
	return time.Duration(r.TTLMinutes) * time.Minute
}

// GetIdleTimeout returns the session idle window as a duration
func (s *SessionConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}
