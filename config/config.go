package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	ServerPort      int           `json:"server_port"`
	LogLevel        string        `json:"log_level"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Version         string        `json:"version"`

	// Stream store
	StoreBackend string `json:"store_backend"`
	RedisURL     string `json:"redis_url"`

	// Consumers
	StreamKey             string        `json:"stream_key"`
	ConsumerGroup         string        `json:"consumer_group"`
	ConsumerName          string        `json:"consumer_name"`
	ConsumerCount         int           `json:"consumer_count"`
	BatchSize             int           `json:"batch_size"`
	Concurrency           int           `json:"concurrency"`
	MaxRetries            int           `json:"max_retries"`
	PollDelay             time.Duration `json:"poll_delay"`
	ClaimIdleThreshold    time.Duration `json:"claim_idle_threshold"`
	ReclaimInterval       time.Duration `json:"reclaim_interval"`
	ConnectTimeout        time.Duration `json:"connect_timeout"`
	StopTimeout           time.Duration `json:"stop_timeout"`
	CreateStreamIfMissing bool          `json:"create_stream_if_missing"`
	ClaimPendingOnStartup bool          `json:"claim_pending_on_startup"`

	// Summarizer backend
	ResultStream     string `json:"result_stream"`
	SummarizerURL    string `json:"summarizer_url"`
	SummarizerModel  string `json:"summarizer_model"`
	SummarizerAPIKey string `json:"-"`
}

var dotEnvOnce sync.Once

// LoadDotEnv loads variables from the given files (".env" by default) into
// the environment without overriding variables that are already set. Missing
// files are not an error. Only the first call has any effect.
func LoadDotEnv(paths ...string) error {
	var err error
	dotEnvOnce.Do(func() {
		if len(paths) == 0 {
			paths = []string{".env"}
		}
		for _, p := range paths {
			if p == "" {
				continue
			}
			if loadErr := godotenv.Load(p); loadErr != nil && !stderrors.Is(loadErr, fs.ErrNotExist) {
				err = fmt.Errorf("failed to load %s: %w", p, loadErr)
				return
			}
		}
	})
	return err
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:      getEnvInt("PORT", 8080),
		LogLevel:        getEnvString("LOG_LEVEL", "INFO"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		Version:         getEnvString("VERSION", "1.0.0"),

		StoreBackend: getEnvString("STORE_BACKEND", BackendRedis),
		RedisURL:     getEnvString("REDIS_URL", "redis://localhost:6379"),

		StreamKey:             getEnvString("STREAM_KEY", "jobs"),
		ConsumerGroup:         getEnvString("CONSUMER_GROUP", "executor"),
		ConsumerName:          getEnvString("CONSUMER_NAME", ""),
		ConsumerCount:         getEnvInt("CONSUMER_COUNT", 1),
		BatchSize:             getEnvInt("BATCH_SIZE", 10),
		Concurrency:           getEnvInt("CONCURRENCY", 5),
		MaxRetries:            getEnvInt("MAX_RETRIES", 3),
		PollDelay:             getEnvDuration("POLL_DELAY", time.Second),
		ClaimIdleThreshold:    getEnvDuration("CLAIM_IDLE_THRESHOLD", 60*time.Second),
		ReclaimInterval:       getEnvDuration("RECLAIM_INTERVAL", 30*time.Second),
		ConnectTimeout:        getEnvDuration("CONNECT_TIMEOUT", 30*time.Second),
		StopTimeout:           getEnvDuration("STOP_TIMEOUT", 10*time.Second),
		CreateStreamIfMissing: getEnvBool("CREATE_STREAM_IF_MISSING", true),
		ClaimPendingOnStartup: getEnvBool("CLAIM_PENDING_ON_STARTUP", true),

		ResultStream:     getEnvString("RESULT_STREAM", "jobs:results"),
		SummarizerURL:    getEnvString("SUMMARIZER_URL", ""),
		SummarizerModel:  getEnvString("SUMMARIZER_MODEL", "gpt-oss-20b"),
		SummarizerAPIKey: getEnvString("SUMMARIZER_API_KEY", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// validate performs basic validation of the configuration
func (c *Config) validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port %d: must be between 1 and 65535", c.ServerPort)
	}

	// Validate and normalize LogLevel
	validLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true,
	}
	upperLevel := strings.ToUpper(strings.TrimSpace(c.LogLevel))
	if !validLevels[upperLevel] {
		return fmt.Errorf("invalid log level '%s': must be DEBUG, INFO, WARN, ERROR, or FATAL", c.LogLevel)
	}
	c.LogLevel = upperLevel

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout %v: must be positive", c.ShutdownTimeout)
	}
	if c.ShutdownTimeout > 5*time.Minute {
		return fmt.Errorf("invalid shutdown timeout %v: must not exceed 5 minutes", c.ShutdownTimeout)
	}

	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("version cannot be empty")
	}
	c.Version = strings.TrimSpace(c.Version)

	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("redis URL cannot be empty when the redis backend is selected")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid store backend '%s': must be redis or memory", c.StoreBackend)
	}

	if strings.TrimSpace(c.StreamKey) == "" {
		return fmt.Errorf("stream key cannot be empty")
	}
	if strings.TrimSpace(c.ConsumerGroup) == "" {
		return fmt.Errorf("consumer group cannot be empty")
	}
	if c.ConsumerCount < 1 {
		return fmt.Errorf("invalid consumer count %d: must be at least 1", c.ConsumerCount)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("invalid batch size %d: must be at least 1", c.BatchSize)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("invalid concurrency %d: must be at least 1", c.Concurrency)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("invalid max retries %d: must be at least 1", c.MaxRetries)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"poll delay", c.PollDelay},
		{"claim idle threshold", c.ClaimIdleThreshold},
		{"connect timeout", c.ConnectTimeout},
		{"stop timeout", c.StopTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("invalid %s %v: must be positive", d.name, d.value)
		}
	}
	if c.ReclaimInterval < 0 {
		return fmt.Errorf("invalid reclaim interval %v: must not be negative", c.ReclaimInterval)
	}

	if c.SummarizerURL != "" && strings.TrimSpace(c.ResultStream) == "" {
		return fmt.Errorf("result stream cannot be empty when a summarizer is configured")
	}

	return nil
}
