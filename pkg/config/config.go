package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds the configuration of the Redis stream broker
type RedisConfig struct {
	// Redis connection
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`

	// Consumer group and the streams to consume
	Group  string   `yaml:"group"`
	Events []string `yaml:"events"`

	// Event record format on stdin/stdout
	Format string `yaml:"format"`

	// Prometheus listen address, disabled when empty
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadRedisConfig reads the optional config file, then environment variables,
// and returns a populated RedisConfig struct. An empty path falls back to
// REDIS_CONFIG_FILE.
func LoadRedisConfig(path string) (*RedisConfig, error) {
	config := &RedisConfig{
		// Default values
		Address: "localhost:6379",
		Format:  "bson",
	}

	if err := loadFile(path, "REDIS_CONFIG_FILE", config); err != nil {
		return nil, err
	}

	// Redis Address
	if addr := os.Getenv("REDIS_ADDRESS"); addr != "" {
		config.Address = addr
	}

	// Redis Password
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Password = password
	}

	// Redis DB
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %v", err)
		}
		config.DB = db
	}

	// Redis Pool Size
	if sizeStr := os.Getenv("REDIS_POOL_SIZE"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %v", err)
		}
		config.PoolSize = size
	}

	// Consumer Group
	if group := os.Getenv("REDIS_GROUP"); group != "" {
		config.Group = group
	}

	// Events
	if events := os.Getenv("REDIS_EVENTS"); events != "" {
		config.Events = SplitList(events)
	}

	// Format
	if format := os.Getenv("REDIS_FORMAT"); format != "" {
		config.Format = format
	}

	// Metrics
	if addr := os.Getenv("REDIS_METRICS_ADDR"); addr != "" {
		config.MetricsAddr = addr
	}

	return config, nil
}

// Validate reports missing required values. Call it once flags are applied.
func (c *RedisConfig) Validate() error {
	if c.Group == "" {
		return fmt.Errorf("REDIS_GROUP is required")
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("invalid pool size %d", c.PoolSize)
	}
	return nil
}

// NATSConfig holds the configuration of the NATS pub/sub broker
type NATSConfig struct {
	URL         string   `yaml:"url"`
	Name        string   `yaml:"name"`
	Events      []string `yaml:"events"`
	Format      string   `yaml:"format"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// LoadNATSConfig reads the optional config file, then environment variables.
// An empty path falls back to NATS_CONFIG_FILE.
func LoadNATSConfig(path string) (*NATSConfig, error) {
	config := &NATSConfig{
		URL:    "nats://localhost:4222",
		Name:   "spectacles",
		Format: "bson",
	}

	if err := loadFile(path, "NATS_CONFIG_FILE", config); err != nil {
		return nil, err
	}

	if url := os.Getenv("NATS_URL"); url != "" {
		config.URL = url
	}
	if name := os.Getenv("NATS_NAME"); name != "" {
		config.Name = name
	}
	if events := os.Getenv("NATS_EVENTS"); events != "" {
		config.Events = SplitList(events)
	}
	if format := os.Getenv("NATS_FORMAT"); format != "" {
		config.Format = format
	}
	if addr := os.Getenv("NATS_METRICS_ADDR"); addr != "" {
		config.MetricsAddr = addr
	}

	return config, nil
}

// HTTPConfig holds the configuration of the HTTP broker. URL is the base that
// event names are appended to when forwarding, and the address and path
// prefix to listen on when receiving.
type HTTPConfig struct {
	URL         string        `yaml:"url"`
	Method      string        `yaml:"method"`
	In          bool          `yaml:"in"`
	Out         bool          `yaml:"out"`
	Timeout     time.Duration `yaml:"timeout"`
	Format      string        `yaml:"format"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// LoadHTTPConfig reads the optional config file, then environment variables.
// An empty path falls back to HTTP_CONFIG_FILE.
func LoadHTTPConfig(path string) (*HTTPConfig, error) {
	config := &HTTPConfig{
		Method:  "POST",
		Timeout: 10 * time.Second,
		Format:  "bson",
	}

	if err := loadFile(path, "HTTP_CONFIG_FILE", config); err != nil {
		return nil, err
	}

	if url := os.Getenv("HTTP_URL"); url != "" {
		config.URL = url
	}
	if method := os.Getenv("HTTP_METHOD"); method != "" {
		config.Method = method
	}

	// Modes
	if inStr := os.Getenv("HTTP_IN"); inStr != "" {
		in, err := strconv.ParseBool(inStr)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_IN: %v", err)
		}
		config.In = in
	}
	if outStr := os.Getenv("HTTP_OUT"); outStr != "" {
		out, err := strconv.ParseBool(outStr)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_OUT: %v", err)
		}
		config.Out = out
	}

	// Request Timeout
	if timeoutStr := os.Getenv("HTTP_TIMEOUT"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %v", err)
		}
		config.Timeout = timeout
	}

	if format := os.Getenv("HTTP_FORMAT"); format != "" {
		config.Format = format
	}
	if addr := os.Getenv("HTTP_METRICS_ADDR"); addr != "" {
		config.MetricsAddr = addr
	}

	return config, nil
}

// Validate reports missing required values. Call it once flags are applied.
func (c *HTTPConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("HTTP_URL is required")
	}
	if c.Method == "" {
		return fmt.Errorf("HTTP_METHOD must not be empty")
	}
	return nil
}

// Forward reports whether events read from stdin are sent out as requests.
// This is the default mode when neither In nor Out is set.
func (c *HTTPConfig) Forward() bool {
	return !c.In || c.Out
}

// SplitList splits a comma or whitespace separated list, dropping empty items.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func loadFile(path, envKey string, out interface{}) error {
	if path == "" {
		path = os.Getenv(envKey)
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
