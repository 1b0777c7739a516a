// Package config handles quadfork configuration via environment variables and
// an optional YAML file.
//
// Configuration is loaded from environment variables using LoadFromEnv(), from
// a YAML file using LoadFile(), or from both using LoadFromEnvOrFile(), where
// environment variables override the file. Validate() should be called before
// use.
//
// Example Usage:
//
//	cfg, err := config.LoadFromEnvOrFile("./quadfork.yaml")
//	if err != nil {
//		log.Fatalf("Failed to load config: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Data dir: %s\n", cfg.Store.DataDir)
//
// Environment Variables:
//
// Store:
//   - QUADFORK_DATA_DIR="./data"
//   - QUADFORK_IN_MEMORY=false
//   - QUADFORK_SYNC_WRITES=false
//   - QUADFORK_TERM_CACHE_SIZE=4096
//
// Fork:
//   - QUADFORK_NAMESPACE="http://mu.semte.ch/libraries/rdf-store"
//   - QUADFORK_KEEP_SHADOWS_ON_FAILURE=false
//   - QUADFORK_PERSIST_CONCURRENCY=4
//
// Transport:
//   - QUADFORK_ENDPOINT="http://localhost:8890/sparql"
//   - QUADFORK_TIMEOUT=30s
//   - QUADFORK_RETRY_MAX=3
//   - QUADFORK_RETRY_WAIT_MIN=100ms
//   - QUADFORK_RETRY_WAIT_MAX=2s
//   - QUADFORK_HEADERS="mu-session-id=abc,mu-call-id=1"
//
// Runtime:
//   - QUADFORK_MEMORY_LIMIT="2GB"
//   - QUADFORK_GC_PERCENT=100
package config

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/quadfork/pkg/forking"
	"github.com/orneryd/quadfork/pkg/storage"
	"github.com/orneryd/quadfork/pkg/transport"
)

// Config holds all quadfork configuration.
//
// Configuration is organized into logical sections:
//   - Store: where quads are kept
//   - Fork: shadow graph naming and persist behavior
//   - Transport: the SPARQL endpoint pushes go to
//   - Runtime: Go runtime memory tuning
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Fork      ForkConfig      `yaml:"fork"`
	Transport TransportConfig `yaml:"transport"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	// DataDir is the Badger data directory
	DataDir string `yaml:"data_dir"`
	// InMemory keeps everything in memory (DataDir is ignored)
	InMemory bool `yaml:"in_memory"`
	// SyncWrites fsyncs every write
	SyncWrites bool `yaml:"sync_writes"`
	// TermCacheSize bounds the decoded-term cache
	TermCacheSize int `yaml:"term_cache_size"`
}

// ForkConfig holds forking store settings.
type ForkConfig struct {
	// Namespace roots the shadow graph identifiers
	Namespace string `yaml:"namespace"`
	// KeepShadowsOnFailure keeps pending changes of a graph whose push fails
	KeepShadowsOnFailure bool `yaml:"keep_shadows_on_failure"`
	// PersistConcurrency caps concurrent pushes (0 = unlimited)
	PersistConcurrency int `yaml:"persist_concurrency"`
}

// TransportConfig holds SPARQL endpoint settings.
type TransportConfig struct {
	// Endpoint is the SPARQL update URL. Empty means pushes are only logged.
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds one request attempt
	Timeout time.Duration `yaml:"timeout"`
	// RetryMax is the number of retries after the first attempt
	RetryMax int `yaml:"retry_max"`
	// RetryWaitMin and RetryWaitMax bound the backoff
	RetryWaitMin time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max"`
	// Headers are sent with every request
	Headers map[string]string `yaml:"headers"`
}

// RuntimeConfig holds Go runtime memory settings.
type RuntimeConfig struct {
	// MemoryLimit is a human-readable soft limit ("2GB", "512MB", "0" = none)
	MemoryLimit string `yaml:"memory_limit"`
	// GCPercent sets the GC target percentage (100 = Go default)
	GCPercent int `yaml:"gc_percent"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	http := transport.DefaultHTTPConfig("")
	return &Config{
		Store: StoreConfig{
			DataDir:       "./data",
			TermCacheSize: 4096,
		},
		Fork: ForkConfig{
			Namespace:          forking.DefaultNamespace,
			PersistConcurrency: 4,
		},
		Transport: TransportConfig{
			Timeout:      http.Timeout,
			RetryMax:     http.RetryMax,
			RetryWaitMin: http.RetryWaitMin,
			RetryWaitMax: http.RetryWaitMax,
		},
		Runtime: RuntimeConfig{
			MemoryLimit: "0",
			GCPercent:   100,
		},
	}
}

// LoadFromEnv returns the defaults overridden by QUADFORK_* environment
// variables.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML configuration file. Keys missing from the file keep
// their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnvOrFile loads filePath when it is non-empty and then applies
// environment overrides on top.
func LoadFromEnvOrFile(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		var err error
		if cfg, err = LoadFile(filePath); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Store.DataDir = getEnv("QUADFORK_DATA_DIR", c.Store.DataDir)
	c.Store.InMemory = getEnvBool("QUADFORK_IN_MEMORY", c.Store.InMemory)
	c.Store.SyncWrites = getEnvBool("QUADFORK_SYNC_WRITES", c.Store.SyncWrites)
	c.Store.TermCacheSize = getEnvInt("QUADFORK_TERM_CACHE_SIZE", c.Store.TermCacheSize)

	c.Fork.Namespace = getEnv("QUADFORK_NAMESPACE", c.Fork.Namespace)
	c.Fork.KeepShadowsOnFailure = getEnvBool("QUADFORK_KEEP_SHADOWS_ON_FAILURE", c.Fork.KeepShadowsOnFailure)
	c.Fork.PersistConcurrency = getEnvInt("QUADFORK_PERSIST_CONCURRENCY", c.Fork.PersistConcurrency)

	c.Transport.Endpoint = getEnv("QUADFORK_ENDPOINT", c.Transport.Endpoint)
	c.Transport.Timeout = getEnvDuration("QUADFORK_TIMEOUT", c.Transport.Timeout)
	c.Transport.RetryMax = getEnvInt("QUADFORK_RETRY_MAX", c.Transport.RetryMax)
	c.Transport.RetryWaitMin = getEnvDuration("QUADFORK_RETRY_WAIT_MIN", c.Transport.RetryWaitMin)
	c.Transport.RetryWaitMax = getEnvDuration("QUADFORK_RETRY_WAIT_MAX", c.Transport.RetryWaitMax)
	for _, pair := range getEnvStringSlice("QUADFORK_HEADERS", nil) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if c.Transport.Headers == nil {
			c.Transport.Headers = make(map[string]string)
		}
		c.Transport.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	c.Runtime.MemoryLimit = getEnv("QUADFORK_MEMORY_LIMIT", c.Runtime.MemoryLimit)
	c.Runtime.GCPercent = getEnvInt("QUADFORK_GC_PERCENT", c.Runtime.GCPercent)
}

// Validate checks the configuration for invalid settings.
func (c *Config) Validate() error {
	if !c.Store.InMemory && c.Store.DataDir == "" {
		return fmt.Errorf("data dir is required unless running in memory")
	}
	if c.Fork.PersistConcurrency < 0 {
		return fmt.Errorf("invalid persist concurrency: %d", c.Fork.PersistConcurrency)
	}
	if c.Fork.Namespace != "" && !strings.Contains(c.Fork.Namespace, "://") {
		return fmt.Errorf("namespace must be an absolute URI: %q", c.Fork.Namespace)
	}
	if c.Transport.RetryMax < 0 {
		return fmt.Errorf("invalid retry max: %d", c.Transport.RetryMax)
	}
	if c.Transport.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %v", c.Transport.Timeout)
	}
	if c.Transport.RetryWaitMax < c.Transport.RetryWaitMin {
		return fmt.Errorf("retry wait max %v is below retry wait min %v", c.Transport.RetryWaitMax, c.Transport.RetryWaitMin)
	}
	if c.Runtime.MemoryLimitBytes() < 0 {
		return fmt.Errorf("invalid memory limit: %q", c.Runtime.MemoryLimit)
	}
	return nil
}

// String returns a safe representation of the configuration. Header values
// are left out since they often carry session tokens.
func (c *Config) String() string {
	endpoint := c.Transport.Endpoint
	if endpoint == "" {
		endpoint = "none"
	}
	return fmt.Sprintf(
		"Config{DataDir: %s, InMemory: %v, Namespace: %s, Endpoint: %s, Headers: %d, PersistConcurrency: %d}",
		c.Store.DataDir, c.Store.InMemory,
		c.Fork.Namespace,
		endpoint, len(c.Transport.Headers),
		c.Fork.PersistConcurrency,
	)
}

// BadgerOptions returns the storage options for this configuration.
func (c *Config) BadgerOptions() storage.BadgerOptions {
	return storage.BadgerOptions{
		DataDir:       c.Store.DataDir,
		InMemory:      c.Store.InMemory,
		SyncWrites:    c.Store.SyncWrites,
		TermCacheSize: c.Store.TermCacheSize,
	}
}

// ForkOptions returns the forking store options for this configuration.
func (c *Config) ForkOptions() *forking.Options {
	opts := forking.DefaultOptions()
	if c.Fork.Namespace != "" {
		opts.Namespace = c.Fork.Namespace
	}
	opts.KeepShadowsOnFailure = c.Fork.KeepShadowsOnFailure
	opts.PersistConcurrency = c.Fork.PersistConcurrency
	return opts
}

// HTTPConfig returns the transport settings, or nil when no endpoint is set.
func (c *Config) HTTPConfig() *transport.HTTPConfig {
	if c.Transport.Endpoint == "" {
		return nil
	}
	return &transport.HTTPConfig{
		Endpoint:     c.Transport.Endpoint,
		Headers:      c.Transport.Headers,
		Timeout:      c.Transport.Timeout,
		RetryMax:     c.Transport.RetryMax,
		RetryWaitMin: c.Transport.RetryWaitMin,
		RetryWaitMax: c.Transport.RetryWaitMax,
	}
}

// MemoryLimitBytes returns the parsed soft memory limit, 0 meaning none.
func (c *RuntimeConfig) MemoryLimitBytes() int64 {
	return parseMemorySize(c.MemoryLimit)
}

// DescribeMemory renders the memory settings for status output.
func (c *RuntimeConfig) DescribeMemory() string {
	limit := "unlimited"
	if n := c.MemoryLimitBytes(); n > 0 {
		limit = FormatMemorySize(n)
	}
	return fmt.Sprintf("%s (GC %d%%)", limit, c.GCPercent)
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *RuntimeConfig) ApplyRuntimeMemory() {
	if limit := c.MemoryLimitBytes(); limit > 0 {
		debug.SetMemoryLimit(limit)
	}
	if c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
