package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadfork/pkg/forking"
)

const sampleYAML = `
store:
  data_dir: /var/lib/quadfork
  sync_writes: true
fork:
  namespace: http://example.org/fork
  keep_shadows_on_failure: true
  persist_concurrency: 2
transport:
  endpoint: http://localhost:8890/sparql
  timeout: 5s
  retry_max: 1
  headers:
    mu-session-id: abc
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quadfork.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadFromEnv()
		assert.Equal(t, "./data", cfg.Store.DataDir)
		assert.Equal(t, forking.DefaultNamespace, cfg.Fork.Namespace)
		assert.Equal(t, 4, cfg.Fork.PersistConcurrency)
		assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
		assert.Equal(t, 3, cfg.Transport.RetryMax)
		assert.Empty(t, cfg.Transport.Endpoint)
		assert.Nil(t, cfg.HTTPConfig())
		require.NoError(t, cfg.Validate())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("QUADFORK_DATA_DIR", "/tmp/qf")
		t.Setenv("QUADFORK_IN_MEMORY", "yes")
		t.Setenv("QUADFORK_KEEP_SHADOWS_ON_FAILURE", "1")
		t.Setenv("QUADFORK_PERSIST_CONCURRENCY", "8")
		t.Setenv("QUADFORK_ENDPOINT", "http://db/sparql")
		t.Setenv("QUADFORK_TIMEOUT", "10")
		t.Setenv("QUADFORK_HEADERS", "mu-session-id=s1, mu-call-id = c2,broken")

		cfg := LoadFromEnv()
		assert.Equal(t, "/tmp/qf", cfg.Store.DataDir)
		assert.True(t, cfg.Store.InMemory)
		assert.True(t, cfg.Fork.KeepShadowsOnFailure)
		assert.Equal(t, 8, cfg.Fork.PersistConcurrency)
		assert.Equal(t, 10*time.Second, cfg.Transport.Timeout)
		assert.Equal(t, map[string]string{"mu-session-id": "s1", "mu-call-id": "c2"}, cfg.Transport.Headers)

		http := cfg.HTTPConfig()
		require.NotNil(t, http)
		assert.Equal(t, "http://db/sparql", http.Endpoint)
		assert.Equal(t, cfg.Transport.Headers, http.Headers)
	})

	t.Run("bad_values_keep_defaults", func(t *testing.T) {
		t.Setenv("QUADFORK_PERSIST_CONCURRENCY", "lots")
		t.Setenv("QUADFORK_TIMEOUT", "soon")

		cfg := LoadFromEnv()
		assert.Equal(t, 4, cfg.Fork.PersistConcurrency)
		assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("reads_yaml", func(t *testing.T) {
		cfg, err := LoadFile(writeConfig(t, sampleYAML))
		require.NoError(t, err)

		assert.Equal(t, "/var/lib/quadfork", cfg.Store.DataDir)
		assert.True(t, cfg.Store.SyncWrites)
		assert.Equal(t, "http://example.org/fork", cfg.Fork.Namespace)
		assert.True(t, cfg.Fork.KeepShadowsOnFailure)
		assert.Equal(t, 2, cfg.Fork.PersistConcurrency)
		assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
		assert.Equal(t, 1, cfg.Transport.RetryMax)
		assert.Equal(t, 100*time.Millisecond, cfg.Transport.RetryWaitMin, "missing keys keep defaults")
		assert.Equal(t, "abc", cfg.Transport.Headers["mu-session-id"])
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid_yaml", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, "store: [unterminated"))
		assert.Error(t, err)
	})
}

func TestLoadFromEnvOrFile(t *testing.T) {
	t.Run("env_overrides_file", func(t *testing.T) {
		t.Setenv("QUADFORK_PERSIST_CONCURRENCY", "16")

		cfg, err := LoadFromEnvOrFile(writeConfig(t, sampleYAML))
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Fork.PersistConcurrency)
		assert.Equal(t, "/var/lib/quadfork", cfg.Store.DataDir)
	})

	t.Run("empty_path_uses_env", func(t *testing.T) {
		t.Setenv("QUADFORK_DATA_DIR", "/srv/qf")
		cfg, err := LoadFromEnvOrFile("")
		require.NoError(t, err)
		assert.Equal(t, "/srv/qf", cfg.Store.DataDir)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"in_memory_without_dir", func(c *Config) { c.Store.DataDir = ""; c.Store.InMemory = true }, true},
		{"missing_data_dir", func(c *Config) { c.Store.DataDir = "" }, false},
		{"negative_concurrency", func(c *Config) { c.Fork.PersistConcurrency = -1 }, false},
		{"relative_namespace", func(c *Config) { c.Fork.Namespace = "fork" }, false},
		{"negative_retries", func(c *Config) { c.Transport.RetryMax = -1 }, false},
		{"negative_timeout", func(c *Config) { c.Transport.Timeout = -time.Second }, false},
		{"inverted_backoff", func(c *Config) { c.Transport.RetryWaitMax = time.Millisecond }, false},
		{"negative_memory_limit", func(c *Config) { c.Runtime.MemoryLimit = "-1GB" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfigConversions(t *testing.T) {
	cfg := Default()
	cfg.Store.DataDir = "/data"
	cfg.Store.SyncWrites = true
	cfg.Fork.Namespace = "http://example.org/fork"
	cfg.Fork.KeepShadowsOnFailure = true
	cfg.Transport.Headers = map[string]string{"secret": "token"}

	badger := cfg.BadgerOptions()
	assert.Equal(t, "/data", badger.DataDir)
	assert.True(t, badger.SyncWrites)

	opts := cfg.ForkOptions()
	assert.Equal(t, "http://example.org/fork", opts.Namespace)
	assert.True(t, opts.KeepShadowsOnFailure)
	assert.Equal(t, 4, opts.PersistConcurrency)

	s := cfg.String()
	assert.Contains(t, s, "DataDir: /data")
	assert.Contains(t, s, "Endpoint: none")
	assert.NotContains(t, s, "token")
}
