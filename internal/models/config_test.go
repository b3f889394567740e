package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	// Test server defaults
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 30*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, config.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, config.Server.IdleTimeout)
	assert.False(t, config.Server.TLSEnabled)

	// Test cluster defaults
	assert.Empty(t, config.Cluster.NodeID)
	assert.Equal(t, "127.0.0.1:8080", config.Cluster.AdvertiseAddr)
	assert.Empty(t, config.Cluster.Peers)
	assert.Equal(t, time.Second, config.Cluster.HeartbeatInterval)
	assert.Equal(t, 3*time.Second, config.Cluster.OfflineAfter)
	assert.Equal(t, time.Second, config.Cluster.ReconcileInterval)

	// Test limiter defaults
	assert.Equal(t, "rate_limiter", config.Limiter.SingletonName)
	assert.Equal(t, int64(2), config.Limiter.MaxPerWindow)
	assert.Equal(t, 60*time.Second, config.Limiter.WindowDuration)
	assert.Equal(t, 5*time.Second, config.Limiter.CallTimeout)
	assert.Equal(t, 250*time.Millisecond, config.Limiter.RestartDelay)

	// Test guard defaults
	assert.True(t, config.Guard.Enabled)
	assert.Equal(t, 600, config.Guard.RequestsPerMinute)
	assert.Equal(t, 100, config.Guard.BurstSize)
	assert.Equal(t, 5*time.Minute, config.Guard.CleanupInterval)

	// Test journal defaults
	assert.False(t, config.Journal.Enabled)
	assert.Equal(t, "./data/quotad-journal.db", config.Journal.Path)

	// Test logging defaults
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)

	// Test metrics defaults
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.Equal(t, 9090, config.Metrics.Port)

	// Test observability defaults
	assert.Equal(t, "quotad", config.Observability.ServiceName)
	assert.False(t, config.Observability.Tracing.Enabled)
	assert.Equal(t, "stdout", config.Observability.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Observability.Tracing.SampleRate)
}

// validConfig is a default config with the node identity filled in, the way
// config.Load leaves it.
func validConfig() *Config {
	config := NewDefaultConfig()
	config.Cluster.NodeID = "node-a"
	return config
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid default config",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name:        "invalid server port",
			mutate:      func(c *Config) { c.Server.Port = 0 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "empty host",
			mutate:      func(c *Config) { c.Server.Host = "" },
			expectError: true,
			errorMsg:    "host cannot be empty",
		},
		{
			name:        "TLS enabled without cert",
			mutate:      func(c *Config) { c.Server.TLSEnabled = true },
			expectError: true,
			errorMsg:    "TLS cert file is required",
		},
		{
			name:        "empty node id",
			mutate:      func(c *Config) { c.Cluster.NodeID = "" },
			expectError: true,
			errorMsg:    "node_id cannot be empty",
		},
		{
			name: "peer missing addr",
			mutate: func(c *Config) {
				c.Cluster.Peers = []PeerConfig{{ID: "node-b"}}
			},
			expectError: true,
			errorMsg:    "every peer needs both id and addr",
		},
		{
			name: "duplicate peer id",
			mutate: func(c *Config) {
				c.Cluster.Peers = []PeerConfig{
					{ID: "node-b", Addr: "127.0.0.1:8081"},
					{ID: "node-b", Addr: "127.0.0.1:8082"},
				}
			},
			expectError: true,
			errorMsg:    "duplicate node id in peer list",
		},
		{
			name: "peer id colliding with self",
			mutate: func(c *Config) {
				c.Cluster.Peers = []PeerConfig{{ID: "node-a", Addr: "127.0.0.1:8081"}}
			},
			expectError: true,
			errorMsg:    "duplicate node id in peer list",
		},
		{
			name: "offline threshold below heartbeat interval",
			mutate: func(c *Config) {
				c.Cluster.HeartbeatInterval = 2 * time.Second
				c.Cluster.OfflineAfter = time.Second
			},
			expectError: true,
			errorMsg:    "offline_after must be at least the heartbeat interval",
		},
		{
			name:        "empty singleton name",
			mutate:      func(c *Config) { c.Limiter.SingletonName = "" },
			expectError: true,
			errorMsg:    "singleton name cannot be empty",
		},
		{
			name:        "zero max per window",
			mutate:      func(c *Config) { c.Limiter.MaxPerWindow = 0 },
			expectError: true,
			errorMsg:    "max per window must be positive",
		},
		{
			name:        "zero window duration",
			mutate:      func(c *Config) { c.Limiter.WindowDuration = 0 },
			expectError: true,
			errorMsg:    "window duration must be positive",
		},
		{
			name:        "zero call timeout",
			mutate:      func(c *Config) { c.Limiter.CallTimeout = 0 },
			expectError: true,
			errorMsg:    "call timeout must be positive",
		},
		{
			name: "guard enabled with zero rate",
			mutate: func(c *Config) {
				c.Guard.Enabled = true
				c.Guard.RequestsPerMinute = 0
			},
			expectError: true,
			errorMsg:    "requests per minute must be positive",
		},
		{
			name: "guard disabled skips validation",
			mutate: func(c *Config) {
				c.Guard.Enabled = false
				c.Guard.RequestsPerMinute = 0
			},
			expectError: false,
		},
		{
			name: "journal enabled without path",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Path = ""
			},
			expectError: true,
			errorMsg:    "path is required when the journal is enabled",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "invalid log level",
		},
		{
			name: "file output without path",
			mutate: func(c *Config) {
				c.Logging.Output = "file"
				c.Logging.FilePath = ""
			},
			expectError: true,
			errorMsg:    "file path is required when output is file",
		},
		{
			name:        "invalid metrics port",
			mutate:      func(c *Config) { c.Metrics.Port = 70000 },
			expectError: true,
			errorMsg:    "metrics port must be between 1 and 65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.expectError {
				assert.Error(t, err)
				if tt.errorMsg != "" {
					assert.Contains(t, err.Error(), tt.errorMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
