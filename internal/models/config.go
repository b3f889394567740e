// Package models - Service configuration and operational settings.
// This file defines the configuration structures for all quotad components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, cluster, limiter, etc.)
// - Environment-friendly defaults that work out of the box for a single node
// - Comprehensive validation to catch misconfigurations early
// - Support for multiple deployment scenarios (single node, multi-node cluster)
package models

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Cluster: node identity, peers, and membership timing
// - Limiter: the cluster-wide quota window settings
// - Guard: node-local ingress protection
// - Journal: ownership event log
// - Logging: structured logging and output configuration
// - Metrics: monitoring and observability
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Cluster       ClusterConfig       `yaml:"cluster" json:"cluster"`             // Node identity and membership
	Limiter       LimiterConfig       `yaml:"limiter" json:"limiter"`             // Cluster-wide quota settings
	Guard         GuardConfig         `yaml:"guard" json:"guard"`                 // Node-local ingress limiting
	Journal       JournalConfig       `yaml:"journal" json:"journal"`             // Ownership event journal
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing configuration
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// PeerConfig identifies one statically-configured cluster peer.
type PeerConfig struct {
	ID   string `yaml:"id" json:"id"`
	Addr string `yaml:"addr" json:"addr"`
}

// ClusterConfig describes this node's identity and how it finds its peers.
// Peers is a static seed list; liveness is determined by heartbeats at
// runtime, not by the list itself.
type ClusterConfig struct {
	NodeID            string        `yaml:"node_id" json:"node_id"`
	AdvertiseAddr     string        `yaml:"advertise_addr" json:"advertise_addr"`
	Peers             []PeerConfig  `yaml:"peers" json:"peers"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	OfflineAfter      time.Duration `yaml:"offline_after" json:"offline_after"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`
}

// LimiterConfig holds the cluster-wide quota settings enforced by the
// singleton counter owner.
type LimiterConfig struct {
	SingletonName  string        `yaml:"singleton_name" json:"singleton_name"`
	MaxPerWindow   int64         `yaml:"max_per_window" json:"max_per_window"`
	WindowDuration time.Duration `yaml:"window_duration" json:"window_duration"`
	CallTimeout    time.Duration `yaml:"call_timeout" json:"call_timeout"`
	RestartDelay   time.Duration `yaml:"restart_delay" json:"restart_delay"`
}

// GuardConfig configures the node-local token-bucket ingress limiter. This is
// independent of the cluster-wide window counter: it protects each node's
// HTTP surface from a single hot client.
type GuardConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// JournalConfig configures the embedded ownership event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with single-node-friendly defaults.
//
// Default Values Rationale:
// - Port 8080: standard non-privileged HTTP port
// - max_per_window 2, window_duration 60s, call_timeout 5s: conservative
//   quota defaults; operators are expected to raise max_per_window
// - 1s heartbeats / 3s offline: owner loss detected within a few seconds
// - Guard enabled: each node protects itself even when the cluster quota
//   owner is unreachable
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"*"},
				MaxAge:         86400,
			},
		},
		Cluster: ClusterConfig{
			NodeID:            "",
			AdvertiseAddr:     "127.0.0.1:8080",
			Peers:             []PeerConfig{},
			HeartbeatInterval: time.Second,
			OfflineAfter:      3 * time.Second,
			ReconcileInterval: time.Second,
		},
		Limiter: LimiterConfig{
			SingletonName:  "rate_limiter",
			MaxPerWindow:   2,
			WindowDuration: 60 * time.Second,
			CallTimeout:    5 * time.Second,
			RestartDelay:   250 * time.Millisecond,
		},
		Guard: GuardConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
			BurstSize:         100,
			CleanupInterval:   5 * time.Minute,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "./data/quotad-journal.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "quotad",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("invalid cluster config: %w", err)
	}

	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("invalid limiter config: %w", err)
	}

	if err := c.Guard.Validate(); err != nil {
		return fmt.Errorf("invalid guard config: %w", err)
	}

	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("invalid journal config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (cc *ClusterConfig) Validate() error {
	if cc.NodeID == "" {
		return errors.New("node_id cannot be empty")
	}

	if cc.AdvertiseAddr == "" {
		return errors.New("advertise_addr cannot be empty")
	}

	seen := make(map[string]bool, len(cc.Peers)+1)
	seen[cc.NodeID] = true
	for _, p := range cc.Peers {
		if p.ID == "" || p.Addr == "" {
			return errors.New("every peer needs both id and addr")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate node id in peer list: %s", p.ID)
		}
		seen[p.ID] = true
	}

	if cc.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}

	if cc.OfflineAfter < cc.HeartbeatInterval {
		return errors.New("offline_after must be at least the heartbeat interval")
	}

	if cc.ReconcileInterval <= 0 {
		return errors.New("reconcile interval must be positive")
	}

	return nil
}

func (lc *LimiterConfig) Validate() error {
	if lc.SingletonName == "" {
		return errors.New("singleton name cannot be empty")
	}

	if lc.MaxPerWindow <= 0 {
		return errors.New("max per window must be positive")
	}

	if lc.WindowDuration <= 0 {
		return errors.New("window duration must be positive")
	}

	if lc.CallTimeout <= 0 {
		return errors.New("call timeout must be positive")
	}

	if lc.RestartDelay < 0 {
		return errors.New("restart delay cannot be negative")
	}

	return nil
}

func (gc *GuardConfig) Validate() error {
	if !gc.Enabled {
		return nil
	}

	if gc.RequestsPerMinute <= 0 {
		return errors.New("requests per minute must be positive")
	}

	if gc.BurstSize <= 0 {
		return errors.New("burst size must be positive")
	}

	if gc.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}

	return nil
}

func (jc *JournalConfig) Validate() error {
	if jc.Enabled && jc.Path == "" {
		return errors.New("path is required when the journal is enabled")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}
