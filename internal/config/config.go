package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quotad/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// A node without an explicit identity uses its advertise address; the id
	// participates in deterministic elections so it must be stable.
	if config.Cluster.NodeID == "" {
		config.Cluster.NodeID = config.Cluster.AdvertiseAddr
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("QUOTAD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("QUOTAD_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("QUOTAD_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("QUOTAD_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("QUOTAD_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	if tls := os.Getenv("QUOTAD_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}

	if certFile := os.Getenv("QUOTAD_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}

	if keyFile := os.Getenv("QUOTAD_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Cluster configuration
	if nodeID := os.Getenv("QUOTAD_NODE_ID"); nodeID != "" {
		config.Cluster.NodeID = nodeID
	}

	if addr := os.Getenv("QUOTAD_ADVERTISE_ADDR"); addr != "" {
		config.Cluster.AdvertiseAddr = addr
	}

	if peers := os.Getenv("QUOTAD_PEERS"); peers != "" {
		if parsed, err := ParsePeers(peers); err == nil {
			config.Cluster.Peers = parsed
		}
	}

	if interval := os.Getenv("QUOTAD_HEARTBEAT_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Cluster.HeartbeatInterval = d
		}
	}

	if after := os.Getenv("QUOTAD_OFFLINE_AFTER"); after != "" {
		if d, err := time.ParseDuration(after); err == nil {
			config.Cluster.OfflineAfter = d
		}
	}

	if interval := os.Getenv("QUOTAD_RECONCILE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Cluster.ReconcileInterval = d
		}
	}

	// Limiter configuration
	if name := os.Getenv("QUOTAD_SINGLETON_NAME"); name != "" {
		config.Limiter.SingletonName = name
	}

	if max := os.Getenv("QUOTAD_MAX_PER_WINDOW"); max != "" {
		if n, err := strconv.ParseInt(max, 10, 64); err == nil {
			config.Limiter.MaxPerWindow = n
		}
	}

	if window := os.Getenv("QUOTAD_WINDOW_DURATION"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.Limiter.WindowDuration = d
		}
	}

	if timeout := os.Getenv("QUOTAD_CALL_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Limiter.CallTimeout = d
		}
	}

	// Guard configuration
	if guard := os.Getenv("QUOTAD_GUARD_ENABLED"); guard != "" {
		config.Guard.Enabled = strings.ToLower(guard) == "true"
	}

	if rpm := os.Getenv("QUOTAD_GUARD_REQUESTS_PER_MINUTE"); rpm != "" {
		if n, err := strconv.Atoi(rpm); err == nil {
			config.Guard.RequestsPerMinute = n
		}
	}

	if burst := os.Getenv("QUOTAD_GUARD_BURST_SIZE"); burst != "" {
		if n, err := strconv.Atoi(burst); err == nil {
			config.Guard.BurstSize = n
		}
	}

	// Journal configuration
	if journal := os.Getenv("QUOTAD_JOURNAL_ENABLED"); journal != "" {
		config.Journal.Enabled = strings.ToLower(journal) == "true"
	}

	if path := os.Getenv("QUOTAD_JOURNAL_PATH"); path != "" {
		config.Journal.Path = path
	}

	// Logging configuration
	if level := os.Getenv("QUOTAD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("QUOTAD_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("QUOTAD_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("QUOTAD_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("QUOTAD_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("QUOTAD_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("QUOTAD_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}
}

// ParsePeers parses the compact "id=addr,id=addr" peer list format used by
// the QUOTAD_PEERS environment variable.
func ParsePeers(s string) ([]models.PeerConfig, error) {
	var peers []models.PeerConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, addr, ok := strings.Cut(part, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid peer entry %q, want id=addr", part)
		}
		peers = append(peers, models.PeerConfig{ID: id, Addr: addr})
	}
	return peers, nil
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Cluster.NodeID = "node-a"
	config.Cluster.AdvertiseAddr = "10.0.0.1:8080"
	config.Cluster.Peers = []models.PeerConfig{
		{ID: "node-b", Addr: "10.0.0.2:8080"},
		{ID: "node-c", Addr: "10.0.0.3:8080"},
	}
	config.Journal.Enabled = true

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
