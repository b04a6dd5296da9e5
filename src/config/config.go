package config

import (
	"fmt"
	"os"

	"rtrader-bridge/src/models"

	"gopkg.in/yaml.v3"
)

// Defaults for the capture the tooling was built around.
var (
	DefaultScanPorts    = []int{3010, 3011, 3012, 3013, 5555, 8000, 8100, 8500}
	DefaultCapturePorts = []int{8000, 8100, 8500, 64100}
	DefaultFamilies     = []string{"json", "binary", "http", "broadcast", "keepalive"}
)

const (
	DefaultGatewayHost = "38.65.210.71"
	DefaultGatewayPort = 64100
	DefaultSessionID   = "143000"
	DefaultRepository  = "mrv_lb"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}
	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse unmarshals YAML, fills unset values with defaults and validates.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Default returns a fully defaulted configuration.
func Default() *Config {
	c := &Config{MConfig: &models.MConfig{}}
	c.ApplyDefaults()
	return c
}

// -----------------------------------------------------------------------------

func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "rtrader-bridge"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8765
	}
	if c.GrpcPort == 0 {
		c.GrpcPort = 50051
	}
	if c.DataRetentionDays == 0 {
		c.DataRetentionDays = 7
	}

	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = "rtrader-bridge.db"
	}

	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 5
	}
	if c.Network.ConcurrentRequests == 0 {
		c.Network.ConcurrentRequests = 1
	}

	s := &c.Scanner
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if len(s.Ports) == 0 {
		s.Ports = append([]int(nil), DefaultScanPorts...)
	}
	if s.ConnectTimeoutMs == 0 {
		s.ConnectTimeoutMs = 1000
	}
	if s.ProbeTimeoutMs == 0 {
		s.ProbeTimeoutMs = 1000
	}
	if s.ListenMs == 0 {
		s.ListenMs = 3000
	}
	if s.KeepAliveWaitMs == 0 {
		s.KeepAliveWaitMs = 2000
	}
	if s.Workers == 0 {
		s.Workers = 4
	}
	if len(s.Families) == 0 {
		s.Families = append([]string(nil), DefaultFamilies...)
	}

	g := &c.Gateway
	if g.Host == "" {
		g.Host = DefaultGatewayHost
	}
	if g.Port == 0 {
		g.Port = DefaultGatewayPort
	}
	if g.TimeoutSeconds == 0 {
		g.TimeoutSeconds = 5
	}
	if g.SessionID == "" {
		g.SessionID = DefaultSessionID
	}
	if g.Repository == "" {
		g.Repository = DefaultRepository
	}
	if g.RelayListen == "" {
		g.RelayListen = "127.0.0.1:64100"
	}
	if g.MaxFrameBytes == 0 {
		g.MaxFrameBytes = 1 << 20
	}

	q := &c.Quotes
	if q.IntervalMs == 0 {
		q.IntervalMs = 100
	}
	if q.Symbol == "" {
		q.Symbol = "MNQ"
	}
	if q.BufferSize == 0 {
		q.BufferSize = 1024
	}
	if q.MarketMIC == "" {
		q.MarketMIC = "xcme"
	}

	if len(c.Capture.Ports) == 0 {
		c.Capture.Ports = append([]int(nil), DefaultCapturePorts...)
	}

	pl := &c.Plugin
	if pl.Host == "" {
		pl.Host = "127.0.0.1"
	}
	if pl.Port == 0 {
		pl.Port = 8000
	}
	if pl.Path == "" {
		pl.Path = "/rithmic"
	}
	if pl.Name == "" {
		pl.Name = c.Name
	}
	if pl.Version == "" {
		pl.Version = "1.0"
	}
	if pl.Exchange == "" {
		pl.Exchange = "CME"
	}
	if len(pl.Symbols) == 0 {
		pl.Symbols = []string{q.Symbol}
	}
	if pl.DepthLevels == 0 {
		pl.DepthLevels = 50
	}
	if pl.TimeoutSeconds == 0 {
		pl.TimeoutSeconds = 5
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort <= 0 || c.GrpcPort > 65535 {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unknown database type %q", c.Storage.DBType)
	}

	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	for _, p := range c.Scanner.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid scanner port %d", p)
		}
	}
	if c.Scanner.Workers < 1 {
		return fmt.Errorf("scanner workers must be at least 1")
	}
	if c.Scanner.RescanSeconds < 0 {
		return fmt.Errorf("scanner rescan_seconds cannot be negative")
	}
	for _, f := range c.Scanner.Families {
		if !contains(DefaultFamilies, f) {
			return fmt.Errorf("unknown probe family %q", f)
		}
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		return fmt.Errorf("gateway timeout must be greater than 0")
	}

	if c.Quotes.IntervalMs <= 0 {
		return fmt.Errorf("quote poll interval must be greater than 0")
	}

	if c.Plugin.Port <= 0 || c.Plugin.Port > 65535 {
		return fmt.Errorf("invalid plugin port %d", c.Plugin.Port)
	}
	if c.Plugin.DepthLevels < 1 {
		return fmt.Errorf("plugin depth_levels must be at least 1")
	}

	if c.DataRetentionDays <= 0 {
		return fmt.Errorf("data retention days must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
