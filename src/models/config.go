package models

// MConfig Structure
type MConfig struct {
	Name              string         `yaml:"name"`
	Host              string         `yaml:"host"`
	Port              int            `yaml:"port"`
	LogLevel          string         `yaml:"log_level"`
	GrpcHost          string         `yaml:"grpc_host"`
	GrpcPort          int            `yaml:"grpc_port"`
	Storage           MStorageConfig `yaml:"storage"`
	Network           MNetworkConfig `yaml:"network"`
	Scanner           MScannerConfig `yaml:"scanner"`
	Gateway           MGatewayConfig `yaml:"gateway"`
	Quotes            MQuotesConfig  `yaml:"quotes"`
	Capture           MCaptureConfig `yaml:"capture"`
	Plugin            MPluginConfig  `yaml:"plugin"`
	DataRetentionDays int            `yaml:"data_retention_days"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MNetworkConfig struct {
	Proxies            []string `yaml:"proxies,omitempty"`
	RequestTimeout     int      `yaml:"timeout"`
	MaxRetries         int      `yaml:"retries"`
	ConcurrentRequests int      `yaml:"concurrent_requests"`
	UserAgent          string   `yaml:"user_agent"`
}

// MScannerConfig drives the localhost port scan. Timeouts are milliseconds.
type MScannerConfig struct {
	Host             string   `yaml:"host"`
	Ports            []int    `yaml:"ports"`
	ConnectTimeoutMs int      `yaml:"connect_timeout_ms"`
	ProbeTimeoutMs   int      `yaml:"probe_timeout_ms"`
	ListenMs         int      `yaml:"listen_ms"`
	KeepAliveWaitMs  int      `yaml:"keepalive_wait_ms"`
	Workers          int      `yaml:"workers"`
	Families         []string `yaml:"families"`
	// RescanSeconds repeats the scan under serve; 0 scans once at start-up.
	RescanSeconds int `yaml:"rescan_seconds"`
}

type MGatewayConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SessionID      string `yaml:"session_id"`
	Repository     string `yaml:"repository"`
	RelayListen    string `yaml:"relay_listen"`
	MaxFrameBytes  int    `yaml:"max_frame_bytes"`
	// CheckOnServe runs the login handshake once when serve starts.
	CheckOnServe bool `yaml:"check_on_serve"`
}

type MQuotesConfig struct {
	URL             string `yaml:"url"`
	Symbol          string `yaml:"symbol"`
	IntervalMs      int    `yaml:"interval_ms"`
	CSVPath         string `yaml:"csv_path"`
	BufferSize      int    `yaml:"buffer_size"`
	MarketHoursOnly bool   `yaml:"market_hours_only"`
	MarketMIC       string `yaml:"market_mic"`
	Persist         bool   `yaml:"persist"`
}

type MCaptureConfig struct {
	Ports []int    `yaml:"ports"`
	Hosts []string `yaml:"hosts,omitempty"`
}

// MPluginConfig points at the front-end's local plugin websocket.
type MPluginConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Path           string   `yaml:"path"`
	Name           string   `yaml:"name"`
	Version        string   `yaml:"version"`
	Exchange       string   `yaml:"exchange"`
	Symbols        []string `yaml:"symbols"`
	DepthLevels    int      `yaml:"depth_levels"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}
