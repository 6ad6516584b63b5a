package pgscope

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool         PoolConfig         `json:"pool"`
	Query        QueryConfig        `json:"query"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts"`
	Sanitization []SanitizationRule `json:"sanitization"`

	// Role, when set, is assumed inside every transaction with
	// set_config('role', ..., true). Point it at a role that only holds
	// SELECT grants so the server enforces read-only access.
	Role     string `json:"role"`
	Timezone string `json:"timezone"`

	// BlockedFunctions replaces the built-in list of functions refused in
	// caller queries. Nil keeps the built-in list.
	BlockedFunctions []string `json:"blocked_functions"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config     `json:",squash"`
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Tracing    TracingConfig    `json:"tracing"`
}

// ConnectionConfig holds database connection parameters used by CLI mode.
type ConnectionConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	DBName  string `json:"dbname"`
	SSLMode string `json:"sslmode"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns int `json:"max_conns"`
	MinConns int `json:"min_conns"`
	// AcquireTimeoutSeconds bounds the wait for a free connection. Expiry
	// returns ConnectionUnavailable.
	AcquireTimeoutSeconds int `json:"acquire_timeout_seconds"`
	// LazyConnect skips the ping in New. By default a bad connection string
	// fails at startup instead of on the first call.
	LazyConnect       bool   `json:"lazy_connect"`
	MaxConnLifetime   string `json:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period"`
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
	MetricsEnabled     bool   `json:"metrics_enabled"`
	MetricsPath        string `json:"metrics_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, stderr, or file path
}

// TracingConfig controls OpenTelemetry span export in CLI mode.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	Exporter     string `json:"exporter"` // stdout, otlp
	OTLPEndpoint string `json:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure"`
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds int `json:"default_timeout_seconds"`
	// CatalogTimeoutSeconds bounds list, describe, stats and search.
	CatalogTimeoutSeconds int           `json:"catalog_timeout_seconds"`
	DefaultLimit          int           `json:"default_limit"`
	MaxLimit              int           `json:"max_limit"`
	MaxSQLLength          int           `json:"max_sql_length"`
	MaxResultLength       int           `json:"max_result_length"`
	TimeoutRules          []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule maps an error kind or message pattern to a hint.
type ErrorPromptRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// SanitizationRule defines a regex-based field sanitization rule.
type SanitizationRule struct {
	Pattern     string   `json:"pattern"`
	Replacement string   `json:"replacement"`
	Columns     []string `json:"columns"`
	Description string   `json:"description"`
}

// Defaults for zero-valued settings.
const (
	DefaultMaxConns              = 5
	DefaultAcquireTimeoutSeconds = 5
	DefaultQueryTimeoutSeconds   = 30
	DefaultCatalogTimeoutSeconds = 10
	DefaultLimit                 = 100
	DefaultMaxLimit              = 1000
	DefaultMaxSQLLength          = 100000
	DefaultMaxResultLength       = 100000
	DefaultSchema                = "public"
)

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// withDefaults fills zero values. Negative values are left alone so New can
// reject them.
func (c Config) withDefaults() Config {
	if c.Pool.MaxConns == 0 {
		c.Pool.MaxConns = DefaultMaxConns
	}
	if c.Pool.AcquireTimeoutSeconds == 0 {
		c.Pool.AcquireTimeoutSeconds = DefaultAcquireTimeoutSeconds
	}
	if c.Query.DefaultTimeoutSeconds == 0 {
		c.Query.DefaultTimeoutSeconds = DefaultQueryTimeoutSeconds
	}
	if c.Query.CatalogTimeoutSeconds == 0 {
		c.Query.CatalogTimeoutSeconds = DefaultCatalogTimeoutSeconds
	}
	if c.Query.DefaultLimit == 0 {
		c.Query.DefaultLimit = DefaultLimit
	}
	if c.Query.MaxLimit == 0 {
		c.Query.MaxLimit = DefaultMaxLimit
	}
	if c.Query.MaxSQLLength == 0 {
		c.Query.MaxSQLLength = DefaultMaxSQLLength
	}
	if c.Query.MaxResultLength == 0 {
		c.Query.MaxResultLength = DefaultMaxResultLength
	}
	return c
}
