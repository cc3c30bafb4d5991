// Package config provides centralized configuration management for watchload.
// Values come from built-in defaults, an optional YAML file and environment
// variables, in that order of precedence (later wins). The result is validated
// on startup so misconfiguration fails fast.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Watch    WatchConfig    `yaml:"watch"`
	Database DatabaseConfig `yaml:"database"`
	Load     LoadConfig     `yaml:"load"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// WatchConfig controls which directory is ingested and how.
type WatchConfig struct {
	// Dir is the directory observed for new and modified files (required)
	Dir string `env:"WATCH_DIR" envAlt:"WATCHLOAD_DIR" required:"true" yaml:"dir"`

	// OutputDir receives canonical CSV output (default: <Dir>/csv_utf8)
	OutputDir string `env:"WATCH_OUTPUT_DIR" yaml:"output_dir"`

	// Recursive adds subdirectories of Dir to the watch (default: true)
	Recursive bool `env:"WATCH_RECURSIVE" default:"true" yaml:"recursive"`

	// Workers bounds how many distinct files are processed at once (default: 1)
	Workers int `env:"WATCH_WORKERS" default:"1" yaml:"workers"`

	// Debounce coalesces bursts of events for the same path (default: 500ms)
	Debounce time.Duration `env:"WATCH_DEBOUNCE" default:"500ms" yaml:"debounce"`

	// RescanSchedule is a cron expression for periodic full scans; empty disables it
	RescanSchedule string `env:"WATCH_RESCAN_SCHEDULE" yaml:"rescan_schedule"`

	// NormalizeScope is "directory" (sweep the whole dir per event) or "file" (default: directory)
	NormalizeScope string `env:"NORMALIZE_SCOPE" default:"directory" yaml:"normalize_scope"`

	// IgnoreHidden skips dot-files in the watched directory (default: true)
	IgnoreHidden bool `env:"WATCH_IGNORE_HIDDEN" default:"true" yaml:"ignore_hidden"`
}

// DatabaseConfig holds destination database connection settings.
type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envAlt:"PGHOST" default:"localhost" yaml:"host"`
	Port     int    `env:"DB_PORT" envAlt:"PGPORT" default:"5432" yaml:"port"`
	User     string `env:"DB_USER" envAlt:"PGUSER" required:"true" yaml:"user"`
	Password string `env:"DB_PASSWORD" envAlt:"PGPASSWORD" yaml:"password"`
	Name     string `env:"DB_NAME" envAlt:"PGDATABASE" required:"true" yaml:"name"`

	// SSLMode is passed through as sslmode (default: prefer)
	SSLMode string `env:"DB_SSLMODE" default:"prefer" yaml:"sslmode"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4" yaml:"max_conns"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0" yaml:"min_conns"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m" yaml:"max_conn_idle_time"`

	// ConnectTimeout bounds the startup ping (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s" yaml:"connect_timeout"`
}

// LoadConfig holds destination table loading settings.
type LoadConfig struct {
	// Timeout bounds a single create-and-copy transaction (default: 10m)
	Timeout time.Duration `env:"LOAD_TIMEOUT" default:"10m" yaml:"timeout"`

	// ExistingTablePolicy decides what happens when the table already exists (default: skip)
	ExistingTablePolicy string `env:"LOAD_EXISTING_TABLE_POLICY" default:"skip" yaml:"existing_table_policy"`
}

// TrackerConfig holds the processed-file store settings.
type TrackerConfig struct {
	// Path is the SQLite file that records processed files (default: processed_files.db)
	Path string `env:"TRACKER_PATH" default:"processed_files.db" yaml:"path"`
}

// ServerConfig holds status API settings.
type ServerConfig struct {
	// Enabled turns on the read-only status API (default: false)
	Enabled bool `env:"SERVER_ENABLED" default:"false" yaml:"enabled"`

	Host string `env:"SERVER_HOST" default:"127.0.0.1" yaml:"host"`
	Port int    `env:"SERVER_PORT" default:"8080" yaml:"port"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"15s" yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"10s" yaml:"shutdown_timeout"`

	// RecentOutcomes is how many outcome lines the API keeps in memory (default: 200)
	RecentOutcomes int `env:"SERVER_RECENT_OUTCOMES" default:"200" yaml:"recent_outcomes"`

	// APIKeys, when set, are required in the X-API-Key header (comma-separated)
	APIKeys []string `env:"SERVER_API_KEYS" yaml:"api_keys"`

	// TrustedProxies are CIDRs whose X-Real-IP / X-Forwarded-For headers are honored
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES" yaml:"trusted_proxies"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info" yaml:"level"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text" yaml:"format"`

	// File appends logs to this path instead of stdout when set
	File string `env:"LOG_FILE" yaml:"file"`

	// Console prints colored per-file outcome lines to the terminal (default: true)
	Console bool `env:"LOG_CONSOLE" default:"true" yaml:"console"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ConnString builds a PostgreSQL URL from the individual fields.
func (c *DatabaseConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// MaskedConnString is ConnString with the password replaced, for logs.
func (c *DatabaseConfig) MaskedConnString() string {
	masked := *c
	if masked.Password != "" {
		masked.Password = "xxxxx"
	}
	return masked.ConnString()
}

// String returns a safe string representation of the config for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Watch: {Dir: %q, OutputDir: %q, Workers: %d, Scope: %q}, "+
		"Database: {%s, MaxConns: %d}, Load: {Policy: %q}, Tracker: {Path: %q}, "+
		"Server: {Enabled: %v, Addr: %q, APIKeys: %d}, Logging: {Level: %q, Format: %q}}",
		c.Watch.Dir, c.Watch.OutputDir, c.Watch.Workers, c.Watch.NormalizeScope,
		c.Database.MaskedConnString(), c.Database.MaxConns, c.Load.ExistingTablePolicy,
		c.Tracker.Path, c.Server.Enabled, c.Server.Addr(), len(c.Server.APIKeys), c.Logging.Level, c.Logging.Format)
}
