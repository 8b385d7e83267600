// Package config loads ingest settings from environment variables, applies
// defaults and validates everything up front so a bad setting fails before
// any input is opened.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings used by serve mode.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 by default because result streams can run long.
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxBodyBytes caps an uploaded CSV (default: 100MB).
	MaxBodyBytes int64 `env:"SERVER_MAX_BODY_BYTES" default:"104857600"`
}

// DatabaseConfig holds the optional PostgreSQL sink settings. With no URL
// dispatched records are only logged.
type DatabaseConfig struct {
	URL   string `env:"DATABASE_URL" envAlt:"DB_URL"`
	Table string `env:"DB_TABLE" default:"users"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database URL was configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// IngestConfig holds pipeline settings.
type IngestConfig struct {
	SkipHeader bool `env:"INGEST_SKIP_HEADER" default:"true"`

	// BatchSize is the number of records dispatched per round (default: 100).
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"100"`

	MaxLineBytes int `env:"INGEST_MAX_LINE_BYTES" default:"1048576"`

	// MaxInFlight caps concurrent callbacks inside one batch; 0 means the
	// whole batch runs at once.
	MaxInFlight int `env:"INGEST_MAX_IN_FLIGHT" default:"0"`

	// Validate selects the schema-validating variant.
	Validate bool `env:"INGEST_VALIDATE" default:"true"`

	// MaxConcurrent is the number of runs the server executes at once.
	MaxConcurrent int           `env:"INGEST_MAX_CONCURRENT" default:"5"`
	MaxWaitTime   time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single run.
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"10m"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
