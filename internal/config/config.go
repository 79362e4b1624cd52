package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/geyserpg/geyserpg/internal/common"
	"github.com/geyserpg/geyserpg/internal/logger"
)

// Config is the complete plugin configuration. Field names follow the
// on-disk option names recognized by the sink: connection_str, threads,
// batch_size, panic_on_db_errors, accounts_selector, transaction_selector.
type Config struct {
	// ConnectionStr is the PostgreSQL connection string
	// (e.g. "host=localhost user=solana password=solana port=5432").
	ConnectionStr string `yaml:"connection_str" json:"connection_str" toml:"connection_str"`

	// Threads is the number of database writer workers. Each worker owns
	// one database connection. Zero selects the default of 10.
	Threads int `yaml:"threads" json:"threads" toml:"threads"`

	// BatchSize is the per-kind record count that triggers a batch dispatch.
	// Zero selects the default of 10.
	BatchSize int `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// FlushInterval is the age-based flush period for partially filled
	// batches, so low-traffic kinds are not held indefinitely.
	FlushInterval common.Duration `yaml:"flush_interval" json:"flush_interval" toml:"flush_interval"`

	// QueueSize is the capacity of the shared work queue, in batches.
	// The queue is always bounded. Zero selects the default of 64.
	QueueSize int `yaml:"queue_size" json:"queue_size" toml:"queue_size"`

	// EnqueueTimeout bounds how long a host notification may block waiting
	// for queue space before failing with a backpressure error.
	EnqueueTimeout common.Duration `yaml:"enqueue_timeout" json:"enqueue_timeout" toml:"enqueue_timeout"`

	// PanicOnDBErrors selects the failure policy: true aborts the process
	// on the first failed write, false logs and drops the batch.
	PanicOnDBErrors bool `yaml:"panic_on_db_errors" json:"panic_on_db_errors" toml:"panic_on_db_errors"`

	// AccountsSelector decides which account updates are captured.
	AccountsSelector AccountsSelectorConfig `yaml:"accounts_selector" json:"accounts_selector" toml:"accounts_selector"`

	// TransactionSelector decides which transactions are captured.
	TransactionSelector TransactionSelectorConfig `yaml:"transaction_selector" json:"transaction_selector" toml:"transaction_selector"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// AccountsSelectorConfig is either a single "*" entry (capture every
// account) or an explicit set of base58 addresses. An empty list disables
// account capture.
type AccountsSelectorConfig struct {
	Accounts []string `yaml:"accounts" json:"accounts" toml:"accounts"`
}

// TransactionSelectorConfig selects transactions by mentioned accounts,
// with the same "*" and empty-list semantics as AccountsSelectorConfig.
type TransactionSelectorConfig struct {
	Mentions []string `yaml:"mentions" json:"mentions" toml:"mentions"`
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// (sink, accumulator, worker-pool, store, slot-tracker, migrations, replay)
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP endpoint is active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" || m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Threads == 0 {
		c.Threads = 10
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.FlushInterval.Duration == 0 {
		c.FlushInterval = common.NewDuration(time.Second)
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.EnqueueTimeout.Duration == 0 {
		c.EnqueueTimeout = common.NewDuration(5 * time.Second)
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid. Any failure here aborts
// plugin initialization before a single notification is processed.
func (c *Config) Validate() error {
	if c.ConnectionStr == "" {
		return &ConfigError{Option: "connection_str", Reason: "is required"}
	}
	if _, err := pgconn.ParseConfig(c.ConnectionStr); err != nil {
		return &ConfigError{Option: "connection_str", Reason: "is malformed", Err: err}
	}

	if c.Threads < 0 {
		return &ConfigError{Option: "threads", Reason: fmt.Sprintf("must not be negative, got %d", c.Threads)}
	}
	if c.BatchSize < 0 {
		return &ConfigError{Option: "batch_size", Reason: fmt.Sprintf("must not be negative, got %d", c.BatchSize)}
	}
	if c.QueueSize < 0 {
		return &ConfigError{Option: "queue_size", Reason: fmt.Sprintf("must not be negative, got %d", c.QueueSize)}
	}
	if c.FlushInterval.Duration < 0 {
		return &ConfigError{Option: "flush_interval", Reason: "must not be negative"}
	}
	if c.EnqueueTimeout.Duration < 0 {
		return &ConfigError{Option: "enqueue_timeout", Reason: "must not be negative"}
	}

	if err := validateSelectorEntries(c.AccountsSelector.Accounts); err != nil {
		return &ConfigError{Option: "accounts_selector", Reason: "invalid", Err: err}
	}
	if err := validateSelectorEntries(c.TransactionSelector.Mentions); err != nil {
		return &ConfigError{Option: "transaction_selector", Reason: "invalid", Err: err}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return &ConfigError{Option: "logging", Reason: "invalid", Err: err}
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return &ConfigError{Option: "metrics", Reason: "invalid", Err: err}
		}
	}

	return nil
}

func validateSelectorEntries(entries []string) error {
	for _, e := range entries {
		if e == "" {
			return fmt.Errorf("empty identity")
		}
	}
	return nil
}
