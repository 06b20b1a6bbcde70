package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// StrategySticky keeps a session on the address it last used until that
	// address fails.
	StrategySticky = "sticky"
	// StrategyRoundRobinConnect rotates addresses on every new connection.
	StrategyRoundRobinConnect = "round-robin-connect"
	// StrategyRoundRobinRequest rotates addresses on every request.
	StrategyRoundRobinRequest = "round-robin-request"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
// NOTE: libs/cli must know to look in the config dir!
var (
	DefaultRemoteStoreDir = ".remotestore"
	defaultConfigDir      = "config"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration of a remote storage client.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for the client components
	Client          *ClientConfig          `mapstructure:"client"`
	Push            *PushConfig            `mapstructure:"push"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a remote storage client.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Client:          DefaultClientConfig(),
		Push:            DefaultPushConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Client:          TestClientConfig(),
		Push:            TestPushConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Client.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [client] section: %w", err)
	}
	if err := cfg.Push.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [push] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration of the client process.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// Output level for logging
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		LogLevel:  DefaultLogLevel,
		LogFormat: LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.LogLevel = "debug"
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatJSON, LogFormatPlain:
	default:
		return errors.New("unknown log format (must be 'plain' or 'json')")
	}
	return nil
}

// DefaultLogLevel defines a default log level as INFO.
const DefaultLogLevel = "info"

//-----------------------------------------------------------------------------
// ClientConfig

// ClientConfig defines how the client reaches and talks to the servers.
type ClientConfig struct {
	// Candidate server addresses (host:port), tried in order.
	Addresses []string `mapstructure:"addresses"`

	// Name of the database opened on the servers.
	DBName string `mapstructure:"db-name"`

	// Address selection strategy: sticky | round-robin-connect | round-robin-request
	ConnectionStrategy string `mapstructure:"connection-strategy"`

	// Number of attempts for operations that are retried on I/O errors.
	ConnectionRetry int `mapstructure:"connection-retry"`

	// Delay between two attempts after an I/O error.
	RetryDelay time.Duration `mapstructure:"retry-delay"`

	// Time to wait before retrying when the server reports the storage as
	// frozen (backup or maintenance in progress).
	FrozenWait time.Duration `mapstructure:"frozen-wait"`

	// Maximum number of frozen waits for a single operation.
	FrozenRetries int `mapstructure:"frozen-retries"`

	// Timeout for establishing a new connection.
	DialTimeout time.Duration `mapstructure:"dial-timeout"`

	// Read timeout applied to every response. 0 disables it.
	ReadTimeout time.Duration `mapstructure:"read-timeout"`

	// Read timeout of a database import, which replaces ReadTimeout for the
	// duration of the call.
	ImportTimeout time.Duration `mapstructure:"import-timeout"`

	// Maximum number of open connections per server address.
	MaxConnsPerAddress int `mapstructure:"max-conns-per-address"`

	// Rows per page requested by queries. Values <= 0 mean 100.
	QueryPageSize int `mapstructure:"query-page-size"`

	// Capacity of the queue feeding the asynchronous response executor.
	AsyncQueueSize int `mapstructure:"async-queue-size"`

	// Dial through the proxy named by ALL_PROXY / NO_PROXY.
	ProxyFromEnvironment bool `mapstructure:"proxy-from-environment"`

	// Compress database imports with snappy.
	CompressImport bool `mapstructure:"compress-import"`
}

// DefaultClientConfig returns a default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Addresses:          []string{"localhost:2424"},
		ConnectionStrategy: StrategySticky,
		ConnectionRetry:    5,
		RetryDelay:         500 * time.Millisecond,
		FrozenWait:         10 * time.Second,
		FrozenRetries:      10,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        15 * time.Second,
		ImportTimeout:      time.Hour,
		MaxConnsPerAddress: 100,
		QueryPageSize:      100,
		AsyncQueueSize:     64,
	}
}

// TestClientConfig returns a client configuration with short delays.
func TestClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.DBName = "test"
	cfg.ConnectionRetry = 3
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.FrozenWait = 10 * time.Millisecond
	cfg.FrozenRetries = 3
	cfg.DialTimeout = time.Second
	cfg.ReadTimeout = 5 * time.Second
	cfg.ImportTimeout = 10 * time.Second
	cfg.MaxConnsPerAddress = 8
	cfg.AsyncQueueSize = 8
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ClientConfig) ValidateBasic() error {
	if len(cfg.Addresses) == 0 {
		return errors.New("addresses can't be empty")
	}
	for _, addr := range cfg.Addresses {
		if strings.TrimSpace(addr) == "" {
			return errors.New("addresses can't contain an empty address")
		}
	}
	switch strings.ToLower(cfg.ConnectionStrategy) {
	case StrategySticky, StrategyRoundRobinConnect, StrategyRoundRobinRequest:
	default:
		return fmt.Errorf("unknown connection-strategy %q", cfg.ConnectionStrategy)
	}
	if cfg.ConnectionRetry < 0 {
		return errors.New("connection-retry can't be negative")
	}
	if cfg.RetryDelay < 0 {
		return errors.New("retry-delay can't be negative")
	}
	if cfg.FrozenWait < 0 {
		return errors.New("frozen-wait can't be negative")
	}
	if cfg.FrozenRetries < 0 {
		return errors.New("frozen-retries can't be negative")
	}
	if cfg.DialTimeout <= 0 {
		return errors.New("dial-timeout must be positive")
	}
	if cfg.ReadTimeout < 0 {
		return errors.New("read-timeout can't be negative")
	}
	if cfg.ImportTimeout < 0 {
		return errors.New("import-timeout can't be negative")
	}
	if cfg.MaxConnsPerAddress <= 0 {
		return errors.New("max-conns-per-address must be positive")
	}
	if cfg.AsyncQueueSize <= 0 {
		return errors.New("async-queue-size must be positive")
	}
	return nil
}

// PageSize returns the query page size, defaulting to 100.
func (cfg *ClientConfig) PageSize() int {
	if cfg.QueryPageSize <= 0 {
		return 100
	}
	return cfg.QueryPageSize
}

//-----------------------------------------------------------------------------
// PushConfig

// PushConfig defines the behaviour of the push notification channel.
type PushConfig struct {
	// Delay before the push channel reconnects after losing its connection.
	ReconnectDelay time.Duration `mapstructure:"reconnect-delay"`

	// Maximum time to wait for the answer to a subscribe request.
	SubscribeTimeout time.Duration `mapstructure:"subscribe-timeout"`
}

// DefaultPushConfig returns a default push configuration.
func DefaultPushConfig() *PushConfig {
	return &PushConfig{
		ReconnectDelay:   500 * time.Millisecond,
		SubscribeTimeout: 15 * time.Second,
	}
}

// TestPushConfig returns a push configuration for testing.
func TestPushConfig() *PushConfig {
	return &PushConfig{
		ReconnectDelay:   10 * time.Millisecond,
		SubscribeTimeout: 2 * time.Second,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *PushConfig) ValidateBasic() error {
	if cfg.ReconnectDelay < 0 {
		return errors.New("reconnect-delay can't be negative")
	}
	if cfg.SubscribeTimeout <= 0 {
		return errors.New("subscribe-timeout must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26661",
		Namespace:            "remotestore",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus-listen-addr can't be empty when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// ConfigFile returns the full path of the config file under the root.
func (cfg BaseConfig) ConfigFile() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}
