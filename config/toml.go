package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/atomicfile"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	tmos "github.com/tendermint/remotestore/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root and config directories if they don't exist.
func EnsureRoot(rootDir string) error {
	if err := tmos.EnsureDir(rootDir, defaultDirPerm); err != nil {
		return err
	}
	return tmos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), defaultDirPerm)
}

// WriteConfigFile renders config using the template and writes it to
// the default config path under rootDir.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all. The file is replaced atomically.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	_, err := atomicfile.WriteAll(path, &buffer, 0644)
	return err
}

// WriteDefaultConfigFileIfNone writes the default config unless a config
// file already exists under rootDir.
func WriteDefaultConfigFileIfNone(rootDir string) error {
	if !tmos.FileExists(filepath.Join(rootDir, defaultConfigFilePath)) {
		return WriteConfigFile(rootDir, DefaultConfig())
	}
	return nil
}

// ReadConfigFile reads a TOML config file from fs on top of the defaults and
// validates the result.
func ReadConfigFile(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]interface{})
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	// viper applies the mapstructure tags and the duration hooks
	v := viper.New()
	if err := v.MergeConfigMap(raw); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", path, err)
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return cfg, nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# Output level for logging, including package level options
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

#######################################################################
###                 Client Configuration Options                    ###
#######################################################################
[client]

# Candidate server addresses, tried in order
addresses = [{{ range $i, $a := .Client.Addresses }}{{ if $i }}, {{ end }}"{{ $a }}"{{ end }}]

# Name of the database opened on the servers
db-name = "{{ .Client.DBName }}"

# Address selection strategy: sticky | round-robin-connect | round-robin-request
connection-strategy = "{{ .Client.ConnectionStrategy }}"

# Attempts for operations retried on I/O errors
connection-retry = {{ .Client.ConnectionRetry }}

# Delay between two attempts after an I/O error
retry-delay = "{{ .Client.RetryDelay }}"

# Wait before retrying when the storage is frozen, and how many times
frozen-wait = "{{ .Client.FrozenWait }}"
frozen-retries = {{ .Client.FrozenRetries }}

# Timeout for establishing a connection
dial-timeout = "{{ .Client.DialTimeout }}"

# Read timeout for responses (0 disables it) and for database imports
read-timeout = "{{ .Client.ReadTimeout }}"
import-timeout = "{{ .Client.ImportTimeout }}"

# Maximum open connections per server address
max-conns-per-address = {{ .Client.MaxConnsPerAddress }}

# Rows per query page
query-page-size = {{ .Client.QueryPageSize }}

# Capacity of the asynchronous response queue
async-queue-size = {{ .Client.AsyncQueueSize }}

# Dial through the proxy named by ALL_PROXY
proxy-from-environment = {{ .Client.ProxyFromEnvironment }}

# Compress database imports with snappy
compress-import = {{ .Client.CompressImport }}

#######################################################################
###                  Push Channel Configuration                     ###
#######################################################################
[push]

# Delay before reconnecting a lost push channel
reconnect-delay = "{{ .Push.ReconnectDelay }}"

# Maximum wait for the answer to a subscribe request
subscribe-timeout = "{{ .Push.SubscribeTimeout }}"

#######################################################################
###                 Instrumentation Configuration                   ###
#######################################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus-listen-addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
