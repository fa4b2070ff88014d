package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Setting keys. Each is a flag name, and most have an environment variable.
const (
	KeyConfig          = "config"
	KeyProxyTo         = "proxy-to"
	KeyBaseFolder      = "base-folder"
	KeyHost            = "host"
	KeyPort            = "port"
	KeyLogLevel        = "log-level"
	KeyJSON            = "json"
	KeyAccessLog       = "access-log"
	KeyMaxConnections  = "max-connections"
	KeyMaxResolveBody  = "max-resolve-body"
	KeyShutdownTimeout = "shutdown-timeout"
	KeyHealthInterval  = "health-interval"
)

var envBindings = map[string]string{
	KeyConfig:          "BOTFILE_PROXY_CONFIG",
	KeyProxyTo:         "PROXY_TO",
	KeyBaseFolder:      "BASE_FOLDER",
	KeyHost:            "HOST",
	KeyPort:            "PORT",
	KeyLogLevel:        "LOG_LEVEL",
	KeyJSON:            "LOG_JSON",
	KeyAccessLog:       "ACCESS_LOG",
	KeyMaxConnections:  "MAX_CONNECTIONS",
	KeyMaxResolveBody:  "MAX_RESOLVE_BODY",
	KeyShutdownTimeout: "SHUTDOWN_TIMEOUT",
	KeyHealthInterval:  "HEALTH_INTERVAL",
}

// FileConfig is the optional on-disk configuration. TOML is the default
// format; files ending in .yaml or .yml are read as YAML.
type FileConfig struct {
	ProxyTo         string `toml:"proxy_to" yaml:"proxy_to"`
	BaseFolder      string `toml:"base_folder" yaml:"base_folder"`
	Host            string `toml:"host" yaml:"host"`
	Port            int    `toml:"port" yaml:"port"`
	LogLevel        string `toml:"log_level" yaml:"log_level"`
	LogJSON         bool   `toml:"log_json" yaml:"log_json"`
	AccessLog       string `toml:"access_log" yaml:"access_log"`
	MaxConnections  int    `toml:"max_connections" yaml:"max_connections"`
	MaxResolveBody  int64  `toml:"max_resolve_body" yaml:"max_resolve_body"`
	ShutdownTimeout string `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	HealthInterval  string `toml:"health_interval" yaml:"health_interval"`
}

// LoadFile reads a config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
		}
	}

	for key, val := range map[string]string{
		"shutdown_timeout": fc.ShutdownTimeout,
		"health_interval":  fc.HealthInterval,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return nil, fmt.Errorf("invalid %s in %s: %w", key, path, err)
		}
	}

	return &fc, nil
}

// apply installs the file's non-zero values as viper defaults so that
// flags and environment still take precedence over them.
func (fc *FileConfig) apply(v *viper.Viper) {
	setString := func(key, val string) {
		if val != "" {
			v.SetDefault(key, val)
		}
	}
	setString(KeyProxyTo, fc.ProxyTo)
	setString(KeyBaseFolder, fc.BaseFolder)
	setString(KeyHost, fc.Host)
	setString(KeyLogLevel, fc.LogLevel)
	setString(KeyAccessLog, fc.AccessLog)
	setString(KeyShutdownTimeout, fc.ShutdownTimeout)
	setString(KeyHealthInterval, fc.HealthInterval)
	if fc.Port != 0 {
		v.SetDefault(KeyPort, fc.Port)
	}
	if fc.LogJSON {
		v.SetDefault(KeyJSON, true)
	}
	if fc.MaxConnections != 0 {
		v.SetDefault(KeyMaxConnections, fc.MaxConnections)
	}
	if fc.MaxResolveBody != 0 {
		v.SetDefault(KeyMaxResolveBody, fc.MaxResolveBody)
	}
}

// RegisterFlags adds the serve flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP(KeyConfig, "c", "", "Path to a TOML or YAML config file")
	fs.StringP(KeyProxyTo, "t", "", "URL of the bot API server to proxy to, MUST be http (e.g. http://localhost:8081)")
	fs.StringP(KeyBaseFolder, "b", DefaultBaseFolder, "Folder where the bot API server stores its files")
	fs.StringP(KeyHost, "H", DefaultHost, "Host to listen on")
	fs.IntP(KeyPort, "p", DefaultPort, "Port to listen on")
	fs.String(KeyLogLevel, DefaultLogLevel, "Log level (trace, debug, info, warn, error)")
	fs.Bool(KeyJSON, false, "Output logs in JSON format")
	fs.String(KeyAccessLog, "", "Path to a JSON Lines access log (empty = disabled)")
	fs.Int(KeyMaxConnections, 0, "Maximum concurrent client connections (0 = unlimited)")
	fs.Int64(KeyMaxResolveBody, DefaultMaxResolveBodySize, "Maximum GetFile response size buffered for rewriting")
	fs.Duration(KeyShutdownTimeout, DefaultShutdownTimeout, "Grace period for in-flight requests on shutdown")
	fs.Duration(KeyHealthInterval, 0, "Interval between background health checks while serving (0 = disabled)")
}

// Resolve merges flags, environment and the optional config file (in that
// order of precedence) and builds a validated Config.
func Resolve(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path := v.GetString(KeyConfig); path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		fc.apply(v)
	}

	return New(Options{
		ProxyTo:            v.GetString(KeyProxyTo),
		BaseFolder:         v.GetString(KeyBaseFolder),
		Host:               v.GetString(KeyHost),
		Port:               v.GetInt(KeyPort),
		LogLevel:           v.GetString(KeyLogLevel),
		LogJSON:            v.GetBool(KeyJSON),
		AccessLogPath:      v.GetString(KeyAccessLog),
		MaxConnections:     v.GetInt(KeyMaxConnections),
		MaxResolveBodySize: v.GetInt64(KeyMaxResolveBody),
		ShutdownTimeout:    v.GetDuration(KeyShutdownTimeout),
		HealthInterval:     v.GetDuration(KeyHealthInterval),
	})
}
