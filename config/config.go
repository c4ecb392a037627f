// Package config loads coderun settings from defaults, an optional
// coderun.yaml, a .env file and CODERUN_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// CODERUN_SANDBOX_DEFAULT_TIMEOUT=5s.
const EnvPrefix = "CODERUN"

type Config struct {
	Logging  LoggingConfig            `mapstructure:"logging"`
	Sandbox  SandboxConfig            `mapstructure:"sandbox"`
	Runtimes map[string]RuntimeConfig `mapstructure:"runtimes"`
	Server   ServerConfig             `mapstructure:"server"`
	MCP      MCPConfig                `mapstructure:"mcp"`
}

type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

type SandboxConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	LoadTimeout    time.Duration `mapstructure:"load_timeout"`
	// RecycleOnTimeout makes the server and CLI discard a sandbox whose
	// execution timed out instead of reusing it.
	RecycleOnTimeout bool     `mapstructure:"recycle_on_timeout"`
	MemoryMB         int      `mapstructure:"memory_mb"`
	DiskCache        bool     `mapstructure:"disk_cache"`
	CacheDir         string   `mapstructure:"cache_dir"`
	AllowedHosts     []string `mapstructure:"allowed_hosts"`
	KVMaxEntries     int      `mapstructure:"kv_max_entries"`
}

// RuntimeConfig holds per-language settings. Module is only meaningful for
// the WASI interpreters.
type RuntimeConfig struct {
	Module   string        `mapstructure:"module"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Disabled bool          `mapstructure:"disabled"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	Burst          int      `mapstructure:"burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxCodeBytes   int      `mapstructure:"max_code_bytes"`
}

type MCPConfig struct {
	Transport string `mapstructure:"transport"`
	Addr      string `mapstructure:"addr"`
}

var runtimeIDs = []string{"python", "ruby", "lua", "sql", "typescript", "javascript", "html", "json", "yaml", "toml"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("sandbox.default_timeout", 10*time.Second)
	v.SetDefault("sandbox.load_timeout", 60*time.Second)
	v.SetDefault("sandbox.recycle_on_timeout", true)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.disk_cache", true)
	v.SetDefault("sandbox.cache_dir", "")
	v.SetDefault("sandbox.allowed_hosts", []string{})
	v.SetDefault("sandbox.kv_max_entries", 1000)

	for _, id := range runtimeIDs {
		v.SetDefault("runtimes."+id+".module", "")
		v.SetDefault("runtimes."+id+".timeout", 0)
		v.SetDefault("runtimes."+id+".disabled", false)
	}
	v.SetDefault("runtimes.python.timeout", 30*time.Second)
	v.SetDefault("runtimes.ruby.timeout", 30*time.Second)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit_rps", 10.0)
	v.SetDefault("server.burst", 20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_code_bytes", 1<<20)

	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.addr", ":8081")
}

// New loads the configuration from the default search path.
func New() (*Config, error) {
	return Load("")
}

// Load reads the configuration. An empty path searches ., ./config and
// $XDG_CONFIG_HOME/coderun for coderun.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("coderun")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "coderun"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}
	if c.Sandbox.DefaultTimeout <= 0 {
		return fmt.Errorf("sandbox.default_timeout must be positive, got: %s", c.Sandbox.DefaultTimeout)
	}
	if c.Sandbox.LoadTimeout <= 0 {
		return fmt.Errorf("sandbox.load_timeout must be positive, got: %s", c.Sandbox.LoadTimeout)
	}
	if c.Sandbox.MemoryMB < 0 {
		return fmt.Errorf("sandbox.memory_mb must not be negative, got: %d", c.Sandbox.MemoryMB)
	}
	for id, rt := range c.Runtimes {
		if rt.Timeout < 0 {
			return fmt.Errorf("runtimes.%s.timeout must not be negative, got: %s", id, rt.Timeout)
		}
	}
	if c.Server.RateLimitRPS < 0 || c.Server.Burst < 0 {
		return fmt.Errorf("server rate limit must not be negative")
	}
	if c.Server.MaxCodeBytes <= 0 {
		return fmt.Errorf("server.max_code_bytes must be positive, got: %d", c.Server.MaxCodeBytes)
	}
	if c.MCP.Transport != "stdio" && c.MCP.Transport != "http" {
		return fmt.Errorf("invalid mcp.transport: %s, must be 'stdio' or 'http'", c.MCP.Transport)
	}
	return nil
}

// Runtime returns the settings for a language id, zero if unset.
func (c *Config) Runtime(id string) RuntimeConfig {
	return c.Runtimes[id]
}

// Timeout is the default execution budget for id.
func (c *Config) Timeout(id string) time.Duration {
	if t := c.Runtimes[id].Timeout; t > 0 {
		return t
	}
	return c.Sandbox.DefaultTimeout
}
