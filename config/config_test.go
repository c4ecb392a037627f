package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Mode: "production", Level: "info"},
		Sandbox: SandboxConfig{DefaultTimeout: 10 * time.Second, LoadTimeout: time.Minute, MemoryMB: 256},
		Server:  ServerConfig{Addr: ":8080", RateLimitRPS: 10, Burst: 20, MaxCodeBytes: 1024},
		MCP:     MCPConfig{Transport: "stdio"},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"InvalidLoggingMode", func(c *Config) { c.Logging.Mode = "loud" }, "invalid logging.mode"},
		{"ZeroTimeout", func(c *Config) { c.Sandbox.DefaultTimeout = 0 }, "sandbox.default_timeout"},
		{"ZeroLoadTimeout", func(c *Config) { c.Sandbox.LoadTimeout = 0 }, "sandbox.load_timeout"},
		{"NegativeMemory", func(c *Config) { c.Sandbox.MemoryMB = -1 }, "sandbox.memory_mb"},
		{"NegativeRuntimeTimeout", func(c *Config) {
			c.Runtimes = map[string]RuntimeConfig{"lua": {Timeout: -time.Second}}
		}, "runtimes.lua.timeout"},
		{"NegativeRate", func(c *Config) { c.Server.RateLimitRPS = -1 }, "rate limit"},
		{"ZeroCodeSize", func(c *Config) { c.Server.MaxCodeBytes = 0 }, "server.max_code_bytes"},
		{"InvalidMCPTransport", func(c *Config) { c.MCP.Transport = "carrier-pigeon" }, "invalid mcp.transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Logging.Mode)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.DefaultTimeout)
	assert.Equal(t, time.Minute, cfg.Sandbox.LoadTimeout)
	assert.True(t, cfg.Sandbox.RecycleOnTimeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "stdio", cfg.MCP.Transport)

	assert.Equal(t, 30*time.Second, cfg.Timeout("python"))
	assert.Equal(t, 10*time.Second, cfg.Timeout("lua"))
	assert.Equal(t, 10*time.Second, cfg.Timeout("cobol"))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  mode: development
  level: debug
sandbox:
  default_timeout: 3s
runtimes:
  python:
    module: /opt/python.wasm
  sql:
    disabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Logging.Mode)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.DefaultTimeout)
	assert.Equal(t, "/opt/python.wasm", cfg.Runtime("python").Module)
	assert.True(t, cfg.Runtime("sql").Disabled)
	assert.Equal(t, 3*time.Second, cfg.Timeout("lua"))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CODERUN_SANDBOX_DEFAULT_TIMEOUT", "7s")
	t.Setenv("CODERUN_RUNTIMES_RUBY_MODULE", "/opt/ruby.wasm")
	t.Setenv("CODERUN_SERVER_ADDR", "127.0.0.1:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Sandbox.DefaultTimeout)
	assert.Equal(t, "/opt/ruby.wasm", cfg.Runtime("ruby").Module)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CODERUN_LOGGING_LEVEL=warn\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("CODERUN_LOGGING_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CODERUN_LOGGING_MODE", "chatty")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation error")
}
