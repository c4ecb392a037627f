package executor

import (
	"time"

	"go.uber.org/zap"

	"github.com/houyanchao/coderun/hostfunc"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	precompile       []Language
	memoryLimitPages uint32 // 64KiB pages, 0 = wazero default (4GiB)
	logger           *zap.Logger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{}
}

// WithDiskCache enables the persistent compilation cache. Without a directory
// it uses $XDG_CACHE_HOME/coderun or ~/.cache/coderun.
//
//	executor.New(registry, executor.WithDiskCache())
//	executor.New(registry, executor.WithDiskCache("/tmp/cache"))
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithPrecompile compiles the given languages when the Executor is created
// instead of on first session.
func WithPrecompile(langs ...Language) ExecutorOption {
	return func(c *executorConfig) {
		c.precompile = langs
	}
}

// WithMemoryLimit caps guest memory, in 64KiB pages.
//   - WithMemoryLimit(MemoryLimit64MB)
//   - WithMemoryLimit(MemoryLimit256MB)
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

func WithLogger(log *zap.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = log
	}
}

const (
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
	MemoryLimit1GB   uint32 = 16384
)

// MemoryLimitPages converts megabytes to wasm pages.
func MemoryLimitPages(mb int) uint32 {
	if mb <= 0 {
		return 0
	}
	return uint32(mb) * 16
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	startTimeout time.Duration
	kv           *hostfunc.KV
	http         *hostfunc.HTTP
	progress     func(string)
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		startTimeout: 30 * time.Second,
	}
}

// WithStartTimeout bounds how long NewSession waits for the guest's ready
// frame.
func WithStartTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.startTimeout = d
	}
}

// WithKV exposes kv to the guest. Share one store between sessions to keep
// values across recycles.
func WithKV(kv *hostfunc.KV) SessionOption {
	return func(c *sessionConfig) {
		c.kv = kv
	}
}

// WithHTTP exposes http_request to the guest.
func WithHTTP(h *hostfunc.HTTP) SessionOption {
	return func(c *sessionConfig) {
		c.http = h
	}
}

// WithProgress receives the guest's loading frames during startup.
func WithProgress(fn func(string)) SessionOption {
	return func(c *sessionConfig) {
		c.progress = fn
	}
}
