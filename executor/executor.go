package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/houyanchao/coderun/hostfunc"
)

// ErrClosed is returned when an Executor is used after Close.
var ErrClosed = errors.New("executor closed")

// Executor manages the wazero runtime and compiled module cache shared by all
// sessions.
type Executor struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled map[string]wazero.CompiledModule
	registry *hostfunc.Registry
	log      *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// New creates an Executor. Functions in registry are available to every
// session.
func New(registry *hostfunc.Registry, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if registry == nil {
		registry = hostfunc.NewRegistry()
	}

	ctx := context.Background()
	cache, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	rt, err := newRuntime(ctx, cfg, cache)
	if err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		return nil, err
	}

	e := &Executor{
		runtime:  rt,
		cache:    cache,
		compiled: make(map[string]wazero.CompiledModule),
		registry: registry,
		log:      cfg.logger,
	}
	for _, lang := range cfg.precompile {
		if _, err := e.getCompiled(ctx, lang); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile %s: %w", lang.Name(), err)
		}
	}
	return e, nil
}

// openCache returns the on-disk compilation cache, or nil when disabled.
func openCache(cfg executorConfig) (wazero.CompilationCache, error) {
	if !cfg.diskCache {
		return nil, nil
	}
	dir := cfg.cacheDir
	if dir == "" {
		dir = DefaultCacheDir()
	}
	cache, err := wazero.NewCompilationCacheWithDir(dir)
	if err != nil {
		return nil, fmt.Errorf("create disk cache in %s: %w", dir, err)
	}
	return cache, nil
}

func newRuntime(ctx context.Context, cfg executorConfig, cache wazero.CompilationCache) (wazero.Runtime, error) {
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rc = rc.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rc)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	return rt, nil
}

// getCompiled returns the compiled module for lang, compiling it on first use.
// Compilation happens under the write lock so each module compiles once.
func (e *Executor) getCompiled(ctx context.Context, lang Language) (wazero.CompiledModule, error) {
	name := lang.Name()

	e.mu.RLock()
	compiled, ok := e.compiled[name]
	closed := e.closed
	e.mu.RUnlock()
	switch {
	case closed:
		return nil, ErrClosed
	case ok:
		return compiled, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if compiled, ok := e.compiled[name]; ok {
		return compiled, nil
	}

	module, err := lang.Module()
	if err != nil {
		return nil, fmt.Errorf("load %s module: %w", name, err)
	}
	started := time.Now()
	compiled, err = e.runtime.CompileModule(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	e.log.Debug("compiled guest module",
		zap.String("language", name),
		zap.Int("bytes", len(module)),
		zap.Duration("took", time.Since(started)))
	e.compiled[name] = compiled
	return compiled, nil
}

// Close releases all resources held by the Executor. Running sessions are
// terminated.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()

	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultCacheDir is where compiled modules and downloaded guest modules
// live unless configured otherwise.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "coderun")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "coderun")
	}
	return filepath.Join(os.TempDir(), "coderun-cache")
}
