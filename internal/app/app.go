// Package app wires configuration, the WASM executor and the language
// engines into a runner registry shared by the CLI, HTTP and MCP surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/houyanchao/coderun/config"
	"github.com/houyanchao/coderun/executor"
	"github.com/houyanchao/coderun/hostfunc"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/language/dataformat"
	"github.com/houyanchao/coderun/language/javascript"
	"github.com/houyanchao/coderun/language/lua"
	"github.com/houyanchao/coderun/language/markup"
	"github.com/houyanchao/coderun/language/python"
	"github.com/houyanchao/coderun/language/ruby"
	"github.com/houyanchao/coderun/language/sql"
	"github.com/houyanchao/coderun/language/typescript"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/runner"
	"github.com/houyanchao/coderun/sandbox"
)

// ErrUnsupported is returned for language ids with no registered runner.
var ErrUnsupported = errors.New("unsupported language")

// App is the assembled runtime.
type App struct {
	Registry *runner.Registry
	Executor *executor.Executor
	KV       *hostfunc.KV

	cfg *config.Config
	log *zap.Logger
}

// New builds every language whose engine is available. obs may be nil.
func New(cfg *config.Config, log *zap.Logger, obs sandbox.Observer) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var opts []executor.ExecutorOption
	opts = append(opts, executor.WithLogger(log.Named("executor")))
	if cfg.Sandbox.DiskCache {
		opts = append(opts, executor.WithDiskCache(cfg.Sandbox.CacheDir))
	}
	if cfg.Sandbox.MemoryMB > 0 {
		opts = append(opts, executor.WithMemoryLimit(executor.MemoryLimitPages(cfg.Sandbox.MemoryMB)))
	}
	exec, err := executor.New(hostfunc.NewRegistry(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	kvCfg := hostfunc.DefaultKVConfig()
	if cfg.Sandbox.KVMaxEntries > 0 {
		kvCfg.MaxEntries = cfg.Sandbox.KVMaxEntries
	}
	kv := hostfunc.NewKV(kvCfg)
	httpFn := hostfunc.NewHTTP(hostfunc.HTTPConfig{
		AllowedHosts: cfg.Sandbox.AllowedHosts,
		Retries:      hostfunc.DefaultHTTPRetries,
	})

	sessionOpts := []executor.SessionOption{
		executor.WithKV(kv),
		executor.WithHTTP(httpFn),
		executor.WithStartTimeout(cfg.Sandbox.LoadTimeout),
	}

	var table []language.Descriptor
	for _, d := range language.Table() {
		if cfg.Runtime(d.ID).Disabled {
			log.Debug("language disabled", zap.String("language", d.ID))
			continue
		}
		table = append(table, d)
	}

	reg := runner.Build(table, Factories(cfg, exec, sessionOpts...),
		runner.WithLogger(log),
		runner.WithRunnerOptions(func(d language.Descriptor) runner.Options {
			return runner.Options{
				Logger:         log.Named("runner"),
				Observer:       obs,
				DefaultTimeout: cfg.Timeout(d.ID),
				LoadTimeout:    cfg.Sandbox.LoadTimeout,
			}
		}))

	return &App{Registry: reg, Executor: exec, KV: kv, cfg: cfg, log: log}, nil
}

// Factories maps engine names from the descriptor table to constructors. The
// WASI interpreters are only offered when their module file exists.
func Factories(cfg *config.Config, exec *executor.Executor, opts ...executor.SessionOption) map[string]runner.Factory {
	f := map[string]runner.Factory{
		"gopher-lua":      lua.NewRunner,
		"sqlite":          sql.NewRunner,
		"goja":            javascript.NewRunner,
		"esbuild-goja":    typescript.NewRunner,
		"markup":          markup.NewRunner,
		"dataformat-json": dataformat.NewRunner,
		"dataformat-yaml": dataformat.NewRunner,
		"dataformat-toml": dataformat.NewRunner,
	}
	if path, ok := ModulePath(cfg, language.Python); ok {
		f["wasm-python"] = python.NewFactory(exec, path, opts...)
	}
	if path, ok := ModulePath(cfg, language.Ruby); ok {
		f["wasm-ruby"] = ruby.NewFactory(exec, path, opts...)
	}
	return f
}

// ModulePath resolves the interpreter binary for a WASI language: the
// configured path, or <id>.wasm in the cache directory where fetch puts it.
func ModulePath(cfg *config.Config, id string) (string, bool) {
	path := cfg.Runtime(id).Module
	if path == "" {
		path = filepath.Join(ModuleDir(cfg), id+".wasm")
	}
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// ModuleDir is where downloaded interpreter modules live.
func ModuleDir(cfg *config.Config) string {
	dir := cfg.Sandbox.CacheDir
	if dir == "" {
		dir = executor.DefaultCacheDir()
	}
	return filepath.Join(dir, "modules")
}

// Execute runs code on the runner for id. A runner whose execution timed out
// is recycled when the configuration asks for it.
func (a *App) Execute(ctx context.Context, id, code string, opts sandbox.Options) (sandbox.Result, error) {
	r, ok := a.Registry.Runner(id)
	if !ok {
		return sandbox.Result{}, fmt.Errorf("%w: %s", ErrUnsupported, id)
	}
	res := r.Execute(ctx, code, opts)
	if res.TimedOut && a.cfg.Sandbox.RecycleOnTimeout {
		a.log.Info("recycling sandbox after timeout", zap.String("language", id))
		if err := r.Cleanup(); err != nil {
			a.log.Warn("cleanup failed", zap.String("language", id), zap.Error(err))
		}
	}
	return res, nil
}

// Collect runs code and gathers its events, for callers that do not stream.
func (a *App) Collect(ctx context.Context, id, code string, opts sandbox.Options) (sandbox.Result, []protocol.Event, error) {
	var events []protocol.Event
	next := opts.OnOutput
	opts.OnOutput = func(ev protocol.Event) {
		events = append(events, ev)
		next.Emit(ev.Kind, ev.Data)
	}
	res, err := a.Execute(ctx, id, code, opts)
	return res, events, err
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Close() error {
	return errors.Join(a.Registry.Close(), a.Executor.Close())
}
