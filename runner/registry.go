package runner

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/houyanchao/coderun/language"
)

// Info is the listing entry for one supported language.
type Info struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon"`
	Extension string `json:"extension,omitempty"`
}

// Registry maps language ids to their live runners. It holds no execution
// state of its own.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	logger  *zap.Logger
	options func(language.Descriptor) Options
}

func WithLogger(log *zap.Logger) BuildOption {
	return func(c *buildConfig) {
		c.logger = log
	}
}

// WithRunnerOptions supplies per-language factory options.
func WithRunnerOptions(fn func(language.Descriptor) Options) BuildOption {
	return func(c *buildConfig) {
		c.options = fn
	}
}

// Build creates one runner per descriptor using the factory registered under
// its Engine name. Descriptors without a factory, or whose factory fails, are
// left out; that is not an error.
func Build(table []language.Descriptor, factories map[string]Factory, opts ...BuildOption) *Registry {
	cfg := buildConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := NewRegistry()
	for _, desc := range table {
		factory, ok := factories[desc.Engine]
		if !ok {
			cfg.logger.Debug("no factory for language", zap.String("language", desc.ID), zap.String("engine", desc.Engine))
			continue
		}
		var ropts Options
		if cfg.options != nil {
			ropts = cfg.options(desc)
		}
		r, err := factory(desc, ropts)
		if err != nil {
			cfg.logger.Debug("language unavailable", zap.String("language", desc.ID), zap.Error(err))
			continue
		}
		reg.Register(desc.ID, r)
	}
	return reg
}

// Runner returns the runner for id.
func (r *Registry) Runner(id string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runners[id]
	return rn, ok
}

func (r *Registry) IsSupported(id string) bool {
	_, ok := r.Runner(id)
	return ok
}

// Register inserts or replaces the runner for id. A replaced runner is not
// cleaned up. A nil runner is ignored.
func (r *Registry) Register(id string, rn Runner) {
	if rn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runners[id]; !exists {
		r.order = append(r.order, id)
	}
	r.runners[id] = rn
}

// SupportedLanguages lists registered languages in registration order.
func (r *Registry) SupportedLanguages() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		rn := r.runners[id]
		info := Info{ID: id, Name: rn.DisplayName(), Icon: rn.Icon()}
		if desc, ok := language.Lookup(id); ok {
			info.Extension = desc.FileExtension
		}
		out = append(out, info)
	}
	return out
}

// Close cleans up every runner.
func (r *Registry) Close() error {
	r.mu.RLock()
	runners := make([]Runner, 0, len(r.runners))
	for _, id := range r.order {
		runners = append(runners, r.runners[id])
	}
	r.mu.RUnlock()

	var errs []error
	for _, rn := range runners {
		if err := rn.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", rn.Language(), err))
		}
	}
	return errors.Join(errs...)
}
