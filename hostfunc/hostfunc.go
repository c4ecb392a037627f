package hostfunc

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Func is a host function callable from guest code. args is the decoded JSON
// object sent by the guest; the return value is encoded back as JSON.
type Func func(ctx context.Context, args map[string]any) (any, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy. Sessions clone the shared registry so
// per-session functions never leak into other sessions.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &Registry{funcs: make(map[string]Func, len(r.funcs))}
	for name, fn := range r.funcs {
		out.funcs[name] = fn
	}
	return out
}

// TimeNow reports the host wall clock in fractional Unix seconds.
func TimeNow(ctx context.Context, args map[string]any) (any, error) {
	return float64(time.Now().UnixNano()) / 1e9, nil
}
