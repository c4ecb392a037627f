package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/houyanchao/coderun/guest"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/sandbox"
)

// Sandboxed runs a language inside a guest frame. It exclusively owns zero or
// one manager.
type Sandboxed struct {
	desc    language.Descriptor
	factory guest.Factory
	samples Samples
	timeout time.Duration
	opts    Options
	log     *zap.Logger

	mu  sync.Mutex
	mgr *sandbox.Manager
}

// NewSandboxed returns a runner for desc whose frames host engines from
// factory. defaultTimeout applies unless opts overrides it.
func NewSandboxed(desc language.Descriptor, factory guest.Factory, samples Samples, defaultTimeout time.Duration, opts Options) *Sandboxed {
	timeout := defaultTimeout
	if opts.DefaultTimeout > 0 {
		timeout = opts.DefaultTimeout
	}
	return &Sandboxed{
		desc:    desc,
		factory: factory,
		samples: samples,
		timeout: timeout,
		opts:    opts,
		log:     opts.logger().With(zap.String("language", desc.ID)),
	}
}

func (r *Sandboxed) Language() string    { return r.desc.ID }
func (r *Sandboxed) DisplayName() string { return r.desc.DisplayName }
func (r *Sandboxed) Icon() string        { return r.desc.Icon }
func (r *Sandboxed) Placeholder() string { return r.samples.Placeholder }
func (r *Sandboxed) ExampleCode() string { return r.samples.Example }

func (r *Sandboxed) Initialize(ctx context.Context) error {
	r.manager()
	return nil
}

// manager returns the live manager, replacing one that has been destroyed.
func (r *Sandboxed) manager() *sandbox.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mgr == nil || r.mgr.State() == sandbox.StateDestroyed {
		r.mgr = sandbox.New(sandbox.Config{
			Language:       r.desc.ID,
			Factory:        r.factory,
			DefaultTimeout: r.timeout,
			LoadTimeout:    r.opts.LoadTimeout,
			Logger:         r.opts.Logger,
			Observer:       r.opts.Observer,
		})
	}
	return r.mgr
}

func (r *Sandboxed) Execute(ctx context.Context, code string, opts sandbox.Options) (res sandbox.Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("execute panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			msg := fmt.Sprintf("internal error: %v", p)
			opts.OnOutput.Emit(protocol.KindError, msg)
			res = sandbox.Result{Success: false, Duration: time.Since(start), Language: r.desc.ID, Error: msg}
		}
	}()

	if err := r.Initialize(ctx); err != nil {
		opts.OnOutput.Emit(protocol.KindError, err.Error())
		return sandbox.Result{Duration: time.Since(start), Language: r.desc.ID, Error: err.Error()}
	}
	res, err := r.manager().Run(ctx, code, opts)
	if errors.Is(err, sandbox.ErrDestroyed) {
		// cleaned up while this request waited its turn
		r.log.Debug("sandbox recycled under a queued request, retrying")
		return r.manager().Execute(ctx, code, opts)
	}
	if err != nil {
		opts.OnOutput.Emit(protocol.KindError, err.Error())
		return sandbox.Result{Duration: time.Since(start), Language: r.desc.ID, Error: err.Error()}
	}
	return res
}

// Suspect reports whether the current manager saw a timeout.
func (r *Sandboxed) Suspect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mgr != nil && r.mgr.Suspect()
}

func (r *Sandboxed) Cleanup() error {
	r.mu.Lock()
	mgr := r.mgr
	r.mgr = nil
	r.mu.Unlock()

	if mgr != nil {
		mgr.Destroy()
	}
	return nil
}
