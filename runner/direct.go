package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/sandbox"
)

// Renderer processes a document locally. A returned error is shown to the
// user as-is, so it should carry its own position information.
type Renderer interface {
	Render(ctx context.Context, code string, emit protocol.Sink) error
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(ctx context.Context, code string, emit protocol.Sink) error

func (f RenderFunc) Render(ctx context.Context, code string, emit protocol.Sink) error {
	return f(ctx, code, emit)
}

// Direct runs a Renderer synchronously with no isolation and no bootstrap.
type Direct struct {
	desc     language.Descriptor
	renderer Renderer
	samples  Samples
	log      *zap.Logger
	obs      sandbox.Observer
}

func NewDirect(desc language.Descriptor, renderer Renderer, samples Samples, opts Options) *Direct {
	return &Direct{
		desc:     desc,
		renderer: renderer,
		samples:  samples,
		log:      opts.logger().With(zap.String("language", desc.ID)),
		obs:      opts.Observer,
	}
}

func (r *Direct) Language() string                 { return r.desc.ID }
func (r *Direct) DisplayName() string              { return r.desc.DisplayName }
func (r *Direct) Icon() string                     { return r.desc.Icon }
func (r *Direct) Placeholder() string              { return r.samples.Placeholder }
func (r *Direct) ExampleCode() string              { return r.samples.Example }
func (r *Direct) Initialize(context.Context) error { return nil }
func (r *Direct) Cleanup() error                   { return nil }

func (r *Direct) Execute(ctx context.Context, code string, opts sandbox.Options) sandbox.Result {
	start := time.Now()
	err := r.render(ctx, code, opts.OnOutput)

	res := sandbox.Result{
		Success:  err == nil,
		Duration: time.Since(start),
		Language: r.desc.ID,
	}
	if err != nil {
		res.Error = err.Error()
		opts.OnOutput.Emit(protocol.KindError, res.Error)
	}
	if r.obs != nil {
		r.obs.ExecutionFinished(r.desc.ID, res)
	}
	return res
}

func (r *Direct) render(ctx context.Context, code string, emit protocol.Sink) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("render panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.renderer.Render(ctx, code, emit)
}
