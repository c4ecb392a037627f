// Package runner is the per-language facade callers execute code through.
//
// Every supported language has exactly one live [Runner] in a [Registry].
// Sandboxed runners own a lazily created [sandbox.Manager]; direct runners
// render synchronously in the caller's goroutine. Either way Execute always
// returns a Result and never panics.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/sandbox"
)

// Runner is the uniform contract every language implements.
type Runner interface {
	Language() string
	DisplayName() string
	Icon() string
	// Initialize is idempotent. For sandboxed runners it only constructs the
	// manager; the guest boots on first Execute.
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, code string, opts sandbox.Options) sandbox.Result
	// Cleanup releases the manager, if any. It is safe to call at any time.
	Cleanup() error
	Placeholder() string
	ExampleCode() string
}

// Samples are the static texts a runner shows in an empty editor.
type Samples struct {
	Placeholder string
	Example     string
}

// Options carry host settings into a Factory.
type Options struct {
	Logger   *zap.Logger
	Observer sandbox.Observer
	// DefaultTimeout overrides the language's own default when set.
	DefaultTimeout time.Duration
	LoadTimeout    time.Duration
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Factory builds the runner for desc. A Factory that returns an error leaves
// the language unsupported.
type Factory func(desc language.Descriptor, opts Options) (Runner, error)
