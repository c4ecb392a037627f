// Package wasi hosts interpreters compiled to WASI inside guest frames.
//
// The interpreter binary is read from disk when the executor first compiles
// it. A prelude script passed on the command line runs the session loop: it
// reads exec commands from stdin and answers with CODERUN frames on stderr.
package wasi

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/houyanchao/coderun/executor"
	"github.com/houyanchao/coderun/guest"
	"github.com/houyanchao/coderun/protocol"
)

// ErrNoModule is returned when no interpreter path is configured.
var ErrNoModule = errors.New("interpreter module not configured")

// Module is an interpreter binary plus the prelude that drives it.
type Module struct {
	// ID doubles as the compilation cache key.
	ID   string
	Path string
	// Argv is the guest command line; the prelude is appended last.
	Argv    []string
	Prelude string
	Vars    map[string]string
}

func (m *Module) Name() string { return m.ID }

func (m *Module) Module() ([]byte, error) {
	if m.Path == "" {
		return nil, fmt.Errorf("%s: %w", m.ID, ErrNoModule)
	}
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s interpreter: %w", m.ID, err)
	}
	return data, nil
}

func (m *Module) Args() []string {
	args := make([]string, 0, len(m.Argv)+1)
	args = append(args, m.Argv...)
	return append(args, m.Prelude)
}

func (m *Module) Env() map[string]string { return m.Vars }

// Engine runs one executor session for the lifetime of a frame.
type Engine struct {
	exec *executor.Executor
	lang executor.Language
	opts []executor.SessionOption

	sess *executor.Session
}

// NewFactory returns a guest.Factory whose engines run lang on exec.
func NewFactory(exec *executor.Executor, lang executor.Language, opts ...executor.SessionOption) guest.Factory {
	return func() (guest.Engine, error) {
		if exec == nil {
			return nil, errors.New("no executor available")
		}
		return &Engine{exec: exec, lang: lang, opts: opts}, nil
	}
}

func (e *Engine) Boot(ctx context.Context, progress func(string)) error {
	progress("Compiling " + e.lang.Name() + " interpreter...")
	opts := append(append([]executor.SessionOption{}, e.opts...), executor.WithProgress(progress))
	sess, err := e.exec.NewSession(ctx, e.lang, opts...)
	if err != nil {
		return err
	}
	e.sess = sess
	return nil
}

func (e *Engine) Eval(ctx context.Context, code string, emit protocol.Sink) error {
	err := e.sess.Run(ctx, code, emit)
	var guestErr *executor.GuestError
	if errors.As(err, &guestErr) {
		// already positioned by the prelude
		return errors.New(guestErr.Message)
	}
	return err
}

func (e *Engine) Close() error {
	if e.sess == nil {
		return nil
	}
	return e.sess.Close()
}
