package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/houyanchao/coderun/hostfunc"
	"github.com/houyanchao/coderun/protocol"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSessionBusy   = errors.New("session busy")
	ErrStartTimeout  = errors.New("session start timeout")
)

// GuestError is a failure reported by the guest for the code it ran, as
// opposed to a failure of the session itself.
type GuestError struct {
	Message string
}

func (e *GuestError) Error() string { return e.Message }

// Session is a long-lived guest instance. State defined by one Run is visible
// to the next.
type Session struct {
	exec     *Executor
	lang     Language
	cfg      sessionConfig
	registry *hostfunc.Registry
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	stdin       *io.PipeWriter
	stdinReader *io.PipeReader
	stdout      *lineWriter
	frames      *frameScanner
	sink        *sinkRef

	exited  chan struct{}
	exitErr error

	mu     sync.Mutex
	execMu sync.Mutex
	closed bool
}

// NewSession starts lang and blocks until the guest reports ready, ctx ends or
// the start timeout passes.
func (e *Executor) NewSession(ctx context.Context, lang Language, opts ...SessionOption) (*Session, error) {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	compiled, err := e.getCompiled(ctx, lang)
	if err != nil {
		return nil, err
	}

	registry := e.registry.Clone()
	registry.Register("time_now", hostfunc.TimeNow)
	if cfg.kv != nil {
		cfg.kv.Bind(registry)
	}
	if cfg.http != nil {
		cfg.http.Bind(registry)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		exec:     e,
		lang:     lang,
		cfg:      cfg,
		registry: registry,
		log:      e.log.With(zap.String("language", lang.Name())),
		ctx:      sessCtx,
		cancel:   cancel,
		sink:     &sinkRef{},
		exited:   make(chan struct{}),
	}
	s.stdinReader, s.stdin = io.Pipe()
	s.stdout = newLineWriter(protocol.KindLog, s.sink)
	s.frames = newFrameScanner(sessCtx, registry, s.stdin, s.stdout, s.sink, s.log)
	s.frames.progress = cfg.progress

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(s.stdout).
		WithStderr(s.frames).
		WithStdin(s.stdinReader).
		WithArgs(lang.Args()...).
		WithSysWalltime().
		WithSysNanotime().
		WithName("")

	for k, v := range lang.Env() {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	go func() {
		_, err := e.runtime.InstantiateModule(sessCtx, compiled, moduleConfig)
		s.exitErr = err
		close(s.exited)
	}()

	timer := time.NewTimer(cfg.startTimeout)
	defer timer.Stop()

	select {
	case <-s.frames.Ready():
		s.log.Debug("session ready", zap.Strings("host_functions", registry.List()))
		return s, nil
	case <-s.exited:
		s.Close()
		if s.exitErr != nil {
			return nil, fmt.Errorf("start %s: guest exited: %w", lang.Name(), s.exitErr)
		}
		return nil, fmt.Errorf("start %s: guest exited before ready", lang.Name())
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	case <-timer.C:
		s.Close()
		return nil, fmt.Errorf("start %s: %w", lang.Name(), ErrStartTimeout)
	}
}

// Run sends code to the guest and blocks until it reports completion. Output
// is delivered to emit while Run is in progress. Cancelling ctx closes the
// session.
//
// A failure of the user's code is returned as *GuestError; any other error
// means the session is unusable.
func (s *Session) Run(ctx context.Context, code string, emit protocol.Sink) error {
	if !s.execMu.TryLock() {
		return ErrSessionBusy
	}
	defer s.execMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	done := s.frames.begin()
	s.sink.set(emit)
	defer s.sink.set(nil)

	cmd, err := sonic.Marshal(execCommand{Type: "exec", Code: code})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if err := s.frames.writeLine(cmd); err != nil {
		return fmt.Errorf("%w: write command: %v", ErrSessionClosed, err)
	}

	select {
	case res := <-done:
		if res.err != "" {
			return &GuestError{Message: res.err}
		}
		return nil
	case <-s.exited:
		if s.exitErr != nil {
			return fmt.Errorf("%w: guest exited: %v", ErrSessionClosed, s.exitErr)
		}
		return fmt.Errorf("%w: guest exited", ErrSessionClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the guest. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// Cancelling closes the module; closing the pipes unblocks a guest
	// waiting on stdin and a host waiting to write to it.
	s.cancel()
	if s.stdinReader != nil {
		s.stdinReader.Close()
	}
	if s.stdin != nil {
		s.stdin.Close()
	}
	return nil
}

// Done is closed when the guest process has exited.
func (s *Session) Done() <-chan struct{} {
	return s.exited
}
