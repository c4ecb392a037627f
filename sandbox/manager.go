package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/houyanchao/coderun/guest"
	"github.com/houyanchao/coderun/protocol"
)

// Config describes the guest a Manager runs.
type Config struct {
	Language string
	Factory  guest.Factory
	// DefaultTimeout applies to requests without their own timeout.
	DefaultTimeout time.Duration
	// LoadTimeout bounds the wait for READY. A guest that misses it is treated
	// as a bootstrap failure.
	LoadTimeout time.Duration
	Logger      *zap.Logger
	Observer    Observer
}

// Manager owns one guest frame and drives its protocol state machine.
//
// Requests are serialized: a second Execute waits for the first to resolve.
// A timed out execution leaves the guest running; the manager reports
// Suspect() and keeps serving, and whether to Destroy it is up to the caller.
// A manager holds at most one frame over its lifetime and cannot be restarted
// once destroyed or broken.
type Manager struct {
	cfg Config
	ch  protocol.Channel
	log *zap.Logger
	obs Observer

	ctx       context.Context
	cancel    context.CancelFunc
	slot      chan struct{}
	destroyed chan struct{}

	mu      sync.Mutex
	state   State
	frame   *guest.Frame
	booted  chan struct{}
	bootErr error
	ready   bool
	suspect bool
	current *execution
}

// New returns a manager in the Uninitialized state. No guest is started until
// the first Execute.
func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		ch:        protocol.NewChannel(cfg.Language),
		log:       log.With(zap.String("language", cfg.Language)),
		obs:       obs,
		ctx:       ctx,
		cancel:    cancel,
		slot:      make(chan struct{}, 1),
		destroyed: make(chan struct{}),
	}
}

func (m *Manager) Language() string { return m.cfg.Language }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Suspect reports whether an execution has timed out on this manager. The
// guest may still be busy with it.
func (m *Manager) Suspect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspect
}

// Broken reports whether the guest runtime failed to load.
func (m *Manager) Broken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bootErr != nil
}

// Execute runs code in the guest and returns its outcome. It never panics and
// never returns without a Result; every failure is reported through the Result
// and an error event on opts.OnOutput.
func (m *Manager) Execute(ctx context.Context, code string, opts Options) Result {
	start := time.Now()
	res, err := m.Run(ctx, code, opts)
	if err != nil {
		return m.reject(opts.OnOutput, start, err.Error())
	}
	return res
}

// Run is Execute for callers able to take a request elsewhere. A request
// turned away because the manager was destroyed before it was dispatched
// returns ErrDestroyed and has reached neither the sink nor the observer.
// Every other outcome is reported as by Execute.
func (m *Manager) Run(ctx context.Context, code string, opts Options) (Result, error) {
	start := time.Now()

	select {
	case m.slot <- struct{}{}:
	case <-m.destroyed:
		return Result{}, ErrDestroyed
	case <-ctx.Done():
		return m.reject(opts.OnOutput, start, ctx.Err().Error()), nil
	}
	defer func() { <-m.slot }()

	exec := newExecution(uuid.NewString(), opts.OnOutput)
	frame, booted, err := m.attach(exec)
	if errors.Is(err, ErrDestroyed) {
		exec.stop()
		return Result{}, ErrDestroyed
	}
	if err != nil {
		exec.fail(err.Error())
		return m.result(exec, start, nil), nil
	}
	defer m.detach(exec)

	if err := m.awaitReady(ctx, booted); err != nil {
		exec.fail(err.Error())
		return m.result(exec, start, nil), nil
	}

	timeout := m.timeout(opts)
	raw, err := m.ch.Encode(protocol.Execute{ID: exec.id, Code: code})
	if err != nil {
		exec.fail(err.Error())
		return m.result(exec, start, nil), nil
	}

	m.setState(StateExecuting)
	dispatched := time.Now()
	if err := frame.Post(raw); err != nil {
		exec.fail("sandbox exited")
		return m.result(exec, dispatched, nil), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exec.signal:
		// the guest answered; its output may still be on its way to the sink
		return m.result(exec, dispatched, timer.C), nil
	case <-timer.C:
		if exec.finish(outcome{err: ErrTimeout.Error(), timedOut: true},
			protocol.Event{Kind: protocol.KindError, Data: fmt.Sprintf("Execution timed out after %s", timeout)}) {
			m.mu.Lock()
			m.suspect = true
			m.mu.Unlock()
			m.log.Warn("execution timed out, guest may still be running",
				zap.String("id", exec.id), zap.Duration("timeout", timeout))
		}
	case <-ctx.Done():
		exec.fail(ctx.Err().Error())
	case <-m.destroyed:
		exec.fail(ErrDestroyed.Error())
	}

	return m.result(exec, dispatched, nil), nil
}

// Destroy tears down the guest frame and fails any execution in flight. The
// manager is terminal afterwards.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return
	}
	m.state = StateDestroyed
	frame := m.frame
	m.mu.Unlock()

	close(m.destroyed)
	m.cancel()
	if frame != nil {
		frame.Close()
		m.obs.SandboxStopped(m.cfg.Language)
	}
	m.log.Debug("sandbox destroyed")
}

// attach makes exec the current execution, spawning the frame on first use.
func (m *Manager) attach(exec *execution) (*guest.Frame, chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDestroyed {
		return nil, nil, ErrDestroyed
	}
	if m.bootErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBootFailed, m.bootErr)
	}

	if m.frame == nil {
		engine, err := m.cfg.Factory()
		if err != nil {
			m.bootErr = err
			m.state = StateFailed
			m.log.Warn("engine construction failed", zap.Error(err))
			return nil, nil, fmt.Errorf("%w: %v", ErrBootFailed, err)
		}
		m.booted = make(chan struct{})
		m.frame = guest.Spawn(m.ctx, m.ch, engine, m.log)
		m.state = StateLoading
		m.obs.SandboxStarted(m.cfg.Language)
		go m.pump(m.frame, m.booted, time.Now())
	}

	m.current = exec
	return m.frame, m.booted, nil
}

func (m *Manager) detach(exec *execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == exec {
		m.current = nil
	}
}

func (m *Manager) awaitReady(ctx context.Context, booted <-chan struct{}) error {
	timeout := m.cfg.LoadTimeout
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-booted:
		m.mu.Lock()
		err := m.bootErr
		m.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBootFailed, err)
		}
		return nil
	case <-timer.C:
		err := fmt.Errorf("runtime not ready after %s", timeout)
		m.markBroken(err)
		return fmt.Errorf("%w: %v", ErrBootFailed, err)
	case <-ctx.Done():
		return ctx.Err()
	case <-m.destroyed:
		return ErrDestroyed
	}
}

func (m *Manager) markBroken(err error) {
	m.mu.Lock()
	if m.bootErr == nil {
		m.bootErr = err
	}
	if m.state != StateDestroyed {
		m.state = StateFailed
	}
	frame := m.frame
	m.mu.Unlock()

	m.log.Warn("sandbox failed to load", zap.Error(err))
	if frame != nil {
		frame.Close()
	}
}

func (m *Manager) timeout(opts Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if m.cfg.DefaultTimeout > 0 {
		return m.cfg.DefaultTimeout
	}
	return DefaultTimeout
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDestroyed {
		m.state = s
	}
}

// reject answers a request that never got an execution slot.
func (m *Manager) reject(sink protocol.Sink, start time.Time, msg string) Result {
	sink.Emit(protocol.KindError, msg)
	r := Result{
		Success:  false,
		Duration: time.Since(start),
		Language: m.cfg.Language,
		Error:    msg,
	}
	m.obs.ExecutionFinished(m.cfg.Language, r)
	return r
}

// result waits for exec's events to reach the sink, then reports its outcome.
// deadline bounds the wait; nil means FlushGrace. A sink still busy at the
// deadline keeps the event it holds and loses the rest.
func (m *Manager) result(exec *execution, since time.Time, deadline <-chan time.Time) Result {
	m.flush(exec, deadline)

	o := exec.result()
	r := Result{
		Success:  o.success,
		Duration: time.Since(since),
		Language: m.cfg.Language,
		Error:    o.err,
		TimedOut: o.timedOut,
		ID:       exec.id,
	}
	if !r.Success && r.Error == "" {
		r.Error = "execution failed"
	}

	switch {
	case m.Broken():
	case r.Success:
		m.setState(StateCompleted)
	default:
		m.setState(StateFailed)
	}
	m.obs.ExecutionFinished(m.cfg.Language, r)

	// a finished execution leaves the guest ready for the next one, unless it
	// never answered
	if !m.Broken() && !r.TimedOut && m.hasFrame() {
		m.setState(StateReady)
	}
	return r
}

func (m *Manager) flush(exec *execution, deadline <-chan time.Time) {
	if deadline == nil {
		t := time.NewTimer(FlushGrace)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-exec.drained:
		return
	case <-deadline:
	}
	exec.stop()
	m.log.Warn("output sink is not keeping up, dropping undelivered events", zap.String("id", exec.id))
}

func (m *Manager) hasFrame() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame != nil && m.ready
}

// pump decodes everything the frame sends and routes it to the current
// execution. Messages for any other execution are protocol violations.
func (m *Manager) pump(frame *guest.Frame, booted chan struct{}, started time.Time) {
	var once sync.Once
	signal := func() { once.Do(func() { close(booted) }) }

	for raw := range frame.Messages() {
		msg, err := m.ch.Decode(raw)
		if err != nil {
			m.violation("undecodable envelope", zap.Error(err))
			continue
		}
		m.route(msg, signal, started)
	}

	m.mu.Lock()
	if !m.ready && m.bootErr == nil && m.state != StateDestroyed {
		m.bootErr = errors.New("runtime exited while loading")
		m.state = StateFailed
	}
	cur := m.current
	var reason string
	switch {
	case m.state == StateDestroyed:
		reason = ErrDestroyed.Error()
	case m.bootErr != nil:
		reason = fmt.Errorf("%w: %v", ErrBootFailed, m.bootErr).Error()
	default:
		reason = "sandbox exited"
	}
	m.mu.Unlock()

	signal()
	if cur != nil {
		cur.fail(reason)
	}
}

func (m *Manager) route(msg protocol.Message, signal func(), started time.Time) {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return
	}
	cur := m.current
	m.mu.Unlock()

	switch v := msg.(type) {
	case protocol.Loading:
		m.log.Debug("guest loading", zap.String("message", v.Message))
		if cur != nil {
			cur.emit(protocol.Event{Kind: protocol.KindInfo, Data: v.Message})
		}

	case protocol.Ready:
		m.mu.Lock()
		first := !m.ready
		m.ready = true
		if m.state == StateLoading {
			m.state = StateReady
		}
		m.mu.Unlock()
		if first {
			m.log.Info("sandbox ready", zap.Duration("load", time.Since(started)))
		}
		signal()

	case protocol.Error:
		if v.ID == "" {
			m.mu.Lock()
			loading := !m.ready
			m.mu.Unlock()
			if loading {
				m.markBroken(errors.New(v.Message))
				signal()
				return
			}
			if cur != nil && cur.emit(protocol.Event{Kind: protocol.KindError, Data: v.Message}) {
				return
			}
			m.violation("unattributed error", zap.String("message", v.Message))
			return
		}
		if cur == nil || cur.id != v.ID || !cur.emit(protocol.Event{Kind: protocol.KindError, Data: v.Message}) {
			m.violation("error for inactive execution", zap.String("id", v.ID))
		}

	case protocol.Output:
		if cur == nil || cur.id != v.ID || !cur.emit(v.Event) {
			m.violation("output for inactive execution", zap.String("id", v.ID))
		}

	case protocol.Complete:
		if cur == nil || cur.id != v.ID || !cur.finish(outcome{success: v.Success, err: v.Error}) {
			m.violation("completion for inactive execution", zap.String("id", v.ID))
		}

	default:
		m.violation("unexpected message", zap.Stringer("type", msg.Type()))
	}
}

func (m *Manager) violation(reason string, fields ...zap.Field) {
	m.obs.ProtocolViolation(m.cfg.Language)
	m.log.Debug("dropping message: "+reason, fields...)
}
