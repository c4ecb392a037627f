package guest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/houyanchao/coderun/protocol"
)

// ErrFrameClosed is returned by Post once the frame has shut down.
var ErrFrameClosed = errors.New("frame closed")

const outboxSize = 256

// Frame is an isolated execution context hosting one engine. The host talks to
// it only through encoded envelopes.
type Frame struct {
	ch     protocol.Channel
	engine Engine
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inbox  chan []byte
	outbox chan []byte
	done   chan struct{}

	closeOnce sync.Once
}

// Spawn starts a frame for engine on ch. The frame lives until Close is called
// or ctx is cancelled.
func Spawn(ctx context.Context, ch protocol.Channel, engine Engine, log *zap.Logger) *Frame {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	f := &Frame{
		ch:     ch,
		engine: engine,
		log:    log.With(zap.String("frame", ch.Language())),
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan []byte, 16),
		outbox: make(chan []byte, outboxSize),
		done:   make(chan struct{}),
	}
	go f.serve()
	return f
}

// Post delivers an encoded envelope to the frame.
func (f *Frame) Post(data []byte) error {
	select {
	case <-f.done:
		return ErrFrameClosed
	case <-f.ctx.Done():
		return ErrFrameClosed
	default:
	}
	select {
	case f.inbox <- data:
		return nil
	case <-f.done:
		return ErrFrameClosed
	case <-f.ctx.Done():
		return ErrFrameClosed
	}
}

// Messages returns the frame's outbound envelopes. The channel is closed when
// the frame exits.
func (f *Frame) Messages() <-chan []byte {
	return f.outbox
}

// Done is closed once the frame goroutine has exited.
func (f *Frame) Done() <-chan struct{} {
	return f.done
}

// Close cancels the frame context. Engines that observe cancellation stop
// promptly; the rest are abandoned and their output discarded.
func (f *Frame) Close() {
	f.closeOnce.Do(f.cancel)
}

func (f *Frame) serve() {
	defer close(f.done)
	defer close(f.outbox)
	defer func() {
		if err := f.engine.Close(); err != nil {
			f.log.Debug("engine close", zap.Error(err))
		}
	}()

	f.send(protocol.Loading{Message: fmt.Sprintf("Loading %s runtime...", f.ch.Language())})

	if err := f.boot(); err != nil {
		f.log.Warn("engine boot failed", zap.Error(err))
		f.send(protocol.Error{Message: err.Error()})
		return
	}
	f.send(protocol.Ready{})

	for {
		select {
		case <-f.ctx.Done():
			return
		case raw := <-f.inbox:
			msg, err := f.ch.Decode(raw)
			if err != nil {
				f.log.Debug("dropping inbound envelope", zap.Error(err))
				continue
			}
			exec, ok := msg.(protocol.Execute)
			if !ok {
				continue
			}
			f.execute(exec)
		}
	}
}

func (f *Frame) boot() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked during boot: %v", r)
		}
	}()
	return f.engine.Boot(f.ctx, func(msg string) {
		f.send(protocol.Loading{Message: msg})
	})
}

func (f *Frame) execute(exec protocol.Execute) {
	start := time.Now()

	emit := protocol.Sink(func(e protocol.Event) {
		f.send(protocol.Output{ID: exec.ID, Event: e})
	})

	err := f.eval(exec.Code, emit)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		msg := strings.TrimSpace(err.Error())
		f.send(protocol.Error{ID: exec.ID, Message: msg})
		f.send(protocol.Complete{ID: exec.ID, Success: false, Duration: elapsed, Error: msg})
		return
	}
	f.send(protocol.Complete{ID: exec.ID, Success: true, Duration: elapsed})
}

func (f *Frame) eval(code string, emit protocol.Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("engine panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return f.engine.Eval(f.ctx, code, emit)
}

// send encodes msg and queues it for the host. It gives up when the frame is
// cancelled so a stalled reader never pins the goroutine.
func (f *Frame) send(msg protocol.Message) {
	raw, err := f.ch.Encode(msg)
	if err != nil {
		f.log.Debug("dropping outbound message", zap.Stringer("type", msg.Type()), zap.Error(err))
		return
	}
	select {
	case f.outbox <- raw:
	case <-f.ctx.Done():
	}
}
