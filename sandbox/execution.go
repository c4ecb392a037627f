package sandbox

import (
	"sync"

	"github.com/houyanchao/coderun/protocol"
)

type outcome struct {
	success  bool
	err      string
	timedOut bool
}

// execution is one request in flight. Events are queued under mu and handed
// to the sink by a goroutine of their own, so a slow sink never holds up the
// pump or the outcome. Nothing is queued once the execution has finished, and
// nothing queued is delivered after stop.
type execution struct {
	id      string
	sink    protocol.Sink
	signal  chan struct{}
	drained chan struct{}
	wake    chan struct{}

	mu       sync.Mutex
	finished bool
	stopped  bool
	pending  []protocol.Event
	out      outcome
}

func newExecution(id string, sink protocol.Sink) *execution {
	e := &execution{
		id:      id,
		sink:    sink,
		signal:  make(chan struct{}),
		drained: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
	go e.deliverLoop()
	return e
}

// emit queues ev unless the execution has finished.
func (e *execution) emit(ev protocol.Event) bool {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return false
	}
	e.pending = append(e.pending, ev)
	e.mu.Unlock()
	e.poke()
	return true
}

// finish records the outcome after queueing last. It reports false if the
// execution had already finished, in which case nothing is queued.
func (e *execution) finish(o outcome, last ...protocol.Event) bool {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return false
	}
	e.pending = append(e.pending, last...)
	e.finished = true
	e.out = o
	e.mu.Unlock()

	e.poke()
	close(e.signal)
	return true
}

func (e *execution) fail(msg string) bool {
	return e.finish(outcome{err: msg}, protocol.Event{Kind: protocol.KindError, Data: msg})
}

// stop drops whatever has not been handed to the sink yet.
func (e *execution) stop() {
	e.mu.Lock()
	e.stopped = true
	e.pending = nil
	e.mu.Unlock()
	e.poke()
}

func (e *execution) result() outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

func (e *execution) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// deliverLoop hands queued events to the sink in order. It exits once the
// execution is finished and its queue is empty, or when stopped; drained is
// closed on exit.
func (e *execution) deliverLoop() {
	defer close(e.drained)
	for {
		e.mu.Lock()
		switch {
		case e.stopped:
			e.mu.Unlock()
			return
		case len(e.pending) > 0:
			ev := e.pending[0]
			e.pending = e.pending[1:]
			e.mu.Unlock()
			e.deliver(ev)
			continue
		case e.finished:
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
		<-e.wake
	}
}

// deliver calls the sink. A panicking sink loses the event, not the loop.
func (e *execution) deliver(ev protocol.Event) {
	if e.sink == nil {
		return
	}
	defer func() { _ = recover() }()
	e.sink(ev)
}
