package sandbox

import (
	"errors"
	"time"

	"github.com/houyanchao/coderun/protocol"
)

var (
	// ErrDestroyed is reported for calls on a manager after Destroy.
	ErrDestroyed = errors.New("sandbox destroyed")
	// ErrTimeout marks an execution that did not complete within its budget.
	ErrTimeout = errors.New("timeout")
	// ErrBootFailed is reported when the guest runtime could not be loaded.
	// The manager stays broken until it is recreated.
	ErrBootFailed = errors.New("runtime failed to load")
)

// DefaultTimeout applies when neither the request nor the manager sets one.
const DefaultTimeout = 10 * time.Second

// DefaultLoadTimeout bounds how long a request waits for the guest to become
// ready.
const DefaultLoadTimeout = 60 * time.Second

// FlushGrace is how long a failed or timed out execution waits for its last
// events to reach a slow sink before resolving without them.
const FlushGrace = 100 * time.Millisecond

// State is a manager's lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateExecuting
	StateCompleted
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Options accompany one execution request.
type Options struct {
	// Timeout bounds the wait for completion once the code is dispatched.
	// Zero uses the manager default.
	Timeout time.Duration
	// OnOutput receives events in production order, from a goroutine owned by
	// the execution. No call starts after Execute returns; a sink still busy
	// when the flush deadline passes keeps the event it holds and the rest are
	// dropped.
	OnOutput protocol.Sink
}

// Result is the terminal outcome of one execution. Exactly one is produced
// per Execute call.
type Result struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"-"`
	Language string        `json:"language"`
	Error    string        `json:"error,omitempty"`
	// TimedOut is set when the result was produced by the timeout timer. The
	// guest may still be running.
	TimedOut bool   `json:"timedOut,omitempty"`
	ID       string `json:"id,omitempty"`
}

// DurationMs reports Duration in milliseconds.
func (r Result) DurationMs() float64 {
	return float64(r.Duration.Microseconds()) / 1000
}

// Observer receives lifecycle notifications. Implementations must not block.
type Observer interface {
	SandboxStarted(language string)
	SandboxStopped(language string)
	ExecutionFinished(language string, r Result)
	ProtocolViolation(language string)
}

type nopObserver struct{}

func (nopObserver) SandboxStarted(string)            {}
func (nopObserver) SandboxStopped(string)            {}
func (nopObserver) ExecutionFinished(string, Result) {}
func (nopObserver) ProtocolViolation(string)         {}
