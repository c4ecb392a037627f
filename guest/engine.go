// Package guest runs a language engine inside an isolated frame that speaks
// the protocol bridge.
//
// A frame owns its engine exclusively. It announces LOADING while the engine
// boots, READY once the engine is resident, and from then on answers
// EXECUTE messages one at a time with OUTPUT, ERROR and COMPLETE. Every other
// inbound message is ignored.
package guest

import (
	"context"
	"fmt"

	"github.com/houyanchao/coderun/protocol"
)

// Engine is a language runtime hosted by a frame.
//
// Boot and Eval are only ever called from the frame goroutine. Eval must not
// retain emit after returning.
type Engine interface {
	// Boot makes the runtime resident. progress may be called with human
	// readable status lines.
	Boot(ctx context.Context, progress func(string)) error
	// Eval runs code against the engine's persistent state.
	Eval(ctx context.Context, code string, emit protocol.Sink) error
	Close() error
}

// Factory builds a fresh engine for a new frame.
type Factory func() (Engine, error)

// CodeError is a failure attributed to a position in user code. Line and
// Column are 1-based; zero means unknown.
type CodeError struct {
	Line    int
	Column  int
	Message string
}

func (e *CodeError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	default:
		return e.Message
	}
}
