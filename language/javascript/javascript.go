// Package javascript runs ECMAScript on the goja interpreter.
//
// A booted engine keeps one VM for its whole life, so top-level bindings
// declared by an execution stay visible to later ones and may be declared
// again. console.* writes
// become output events and the completion value of a script, when it is not
// undefined, is reported as a result event.
package javascript

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/houyanchao/coderun/guest"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/runner"
)

const (
	DefaultTimeout = 10 * time.Second
	// MaxCallStackSize bounds runaway recursion.
	MaxCallStackSize = 1024
	// MaxTimers bounds the setTimeout queue of one execution.
	MaxTimers = 1000
)

var samples = runner.Samples{
	Placeholder: "// Write JavaScript here\nconsole.log('Hello, JavaScript!');",
	Example: `const numbers = [1, 2, 3, 4, 5];
const squares = numbers.map(n => n * n);
console.log('squares:', squares);

class Greeter {
  constructor(name) { this.name = name; }
  greet() { return ` + "`Hello, ${this.name}!`" + `; }
}
console.info(new Greeter('world').greet());

setTimeout(() => console.log('timers run after the script'), 10);

squares.reduce((a, b) => a + b, 0);`,
}

func NewRunner(desc language.Descriptor, opts runner.Options) (runner.Runner, error) {
	return runner.NewSandboxed(desc, NewEngine, samples, DefaultTimeout, opts), nil
}

// TransformFunc rewrites source before it is compiled. Errors it returns are
// reported to the user as-is.
type TransformFunc func(code string) (string, error)

// Engine is a goja VM hosted in a guest frame.
type Engine struct {
	// Name is used in loading messages.
	Name      string
	Transform TransformFunc

	vm        *goja.Runtime
	stringify goja.Callable
	emit      protocol.Sink
	timers    []timer
	seq       int
}

type timer struct {
	fn    goja.Callable
	args  []goja.Value
	delay int64
	seq   int
}

func NewEngine() (guest.Engine, error) {
	return &Engine{Name: "JavaScript"}, nil
}

func (e *Engine) Boot(ctx context.Context, progress func(string)) error {
	progress("Starting " + e.Name + " interpreter...")

	vm := goja.New()
	vm.SetMaxCallStackSize(MaxCallStackSize)

	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for name, kind := range map[string]protocol.Kind{
		"log":   protocol.KindLog,
		"debug": protocol.KindLog,
		"info":  protocol.KindInfo,
		"warn":  protocol.KindWarn,
		"error": protocol.KindError,
	} {
		if err := console.Set(name, e.consoleFunc(kind)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}
	if err := vm.Set("setTimeout", e.setTimeout); err != nil {
		return err
	}

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return errors.New("JSON.stringify unavailable")
	}
	e.vm = vm
	e.stringify = stringify
	return nil
}

func (e *Engine) consoleFunc(kind protocol.Kind) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, e.format(arg))
		}
		e.emit.Emit(kind, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// setTimeout queues fn to run after the script in delay order. Time does not
// actually pass.
func (e *Engine) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("setTimeout callback is not a function"))
	}
	if len(e.timers) >= MaxTimers {
		panic(e.vm.NewGoError(errors.New("too many pending timers")))
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = call.Arguments[2:]
	}
	e.seq++
	e.timers = append(e.timers, timer{fn: fn, args: args, delay: call.Argument(1).ToInteger(), seq: e.seq})
	return e.vm.ToValue(e.seq)
}

// format renders a value the way a browser console would, close enough.
func (e *Engine) format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	switch obj.ClassName() {
	case "Function", "Error", "RegExp", "Date":
		return v.String()
	}
	out, err := e.stringify(goja.Undefined(), v)
	if err != nil || goja.IsUndefined(out) {
		return v.String()
	}
	return out.String()
}

func (e *Engine) Eval(ctx context.Context, code string, emit protocol.Sink) error {
	e.emit = emit
	e.timers = e.timers[:0]
	defer func() {
		e.emit = nil
		e.timers = e.timers[:0]
		e.vm.ClearInterrupt()
	}()

	if e.Transform != nil {
		out, err := e.Transform(code)
		if err != nil {
			return err
		}
		code = out
	}

	prog, err := goja.Compile("", globalBindings(code), false)
	if err != nil {
		return compileError(err)
	}

	stop := context.AfterFunc(ctx, func() { e.vm.Interrupt(ctx.Err()) })
	defer stop()

	val, err := e.vm.RunProgram(prog)
	if err != nil {
		return e.runtimeError(ctx, err)
	}
	if err := e.drainTimers(ctx); err != nil {
		return err
	}
	if val != nil && !goja.IsUndefined(val) {
		emit.Emit(protocol.KindResult, e.format(val))
	}
	return nil
}

func (e *Engine) drainTimers(ctx context.Context) error {
	for len(e.timers) > 0 {
		sort.SliceStable(e.timers, func(i, j int) bool {
			if e.timers[i].delay != e.timers[j].delay {
				return e.timers[i].delay < e.timers[j].delay
			}
			return e.timers[i].seq < e.timers[j].seq
		})
		t := e.timers[0]
		e.timers = e.timers[1:]
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			return e.runtimeError(ctx, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.vm != nil {
		e.vm.Interrupt("closed")
	}
	return nil
}

func compileError(err error) error {
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) && syntax.File != nil {
		pos := syntax.File.Position(syntax.Offset)
		return &guest.CodeError{Line: pos.Line, Column: pos.Column, Message: "SyntaxError: " + syntax.Message}
	}
	return err
}

func (e *Engine) runtimeError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New("execution interrupted")
	}

	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return err
	}
	msg := e.format(exc.Value())
	for _, frame := range exc.Stack() {
		if pos := frame.Position(); pos.Line > 0 {
			return &guest.CodeError{Line: pos.Line, Column: pos.Column, Message: msg}
		}
	}
	return errors.New(msg)
}
