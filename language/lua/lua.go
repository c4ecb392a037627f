// Package lua runs Lua 5.1 code on gopher-lua.
package lua

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/houyanchao/coderun/guest"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/runner"
)

// DefaultTimeout is the per-execution budget when none is configured.
const DefaultTimeout = 10 * time.Second

var samples = runner.Samples{
	Placeholder: "-- Write Lua code here\nprint('Hello, Lua!')",
	Example: `local function fib(n)
  if n < 2 then return n end
  return fib(n - 1) + fib(n - 2)
end

for i = 1, 10 do
  print(i, fib(i))
end

local fruits = {"apple", "banana", "cherry"}
print(table.concat(fruits, ", "))
return #fruits`,
}

// NewRunner is the registry factory for Lua.
func NewRunner(desc language.Descriptor, opts runner.Options) (runner.Runner, error) {
	return runner.NewSandboxed(desc, NewEngine, samples, DefaultTimeout, opts), nil
}

// Engine is a persistent Lua state. Globals survive between executions.
type Engine struct {
	L    *lua.LState
	emit protocol.Sink
}

func NewEngine() (guest.Engine, error) {
	return &Engine{}, nil
}

func (e *Engine) Boot(ctx context.Context, progress func(string)) error {
	progress("Opening Lua standard libraries...")
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		if err := L.PCall(1, 0, nil); err != nil {
			L.Close()
			return err
		}
	}
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(e.print))
	e.L = L
	return nil
}

func (e *Engine) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	e.emit.Emit(protocol.KindLog, strings.Join(parts, "\t"))
	return 0
}

func (e *Engine) Eval(ctx context.Context, code string, emit protocol.Sink) error {
	e.emit = emit
	defer func() { e.emit = nil }()

	L := e.L
	L.SetContext(ctx)
	defer L.RemoveContext()
	defer L.SetTop(0)

	fn, err := L.LoadString(code)
	if err != nil {
		return normalize(err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return normalize(err)
	}

	if n := L.GetTop(); n > 0 {
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		emit.Emit(protocol.KindResult, strings.Join(parts, "\t"))
	}
	return nil
}

func (e *Engine) Close() error {
	if e.L != nil {
		e.L.Close()
	}
	return nil
}

var (
	syntaxPattern  = regexp.MustCompile(`^<string> line:(\d+)\(column:(\d+)\) (.*)$`)
	runtimePattern = regexp.MustCompile(`<string>:(\d+): `)
)

// normalize maps gopher-lua errors to positioned messages without chunk
// names or tracebacks.
func normalize(err error) error {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	msg = strings.TrimSpace(msg)

	if m := syntaxPattern.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		return &guest.CodeError{Line: line, Column: col, Message: strings.Join(strings.Fields(m[3]), " ")}
	}
	if m := runtimePattern.FindStringSubmatchIndex(msg); m != nil {
		line, _ := strconv.Atoi(msg[m[2]:m[3]])
		return &guest.CodeError{Line: line, Message: msg[m[1]:]}
	}
	return errors.New(msg)
}
