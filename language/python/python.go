// Package python runs Python on a WASI build of the interpreter.
package python

import (
	_ "embed"
	"time"

	"github.com/houyanchao/coderun/executor"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/language/wasi"
	"github.com/houyanchao/coderun/runner"
)

//go:embed prelude.py
var prelude string

// DefaultTimeout is longer than for the in-process engines; the first
// execution also pays for compiling the interpreter.
const DefaultTimeout = 30 * time.Second

var samples = runner.Samples{
	Placeholder: "# Write Python code here\nprint('Hello, Python!')",
	Example: `def fibonacci(n):
    a, b = 0, 1
    for _ in range(n):
        yield a
        a, b = b, a + b

print(list(fibonacci(10)))

visits = kv.get("visits", 0) + 1
kv.set("visits", visits)
print(f"run number {visits}")

{word: len(word) for word in ["sandbox", "guest", "host"]}`,
}

// Module returns the interpreter description for the binary at path.
func Module(path string) *wasi.Module {
	return &wasi.Module{
		ID:      language.Python,
		Path:    path,
		Argv:    []string{"python", "-c"},
		Prelude: prelude,
		Vars:    map[string]string{"PYTHONUNBUFFERED": "1", "PYTHONDONTWRITEBYTECODE": "1"},
	}
}

// NewFactory returns the registry factory for Python sessions on exec.
func NewFactory(exec *executor.Executor, path string, opts ...executor.SessionOption) runner.Factory {
	return func(desc language.Descriptor, ro runner.Options) (runner.Runner, error) {
		return runner.NewSandboxed(desc, wasi.NewFactory(exec, Module(path), opts...), samples, DefaultTimeout, ro), nil
	}
}
