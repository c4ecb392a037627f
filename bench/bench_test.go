// Package bench measures cold and warm execution cost per language.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. -benchtime=3x ./bench/
package bench

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/houyanchao/coderun/executor"
	"github.com/houyanchao/coderun/hostfunc"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/language/dataformat"
	"github.com/houyanchao/coderun/language/javascript"
	"github.com/houyanchao/coderun/language/lua"
	"github.com/houyanchao/coderun/language/markup"
	"github.com/houyanchao/coderun/language/python"
	"github.com/houyanchao/coderun/language/sql"
	"github.com/houyanchao/coderun/language/typescript"
	"github.com/houyanchao/coderun/runner"
	"github.com/houyanchao/coderun/sandbox"
)

type workload struct {
	lang    string
	factory runner.Factory
	trivial string
	compute string
}

var workloads = []workload{
	{language.Lua, lua.NewRunner, "x = 1", "local s = 0 for i = 1, 1000 do s = s + i * i end return s"},
	{language.JavaScript, javascript.NewRunner, "var x = 1", "let s = 0; for (let i = 0; i < 1000; i++) s += i * i; s"},
	{language.TypeScript, typescript.NewRunner, "const x: number = 1", "let s: number = 0; for (let i = 0; i < 1000; i++) s += i * i; s"},
	{language.SQL, sql.NewRunner, "SELECT 1", "WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 1000) SELECT sum(i * i) FROM n"},
	{language.JSON, dataformat.NewRunner, `{"x": 1}`, `{"items": [1, 2, 3, {"nested": {"deep": [true, false, null]}}]}`},
	{language.HTML, markup.NewRunner, "<p>x</p>", "<h1>Title</h1><ul><li><a href='/a'>a</a></li><li><img src='b.png'></li></ul><script>alert(1)</script>"},
}

func newRunner(tb testing.TB, w workload) runner.Runner {
	tb.Helper()
	desc, ok := language.Lookup(w.lang)
	if !ok {
		tb.Fatalf("unknown language %s", w.lang)
	}
	r, err := w.factory(desc, runner.Options{})
	if err != nil {
		tb.Fatal(err)
	}
	return r
}

func run(tb testing.TB, r runner.Runner, code string) {
	res := r.Execute(context.Background(), code, sandbox.Options{})
	if !res.Success {
		tb.Fatalf("%s: %s", r.Language(), res.Error)
	}
}

// --- Cold start: new runner, first execution boots the engine ---

func BenchmarkColdStart(b *testing.B) {
	for _, w := range workloads {
		b.Run(w.lang, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				r := newRunner(b, w)
				run(b, r, w.trivial)
				r.Cleanup()
			}
		})
	}
}

// --- Warm start: engine already booted, state persists ---

func BenchmarkWarm(b *testing.B) {
	for _, w := range workloads {
		b.Run(w.lang, func(b *testing.B) {
			r := newRunner(b, w)
			defer r.Cleanup()
			run(b, r, w.trivial) // warmup

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				run(b, r, w.trivial)
			}
		})
	}
}

func BenchmarkWarm_Computation(b *testing.B) {
	for _, w := range workloads {
		b.Run(w.lang, func(b *testing.B) {
			r := newRunner(b, w)
			defer r.Cleanup()
			run(b, r, w.trivial)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				run(b, r, w.compute)
			}
		})
	}
}

// --- WASI Python, when an interpreter module is available ---

func pythonRunner(tb testing.TB, exec *executor.Executor) runner.Runner {
	tb.Helper()
	path := os.Getenv("CODERUN_PYTHON_WASM")
	if path == "" {
		tb.Skip("CODERUN_PYTHON_WASM not set")
	}
	desc, _ := language.Lookup(language.Python)
	r, err := python.NewFactory(exec, path)(desc, runner.Options{LoadTimeout: 2 * time.Minute})
	if err != nil {
		tb.Fatal(err)
	}
	return r
}

func BenchmarkPython_Warm(b *testing.B) {
	exec, err := executor.New(hostfunc.NewRegistry())
	if err != nil {
		b.Fatal(err)
	}
	defer exec.Close()
	r := pythonRunner(b, exec)
	defer r.Cleanup()
	run(b, r, "x = 1")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		run(b, r, "print(sum(i*i for i in range(1000)))")
	}
}

// =============================================================================
// COMPARISON TEST - Human readable output
// =============================================================================

func TestComparison(t *testing.T) {
	if testing.Short() {
		t.Skip("timing report")
	}

	measure := func(runs int, fn func()) time.Duration {
		var total time.Duration
		for i := 0; i < runs; i++ {
			start := time.Now()
			fn()
			total += time.Since(start)
		}
		return total / time.Duration(runs)
	}

	const runs = 5
	fmt.Println()
	fmt.Printf("Platform: %s/%s, CPUs: %d\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Println("┌────────────┬───────────┬───────────┬───────────┐")
	fmt.Println("│ Language   │ Cold      │ Warm      │ Compute   │")
	fmt.Println("├────────────┼───────────┼───────────┼───────────┤")
	for _, w := range workloads {
		r := newRunner(t, w)
		cold := measure(1, func() { run(t, r, w.trivial) })
		warm := measure(runs, func() { run(t, r, w.trivial) })
		compute := measure(runs, func() { run(t, r, w.compute) })
		r.Cleanup()

		fmt.Printf("│ %-10s │ %9s │ %9s │ %9s │\n", w.lang, formatDuration(cold), formatDuration(warm), formatDuration(compute))
	}
	fmt.Println("└────────────┴───────────┴───────────┴───────────┘")
	fmt.Println()
}

func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d >= time.Millisecond {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%dµs", d.Microseconds())
}

// =============================================================================
// MEMORY
// =============================================================================

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	var runners []runner.Runner
	for _, w := range workloads {
		r := newRunner(t, w)
		for i := 0; i < 5; i++ {
			run(t, r, w.trivial)
		}
		runners = append(runners, r)
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc

	for _, r := range runners {
		r.Cleanup()
	}
	runtime.GC()
	runtime.ReadMemStats(&m)
	afterGC := m.Alloc

	t.Logf("Memory before: %d MB", before/1024/1024)
	t.Logf("Memory with %d warm runners: %d MB", len(runners), after/1024/1024)
	t.Logf("Memory after cleanup and GC: %d MB", afterGC/1024/1024)
}
