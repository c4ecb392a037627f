// Package coderun runs untrusted snippets in sandboxed interpreters for a
// playground-style editor.
//
// # Overview
//
// Every language is described by a row in the [language] table and served by
// a [runner.Runner]. Sandboxed languages (Python, Ruby, Lua, SQL, JavaScript,
// TypeScript) run in a guest frame driven by a [sandbox.Manager], which talks
// to the guest only through the EXECUTE_<LANG> and <LANG>_SANDBOX_* messages
// of the [protocol] package. Direct languages (HTML, JSON, YAML, TOML) are
// validated and rendered synchronously.
//
// Python and Ruby are WASI interpreters run by the [executor] on wazero, with
// a key-value store and an allowlisted HTTP client offered as host functions
// ([hostfunc]). The other sandboxed languages use embedded Go interpreters.
//
// # Basic Usage
//
//	reg := runner.Build(language.Table(), app.Factories(cfg, exec))
//	defer reg.Close()
//
//	r, _ := reg.Runner("lua")
//	res := r.Execute(ctx, `print("hello")`, sandbox.Options{
//	    OnOutput: func(ev protocol.Event) { fmt.Println(ev.Kind, ev.Data) },
//	})
//
//	// State persists until Cleanup
//	r.Execute(ctx, `x = 42`, sandbox.Options{})
//	r.Execute(ctx, `print(x)`, sandbox.Options{}) // 42
//
// The coderun command wraps the same registry as a CLI and REPL, an HTTP and
// WebSocket server ([server]) and an MCP tool server ([mcpserver]).
package coderun
