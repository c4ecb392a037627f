// Package executor hosts WASI interpreter modules with wazero.
//
// An [Executor] owns one wazero runtime and caches compiled modules by
// language name, optionally on disk. A [Session] is one running guest that
// keeps its state between calls:
//
//	exec, err := executor.New(hostfunc.NewRegistry(), executor.WithDiskCache())
//	if err != nil {
//	    return err
//	}
//	defer exec.Close()
//
//	session, err := exec.NewSession(ctx, python.Module(path))
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	session.Run(ctx, `x = 42`, nil)
//	session.Run(ctx, `print(x)`, sink) // log event "42"
//
// # Guest protocol
//
// Commands are JSON lines on the guest's stdin:
//
//	{"type":"exec","code":"..."}
//
// The guest answers with frames on stderr, \x00CODERUN:{json}\x00, where t is
// one of ready, loading, out, done, error or call. Plain stdout becomes log
// events line by line; plain stderr becomes warn events. A call frame invokes
// a host function from the session's [hostfunc.Registry] and the reply is
// written back on stdin as {"data":...} or {"error":"..."}.
package executor
