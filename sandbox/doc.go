// Package sandbox turns a guest frame's message stream into one outcome per
// request.
//
// A [Manager] moves through Uninitialized, Loading, Ready, Executing and
// Completed or Failed, returning to serve the next request; Destroyed is
// terminal. The first Execute spawns the frame and waits for READY; the
// guest's LOADING notes reach the caller as info events.
//
//	m := sandbox.New(sandbox.Config{Language: "lua", Factory: lua.NewEngine})
//	defer m.Destroy()
//
//	res := m.Execute(ctx, "print('x')", sandbox.Options{
//	    Timeout:  5 * time.Second,
//	    OnOutput: func(e protocol.Event) { fmt.Println(e.Kind, e.Data) },
//	})
//
// Timeouts are cooperative. When the timer fires the request resolves with
// TimedOut set, but the guest keeps whatever it was doing; the manager marks
// itself Suspect and the caller decides whether to Destroy it.
package sandbox
