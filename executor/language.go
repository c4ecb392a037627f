package executor

// Language describes a WASI interpreter module hosted by the executor.
//
// The module must implement the session loop: read JSON commands from stdin,
// write frames on stderr, and announce itself with a ready frame.
type Language interface {
	// Name is the cache key for the compiled module.
	Name() string

	// Module returns the interpreter's WASM binary.
	Module() ([]byte, error)

	// Args is the guest argv, including the program name. The prelude that
	// runs the session loop is usually passed here.
	Args() []string

	// Env returns extra environment variables for the guest.
	Env() map[string]string
}
