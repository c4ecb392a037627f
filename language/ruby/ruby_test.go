package ruby

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houyanchao/coderun/executor"
	"github.com/houyanchao/coderun/hostfunc"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/runner"
	"github.com/houyanchao/coderun/sandbox"
)

func TestModule(t *testing.T) {
	m := Module("")
	assert.Equal(t, "ruby", m.Name())
	args := m.Args()
	assert.Equal(t, "ruby", args[0])
	assert.Equal(t, "-e", args[len(args)-2])
	assert.Contains(t, args[len(args)-1], "CODERUN:")
	assert.Nil(t, m.Env())
}

func TestInterpreter(t *testing.T) {
	path := os.Getenv("CODERUN_RUBY_WASM")
	if path == "" {
		t.Skip("CODERUN_RUBY_WASM not set")
	}

	exec, err := executor.New(hostfunc.NewRegistry())
	require.NoError(t, err)
	defer exec.Close()

	desc, _ := language.Lookup(language.Ruby)
	r, err := NewFactory(exec, path)(desc, runner.Options{})
	require.NoError(t, err)
	defer r.Cleanup()

	var events []protocol.Event
	res := r.Execute(context.Background(), "puts 'x'\n[1, 2].sum", sandbox.Options{
		OnOutput: func(ev protocol.Event) { events = append(events, ev) },
	})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, events, protocol.Event{Kind: protocol.KindLog, Data: "x"})
	assert.Contains(t, events, protocol.Event{Kind: protocol.KindResult, Data: "3"})

	res = r.Execute(context.Background(), "a = 1\nraise ArgumentError, 'bad'", sandbox.Options{})
	assert.False(t, res.Success)
	assert.Equal(t, "line 2: ArgumentError: bad", res.Error)
}
