// Package typescript runs TypeScript by stripping types with esbuild and
// handing the result to the JavaScript engine.
package typescript

import (
	"crypto/sha256"
	"errors"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/houyanchao/coderun/guest"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/language/javascript"
	"github.com/houyanchao/coderun/runner"
)

const (
	DefaultTimeout = 10 * time.Second
	// CacheSize is the number of transpiled sources kept per runner.
	CacheSize = 256
)

var samples = runner.Samples{
	Placeholder: "// Write TypeScript here\nconst greeting: string = 'Hello, TypeScript!';\nconsole.log(greeting);",
	Example: `interface User {
  name: string;
  age: number;
}

function describe(user: User): string {
  return ` + "`${user.name} is ${user.age}`" + `;
}

const users: User[] = [
  { name: 'Alice', age: 30 },
  { name: 'Bob', age: 25 },
];

enum Color { Red, Green, Blue }

users.forEach(u => console.log(describe(u)));
console.log('green is', Color.Green);`,
}

// NewRunner returns a runner whose engines share one transpile cache.
func NewRunner(desc language.Descriptor, opts runner.Options) (runner.Runner, error) {
	tr, err := NewTranspiler(CacheSize)
	if err != nil {
		return nil, err
	}
	factory := func() (guest.Engine, error) {
		return &javascript.Engine{Name: "TypeScript", Transform: tr.Transform}, nil
	}
	return runner.NewSandboxed(desc, factory, samples, DefaultTimeout, opts), nil
}

// Transpiler converts TypeScript to JavaScript goja can run.
type Transpiler struct {
	cache *lru.Cache[[sha256.Size]byte, string]
}

func NewTranspiler(size int) (*Transpiler, error) {
	cache, err := lru.New[[sha256.Size]byte, string](size)
	if err != nil {
		return nil, err
	}
	return &Transpiler{cache: cache}, nil
}

// Transform strips type annotations. The first diagnostic is returned as a
// positioned error.
func (t *Transpiler) Transform(code string) (string, error) {
	key := sha256.Sum256([]byte(code))
	if out, ok := t.cache.Get(key); ok {
		return out, nil
	}

	res := api.Transform(code, api.TransformOptions{
		Loader:     api.LoaderTS,
		Target:     api.ES2015,
		Sourcefile: "main.ts",
	})
	if len(res.Errors) > 0 {
		return "", diagnostic(res.Errors[0])
	}
	out := string(res.Code)
	t.cache.Add(key, out)
	return out, nil
}

func diagnostic(msg api.Message) error {
	text := strings.TrimSpace(msg.Text)
	if msg.Location == nil {
		return errors.New(text)
	}
	return &guest.CodeError{Line: msg.Location.Line, Column: msg.Location.Column + 1, Message: text}
}
