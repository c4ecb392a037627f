// Package dataformat validates and pretty-prints JSON, YAML and TOML
// documents.
//
// Each renderer emits an info event describing the document and then a
// formatted event with its canonical re-serialization. Syntax errors carry
// the line and column of the offending input.
package dataformat

import (
	"context"
	"fmt"
	"strings"

	"github.com/houyanchao/coderun/guest"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/runner"
)

// Format parses a document and re-serializes it.
type Format interface {
	Name() string
	// Format returns the canonical text and the decoded value.
	Format(src []byte) (string, any, error)
}

// Renderer adapts a Format to runner.Renderer.
type Renderer struct {
	format Format
}

func NewRenderer(f Format) *Renderer {
	return &Renderer{format: f}
}

func (r *Renderer) Render(ctx context.Context, code string, emit protocol.Sink) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("empty %s document", r.format.Name())
	}
	out, value, err := r.format.Format([]byte(code))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	emit.Emit(protocol.KindInfo, fmt.Sprintf("Valid %s: %s", r.format.Name(), describe(value)))
	emit.Emit(protocol.KindFormatted, out)
	return nil
}

// describe summarizes the top-level shape of a decoded document.
func describe(v any) string {
	switch t := v.(type) {
	case documents:
		return plural(len(t), "document")
	case map[string]any:
		return plural(len(t), "key")
	case []any:
		return "array, " + plural(len(t), "item")
	case orderedMap:
		return plural(t.Len(), "key")
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}

// documents holds every document of a multi-document stream.
type documents []any

// orderedMap is implemented by decoders that keep key order.
type orderedMap interface {
	Len() int
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func positioned(line, col int, msg string) error {
	return &guest.CodeError{Line: line, Column: col, Message: msg}
}

var samples = map[string]runner.Samples{
	language.JSON: {
		Placeholder: `{"hello": "JSON"}`,
		Example: `{
  "name": "coderun",
  "languages": ["python", "lua", "sql"],
  "limits": {"timeout_ms": 10000, "memory_mb": 256},
  "enabled": true
}`,
	},
	language.YAML: {
		Placeholder: "hello: YAML",
		Example: `name: coderun
languages:
  - python
  - lua
  - sql
limits:
  timeout_ms: 10000
  memory_mb: 256
enabled: true`,
	},
	language.TOML: {
		Placeholder: `hello = "TOML"`,
		Example: `name = "coderun"
languages = ["python", "lua", "sql"]
enabled = true

[limits]
timeout_ms = 10000
memory_mb = 256`,
	},
}

// NewRunner is the registry factory for JSON, YAML and TOML.
func NewRunner(desc language.Descriptor, opts runner.Options) (runner.Runner, error) {
	var f Format
	switch desc.ID {
	case language.JSON:
		f = JSON{}
	case language.YAML:
		f = YAML{}
	case language.TOML:
		f = TOML{}
	default:
		return nil, fmt.Errorf("dataformat: unsupported language %q", desc.ID)
	}
	return runner.NewDirect(desc, NewRenderer(f), samples[desc.ID], opts), nil
}
