// Package language holds the static table of languages coderun can run.
//
// Each [Descriptor] names the engine that implements it. The table is built
// once at process start and never mutated; [Table] hands out copies.
package language

// Kind selects which runner variant serves a language.
type Kind int

const (
	// KindSandboxed languages run inside an isolated guest frame behind the
	// protocol bridge and pay a one-time bootstrap cost.
	KindSandboxed Kind = iota
	// KindDirect languages render locally and synchronously.
	KindDirect
)

func (k Kind) String() string {
	switch k {
	case KindSandboxed:
		return "sandboxed"
	case KindDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Descriptor describes one supported language.
type Descriptor struct {
	ID            string
	DisplayName   string
	Icon          string
	FileExtension string
	Kind          Kind
	// Engine is the factory key used by the registry builder.
	Engine string
}

// Language ids.
const (
	Python     = "python"
	Ruby       = "ruby"
	Lua        = "lua"
	SQL        = "sql"
	TypeScript = "typescript"
	JavaScript = "javascript"
	HTML       = "html"
	JSON       = "json"
	YAML       = "yaml"
	TOML       = "toml"
)

var table = []Descriptor{
	{ID: Python, DisplayName: "Python", Icon: "🐍", FileExtension: ".py", Kind: KindSandboxed, Engine: "wasm-python"},
	{ID: JavaScript, DisplayName: "JavaScript", Icon: "📜", FileExtension: ".js", Kind: KindSandboxed, Engine: "goja"},
	{ID: TypeScript, DisplayName: "TypeScript", Icon: "🔷", FileExtension: ".ts", Kind: KindSandboxed, Engine: "esbuild-goja"},
	{ID: SQL, DisplayName: "SQL", Icon: "🗃️", FileExtension: ".sql", Kind: KindSandboxed, Engine: "sqlite"},
	{ID: Lua, DisplayName: "Lua", Icon: "🌙", FileExtension: ".lua", Kind: KindSandboxed, Engine: "gopher-lua"},
	{ID: Ruby, DisplayName: "Ruby", Icon: "💎", FileExtension: ".rb", Kind: KindSandboxed, Engine: "wasm-ruby"},
	{ID: HTML, DisplayName: "HTML", Icon: "🌐", FileExtension: ".html", Kind: KindDirect, Engine: "markup"},
	{ID: JSON, DisplayName: "JSON", Icon: "📋", FileExtension: ".json", Kind: KindDirect, Engine: "dataformat-json"},
	{ID: YAML, DisplayName: "YAML", Icon: "📄", FileExtension: ".yaml", Kind: KindDirect, Engine: "dataformat-yaml"},
	{ID: TOML, DisplayName: "TOML", Icon: "⚙️", FileExtension: ".toml", Kind: KindDirect, Engine: "dataformat-toml"},
}

// Table returns a copy of the descriptor table in display order.
func Table() []Descriptor {
	out := make([]Descriptor, len(table))
	copy(out, table)
	return out
}

// Lookup returns the descriptor for id.
func Lookup(id string) (Descriptor, bool) {
	for _, d := range table {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

var aliases = map[string]string{
	"py":     Python,
	"js":     JavaScript,
	"ts":     TypeScript,
	"rb":     Ruby,
	"sqlite": SQL,
	"htm":    HTML,
	"yml":    YAML,
}

// Resolve maps a user-supplied name or alias to a language id.
func Resolve(name string) (string, bool) {
	if _, ok := Lookup(name); ok {
		return name, true
	}
	id, ok := aliases[name]
	return id, ok
}

// ForExtension returns the language id registered for a file extension such
// as ".py". Extensions are matched case-sensitively after the caller lowers
// them.
func ForExtension(ext string) (string, bool) {
	switch ext {
	case ".mjs", ".cjs":
		return JavaScript, true
	case ".yml":
		return YAML, true
	case ".htm":
		return HTML, true
	}
	for _, d := range table {
		if d.FileExtension == ext {
			return d.ID, true
		}
	}
	return "", false
}
