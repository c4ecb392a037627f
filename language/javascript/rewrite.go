package javascript

import (
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

type edit struct {
	offset int
	remove int
	insert string
}

// globalBindings rewrites top-level let, const and class declarations into
// var bindings so a later execution may declare the same names again. Keywords
// are padded to their original width to keep error columns stable. Source that
// does not parse is returned unchanged and left for the compiler to report.
func globalBindings(code string) string {
	prog, err := parser.ParseFile(nil, "", code, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return code
	}

	// file.Idx is 1-based for a file parsed without a FileSet
	offset := func(idx int) int { return idx - 1 }

	var edits []edit
	for _, stmt := range prog.Body {
		switch s := stmt.(type) {
		case *ast.LexicalDeclaration:
			if s.Token != token.LET && s.Token != token.CONST {
				continue
			}
			width := len(s.Token.String())
			edits = append(edits, edit{
				offset: offset(int(s.Idx)),
				remove: width,
				insert: "var" + strings.Repeat(" ", width-3),
			})
		case *ast.ClassDeclaration:
			if s.Class == nil || s.Class.Name == nil {
				continue
			}
			edits = append(edits,
				edit{offset: offset(int(s.Class.Idx0())), insert: "var " + string(s.Class.Name.Name) + " = "},
				edit{offset: offset(int(s.Class.Idx1())), insert: ";"},
			)
		}
	}
	if len(edits) == 0 {
		return code
	}

	sort.SliceStable(edits, func(i, j int) bool { return edits[i].offset > edits[j].offset })
	out := code
	for _, e := range edits {
		if e.offset < 0 || e.offset+e.remove > len(out) {
			return code
		}
		out = out[:e.offset] + e.insert + out[e.offset+e.remove:]
	}
	return out
}
