package dataformat

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/parser"
)

// YAML keeps mapping order and indents with two spaces. A stream of several
// documents is re-emitted with "---" separators.
type YAML struct{}

func (YAML) Name() string { return "YAML" }

func (YAML) Format(src []byte) (string, any, error) {
	file, err := parser.ParseBytes(src, 0)
	if err != nil {
		return "", nil, yamlError(err)
	}

	var (
		parts  []string
		values documents
	)
	for _, doc := range file.Docs {
		if doc.Body == nil {
			continue
		}
		var value any
		if err := yaml.NodeToValue(doc.Body, &value, yaml.UseOrderedMap()); err != nil {
			return "", nil, yamlError(err)
		}
		out, err := yaml.MarshalWithOptions(value, yaml.Indent(2), yaml.IndentSequence(true))
		if err != nil {
			return "", nil, err
		}
		if m, ok := value.(yaml.MapSlice); ok {
			value = mapSlice(m)
		}
		parts = append(parts, string(out))
		values = append(values, value)
	}

	switch len(values) {
	case 0:
		return "null\n", nil, nil
	case 1:
		return parts[0], values[0], nil
	}
	return strings.Join(parts, "---\n"), values, nil
}

type mapSlice yaml.MapSlice

func (m mapSlice) Len() int { return len(m) }

var yamlPosition = regexp.MustCompile(`^\[(\d+):(\d+)\]\s*(.*)$`)

func yamlError(err error) error {
	first := strings.TrimSpace(strings.SplitN(yaml.FormatError(err, false, false), "\n", 2)[0])
	if m := yamlPosition.FindStringSubmatch(first); m != nil {
		line, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		return positioned(line, col, m[3])
	}
	return positioned(0, 0, first)
}
