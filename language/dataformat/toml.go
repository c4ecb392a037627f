package dataformat

import (
	"errors"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// TOML re-encodes documents with sorted keys.
type TOML struct{}

func (TOML) Name() string { return "TOML" }

func (TOML) Format(src []byte) (string, any, error) {
	var value map[string]any
	if err := toml.Unmarshal(src, &value); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			line, col := decodeErr.Position()
			return "", nil, positioned(line, col, strings.TrimPrefix(decodeErr.Error(), "toml: "))
		}
		return "", nil, err
	}
	out, err := toml.Marshal(value)
	if err != nil {
		return "", nil, err
	}
	return string(out), value, nil
}
