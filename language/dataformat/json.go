package dataformat

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/bytedance/sonic"
)

// JSON keeps member order and indents with two spaces.
type JSON struct{}

func (JSON) Name() string { return "JSON" }

func (JSON) Format(src []byte) (string, any, error) {
	var value any
	if err := sonic.ConfigStd.Unmarshal(src, &value); err != nil {
		return "", nil, jsonError(src, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(src), "", "  "); err != nil {
		return "", nil, jsonError(src, err)
	}
	return buf.String(), value, nil
}

// jsonError re-decodes src with encoding/json to find the failing offset.
func jsonError(src []byte, cause error) error {
	dec := json.NewDecoder(bytes.NewReader(src))
	var v any
	err := dec.Decode(&v)
	if err == nil {
		if _, err = dec.Token(); err == io.EOF {
			return cause
		}
		if err == nil {
			return positionAt(src, dec.InputOffset(), "invalid character after top-level value")
		}
	}

	var syntax *json.SyntaxError
	if errors.As(err, &syntax) {
		// Offset counts the offending byte
		return positionAt(src, max(syntax.Offset-1, 0), syntax.Error())
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return positionAt(src, int64(len(src)), "unexpected end of JSON input")
	}
	return err
}

// positionAt converts a byte offset into a 1-based line and column.
func positionAt(src []byte, offset int64, msg string) error {
	if offset > int64(len(src)) {
		offset = int64(len(src))
	}
	before := string(src[:offset])
	line := strings.Count(before, "\n") + 1
	col := len(before) - strings.LastIndex(before, "\n")
	return positioned(line, col, msg)
}
