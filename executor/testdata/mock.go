//go:build wasip1

// Guest used by the executor tests. It echoes code back as output.
// Build with: GOOS=wasip1 GOARCH=wasm go build -o mock.wasm mock.go
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func frame(v map[string]any) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(os.Stderr, "\x00CODERUN:%s\x00", data)
}

func main() {
	frame(map[string]any{"t": "loading", "message": "mock booting"})
	frame(map[string]any{"t": "ready"})

	in := bufio.NewReader(os.Stdin)
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return
		}
		var cmd struct {
			Type string `json:"type"`
			Code string `json:"code"`
		}
		if json.Unmarshal([]byte(line), &cmd) != nil {
			continue
		}
		switch {
		case cmd.Type == "exit":
			return
		case cmd.Type != "exec":
			continue
		case strings.HasPrefix(cmd.Code, "fail:"):
			frame(map[string]any{"t": "error", "message": strings.TrimPrefix(cmd.Code, "fail:")})
		case strings.HasPrefix(cmd.Code, "call:"):
			frame(map[string]any{"t": "call", "fn": strings.TrimPrefix(cmd.Code, "call:"), "args": map[string]any{}})
			reply, _ := in.ReadString('\n')
			frame(map[string]any{"t": "out", "level": "result", "data": strings.TrimSpace(reply)})
			frame(map[string]any{"t": "done"})
		default:
			fmt.Println(cmd.Code)
			frame(map[string]any{"t": "done"})
		}
	}
}
