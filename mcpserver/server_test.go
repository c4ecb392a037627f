package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/houyanchao/coderun/config"
	"github.com/houyanchao/coderun/internal/app"
	"github.com/houyanchao/coderun/protocol"
)

func newTestServer(t *testing.T) *MCPServer {
	t.Helper()
	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			DefaultTimeout: 5 * time.Second,
			LoadTimeout:    10 * time.Second,
			CacheDir:       t.TempDir(),
		},
		MCP: config.MCPConfig{Transport: "stdio"},
	}
	a, err := app.New(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return New(a, cfg.MCP, zaptest.NewLogger(t))
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNew(t *testing.T) {
	s := newTestServer(t)
	require.NotNil(t, s.GetMCPServer())
	assert.Contains(t, s.languageIDs(), "lua")
	assert.NotContains(t, s.languageIDs(), "python")
}

func TestExecuteCode(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
		"language": "lua",
		"code":     "print('hello')\nreturn 1 + 1",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var out executeOutput
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.True(t, out.Success)
	require.GreaterOrEqual(t, len(out.Events), 2)
	tail := out.Events[len(out.Events)-2:]
	assert.Equal(t, protocol.Event{Kind: protocol.KindLog, Data: "hello"}, tail[0])
	assert.Equal(t, protocol.Event{Kind: protocol.KindResult, Data: "2"}, tail[1])
}

func TestExecuteCodeFailure(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
		"language": "lua",
		"code":     "error('boom')",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	var out executeOutput
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "boom")
}

func TestExecuteCodeTimeout(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
		"language":   "javascript",
		"code":       "for (;;) {}",
		"timeout_ms": float64(100),
	}))
	require.NoError(t, err)

	var out executeOutput
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.True(t, out.TimedOut)
}

func TestExecuteCodeRejects(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{"language": "lua"}))
	assert.Error(t, err)

	res, err := s.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
		"language": "cobol",
		"code":     "DISPLAY 'HI'.",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "unsupported language")
}

func TestListLanguages(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleListLanguages(context.Background(), callRequest("list_languages", nil))
	require.NoError(t, err)

	var infos []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &infos))
	var ids []string
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, s.languageIDs(), ids)
	assert.Contains(t, ids, "sql")
}
