// Package mcpserver exposes the runner registry as Model Context Protocol
// tools, so an assistant can run snippets in any supported language.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/houyanchao/coderun/config"
	"github.com/houyanchao/coderun/internal/app"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	app       *app.App
	config    config.MCPConfig
	logger    *zap.Logger
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(a *app.App, cfg config.MCPConfig, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MCPServer{app: a, config: cfg, logger: logger}

	s.mcpServer = server.NewMCPServer("coderun", "Multi-language code runner")
	s.registerExecuteCodeTool()
	s.registerListLanguagesTool()
	return s
}

func (s *MCPServer) languageIDs() []string {
	infos := s.app.Registry.SupportedLanguages()
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}
	return ids
}

func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Run a snippet in a sandboxed interpreter. State persists between calls for the same language.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to run",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Language id",
					"enum":        s.languageIDs(),
				},
				"timeout_ms": map[string]any{
					"type":        "number",
					"description": "Execution timeout in milliseconds (optional)",
				},
			},
			Required: []string{"code", "language"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerListLanguagesTool() {
	tool := mcp.Tool{
		Name:        "list_languages",
		Description: "List the languages execute_code accepts",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}
	s.mcpServer.AddTool(tool, s.handleListLanguages)
}

type executeOutput struct {
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	TimedOut   bool             `json:"timedOut,omitempty"`
	DurationMs float64          `json:"duration_ms"`
	Events     []protocol.Event `json:"events"`
}

func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}
	if !s.app.Registry.IsSupported(language) {
		return errorResult(fmt.Sprintf("unsupported language: %s", language)), nil
	}
	timeout := time.Duration(request.GetFloat("timeout_ms", 0)) * time.Millisecond

	s.logger.Info("executing code", zap.String("language", language), zap.Int("code_len", len(code)))

	res, events, err := s.app.Collect(ctx, language, code, sandbox.Options{Timeout: timeout})
	if err != nil {
		return errorResult(fmt.Sprintf("Execution failed: %v", err)), nil
	}
	if events == nil {
		events = []protocol.Event{}
	}

	s.logger.Info("code execution completed",
		zap.String("language", language),
		zap.Bool("success", res.Success),
		zap.Int("events", len(events)))

	body, err := sonic.MarshalString(executeOutput{
		Success:    res.Success,
		Error:      res.Error,
		TimedOut:   res.TimedOut,
		DurationMs: res.DurationMs(),
		Events:     events,
	})
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: body}},
		IsError: !res.Success,
	}, nil
}

func (s *MCPServer) handleListLanguages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := sonic.MarshalString(s.app.Registry.SupportedLanguages())
	if err != nil {
		return nil, fmt.Errorf("encode languages: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: body}}}, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}

// Serve runs the configured transport until it fails.
func (s *MCPServer) Serve() error {
	if s.config.Transport == "http" {
		return s.ServeHTTP()
	}
	return s.ServeStdio()
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	s.logger.Info("starting MCP server on HTTP", zap.String("addr", s.config.Addr))
	return server.NewStreamableHTTPServer(s.mcpServer).Start(s.config.Addr)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
