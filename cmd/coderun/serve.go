package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/houyanchao/coderun/config"
	"github.com/houyanchao/coderun/internal/app"
	"github.com/houyanchao/coderun/logger"
	"github.com/houyanchao/coderun/mcpserver"
	"github.com/houyanchao/coderun/metrics"
	"github.com/houyanchao/coderun/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for code execution",
	Long: `Start an HTTP server that provides REST and WebSocket endpoints for code
execution. Each language keeps one sandbox whose state persists between
requests.

Endpoints:
  GET    /health                   Health check
  GET    /languages                Supported languages
  GET    /languages/{id}/example   Placeholder and example program
  POST   /languages/{id}/cleanup   Discard the language's sandbox
  POST   /execute                  Execute code, returns events and result
  GET    /ws                       Execute code, stream events
  GET    /metrics                  Prometheus metrics`,
	RunE: runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing the execute_code tool",
	Long: `Start a Model Context Protocol server. The transport (stdio or http) comes
from mcp.transport in the configuration or --transport.`,
	RunE: runMCP,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr)")
	rootCmd.AddCommand(serveCmd)

	mcpCmd.Flags().String("transport", "", "stdio or http (default: mcp.transport)")
	mcpCmd.Flags().String("addr", "", "Listen address for the http transport (default: mcp.addr)")
	rootCmd.AddCommand(mcpCmd)
}

// common provides the pieces both servers share.
func common(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			logger.NewFromConfig,
			newPrometheusRegistry,
			newMetrics,
			newRuntime,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
}

func newPrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func newRuntime(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*app.App, error) {
	a, err := app.New(cfg, log, m)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return a.Close() },
	})
	return a, nil
}

func newHTTPServer(lc fx.Lifecycle, a *app.App, cfg *config.Config, log *zap.Logger, reg *prometheus.Registry) *server.Server {
	s := server.New(a, cfg.Server, log.Named("http"), reg)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return s.Start() },
		OnStop:  s.Shutdown,
	})
	return s
}

func newMCPServer(a *app.App, cfg *config.Config, log *zap.Logger) *mcpserver.MCPServer {
	return mcpserver.New(a, cfg.MCP, log.Named("mcp"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	fx.New(
		common(cfg),
		fx.Provide(newHTTPServer),
		fx.Invoke(func(*server.Server) {}),
	).Run()
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if t, _ := cmd.Flags().GetString("transport"); t != "" {
		cfg.MCP.Transport = t
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.MCP.Addr = addr
	}

	fx.New(
		common(cfg),
		fx.Provide(newMCPServer),
		fx.Invoke(func(s *mcpserver.MCPServer, log *zap.Logger, shutdown fx.Shutdowner) {
			go func() {
				if err := s.Serve(); err != nil {
					log.Error("MCP server stopped", zap.Error(err))
				}
				shutdown.Shutdown()
			}()
		}),
	).Run()
	return nil
}
