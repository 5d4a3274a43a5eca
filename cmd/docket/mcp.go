package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mcpserver "github.com/hurttlocker/docket/internal/mcp"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve docket tools over the Model Context Protocol",
		Long: `Serve docket_extract, docket_events, docket_runs and docket_rules to MCP
clients. Uses stdio by default; --http serves streamable HTTP instead.

Logs go to stderr so they never mix with the stdio protocol stream.

Examples:
  docket mcp
  docket mcp --http 127.0.0.1:8931`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, g)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, settings, buildOptions{withStore: true})
			if err != nil {
				return err
			}
			defer rt.close()

			srv := mcpserver.NewServer(mcpserver.ServerConfig{
				Service:             rt.service,
				Version:             version,
				LineBreakIsBoundary: settings.LineBreakIsBoundary,
			})

			if httpAddr == "" {
				rt.logger.Info(ctx, "MCP server listening on stdio")
				if err := server.NewStdioServer(srv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("stdio server: %w", err)
				}
				return nil
			}
			return serveMCPHTTP(ctx, srv, httpAddr, rt)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}

func serveMCPHTTP(ctx context.Context, srv *server.MCPServer, addr string, rt *runtime) error {
	httpSrv := server.NewStreamableHTTPServer(srv)

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info(ctx, "MCP server listening", zap.String("addr", addr))
		errCh <- httpSrv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn(ctx, "MCP server shutdown", zap.Error(err))
	}
	return nil
}
