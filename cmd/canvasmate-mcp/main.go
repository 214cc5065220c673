// canvasmate-mcp exposes the Canvas tool catalog over the Model Context
// Protocol on stdio, so MCP clients can use the same tools the agent does.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/canvasmate/canvasmate/internal/canvas"
	"github.com/canvasmate/canvasmate/internal/config"
	"github.com/canvasmate/canvasmate/internal/tools"
)

var version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("canvasmate-mcp", flag.ExitOnError)
	configPath := fs.String("config", "canvasmate.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("canvasmate-mcp v%s\n", version)
		return 0
	}

	// stdout carries the protocol; everything else goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config failed: %v\n", err)
		return 1
	}

	client := canvas.NewClient(
		cfg.Canvas.BaseURL,
		cfg.Canvas.Token,
		time.Duration(cfg.Canvas.TimeoutMs)*time.Millisecond,
		logger,
	)

	registry := tools.NewRegistry(logger)
	if err := tools.RegisterCanvasTools(registry, client); err != nil {
		fmt.Fprintf(os.Stderr, "Register tools failed: %v\n", err)
		return 1
	}

	server := mcpserver.NewMCPServer(
		"canvasmate",
		version,
		mcpserver.WithToolCapabilities(true),
	)
	registerMCPTools(server, registry)

	if err := mcpserver.ServeStdio(server); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server failed: %v\n", err)
		return 1
	}
	return 0
}

// registerMCPTools mirrors every registry spec as an MCP tool whose handler
// invokes the registry, keeping validation and execution in one place.
func registerMCPTools(server *mcpserver.MCPServer, registry *tools.Registry) {
	for _, spec := range registry.Specs() {
		opts := []mcplib.ToolOption{mcplib.WithDescription(spec.Description)}
		for _, p := range spec.Params {
			opts = append(opts, paramOption(p))
		}

		name := spec.Name
		server.AddTool(
			mcplib.NewTool(name, opts...),
			func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				result, err := registry.Invoke(ctx, name, request.GetArguments())
				if err != nil {
					return errorResult(err.Error()), nil
				}
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return errorResult(fmt.Sprintf("result not serializable: %v", err)), nil
				}
				return textResult(string(data)), nil
			},
		)
	}
}

// paramOption maps one declared parameter onto an MCP schema option.
func paramOption(p tools.Param) mcplib.ToolOption {
	var propOpts []mcplib.PropertyOption
	propOpts = append(propOpts, mcplib.Description(p.Description))
	if p.Required {
		propOpts = append(propOpts, mcplib.Required())
	}

	switch p.Type {
	case "integer", "number":
		if def, ok := numericDefault(p.Default); ok {
			propOpts = append(propOpts, mcplib.DefaultNumber(def))
		}
		return mcplib.WithNumber(p.Name, propOpts...)
	case "boolean":
		if def, ok := p.Default.(bool); ok {
			propOpts = append(propOpts, mcplib.DefaultBool(def))
		}
		return mcplib.WithBoolean(p.Name, propOpts...)
	default:
		if def, ok := p.Default.(string); ok {
			propOpts = append(propOpts, mcplib.DefaultString(def))
		}
		return mcplib.WithString(p.Name, propOpts...)
	}
}

func numericDefault(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(message string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: message},
		},
	}
}
